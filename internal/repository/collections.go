package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/jmoiron/sqlx"
)

// CollectionsRepository defines persistence for collections and the rows the
// worker writes alongside them. All mutations that belong to one logical
// transition happen in a single transaction.
type CollectionsRepository interface {
	GetByID(ctx context.Context, id string) (*model.Collection, error)

	// FetchEligible returns active collections whose next_action_at has
	// passed, oldest first, joined with invoice, company and contact.
	FetchEligible(ctx context.Context, now time.Time, limit int) ([]model.EligibleCollection, error)

	// MessagesForPlaybooks loads the ordered steps for a set of playbooks,
	// keyed by playbook id.
	MessagesForPlaybooks(ctx context.Context, playbookIDs []string) (map[string][]model.PlaybookMessage, error)

	// TenantStats aggregates the rate-limit snapshot for a set of tenants in
	// one pass: active collection counts, messages sent since dayStart, and
	// the most recent send per contact since contactSince.
	TenantStats(ctx context.Context, tenantIDs []int64, dayStart, contactSince time.Time) (map[int64]*ratelimit.TenantStats, error)

	// RecordSend persists a successful send atomically: sent_messages row,
	// outbox event, and the collection's advance (index, counters, next
	// eligibility or completion).
	RecordSend(ctx context.Context, col *model.Collection, msg model.SentMessage, eventPayload []byte, topic string, adv Advance) error

	// AdvanceWithoutSend moves past a step that was skipped (no-response
	// condition) without touching send counters.
	AdvanceWithoutSend(ctx context.Context, col *model.Collection, adv Advance) error

	// RecordSendFailure bumps the failure counter and pushes next_action_at
	// out by the computed backoff. Index and counters stay untouched.
	RecordSendFailure(ctx context.Context, col *model.Collection, nextActionAt time.Time) error

	// Complete marks the natural end of a playbook.
	Complete(ctx context.Context, col *model.Collection, now time.Time) error

	// TransitionStatus performs a compare-and-set status change for manual
	// actions. Returns false when the row was not in `from` anymore.
	TransitionStatus(ctx context.Context, id string, from, to model.CollectionStatus, note string, now time.Time) (bool, error)

	// SetResponded flags the customer as having replied.
	SetResponded(ctx context.Context, id string, now time.Time) error
}

// Advance captures where a collection lands after a processed step.
type Advance struct {
	NextIndex    int
	NextActionAt time.Time
	Completed    bool
}

type CollectionsRepositoryImpl struct {
	db     *sqlx.DB
	outbox *OutboxRepositoryImpl
}

func NewCollectionsRepository(db *sqlx.DB) *CollectionsRepositoryImpl {
	return &CollectionsRepositoryImpl{db: db, outbox: NewOutboxRepository(db)}
}

var _ CollectionsRepository = (*CollectionsRepositoryImpl)(nil)

func (r *CollectionsRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *CollectionsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Collection, error) {
	var c model.Collection
	err := r.db.GetContext(ctx, &c, `
		SELECT id, tenant_id, invoice_id, company_id, primary_contact_id, playbook_id,
		       status, current_message_index, messages_sent_count, last_message_sent_at,
		       customer_responded, send_failures, next_action_at, completed_at,
		       created_at, updated_at
		  FROM collections
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CollectionsRepositoryImpl) FetchEligible(ctx context.Context, now time.Time, limit int) ([]model.EligibleCollection, error) {
	if limit <= 0 {
		limit = 100
	}

	const q = `
		SELECT c.id, c.tenant_id, c.invoice_id, c.company_id, c.primary_contact_id,
		       c.playbook_id, c.status, c.current_message_index, c.messages_sent_count,
		       c.last_message_sent_at, c.customer_responded, c.send_failures,
		       c.next_action_at, c.completed_at, c.created_at, c.updated_at,
		       i.id          AS "invoice.id",
		       i.number      AS "invoice.number",
		       i.amount_cents AS "invoice.amount_cents",
		       i.currency    AS "invoice.currency",
		       i.due_date    AS "invoice.due_date",
		       co.id         AS "company.id",
		       co.name       AS "company.name",
		       ct.id         AS "contact.id",
		       ct.first_name AS "contact.first_name",
		       ct.last_name  AS "contact.last_name",
		       ct.email      AS "contact.email",
		       ct.phone      AS "contact.phone"
		  FROM collections c
		  JOIN invoices  i  ON i.id  = c.invoice_id
		  JOIN companies co ON co.id = c.company_id
		  JOIN contacts  ct ON ct.id = c.primary_contact_id
		 WHERE c.status = 'active'
		   AND c.next_action_at <= ?
		 ORDER BY c.next_action_at ASC
		 LIMIT ?
	`

	var rows []model.EligibleCollection
	if err := r.db.SelectContext(ctx, &rows, q, now, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CollectionsRepositoryImpl) MessagesForPlaybooks(ctx context.Context, playbookIDs []string) (map[string][]model.PlaybookMessage, error) {
	out := make(map[string][]model.PlaybookMessage, len(playbookIDs))
	if len(playbookIDs) == 0 {
		return out, nil
	}

	const base = `
		SELECT id, playbook_id, sequence_order, channel, subject_template,
		       body_template, wait_days, send_only_if_no_response
		  FROM playbook_messages
		 WHERE playbook_id IN (?)
		 ORDER BY playbook_id, sequence_order ASC
	`
	query, args, err := sqlx.In(base, playbookIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var rows []model.PlaybookMessage
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.PlaybookID] = append(out[m.PlaybookID], m)
	}
	return out, nil
}

type tenantCountRow struct {
	TenantID int64 `db:"tenant_id"`
	N        int   `db:"n"`
}

type contactLastRow struct {
	TenantID  int64     `db:"tenant_id"`
	ContactID string    `db:"contact_id"`
	LastSent  time.Time `db:"last_sent"`
}

func (r *CollectionsRepositoryImpl) TenantStats(ctx context.Context, tenantIDs []int64, dayStart, contactSince time.Time) (map[int64]*ratelimit.TenantStats, error) {
	stats := make(map[int64]*ratelimit.TenantStats, len(tenantIDs))
	if len(tenantIDs) == 0 {
		return stats, nil
	}

	ensure := func(id int64) *ratelimit.TenantStats {
		if s, ok := stats[id]; ok {
			return s
		}
		s := &ratelimit.TenantStats{LastMessageToContact: make(map[string]time.Time)}
		stats[id] = s
		return s
	}

	// active collection counts
	q, args, err := sqlx.In(`
		SELECT tenant_id, COUNT(*) AS n
		  FROM collections
		 WHERE tenant_id IN (?) AND status = 'active'
		 GROUP BY tenant_id
	`, tenantIDs)
	if err != nil {
		return nil, err
	}
	var active []tenantCountRow
	if err := r.db.SelectContext(ctx, &active, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, row := range active {
		ensure(row.TenantID).ActiveCollections = row.N
	}

	// messages sent since local midnight
	q, args, err = sqlx.In(`
		SELECT tenant_id, COUNT(*) AS n
		  FROM sent_messages
		 WHERE tenant_id IN (?) AND sent_at >= ?
		 GROUP BY tenant_id
	`, tenantIDs, dayStart)
	if err != nil {
		return nil, err
	}
	var daily []tenantCountRow
	if err := r.db.SelectContext(ctx, &daily, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, row := range daily {
		ensure(row.TenantID).MessagesSentToday = row.N
	}

	// most recent send per contact inside the spacing window
	q, args, err = sqlx.In(`
		SELECT tenant_id, contact_id, MAX(sent_at) AS last_sent
		  FROM sent_messages
		 WHERE tenant_id IN (?) AND sent_at >= ?
		 GROUP BY tenant_id, contact_id
	`, tenantIDs, contactSince)
	if err != nil {
		return nil, err
	}
	var recent []contactLastRow
	if err := r.db.SelectContext(ctx, &recent, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, row := range recent {
		ensure(row.TenantID).LastMessageToContact[row.ContactID] = row.LastSent
	}

	return stats, nil
}

func (r *CollectionsRepositoryImpl) RecordSend(ctx context.Context, col *model.Collection, msg model.SentMessage, eventPayload []byte, topic string, adv Advance) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		const insMsg = `
			INSERT INTO sent_messages
			    (id, tenant_id, collection_id, contact_id, channel, subject, body,
			     delivery_status, external_message_id, sent_at)
			VALUES
			    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, insMsg,
			msg.ID, msg.TenantID, msg.CollectionID, msg.ContactID, msg.Channel.String(),
			msg.Subject, msg.Body, msg.DeliveryStatus.String(), msg.ExternalMessageID, msg.SentAt,
		); err != nil {
			return err
		}

		if err := r.outbox.Insert(ctx, tx, "sent_message", msg.ID, topic, eventPayload); err != nil {
			return err
		}

		status := model.CollectionActive
		var completedAt any
		if adv.Completed {
			status = model.CollectionCompleted
			completedAt = msg.SentAt
		}

		const upd = `
			UPDATE collections
			   SET current_message_index = ?,
			       messages_sent_count   = messages_sent_count + 1,
			       last_message_sent_at  = ?,
			       send_failures         = 0,
			       next_action_at        = ?,
			       status                = ?,
			       completed_at          = ?,
			       updated_at            = NOW()
			 WHERE id = ?
		`
		_, err := tx.ExecContext(ctx, upd,
			adv.NextIndex, msg.SentAt, adv.NextActionAt, status.String(), completedAt, col.ID,
		)
		return err
	})
}

func (r *CollectionsRepositoryImpl) AdvanceWithoutSend(ctx context.Context, col *model.Collection, adv Advance) error {
	status := model.CollectionActive
	var completedAt any
	if adv.Completed {
		status = model.CollectionCompleted
		completedAt = adv.NextActionAt
	}

	const q = `
		UPDATE collections
		   SET current_message_index = ?,
		       next_action_at        = ?,
		       status                = ?,
		       completed_at          = ?,
		       updated_at            = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, adv.NextIndex, adv.NextActionAt, status.String(), completedAt, col.ID)
	return err
}

func (r *CollectionsRepositoryImpl) RecordSendFailure(ctx context.Context, col *model.Collection, nextActionAt time.Time) error {
	const q = `
		UPDATE collections
		   SET send_failures  = send_failures + 1,
		       next_action_at = ?,
		       updated_at     = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, nextActionAt, col.ID)
	return err
}

func (r *CollectionsRepositoryImpl) Complete(ctx context.Context, col *model.Collection, now time.Time) error {
	const q = `
		UPDATE collections
		   SET status       = 'completed',
		       completed_at = ?,
		       updated_at   = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, now, col.ID)
	return err
}

func (r *CollectionsRepositoryImpl) TransitionStatus(ctx context.Context, id string, from, to model.CollectionStatus, note string, now time.Time) (bool, error) {
	var completedAt any
	if to == model.CollectionCompleted {
		completedAt = now
	}

	const q = `
		UPDATE collections
		   SET status         = ?,
		       status_note    = ?,
		       completed_at   = COALESCE(?, completed_at),
		       updated_at     = NOW()
		 WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, q, to.String(), note, completedAt, id, from.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *CollectionsRepositoryImpl) SetResponded(ctx context.Context, id string, now time.Time) error {
	const q = `
		UPDATE collections
		   SET customer_responded = TRUE,
		       updated_at         = NOW()
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
