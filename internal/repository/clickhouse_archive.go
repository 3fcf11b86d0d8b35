package repository

import (
	"context"

	"github.com/duespark/dunning/internal/model"
	"github.com/jmoiron/sqlx"
)

// ArchivedMessage is the analytics-side row kept in ClickHouse, fed from the
// collections.events topic by the archiver worker.
type ArchivedMessage struct {
	ID                string  `db:"id" json:"id"`
	TenantID          int64   `db:"tenant_id" json:"tenant_id"`
	CollectionID      string  `db:"collection_id" json:"collection_id"`
	ContactID         string  `db:"contact_id" json:"contact_id"`
	Channel           string  `db:"channel" json:"channel"`
	Subject           string  `db:"subject" json:"subject"`
	DeliveryStatus    string  `db:"delivery_status" json:"delivery_status"`
	ExternalMessageID string  `db:"external_message_id" json:"external_message_id"`
	SentAt            string  `db:"sent_at" json:"sent_at"`
}

// CHArchiveRepository reads and writes the ClickHouse sent-message archive.
type CHArchiveRepository interface {
	InsertBatch(ctx context.Context, events []model.SentMessageEvent) error
	ListByTenant(ctx context.Context, tenantID int64, status model.DeliveryStatus, limit, offset int) ([]ArchivedMessage, error)
}

type chArchiveRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHArchiveRepository(ch *sqlx.DB) CHArchiveRepository {
	return &chArchiveRepository{ch: ch}
}

func (r *chArchiveRepository) InsertBatch(ctx context.Context, events []model.SentMessageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO dunning.sent_messages_archive
		    (id, tenant_id, collection_id, contact_id, channel, subject,
		     delivery_status, external_message_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.TenantID, e.CollectionID, e.ContactID, e.Channel.String(),
			e.Subject, e.DeliveryStatus, e.ExternalMessageID, e.SentAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *chArchiveRepository) ListByTenant(ctx context.Context, tenantID int64, status model.DeliveryStatus, limit, offset int) ([]ArchivedMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, tenant_id, collection_id, contact_id, channel, subject,
		       delivery_status, external_message_id, sent_at
		FROM dunning.sent_messages_archive
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if status != "" {
		q += " AND delivery_status = ?"
		args = append(args, status.String())
	}

	q += " ORDER BY sent_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []ArchivedMessage
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
