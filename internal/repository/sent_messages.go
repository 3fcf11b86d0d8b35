package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/duespark/dunning/internal/model"
	"github.com/jmoiron/sqlx"
)

// SentMessagesRepository covers the webhook's view of sent messages: rows are
// written by the worker (see CollectionsRepository.RecordSend) and only their
// delivery status changes afterwards.
type SentMessagesRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*model.SentMessage, error)

	// UpdateDeliveryStatus sets the status for the row matching the provider's
	// message id. Returns false when no row matched.
	UpdateDeliveryStatus(ctx context.Context, externalID string, status model.DeliveryStatus, deliveredAt *time.Time) (bool, error)
}

type SentMessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSentMessagesRepository(db *sqlx.DB) *SentMessagesRepositoryImpl {
	return &SentMessagesRepositoryImpl{db: db}
}

var _ SentMessagesRepository = (*SentMessagesRepositoryImpl)(nil)

func (r *SentMessagesRepositoryImpl) GetByExternalID(ctx context.Context, externalID string) (*model.SentMessage, error) {
	var m model.SentMessage
	err := r.db.GetContext(ctx, &m, `
		SELECT id, tenant_id, collection_id, contact_id, channel, subject, body,
		       delivery_status, external_message_id, sent_at, delivered_at
		  FROM sent_messages
		 WHERE external_message_id = ? LIMIT 1
	`, externalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *SentMessagesRepositoryImpl) UpdateDeliveryStatus(ctx context.Context, externalID string, status model.DeliveryStatus, deliveredAt *time.Time) (bool, error) {
	const q = `
		UPDATE sent_messages
		   SET delivery_status = ?,
		       delivered_at    = COALESCE(?, delivered_at)
		 WHERE external_message_id = ?
	`
	res, err := r.db.ExecContext(ctx, q, status.String(), deliveredAt, externalID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
