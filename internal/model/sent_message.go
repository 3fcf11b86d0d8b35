package model

import (
	"database/sql"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryBounced, DeliveryFailed:
		return true
	}
	return false
}

// SentMessage is the immutable record of one attempted communication. After
// insertion the worker never touches the row again; only the delivery-status
// webhook updates delivery_status/delivered_at by external_message_id.
type SentMessage struct {
	ID                string         `db:"id"`
	TenantID          int64          `db:"tenant_id"`
	CollectionID      string         `db:"collection_id"`
	ContactID         string         `db:"contact_id"`
	Channel           Channel        `db:"channel"`
	Subject           sql.NullString `db:"subject"`
	Body              string         `db:"body"`
	DeliveryStatus    DeliveryStatus `db:"delivery_status"`
	ExternalMessageID sql.NullString `db:"external_message_id"`
	SentAt            time.Time      `db:"sent_at"`
	DeliveredAt       sql.NullTime   `db:"delivered_at"`
}
