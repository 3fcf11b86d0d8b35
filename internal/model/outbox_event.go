package model

import "time"

type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // e.g. "sent_message"
	AggregateID string    `db:"aggregate_id"` // sent message ULID
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	Attempts    int       `db:"attempts"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// SentMessageEvent is the payload published to Kafka (via Debezium outbox SMT)
// whenever the worker records a send. The archiver consumes it into ClickHouse.
type SentMessageEvent struct {
	ID                string    `json:"id"`
	TenantID          int64     `json:"tenant_id"`
	CollectionID      string    `json:"collection_id"`
	ContactID         string    `json:"contact_id"`
	Channel           Channel   `json:"channel"`
	Subject           string    `json:"subject,omitempty"`
	Body              string    `json:"body"`
	DeliveryStatus    string    `json:"delivery_status"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}
