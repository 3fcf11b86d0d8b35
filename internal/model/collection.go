package model

import (
	"database/sql"
	"time"
)

type CollectionStatus string

const (
	CollectionActive           CollectionStatus = "active"
	CollectionPaused           CollectionStatus = "paused"
	CollectionCompleted        CollectionStatus = "completed"
	CollectionAwaitingResponse CollectionStatus = "awaiting_response"
	CollectionPendingReview    CollectionStatus = "pending_review"
)

func (s CollectionStatus) String() string {
	return string(s)
}

func (s CollectionStatus) Valid() bool {
	switch s {
	case CollectionActive, CollectionPaused, CollectionCompleted,
		CollectionAwaitingResponse, CollectionPendingReview:
		return true
	}
	return false
}

// Terminal reports whether the status can never change again.
func (s CollectionStatus) Terminal() bool {
	return s == CollectionCompleted
}

// Collection is one run of a playbook against one invoice.
// At most one non-terminal collection may exist per invoice; completed
// collections accumulate as history.
type Collection struct {
	ID                  string           `db:"id"`
	TenantID            int64            `db:"tenant_id"`
	InvoiceID           string           `db:"invoice_id"`
	CompanyID           string           `db:"company_id"`
	PrimaryContactID    string           `db:"primary_contact_id"`
	PlaybookID          string           `db:"playbook_id"`
	Status              CollectionStatus `db:"status"`
	CurrentMessageIndex int              `db:"current_message_index"`
	MessagesSentCount   int              `db:"messages_sent_count"`
	LastMessageSentAt   sql.NullTime     `db:"last_message_sent_at"`
	CustomerResponded   bool             `db:"customer_responded"`
	SendFailures        int              `db:"send_failures"`
	NextActionAt        time.Time        `db:"next_action_at"`
	CompletedAt         sql.NullTime     `db:"completed_at"`
	CreatedAt           time.Time        `db:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at"`
}

// EligibleCollection is the worker's view of one eligible collection: the
// collection row joined with the invoice, company and primary contact it
// references. The playbook messages ride along separately keyed by PlaybookID.
type EligibleCollection struct {
	Collection
	Invoice Invoice `db:"invoice"`
	Company Company `db:"company"`
	Contact Contact `db:"contact"`
}
