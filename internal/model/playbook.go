package model

import (
	"database/sql"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) String() string { return string(c) }

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

// ParseChannel normalizes input; empty => email.
// Returns (value, true) if valid; otherwise (email, false).
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "email":
		return ChannelEmail, true
	case "whatsapp":
		return ChannelWhatsApp, true
	default:
		return ChannelEmail, false
	}
}

type TriggerType string

const (
	TriggerPreDue  TriggerType = "pre_due"
	TriggerPostDue TriggerType = "post_due"
	TriggerManual  TriggerType = "manual"
)

// Playbook is an ordered template of follow-up messages. Read-only from the
// worker's perspective.
type Playbook struct {
	ID            string      `db:"id"`
	TenantID      int64       `db:"tenant_id"`
	Name          string      `db:"name"`
	Trigger       TriggerType `db:"trigger_type"`
	TriggerOffset int         `db:"trigger_offset_days"`
	Enabled       bool        `db:"enabled"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

// PlaybookMessage is one step of a playbook. WaitDays is the delay before this
// step becomes eligible after the previous one.
type PlaybookMessage struct {
	ID                   string         `db:"id"`
	PlaybookID           string         `db:"playbook_id"`
	SequenceOrder        int            `db:"sequence_order"`
	Channel              Channel        `db:"channel"`
	SubjectTemplate      sql.NullString `db:"subject_template"`
	BodyTemplate         string         `db:"body_template"`
	WaitDays             int            `db:"wait_days"`
	SendOnlyIfNoResponse bool           `db:"send_only_if_no_response"`
}
