package gateway

import (
	"context"

	"github.com/duespark/dunning/internal/model"
)

// Request describes one outbound message. Subject is email-only.
type Request struct {
	Channel  model.Channel     `json:"channel"`
	To       string            `json:"to"`
	Subject  string            `json:"subject,omitempty"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the normalized outcome of a send attempt. Implementations report
// failure through Success/Error instead of returning a Go error so one
// recipient's fault can never abort a whole batch by propagating.
type Result struct {
	Success   bool
	MessageID string
	Error     string
}

// Gateway abstracts the external send channel. Implementations must be safe
// for concurrent use and must never panic across this boundary.
type Gateway interface {
	Send(ctx context.Context, req Request) Result
}
