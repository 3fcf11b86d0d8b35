package util

import "github.com/oklog/ulid/v2"

// New returns a fresh ULID string. Sortable by creation time, which keeps
// sent-message ids in send order.
func New() string {
	return ulid.Make().String()
}
