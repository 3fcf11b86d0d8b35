package collection

import (
	"errors"
	"fmt"

	"github.com/duespark/dunning/internal/model"
)

// ErrNotFound is returned by manual actions when the collection id resolves
// to nothing.
var ErrNotFound = errors.New("collection not found")

// CodeInvalidTransition is the structured error code surfaced to API callers.
const CodeInvalidTransition = "INVALID_TRANSITION"

// TransitionError reports a manual action that the state table does not
// allow. Completed is terminal, so nothing ever transitions out of it.
type TransitionError struct {
	From model.CollectionStatus
	To   model.CollectionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Code() string { return CodeInvalidTransition }

// transitions is the allowed state table. Every transition except into
// completed is reversible; completed rows are never mutated again, a new
// collection is created instead of reopening.
var transitions = map[model.CollectionStatus][]model.CollectionStatus{
	model.CollectionActive:           {model.CollectionAwaitingResponse, model.CollectionPaused, model.CollectionCompleted},
	model.CollectionPaused:           {model.CollectionActive, model.CollectionCompleted},
	model.CollectionAwaitingResponse: {model.CollectionActive, model.CollectionCompleted},
	model.CollectionPendingReview:    {model.CollectionActive, model.CollectionCompleted},
	model.CollectionCompleted:        nil,
}

// CanTransition reports whether from -> to is in the state table.
func CanTransition(from, to model.CollectionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
