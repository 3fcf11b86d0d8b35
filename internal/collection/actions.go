package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/duespark/dunning/internal/model"
)

// Manual actions. Operators never bypass the transition table: every request
// is validated against it and applied with a compare-and-set on the current
// status, so a concurrent change surfaces as an invalid transition instead of
// silently clobbering state.

func (m *Machine) Pause(ctx context.Context, id, note string, now time.Time) error {
	return m.manualTransition(ctx, id, model.CollectionPaused, note, now)
}

func (m *Machine) Resume(ctx context.Context, id, note string, now time.Time) error {
	return m.manualTransition(ctx, id, model.CollectionActive, note, now)
}

func (m *Machine) CompleteManually(ctx context.Context, id, note string, now time.Time) error {
	return m.manualTransition(ctx, id, model.CollectionCompleted, note, now)
}

// MarkResponded flags the customer reply and, when the collection was parked
// awaiting one, returns it to the active flow.
func (m *Machine) MarkResponded(ctx context.Context, id string, now time.Time) error {
	col, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	if col == nil {
		return ErrNotFound
	}
	if col.Status.Terminal() {
		return &TransitionError{From: col.Status, To: model.CollectionActive}
	}

	if err := m.repo.SetResponded(ctx, id, now); err != nil {
		return fmt.Errorf("set responded: %w", err)
	}

	if col.Status == model.CollectionAwaitingResponse {
		ok, err := m.repo.TransitionStatus(ctx, id, col.Status, model.CollectionActive, "", now)
		if err != nil {
			return fmt.Errorf("transition: %w", err)
		}
		if !ok {
			return &TransitionError{From: col.Status, To: model.CollectionActive}
		}
	}
	return nil
}

func (m *Machine) manualTransition(ctx context.Context, id string, to model.CollectionStatus, note string, now time.Time) error {
	col, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	if col == nil {
		return ErrNotFound
	}

	if !CanTransition(col.Status, to) {
		return &TransitionError{From: col.Status, To: to}
	}

	ok, err := m.repo.TransitionStatus(ctx, id, col.Status, to, note, now)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if !ok {
		// row moved under us; report as invalid rather than retrying blindly
		return &TransitionError{From: col.Status, To: to}
	}
	return nil
}
