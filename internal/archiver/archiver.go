package archiver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/duespark/dunning/internal/kafka"
	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/repository"
	"go.uber.org/zap"
)

// Archiver consumes sent-message events from the collections.events topic and
// batch-inserts them into the ClickHouse archive that backs the reports API.
// At-least-once: offsets are committed only after a successful flush, and the
// archive insert is idempotent on message id (ReplacingMergeTree).
type Archiver struct {
	Consumer *kafka.Consumer
	Archive  repository.CHArchiveRepository

	BatchSize int
	BatchWait time.Duration

	log *zap.Logger
}

func New(consumer *kafka.Consumer, archive repository.CHArchiveRepository, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archiver{
		Consumer:  consumer,
		Archive:   archive,
		BatchSize: 200,
		BatchWait: time.Second,
		log:       log,
	}
}

// Run blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	if a.BatchSize <= 0 {
		a.BatchSize = 200
	}
	if a.BatchWait <= 0 {
		a.BatchWait = time.Second
	}

	tick := time.NewTicker(a.BatchWait)
	defer tick.Stop()

	var (
		events []model.SentMessageEvent
		msgs   []kafka.Message
	)

	flush := func() {
		if len(events) == 0 {
			return
		}
		if err := a.Archive.InsertBatch(ctx, events); err != nil {
			// keep the buffer; offsets stay uncommitted so a restart replays
			a.log.Error("archive insert failed", zap.Int("events", len(events)), zap.Error(err))
			return
		}
		if err := a.Consumer.Commit(ctx, msgs...); err != nil {
			a.log.Error("kafka commit failed", zap.Error(err))
		}
		a.log.Info("archived", zap.Int("events", len(events)))
		events = events[:0]
		msgs = msgs[:0]
	}

	fetchCh := make(chan kafka.Message)
	go func() {
		defer close(fetchCh)
		for {
			m, err := a.Consumer.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warn("kafka fetch failed", zap.Error(err))
				time.Sleep(200 * time.Millisecond)
				continue
			}
			select {
			case fetchCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case m, ok := <-fetchCh:
			if !ok {
				flush()
				return ctx.Err()
			}

			var ev model.SentMessageEvent
			if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" {
				// poison message: commit and move on
				a.log.Warn("bad event payload", zap.Error(err))
				_ = a.Consumer.Commit(ctx, m)
				continue
			}

			events = append(events, ev)
			msgs = append(msgs, m)

			if len(events) >= a.BatchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}
