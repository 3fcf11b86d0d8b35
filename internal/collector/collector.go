package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/duespark/dunning/internal/collection"
	"github.com/duespark/dunning/internal/distlock"
	"github.com/duespark/dunning/internal/metrics"
	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/duespark/dunning/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result aggregates one worker run. LockHeld=true means another instance was
// already running; that is a normal outcome, not an error.
type Result struct {
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Errors    int  `json:"errors"`
	LockHeld  bool `json:"lock_held"`
}

// Collector drives one batch of collection advancement: acquire the lock,
// fetch eligible collections, build the tenant-stats snapshot, run the state
// machine over the batch in fetch order, and always release the lock.
type Collector struct {
	lock      *distlock.Lock
	repo      repository.CollectionsRepository
	machine   *collection.Machine
	limits    ratelimit.Limits
	batchSize int
	log       *zap.Logger
}

func New(lock *distlock.Lock, repo repository.CollectionsRepository, machine *collection.Machine, limits ratelimit.Limits, batchSize int, log *zap.Logger) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		lock:      lock,
		repo:      repo,
		machine:   machine,
		limits:    limits,
		batchSize: batchSize,
		log:       log,
	}
}

// ProcessCollections runs one batch. The lock is released on every exit path;
// if acquisition fails the zero result carries LockHeld=true.
func (c *Collector) ProcessCollections(ctx context.Context) (Result, error) {
	runID := "run-" + uuid.New().String()[:8]
	start := time.Now()

	ok, err := c.lock.Acquire(ctx)
	if err != nil {
		// fail closed: treat a broken lock store the same as a held lock
		c.log.Warn("lock acquire failed", zap.String("run_id", runID), zap.Error(err))
		metrics.LockContention.Inc()
		return Result{LockHeld: true}, nil
	}
	if !ok {
		metrics.LockContention.Inc()
		return Result{LockHeld: true}, nil
	}
	defer c.lock.Release(ctx)
	defer func() { metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	now := time.Now()

	batch, err := c.repo.FetchEligible(ctx, now, c.batchSize)
	if err != nil {
		// zero-progress result; the deferred release still runs
		return Result{}, fmt.Errorf("fetch eligible: %w", err)
	}
	if len(batch) == 0 {
		c.log.Info("run complete", zap.String("run_id", runID), zap.Int("eligible", 0))
		return Result{}, nil
	}

	steps, err := c.repo.MessagesForPlaybooks(ctx, playbookIDs(batch))
	if err != nil {
		return Result{}, fmt.Errorf("load playbook messages: %w", err)
	}

	stats, err := c.buildStats(ctx, batch, now)
	if err != nil {
		return Result{}, fmt.Errorf("build tenant stats: %w", err)
	}

	var res Result
	for i := range batch {
		ec := &batch[i]
		out := c.machine.Advance(ctx, ec, steps[ec.PlaybookID], stats, now)
		switch out.Bucket {
		case collection.BucketProcessed:
			res.Processed++
			metrics.CollectionsTotal.WithLabelValues("processed", out.Reason).Inc()
		case collection.BucketSkipped:
			res.Skipped++
			metrics.CollectionsTotal.WithLabelValues("skipped", out.Reason).Inc()
		case collection.BucketErrored:
			res.Errors++
			metrics.CollectionsTotal.WithLabelValues("error", "").Inc()
		}
	}

	c.log.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("eligible", len(batch)),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Duration("took", time.Since(start)),
	)

	return res, nil
}

// Run invokes ProcessCollections on a fixed cadence until ctx is cancelled.
// One run fires immediately on start.
func (c *Collector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if _, err := c.ProcessCollections(ctx); err != nil {
			c.log.Error("run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// buildStats computes the rate-limit snapshot in one pass before any item is
// processed, so limits reflect pre-run state plus in-run sends only.
func (c *Collector) buildStats(ctx context.Context, batch []model.EligibleCollection, now time.Time) (map[int64]*ratelimit.TenantStats, error) {
	seen := make(map[int64]struct{}, len(batch))
	ids := make([]int64, 0, len(batch))
	for _, ec := range batch {
		if _, ok := seen[ec.TenantID]; ok {
			continue
		}
		seen[ec.TenantID] = struct{}{}
		ids = append(ids, ec.TenantID)
	}

	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	contactSince := now.Add(-time.Duration(c.limits.MinHoursBetweenMessages) * time.Hour)

	return c.repo.TenantStats(ctx, ids, dayStart, contactSince)
}

func playbookIDs(batch []model.EligibleCollection) []string {
	seen := make(map[string]struct{}, len(batch))
	ids := make([]string, 0, len(batch))
	for _, ec := range batch {
		if _, ok := seen[ec.PlaybookID]; ok {
			continue
		}
		seen[ec.PlaybookID] = struct{}{}
		ids = append(ids, ec.PlaybookID)
	}
	return ids
}
