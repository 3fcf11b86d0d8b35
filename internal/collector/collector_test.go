package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/duespark/dunning/internal/collection"
	"github.com/duespark/dunning/internal/distlock"
	"github.com/duespark/dunning/internal/gateway"
	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/duespark/dunning/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	eligible     []model.EligibleCollection
	steps        map[string][]model.PlaybookMessage
	stats        map[int64]*ratelimit.TenantStats
	fetchErr     error
	fetchCalls   int
	recordedMsgs []model.SentMessage
	onFetch      func()
}

var _ repository.CollectionsRepository = (*fakeRepo)(nil)

func (f *fakeRepo) GetByID(context.Context, string) (*model.Collection, error) { return nil, nil }

func (f *fakeRepo) FetchEligible(context.Context, time.Time, int) ([]model.EligibleCollection, error) {
	f.fetchCalls++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.eligible, nil
}

func (f *fakeRepo) MessagesForPlaybooks(context.Context, []string) (map[string][]model.PlaybookMessage, error) {
	return f.steps, nil
}

func (f *fakeRepo) TenantStats(context.Context, []int64, time.Time, time.Time) (map[int64]*ratelimit.TenantStats, error) {
	if f.stats == nil {
		return map[int64]*ratelimit.TenantStats{}, nil
	}
	return f.stats, nil
}

func (f *fakeRepo) RecordSend(_ context.Context, _ *model.Collection, msg model.SentMessage, _ []byte, _ string, _ repository.Advance) error {
	f.recordedMsgs = append(f.recordedMsgs, msg)
	return nil
}

func (f *fakeRepo) AdvanceWithoutSend(context.Context, *model.Collection, repository.Advance) error {
	return nil
}

func (f *fakeRepo) RecordSendFailure(context.Context, *model.Collection, time.Time) error {
	return nil
}

func (f *fakeRepo) Complete(context.Context, *model.Collection, time.Time) error { return nil }

func (f *fakeRepo) TransitionStatus(context.Context, string, model.CollectionStatus, model.CollectionStatus, string, time.Time) (bool, error) {
	return true, nil
}

func (f *fakeRepo) SetResponded(context.Context, string, time.Time) error { return nil }

type okGateway struct{}

func (okGateway) Send(context.Context, gateway.Request) gateway.Result {
	return gateway.Result{Success: true, MessageID: "msg-1"}
}

var testLimits = ratelimit.Limits{
	MaxActiveCollectionsPerTenant: 50,
	MaxMessagesPerDayPerTenant:    100,
	MinHoursBetweenMessages:       24,
}

func setup(t *testing.T, repo repository.CollectionsRepository) (*miniredis.Miniredis, *redis.Client, *Collector) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lock := distlock.New(client, "collections:worker", time.Minute)
	machine := collection.NewMachine(repo, okGateway{}, collection.MachineOpts{Limits: testLimits}, nil)
	c := New(lock, repo, machine, testLimits, 100, nil)
	return mr, client, c
}

func eligibleBatch(n int) []model.EligibleCollection {
	out := make([]model.EligibleCollection, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.EligibleCollection{
			Collection: model.Collection{
				ID:               "col-" + string(rune('a'+i)),
				TenantID:         1,
				InvoiceID:        "inv-1",
				PrimaryContactID: "ct-" + string(rune('a'+i)),
				PlaybookID:       "pb-1",
				Status:           model.CollectionActive,
			},
			Invoice: model.Invoice{Number: "INV-1", Currency: "USD", DueDate: time.Now().Add(-72 * time.Hour)},
			Company: model.Company{Name: "Acme"},
			Contact: model.Contact{ID: "ct-" + string(rune('a'+i)), Email: "x@acme.test"},
		})
	}
	return out
}

func oneStep() map[string][]model.PlaybookMessage {
	return map[string][]model.PlaybookMessage{
		"pb-1": {{ID: "st-1", PlaybookID: "pb-1", SequenceOrder: 1, Channel: model.ChannelEmail, BodyTemplate: "hello {{invoice_number}}"}},
	}
}

func TestProcessCollections_EmptyBatchReleasesLock(t *testing.T) {
	repo := &fakeRepo{}
	mr, _, c := setup(t, repo)

	res, err := c.ProcessCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.False(t, mr.Exists("lock:collections:worker"), "lock must be released on exit")
}

func TestProcessCollections_LockHeldShortCircuits(t *testing.T) {
	repo := &fakeRepo{}
	mr, _, c := setup(t, repo)

	require.NoError(t, mr.Set("lock:collections:worker", "someone-else"))

	res, err := c.ProcessCollections(context.Background())
	require.NoError(t, err)
	assert.True(t, res.LockHeld)
	assert.Equal(t, 0, repo.fetchCalls, "held lock means no work at all")

	// the foreign lock survives untouched
	v, _ := mr.Get("lock:collections:worker")
	assert.Equal(t, "someone-else", v)
}

func TestProcessCollections_LockStoreDownReadsAsHeld(t *testing.T) {
	repo := &fakeRepo{}
	mr, _, c := setup(t, repo)
	mr.Close()

	res, err := c.ProcessCollections(context.Background())
	require.NoError(t, err)
	assert.True(t, res.LockHeld)
	assert.Equal(t, 0, repo.fetchCalls)
}

func TestProcessCollections_FetchErrorReleasesLock(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("db down")}
	mr, _, c := setup(t, repo)

	_, err := c.ProcessCollections(context.Background())
	require.Error(t, err)
	assert.False(t, mr.Exists("lock:collections:worker"))
}

func TestProcessCollections_CountsOutcomes(t *testing.T) {
	repo := &fakeRepo{
		eligible: eligibleBatch(3),
		steps:    oneStep(),
	}
	mr, _, c := setup(t, repo)

	res, err := c.ProcessCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Errors)
	assert.False(t, res.LockHeld)
	assert.Len(t, repo.recordedMsgs, 3)
	assert.False(t, mr.Exists("lock:collections:worker"))
}

func TestProcessCollections_RateLimitedCountsAsSkipped(t *testing.T) {
	repo := &fakeRepo{
		eligible: eligibleBatch(2),
		steps:    oneStep(),
		stats: map[int64]*ratelimit.TenantStats{
			1: {MessagesSentToday: 100},
		},
	}
	_, _, c := setup(t, repo)

	res, err := c.ProcessCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, repo.recordedMsgs)
}

func TestRun_FiresImmediatelyAndStopsOnCancel(t *testing.T) {
	// cancel from inside the first fetch: the run loop must have started its
	// first batch before the ticker fires, and the cancellation must stop the
	// loop after that batch finishes
	repo := &fakeRepo{}
	_, _, c := setup(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo.onFetch = cancel

	err := c.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, repo.fetchCalls, "one run fires immediately before the ticker")
}

func TestRun_CancelledContextReadsLockAsHeld(t *testing.T) {
	// a context cancelled before the run starts fails the lock acquire
	// client-side; fail-closed means no fetch ever happens
	repo := &fakeRepo{}
	_, _, c := setup(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, repo.fetchCalls)
}
