package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/duespark/dunning/internal/gateway"
	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/duespark/dunning/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records every repository mutation the machine issues.
type fakeStore struct {
	collections map[string]*model.Collection

	recordSendCalls  int
	lastMsg          model.SentMessage
	lastPayload      []byte
	lastTopic        string
	lastAdvance      repository.Advance
	advanceNoSend    []repository.Advance
	failureNextAt    []time.Time
	completed        []string
	transitions      []string
	responded        []string
	transitionResult bool
	failRecordSend   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections:      make(map[string]*model.Collection),
		transitionResult: true,
	}
}

var _ repository.CollectionsRepository = (*fakeStore)(nil)

func (f *fakeStore) GetByID(_ context.Context, id string) (*model.Collection, error) {
	c, ok := f.collections[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) FetchEligible(context.Context, time.Time, int) ([]model.EligibleCollection, error) {
	return nil, nil
}

func (f *fakeStore) MessagesForPlaybooks(context.Context, []string) (map[string][]model.PlaybookMessage, error) {
	return nil, nil
}

func (f *fakeStore) TenantStats(context.Context, []int64, time.Time, time.Time) (map[int64]*ratelimit.TenantStats, error) {
	return map[int64]*ratelimit.TenantStats{}, nil
}

func (f *fakeStore) RecordSend(_ context.Context, _ *model.Collection, msg model.SentMessage, payload []byte, topic string, adv repository.Advance) error {
	if f.failRecordSend != nil {
		return f.failRecordSend
	}
	f.recordSendCalls++
	f.lastMsg = msg
	f.lastPayload = payload
	f.lastTopic = topic
	f.lastAdvance = adv
	return nil
}

func (f *fakeStore) AdvanceWithoutSend(_ context.Context, _ *model.Collection, adv repository.Advance) error {
	f.advanceNoSend = append(f.advanceNoSend, adv)
	return nil
}

func (f *fakeStore) RecordSendFailure(_ context.Context, _ *model.Collection, nextActionAt time.Time) error {
	f.failureNextAt = append(f.failureNextAt, nextActionAt)
	return nil
}

func (f *fakeStore) Complete(_ context.Context, col *model.Collection, _ time.Time) error {
	f.completed = append(f.completed, col.ID)
	return nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, id string, from, to model.CollectionStatus, _ string, _ time.Time) (bool, error) {
	f.transitions = append(f.transitions, id+":"+from.String()+"->"+to.String())
	if f.transitionResult {
		if c, ok := f.collections[id]; ok {
			c.Status = to
		}
	}
	return f.transitionResult, nil
}

func (f *fakeStore) SetResponded(_ context.Context, id string, _ time.Time) error {
	f.responded = append(f.responded, id)
	if c, ok := f.collections[id]; ok {
		c.CustomerResponded = true
	}
	return nil
}

// fakeGateway returns canned results in order and remembers requests.
type fakeGateway struct {
	results []gateway.Result
	reqs    []gateway.Request
}

func (g *fakeGateway) Send(_ context.Context, req gateway.Request) gateway.Result {
	g.reqs = append(g.reqs, req)
	if len(g.results) == 0 {
		return gateway.Result{Success: true, MessageID: "msg-default"}
	}
	r := g.results[0]
	g.results = g.results[1:]
	return r
}

func testMachine(store *fakeStore, gw gateway.Gateway) *Machine {
	return NewMachine(store, gw, MachineOpts{
		Limits: ratelimit.Limits{
			MaxActiveCollectionsPerTenant: 50,
			MaxMessagesPerDayPerTenant:    100,
			MinHoursBetweenMessages:       24,
		},
		Topic:       "collections.events",
		SendTimeout: time.Second,
		BackoffBase: 15 * time.Minute,
		BackoffMax:  6 * time.Hour,
	}, nil)
}

func eligible(idx int) *model.EligibleCollection {
	return &model.EligibleCollection{
		Collection: model.Collection{
			ID:                  "col-1",
			TenantID:            1,
			InvoiceID:           "inv-1",
			CompanyID:           "co-1",
			PrimaryContactID:    "ct-1",
			PlaybookID:          "pb-1",
			Status:              model.CollectionActive,
			CurrentMessageIndex: idx,
		},
		Invoice: model.Invoice{
			ID:          "inv-1",
			Number:      "INV-1001",
			AmountCents: 123450,
			Currency:    "USD",
			DueDate:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		Company: model.Company{ID: "co-1", Name: "Acme Corp"},
		Contact: model.Contact{
			ID:        "ct-1",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "ada@acme.test",
			Phone:     "+15550001",
		},
	}
}

func steps() []model.PlaybookMessage {
	return []model.PlaybookMessage{
		{
			ID:              "st-1",
			PlaybookID:      "pb-1",
			SequenceOrder:   1,
			Channel:         model.ChannelEmail,
			SubjectTemplate: sql.NullString{String: "Invoice {{invoice_number}} is overdue", Valid: true},
			BodyTemplate:    "Hi {{first_name}}, {{invoice_number}} for {{amount}} is {{days_overdue}} days overdue.",
		},
		{
			ID:            "st-2",
			PlaybookID:    "pb-1",
			SequenceOrder: 2,
			Channel:       model.ChannelEmail,
			BodyTemplate:  "Second reminder for {{invoice_number}}.",
			WaitDays:      3,
		},
		{
			ID:                   "st-3",
			PlaybookID:           "pb-1",
			SequenceOrder:        3,
			Channel:              model.ChannelWhatsApp,
			BodyTemplate:         "Final notice for {{invoice_number}}.",
			WaitDays:             5,
			SendOnlyIfNoResponse: true,
		},
	}
}

func TestAdvance_SendsAndSchedulesNextStep(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{results: []gateway.Result{{Success: true, MessageID: "prov-123"}}}
	m := testMachine(store, gw)
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	stats := map[int64]*ratelimit.TenantStats{}
	out := m.Advance(context.Background(), eligible(0), steps(), stats, now)

	assert.Equal(t, BucketProcessed, out.Bucket)
	assert.True(t, out.Sent)
	assert.False(t, out.Completed)

	require.Len(t, gw.reqs, 1)
	req := gw.reqs[0]
	assert.Equal(t, model.ChannelEmail, req.Channel)
	assert.Equal(t, "ada@acme.test", req.To)
	assert.Equal(t, "Invoice INV-1001 is overdue", req.Subject)
	assert.Equal(t, "Hi Ada, INV-1001 for $1,234.50 is 20 days overdue.", req.Body)

	require.Equal(t, 1, store.recordSendCalls)
	assert.Equal(t, "prov-123", store.lastMsg.ExternalMessageID.String)
	assert.Equal(t, model.DeliverySent, store.lastMsg.DeliveryStatus)
	assert.Equal(t, "collections.events", store.lastTopic)

	// next step waits 3 days
	assert.Equal(t, 1, store.lastAdvance.NextIndex)
	assert.Equal(t, now.Add(3*24*time.Hour), store.lastAdvance.NextActionAt)
	assert.False(t, store.lastAdvance.Completed)

	// event payload round-trips
	var ev model.SentMessageEvent
	require.NoError(t, json.Unmarshal(store.lastPayload, &ev))
	assert.Equal(t, store.lastMsg.ID, ev.ID)
	assert.Equal(t, "prov-123", ev.ExternalMessageID)

	// in-memory snapshot bumped for the tenant
	require.Contains(t, stats, int64(1))
	assert.Equal(t, 1, stats[1].MessagesSentToday)
	assert.Equal(t, now, stats[1].LastMessageToContact["ct-1"])
}

func TestAdvance_LastStepCompletes(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	m := testMachine(store, gw)
	now := time.Now()

	out := m.Advance(context.Background(), eligible(2), steps(), map[int64]*ratelimit.TenantStats{}, now)

	assert.Equal(t, BucketProcessed, out.Bucket)
	assert.True(t, out.Sent)
	assert.True(t, out.Completed)
	assert.Equal(t, 3, store.lastAdvance.NextIndex)
	assert.True(t, store.lastAdvance.Completed)

	// whatsapp step goes to the phone number
	require.Len(t, gw.reqs, 1)
	assert.Equal(t, model.ChannelWhatsApp, gw.reqs[0].Channel)
	assert.Equal(t, "+15550001", gw.reqs[0].To)
}

func TestAdvance_PastEndCompletesWithoutSend(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	m := testMachine(store, gw)

	out := m.Advance(context.Background(), eligible(3), steps(), map[int64]*ratelimit.TenantStats{}, time.Now())

	assert.Equal(t, BucketProcessed, out.Bucket)
	assert.True(t, out.Completed)
	assert.False(t, out.Sent)
	assert.Empty(t, gw.reqs)
	assert.Equal(t, []string{"col-1"}, store.completed)
}

func TestAdvance_SkipsNoResponseStepWhenResponded(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	m := testMachine(store, gw)
	now := time.Now()

	ec := eligible(2)
	ec.CustomerResponded = true

	out := m.Advance(context.Background(), ec, steps(), map[int64]*ratelimit.TenantStats{}, now)

	assert.Equal(t, BucketProcessed, out.Bucket)
	assert.Equal(t, "skipped_no_response", out.Reason)
	assert.False(t, out.Sent)
	assert.True(t, out.Completed, "skipping the last step ends the playbook")

	assert.Empty(t, gw.reqs, "no message may go out for a skipped step")
	assert.Equal(t, 0, store.recordSendCalls)
	require.Len(t, store.advanceNoSend, 1)
	assert.Equal(t, 3, store.advanceNoSend[0].NextIndex)
}

func TestAdvance_RateLimitedLeavesRowUntouched(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	m := testMachine(store, gw)
	now := time.Now()

	stats := map[int64]*ratelimit.TenantStats{
		1: {MessagesSentToday: 100},
	}

	out := m.Advance(context.Background(), eligible(0), steps(), stats, now)

	assert.Equal(t, BucketSkipped, out.Bucket)
	assert.Equal(t, ratelimit.ReasonDailyLimitExceeded, out.Reason)
	assert.Empty(t, gw.reqs)
	assert.Equal(t, 0, store.recordSendCalls)
	assert.Empty(t, store.advanceNoSend)
	assert.Empty(t, store.failureNextAt)
}

func TestAdvance_SendFailureBacksOffExponentially(t *testing.T) {
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		priorFailures int
		wantBackoff   time.Duration
	}{
		{0, 15 * time.Minute},
		{1, 30 * time.Minute},
		{2, time.Hour},
		{4, 4 * time.Hour},
		{5, 6 * time.Hour},
		{20, 6 * time.Hour},
	}

	for _, tt := range tests {
		store := newFakeStore()
		gw := &fakeGateway{results: []gateway.Result{{Success: false, Error: "provider down"}}}
		m := testMachine(store, gw)

		ec := eligible(0)
		ec.SendFailures = tt.priorFailures

		out := m.Advance(context.Background(), ec, steps(), map[int64]*ratelimit.TenantStats{}, now)

		assert.Equal(t, BucketErrored, out.Bucket)
		assert.Equal(t, "provider down", out.Reason)
		require.Len(t, store.failureNextAt, 1)
		assert.Equal(t, now.Add(tt.wantBackoff), store.failureNextAt[0],
			"failures=%d", tt.priorFailures)
		assert.Equal(t, 0, store.recordSendCalls)
	}
}

func TestAdvance_PersistFailureSurfacesAsError(t *testing.T) {
	store := newFakeStore()
	store.failRecordSend = errors.New("db gone")
	gw := &fakeGateway{}
	m := testMachine(store, gw)

	stats := map[int64]*ratelimit.TenantStats{}
	out := m.Advance(context.Background(), eligible(0), steps(), stats, time.Now())

	assert.Equal(t, BucketErrored, out.Bucket)
	assert.False(t, out.Sent)
	// the snapshot must not count a send that was not persisted
	assert.Empty(t, stats)
}

func TestAdvance_DailyCapHoldsWithinRun(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	m := NewMachine(store, gw, MachineOpts{
		Limits: ratelimit.Limits{
			MaxActiveCollectionsPerTenant: 50,
			MaxMessagesPerDayPerTenant:    1,
			MinHoursBetweenMessages:       24,
		},
	}, nil)
	now := time.Now()

	stats := map[int64]*ratelimit.TenantStats{1: {}}

	first := m.Advance(context.Background(), eligible(0), steps(), stats, now)
	require.True(t, first.Sent)

	second := eligible(0)
	second.ID = "col-2"
	second.PrimaryContactID = "ct-2"
	second.Contact.ID = "ct-2"

	out := m.Advance(context.Background(), second, steps(), stats, now)
	assert.Equal(t, BucketSkipped, out.Bucket)
	assert.Equal(t, ratelimit.ReasonDailyLimitExceeded, out.Reason)
	assert.Equal(t, 1, store.recordSendCalls)
}
