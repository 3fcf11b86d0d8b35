package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = Limits{
	MaxActiveCollectionsPerTenant: 50,
	MaxMessagesPerDayPerTenant:    100,
	MinHoursBetweenMessages:       24,
}

func TestCheck_NoStatsAllowed(t *testing.T) {
	now := time.Now()
	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, map[int64]*TenantStats{}, testLimits, now)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
	assert.Nil(t, d.RetryAfter)
}

func TestCheck_MaxActiveExceeded(t *testing.T) {
	now := time.Now()
	stats := map[int64]*TenantStats{
		1: {ActiveCollections: 51},
	}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, testLimits, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMaxActiveExceeded, d.Reason)
	assert.Nil(t, d.RetryAfter)
}

func TestCheck_AtMaxActiveStillAllowed(t *testing.T) {
	// the cap rejects only when the count is strictly above the limit, so a
	// tenant with exactly 50 active collections can still advance them
	now := time.Now()
	stats := map[int64]*TenantStats{
		1: {ActiveCollections: 50},
	}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, testLimits, now)
	assert.True(t, d.Allowed)
}

func TestCheck_DailyLimitExceeded(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	stats := map[int64]*TenantStats{
		1: {MessagesSentToday: 100},
	}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, testLimits, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimitExceeded, d.Reason)
	require.NotNil(t, d.RetryAfter)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), *d.RetryAfter)
}

func TestCheck_MinHoursNotMet(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	last := now.Add(-6 * time.Hour)
	stats := map[int64]*TenantStats{
		1: {LastMessageToContact: map[string]time.Time{"ct-1": last}},
	}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, testLimits, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMinHoursNotMet, d.Reason)
	require.NotNil(t, d.RetryAfter)
	assert.Equal(t, last.Add(24*time.Hour), *d.RetryAfter)
}

func TestCheck_ContactSpacingIsPerContact(t *testing.T) {
	now := time.Now()
	stats := map[int64]*TenantStats{
		1: {LastMessageToContact: map[string]time.Time{"ct-1": now.Add(-time.Hour)}},
	}

	// a different contact under the same tenant is unaffected
	d := Check(Candidate{TenantID: 1, ContactID: "ct-2"}, stats, testLimits, now)
	assert.True(t, d.Allowed)
}

func TestCheck_SpacingElapsedAllowed(t *testing.T) {
	now := time.Now()
	stats := map[int64]*TenantStats{
		1: {LastMessageToContact: map[string]time.Time{"ct-1": now.Add(-25 * time.Hour)}},
	}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, testLimits, now)
	assert.True(t, d.Allowed)
}

func TestCheck_OrderOfChecks(t *testing.T) {
	// every limit is violated at once; the structural cap must win
	now := time.Now()
	stats := map[int64]*TenantStats{
		1: {
			ActiveCollections:    99,
			MessagesSentToday:    999,
			LastMessageToContact: map[string]time.Time{"ct-1": now},
		},
	}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, testLimits, now)
	assert.Equal(t, ReasonMaxActiveExceeded, d.Reason)
}

func TestRecordSend_BumpsWithinRun(t *testing.T) {
	now := time.Now()
	limits := Limits{
		MaxActiveCollectionsPerTenant: 50,
		MaxMessagesPerDayPerTenant:    2,
		MinHoursBetweenMessages:       24,
	}
	stats := map[int64]*TenantStats{1: {MessagesSentToday: 1}}

	d := Check(Candidate{TenantID: 1, ContactID: "ct-1"}, stats, limits, now)
	require.True(t, d.Allowed)

	stats[1].RecordSend("ct-1", now)

	// the in-memory bump makes the very next candidate hit the daily cap
	d = Check(Candidate{TenantID: 1, ContactID: "ct-2"}, stats, limits, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimitExceeded, d.Reason)
}

func TestRecordSend_InitializesContactMap(t *testing.T) {
	now := time.Now()
	s := &TenantStats{}
	s.RecordSend("ct-1", now)

	assert.Equal(t, 1, s.MessagesSentToday)
	assert.Equal(t, now, s.LastMessageToContact["ct-1"])
}
