package ratelimit

import "time"

// Reason codes surfaced in run statistics when a send is disallowed.
const (
	ReasonMaxActiveExceeded  = "max_active_exceeded"
	ReasonDailyLimitExceeded = "daily_limit_exceeded"
	ReasonMinHoursNotMet     = "min_hours_not_met"
)

// Limits are the process-wide per-tenant sending caps.
type Limits struct {
	MaxActiveCollectionsPerTenant int
	MaxMessagesPerDayPerTenant    int
	MinHoursBetweenMessages       int
}

// TenantStats is the per-run aggregation of one tenant's sending history.
// Built once before the batch; the worker bumps it in memory after each
// successful send so limits hold strictly within a run.
type TenantStats struct {
	ActiveCollections    int
	MessagesSentToday    int
	LastMessageToContact map[string]time.Time
}

// RecordSend updates the stats after a successful send.
func (s *TenantStats) RecordSend(contactID string, at time.Time) {
	s.MessagesSentToday++
	if s.LastMessageToContact == nil {
		s.LastMessageToContact = make(map[string]time.Time)
	}
	s.LastMessageToContact[contactID] = at
}

// Candidate identifies the tenant/contact pair about to receive a message.
type Candidate struct {
	TenantID  int64
	ContactID string
}

// Decision is the outcome of a rate-limit check. RetryAfter is set only for
// time-based rejections.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter *time.Time
}

// Check evaluates the per-tenant and per-contact limits for a candidate send.
// Checks short-circuit in order: structural cap, daily cap, per-contact
// spacing. A tenant with no stats entry is always allowed. Pure function, no
// side effects.
func Check(c Candidate, stats map[int64]*TenantStats, limits Limits, now time.Time) Decision {
	ts, ok := stats[c.TenantID]
	if !ok || ts == nil {
		return Decision{Allowed: true}
	}

	if ts.ActiveCollections > limits.MaxActiveCollectionsPerTenant {
		return Decision{Allowed: false, Reason: ReasonMaxActiveExceeded}
	}

	if ts.MessagesSentToday >= limits.MaxMessagesPerDayPerTenant {
		retry := nextMidnight(now)
		return Decision{Allowed: false, Reason: ReasonDailyLimitExceeded, RetryAfter: &retry}
	}

	if last, ok := ts.LastMessageToContact[c.ContactID]; ok {
		minGap := time.Duration(limits.MinHoursBetweenMessages) * time.Hour
		if now.Sub(last) < minGap {
			retry := last.Add(minGap)
			return Decision{Allowed: false, Reason: ReasonMinHoursNotMet, RetryAfter: &retry}
		}
	}

	return Decision{Allowed: true}
}

// nextMidnight returns the start of the next calendar day in now's location.
func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
