package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMicroBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewMicroBreaker(3, time.Minute)

	b.OnFailure()
	b.OnFailure()
	assert.True(t, b.Ready(), "below threshold stays closed")

	b.OnFailure()
	assert.False(t, b.Ready(), "threshold reached opens the breaker")
	assert.False(t, b.TryAcquire())
}

func TestMicroBreaker_SuccessResetsCount(t *testing.T) {
	b := NewMicroBreaker(3, time.Minute)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	assert.True(t, b.Ready(), "success must reset the consecutive counter")
}

func TestMicroBreaker_ProbeAfterOpenWindow(t *testing.T) {
	b := NewMicroBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	require.False(t, b.TryAcquire())

	time.Sleep(20 * time.Millisecond)

	// exactly one probe goes through
	assert.True(t, b.TryAcquire())
	assert.False(t, b.TryAcquire(), "only a single probe while half-open")

	b.OnSuccess()
	assert.True(t, b.TryAcquire(), "successful probe closes the breaker")
}

func TestMicroBreaker_FailedProbeReopens(t *testing.T) {
	b := NewMicroBreaker(1, 10*time.Millisecond)

	b.OnFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.TryAcquire())

	b.OnFailure()
	assert.False(t, b.TryAcquire(), "failed probe reopens for another window")
}
