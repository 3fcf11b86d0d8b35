package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/duespark/dunning/internal/util"
)

// Simulated is a test/dev gateway that succeeds with a configurable rate and
// optionally sleeps to mimic provider latency.
type Simulated struct {
	name        string
	successRate float64 // 0..1
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulated(successRate float64, latency time.Duration) *Simulated {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &Simulated{
		name:        "simulated",
		successRate: successRate,
		latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) Name() string  { return s.name }
func (s *Simulated) Ready() bool   { return true }
func (s *Simulated) Acquire() bool { return true }

func (s *Simulated) Send(ctx context.Context, req Request) Result {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return Result{Success: false, Error: ctx.Err().Error()}
		}
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll >= s.successRate {
		return Result{Success: false, Error: fmt.Sprintf("simulated failure channel=%s", req.Channel)}
	}

	return Result{Success: true, MessageID: "sim-" + util.New()}
}
