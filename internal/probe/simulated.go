package probe

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"

	"region-latency/internal/core"
)

// SimulatedInvoker stands in for a remote endpoint during local runs.
// Each call waits base plus a random share of jitter.
type SimulatedInvoker struct {
	clock  clock.Clock
	base   time.Duration
	jitter time.Duration
}

func NewSimulatedInvoker(clk clock.Clock, base, jitter time.Duration) *SimulatedInvoker {
	if clk == nil {
		clk = clock.New()
	}
	return &SimulatedInvoker{clock: clk, base: base, jitter: jitter}
}

func (s *SimulatedInvoker) Invoke(ctx context.Context) (core.Response, error) {
	delay := s.base
	if s.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(s.jitter)))
	}

	t := s.clock.Timer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return core.Response{Status: 200}, nil
	case <-ctx.Done():
		return core.Response{}, ctx.Err()
	}
}
