package hpts

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-hpts/control"
	"github.com/momentics/hioload-hpts/fake"
)

var t0 = time.Unix(1_700_000_000, 0)

const (
	testQuantum  = time.Millisecond
	testSlots    = 64
	testMinSleep = 500 * time.Microsecond
	testHorizon  = testQuantum * testSlots
)

func testConfig() *control.Config {
	cfg := control.DefaultConfig()
	cfg.SlotQuantum = control.Duration(testQuantum)
	cfg.SlotCount = testSlots
	cfg.MinSleep = control.Duration(testMinSleep)
	return cfg
}

// newTestRegistry builds a single-CPU registry on a fake clock. Later
// options override the defaults.
func newTestRegistry(t *testing.T, cfg *control.Config, opts ...Option) (*Registry, *fake.Clock) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	clk := fake.NewClock(t0)
	base := []Option{
		WithClock(clk),
		WithAffinity(fake.NewAffinity()),
		WithTopology(fake.NewTopology([]int{0})),
		WithLogger(zerolog.Nop()),
	}
	r, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r, clk
}

// manual lets entries arm timers and signal wakes without worker
// goroutines; pump then runs the requested passes on the test goroutine.
func manual(r *Registry) {
	for _, e := range r.entries {
		e.mu.Lock()
		e.running = true
		e.paused = false
		e.mu.Unlock()
	}
}

func pump(r *Registry) int {
	passes := 0
	for progress := true; progress; {
		progress = false
		for _, e := range r.entries {
			select {
			case <-e.wakeCh:
				if e.runPass(false) {
					passes++
				}
				progress = true
			default:
			}
		}
	}
	return passes
}

// runClock advances the fake clock deadline by deadline, pumping passes,
// until no timer is armed.
func runClock(t *testing.T, r *Registry, clk *fake.Clock) {
	t.Helper()
	for i := 0; i < 100_000; i++ {
		pump(r)
		next, ok := clk.NextDeadline()
		if !ok {
			return
		}
		clk.Set(next)
	}
	t.Fatal("clock never went idle")
}

func entryState(e *entry) (State, Flags, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.flags, e.onQueue
}

func counter(fired map[int]int) func(id int) Func {
	return func(id int) Func {
		return func(*Item) error {
			fired[id]++
			return nil
		}
	}
}
