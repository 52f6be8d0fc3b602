package hpts

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedLateness(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	rnd := rand.New(rand.NewPCG(7, 11))

	type rec struct {
		want time.Time
		got  []time.Time
	}
	recs := make([]*rec, 300)
	for i := range recs {
		// up to three revolutions, including zero
		d := time.Duration(rnd.IntN(int(3*testHorizon/time.Microsecond))) * time.Microsecond
		if i%50 == 0 {
			d = 0
		}
		rc := &rec{want: clk.Now().Add(d)}
		recs[i] = rc
		it := NewItem(func(*Item) error {
			rc.got = append(rc.got, clk.Now())
			return nil
		}, nil)
		_, err := r.Register(it, d)
		require.NoError(t, err)
		if i%30 == 29 {
			// stagger registration times off the tick grid
			clk.Advance(137 * time.Microsecond)
			pump(r)
		}
	}
	runClock(t, r, clk)

	bound := testQuantum + testMinSleep
	for i, rc := range recs {
		require.Len(t, rc.got, 1, "item %d", i)
		late := rc.got[0].Sub(rc.want)
		assert.GreaterOrEqual(t, late, time.Duration(0), "item %d fired early", i)
		assert.LessOrEqual(t, late, bound, "item %d fired late", i)
	}
	require.NoError(t, r.CheckInvariants())
	st := r.Stats()[0]
	assert.Zero(t, st.OnQueue)
	assert.Equal(t, uint64(len(recs)), st.ItemsFired)
	assert.NotZero(t, st.Deferred, "multi-revolution delays are requeued")
}

func TestCountInvariantUnderChurn(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	rnd := rand.New(rand.NewPCG(3, 5))
	noop := func(*Item) error { return nil }

	var handles []*Handle
	for step := 0; step < 2000; step++ {
		switch op := rnd.IntN(10); {
		case op < 5:
			h, err := r.Register(NewItem(noop, nil), time.Duration(rnd.IntN(150))*time.Millisecond)
			require.NoError(t, err)
			handles = append(handles, h)
		case op < 7 && len(handles) > 0:
			handles[rnd.IntN(len(handles))].Cancel()
		case op < 8 && len(handles) > 0:
			i := rnd.IntN(len(handles))
			h, err := r.Reschedule(handles[i], time.Duration(rnd.IntN(80))*time.Millisecond)
			require.NoError(t, err)
			handles[i] = h
		default:
			clk.Advance(time.Duration(rnd.IntN(3000)) * time.Microsecond)
			pump(r)
		}
		require.NoError(t, r.CheckInvariants(), "step %d", step)
	}
	runClock(t, r, clk)
	require.NoError(t, r.CheckInvariants())
	_, _, onQueue := entryState(r.entries[0])
	assert.Zero(t, onQueue)
}

func TestCancelBeforeDrain(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	fired := 0
	h, err := r.Register(NewItem(func(*Item) error { fired++; return nil }, nil), 5*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel(), "second cancel")
	assert.False(t, h.Pending())

	clk.Advance(10 * time.Millisecond)
	pump(r)
	require.NoError(t, r.entries[0].wake())
	pump(r)
	assert.Zero(t, fired)
}

func TestCancelDuringDrainLoses(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)

	var victim *Handle
	var cancelResult *bool
	victimFired := 0
	first := NewItem(func(*Item) error {
		ok := victim.Cancel()
		cancelResult = &ok
		return nil
	}, nil)
	second := NewItem(func(*Item) error { victimFired++; return nil }, nil)

	_, err := r.Register(first, 5*time.Millisecond)
	require.NoError(t, err)
	victim, err = r.Register(second, 5*time.Millisecond)
	require.NoError(t, err)

	runClock(t, r, clk)
	require.NotNil(t, cancelResult)
	assert.False(t, *cancelResult, "cancel after detach must fail")
	assert.Equal(t, 1, victimFired, "callback still runs")
	assert.False(t, victim.Cancel(), "cancel after fire")
	assert.Equal(t, uint64(0), r.Stats()[0].Canceled)
}

func TestRegisterThenCancelIsNoop(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	manual(r)
	e := r.entries[0]
	_, err := r.Register(NewItem(func(*Item) error { return nil }, nil), 20*time.Millisecond)
	require.NoError(t, err)
	_, _, before := entryState(e)

	h, err := r.Register(NewItem(func(*Item) error { return nil }, nil), 7*time.Millisecond)
	require.NoError(t, err)
	require.True(t, h.Cancel())

	_, _, after := entryState(e)
	assert.Equal(t, before, after)
	require.NoError(t, r.CheckInvariants())
}

func TestDelayZeroFiresOnNextWake(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	e := r.entries[0]
	fired := 0
	_, err := r.Register(NewItem(func(*Item) error { fired++; return nil }, nil), 0)
	require.NoError(t, err)

	state, _, _ := entryState(e)
	assert.Equal(t, StateWaking, state)
	assert.Equal(t, 1, pump(r))
	assert.Equal(t, 1, fired)
	assert.Equal(t, t0, clk.Now(), "no clock movement needed")
}

func TestDelayZeroWhileSleeping(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	manual(r)
	_, err := r.Register(NewItem(func(*Item) error { return nil }, nil), 30*time.Millisecond)
	require.NoError(t, err)
	state, _, _ := entryState(r.entries[0])
	require.Equal(t, StateSleeping, state)

	fired := false
	_, err = r.Register(NewItem(func(*Item) error { fired = true; return nil }, nil), -time.Second)
	require.NoError(t, err)
	pump(r)
	assert.True(t, fired)

	state, flags, onQueue := entryState(r.entries[0])
	assert.Equal(t, StateSleeping, state, "timer re-armed for the remaining item")
	assert.True(t, flags.WakeScheduled)
	assert.Equal(t, 1, onQueue)
}

func TestThousandItemsOneRevolution(t *testing.T) {
	cfg := testConfig()
	cfg.SlotCount = 1024
	r, clk := newTestRegistry(t, cfg)
	manual(r)
	horizon := cfg.Horizon()

	fired := make(map[int]int)
	fn := counter(fired)
	for i := 0; i < 1000; i++ {
		_, err := r.Register(NewItem(fn(i), nil), time.Duration(i+1)*testQuantum)
		require.NoError(t, err)
	}
	require.NoError(t, r.CheckInvariants())

	clk.Set(t0.Add(horizon))
	assert.Equal(t, 1, pump(r), "one wake drains the revolution")
	assert.Len(t, fired, 1000)
	for i, n := range fired {
		assert.Equal(t, 1, n, "item %d", i)
	}
	st := r.Stats()[0]
	assert.Zero(t, st.CatchUps)
	assert.Equal(t, uint64(1000), st.SlotsDrained)
	assert.True(t, st.Flags.WheelComplete)
	require.NoError(t, r.CheckInvariants())
}

func TestClockJumpBeyondRevolution(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	fired := make(map[int]int)
	fn := counter(fired)
	for i := 0; i < 200; i++ {
		// spread over two revolutions
		d := time.Duration(i) * 2 * testHorizon / 200
		_, err := r.Register(NewItem(fn(i), nil), d+time.Microsecond)
		require.NoError(t, err)
	}

	clk.Set(t0.Add(3*testHorizon + 250*time.Microsecond))
	pump(r)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Wake(0))
		pump(r)
	}

	require.Len(t, fired, 200)
	for i, n := range fired {
		require.Equal(t, 1, n, "item %d delivered %d times", i, n)
	}
	st := r.Stats()[0]
	assert.Equal(t, uint64(1), st.CatchUps)
	assert.True(t, st.Flags.WheelComplete)
	assert.Equal(t, "idle", st.State)
	assert.Zero(t, clk.Armed())
}

func TestReRegisterFromCallbackLandsInLaterPass(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	e := r.entries[0]

	var passes []uint64
	var it *Item
	it = NewItem(func(*Item) error {
		passes = append(passes, e.stats.passes.Load())
		if len(passes) < 3 {
			_, err := r.Register(it, 0)
			return err
		}
		if len(passes) < 5 {
			_, err := r.Register(it, testQuantum)
			return err
		}
		return nil
	}, nil)
	_, err := r.Register(it, 0)
	require.NoError(t, err)

	runClock(t, r, clk)
	require.Len(t, passes, 5)
	for i := 1; i < len(passes); i++ {
		assert.Greater(t, passes[i], passes[i-1], "fire %d shares a pass", i)
	}
	assert.False(t, it.Pending())
}

func TestCallbackFailuresAreIsolated(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	var order []string
	reg := func(name string, fn func() error) {
		_, err := r.Register(NewItem(func(*Item) error {
			order = append(order, name)
			return fn()
		}, nil), 3*time.Millisecond)
		require.NoError(t, err)
	}
	reg("panics", func() error { panic("boom") })
	reg("errors", func() error { return errors.New("nope") })
	reg("ok", func() error { return nil })

	runClock(t, r, clk)
	assert.Equal(t, []string{"panics", "errors", "ok"}, order, "FIFO within a slot")
	st := r.Stats()[0]
	assert.Equal(t, uint64(1), st.CallbackPanics)
	assert.Equal(t, uint64(1), st.CallbackErrors)
	assert.Equal(t, uint64(3), st.ItemsFired)
}

func TestMinSleepFloor(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	clk.Advance(testQuantum - 100*time.Microsecond)

	_, err := r.Register(NewItem(func(*Item) error { return nil }, nil), time.Microsecond)
	require.NoError(t, err)
	st := r.Stats()[0]
	assert.True(t, st.Flags.MinSleep)
	assert.Equal(t, uint64(1), st.FloorHits)
	assert.Equal(t, testMinSleep, st.LastSleep)

	next, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(testMinSleep), next)
}

func TestCancelLastItemDisarms(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	h, err := r.Register(NewItem(func(*Item) error { return nil }, nil), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, clk.Armed())

	require.True(t, h.Cancel())
	assert.Zero(t, clk.Armed())
	state, flags, _ := entryState(r.entries[0])
	assert.Equal(t, StateIdle, state)
	assert.False(t, flags.WakeScheduled)
}

func TestEarlierInsertRearms(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	_, err := r.Register(NewItem(func(*Item) error { return nil }, nil), 40*time.Millisecond)
	require.NoError(t, err)
	_, err = r.Register(NewItem(func(*Item) error { return nil }, nil), 5*time.Millisecond)
	require.NoError(t, err)

	next, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Millisecond), next)
	assert.Equal(t, uint64(2), r.Stats()[0].InsertWakes)
}

func TestRunBehind(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	fired := 0
	_, err := r.Register(NewItem(func(*Item) error { fired++; return nil }, nil), 2*time.Millisecond)
	require.NoError(t, err)

	clk.Advance(2 * time.Millisecond)
	assert.False(t, r.RunBehind(0), "lag below threshold")

	clk.Advance(8 * time.Millisecond)
	require.True(t, r.RunBehind(0))
	assert.Equal(t, 1, fired)
	st := r.Stats()[0]
	assert.Equal(t, uint64(1), st.DirectRuns)
	assert.False(t, st.Flags.DirectWake, "cleared after the pass")

	pump(r)
	assert.Equal(t, 1, fired)
	assert.False(t, r.RunBehind(42))
}

func TestDirectPassKeepsArmedTimer(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	_, err := r.Register(NewItem(func(*Item) error { return nil }, nil), 1*time.Millisecond)
	require.NoError(t, err)
	_, err = r.Register(NewItem(func(*Item) error { return nil }, nil), 30*time.Millisecond)
	require.NoError(t, err)
	seq := r.entries[0].armSeq.Load()

	clk.Set(t0.Add(500 * time.Microsecond))
	r.entries[0].mu.Lock()
	r.entries[0].doneTick -= 10 // pretend the worker fell behind
	r.entries[0].mu.Unlock()
	require.True(t, r.RunBehind(0))
	assert.Equal(t, seq, r.entries[0].armSeq.Load(), "armed timer kept")
}

func TestSiblingCallbackCancelsLaterRevolution(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)

	var later *Handle
	var cancelResult *bool
	laterFired := 0
	first := NewItem(func(*Item) error {
		ok := later.Cancel()
		cancelResult = &ok
		return nil
	}, nil)
	second := NewItem(func(*Item) error { laterFired++; return nil }, nil)

	// same slot, one revolution apart
	_, err := r.Register(first, 3*time.Millisecond)
	require.NoError(t, err)
	later, err = r.Register(second, 3*time.Millisecond+testHorizon)
	require.NoError(t, err)

	clk.Advance(3 * time.Millisecond)
	pump(r)
	require.NotNil(t, cancelResult)
	assert.True(t, *cancelResult, "not yet due, still cancelable")
	require.NoError(t, r.CheckInvariants())

	clk.Advance(3 * testHorizon)
	runClock(t, r, clk)
	assert.Zero(t, laterFired)
	st := r.Stats()[0]
	assert.Equal(t, uint64(1), st.Canceled)
	assert.Equal(t, uint64(1), st.Deferred)
	assert.Zero(t, st.OnQueue)
}

func TestHugeDelayNeverFiresEarly(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	fired := 0
	h, err := r.Register(NewItem(func(*Item) error { fired++; return nil }, nil), time.Duration(math.MaxInt64))
	require.NoError(t, err)

	clk.Advance(10 * time.Millisecond)
	pump(r)
	for i := 0; i < 3; i++ {
		clk.Advance(testHorizon)
		require.NoError(t, r.Wake(0))
		pump(r)
	}
	assert.Zero(t, fired)
	assert.True(t, h.Pending())
	assert.Equal(t, 1, r.Stats()[0].OnQueue)
	require.NoError(t, r.CheckInvariants())
	assert.True(t, h.Cancel())
}

func TestQuietPeriodIsNotCatchUp(t *testing.T) {
	r, clk := newTestRegistry(t, nil)
	manual(r)
	fired := 0
	fn := func(*Item) error { fired++; return nil }
	_, err := r.Register(NewItem(fn, nil), 2*time.Millisecond)
	require.NoError(t, err)
	runClock(t, r, clk)
	require.Equal(t, 1, fired)

	clk.Advance(5 * testHorizon)
	assert.False(t, r.RunBehind(0), "empty entry is not behind")
	require.NoError(t, r.Wake(0))
	pump(r)

	_, err = r.Register(NewItem(fn, nil), 2*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, r.RunBehind(0), "fresh insert after a quiet period")
	runClock(t, r, clk)

	assert.Equal(t, 2, fired)
	assert.Zero(t, r.Stats()[0].CatchUps)
}
