// File: hpts/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry: per-CPU entries, topology, worker lifecycle and the public
// registration interface.

package hpts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-hpts/adapters"
	"github.com/momentics/hioload-hpts/api"
	"github.com/momentics/hioload-hpts/control"
	"github.com/momentics/hioload-hpts/internal/logging"
)

var (
	_ api.Scheduler        = (*Registry)(nil)
	_ api.GracefulShutdown = (*Registry)(nil)
	_ api.Cancelable       = (*Handle)(nil)
)

// Registry owns the per-CPU entries. The zero value is not usable; call New.
type Registry struct {
	cfg     control.Config
	clock   api.Clock
	aff     api.Affinity
	topo    api.Topology
	log     zerolog.Logger
	logSet  bool
	warn    *logging.Limited
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes

	// immutable after New
	layout  api.Layout
	domains map[int]api.CPUSet
	entries []*entry
	byCPU   map[int]*entry

	rr       atomic.Uint64
	fallback atomic.Pointer[entry]

	mu      sync.Mutex // lifecycle
	started bool
	closed  atomic.Bool
}

// Option customizes New.
type Option func(*Registry)

// WithClock replaces the wall clock (tests pass fake.Clock).
func WithClock(c api.Clock) Option { return func(r *Registry) { r.clock = c } }

// WithAffinity replaces the OS thread binder.
func WithAffinity(a api.Affinity) Option { return func(r *Registry) { r.aff = a } }

// WithTopology replaces CPU/NUMA discovery.
func WithTopology(t api.Topology) Option { return func(r *Registry) { r.topo = t } }

// WithLogger sets the root logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
		r.logSet = true
	}
}

// WithMetrics publishes entry snapshots into m.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithProbes registers debug probes in p when diagnostics are enabled.
func WithProbes(p *control.DebugProbes) Option {
	return func(r *Registry) { r.probes = p }
}

// New validates cfg, discovers the topology and allocates one entry per CPU.
// Nothing runs until Start. On error nothing is retained.
func New(cfg *control.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{cfg: *cfg}
	for _, opt := range opts {
		opt(r)
	}
	if !r.logSet {
		r.log = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	}
	r.log = logging.Component(r.log, "hpts")
	r.warn = logging.NewLimited(r.log, nil)
	if r.clock == nil {
		r.clock = adapters.NewClock()
	}
	if r.aff == nil || r.topo == nil {
		sys := adapters.NewAffinityAdapter(nil)
		if r.aff == nil {
			r.aff = sys
		}
		if r.topo == nil {
			r.topo = sys
		}
	}

	layout, err := r.topo.Discover()
	if err != nil {
		return nil, api.NewError(api.ErrCodeTopology, "topology discovery failed").Wrap(errors.Join(api.ErrTopology, err))
	}
	if len(layout.CPUs) == 0 {
		return nil, api.NewError(api.ErrCodeTopology, "no cpus discovered").Wrap(api.ErrTopology)
	}
	if cfg.MaxEntries > 0 && len(layout.CPUs) > cfg.MaxEntries {
		layout.CPUs = layout.CPUs[:cfg.MaxEntries]
	}
	r.layout = layout
	r.domains = layout.Domains()
	r.byCPU = make(map[int]*entry, len(layout.CPUs))

	epoch := r.clock.Now()
	for i, c := range layout.CPUs {
		if _, dup := r.byCPU[c.ID]; dup {
			return nil, api.NewError(api.ErrCodeTopology, "duplicate cpu in layout").
				Wrap(api.ErrTopology).WithContext("cpu", c.ID)
		}
		e := newEntry(entryParams{
			id:         i,
			cpu:        c.ID,
			domain:     c.Domain,
			clock:      r.clock,
			epoch:      epoch,
			quantum:    cfg.Quantum(),
			minSleep:   cfg.Floor(),
			slots:      cfg.SlotCount,
			directRate: cfg.DirectRate,
			log:        r.log,
			warn:       r.warn,
		})
		r.entries = append(r.entries, e)
		r.byCPU[c.ID] = e
	}
	if cfg.FallbackCPU >= 0 {
		if _, ok := r.byCPU[cfg.FallbackCPU]; !ok {
			return nil, api.NewError(api.ErrCodeInvalidConfig, "fallback cpu has no entry").
				Wrap(api.ErrInvalidConfig).WithContext("fallback_cpu", cfg.FallbackCPU)
		}
	}
	r.pickFallback()

	if cfg.Diagnostics && r.probes != nil {
		control.RegisterPlatformProbes(r.probes, layout)
		r.probes.RegisterProbe("hpts.entries", func() any { return r.Stats() })
		r.probes.RegisterProbe("hpts.config", func() any { return r.cfg.Snapshot() })
	}
	r.log.Info().
		Int("entries", len(r.entries)).
		Str("policy", string(cfg.Policy)).
		Dur("quantum", cfg.Quantum()).
		Int("slots", cfg.SlotCount).
		Msg("registry created")
	return r, nil
}

// bindSet is the CPU set an entry's worker binds to under the policy.
func (r *Registry) bindSet(e *entry) api.CPUSet {
	switch r.cfg.Policy {
	case control.BindCPU:
		return api.CPUSet{e.cpu}
	case control.BindNUMA:
		return r.domains[e.domain]
	}
	return nil
}

// Start launches one worker per entry and waits for every bind result.
// Failed binds degrade their entry; they do not fail Start. ctx bounds the
// wait only.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return api.ErrClosed
	}
	if r.started {
		return api.ErrAlreadyStarted
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range r.entries {
		ready := e.launch(r.aff, r.bindSet(e))
		g.Go(func() error {
			select {
			case <-ready:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		r.stopLocked()
		return fmt.Errorf("hpts: start: %w", err)
	}
	r.pickFallback()
	degraded := 0
	for _, e := range r.entries {
		if e.degraded.Load() {
			degraded++
		}
		e.resume()
	}
	r.started = true
	ev := r.log.Info()
	if degraded > 0 {
		ev = r.log.Warn().Int("degraded", degraded)
	}
	ev.Int("entries", len(r.entries)).Msg("registry started")
	return nil
}

// Stop pauses processing. Queued items stay queued; Start resumes them.
// On return no pass is running on any entry. Must not be called from a
// callback.
func (r *Registry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return api.ErrClosed
	}
	if !r.started {
		return nil
	}
	r.stopLocked()
	r.log.Info().Msg("registry stopped")
	return nil
}

func (r *Registry) stopLocked() {
	for _, e := range r.entries {
		e.stop()
	}
	r.started = false
}

// Destroy stops the workers, drops any items still queued and releases the
// wheels. Later calls return api.ErrClosed.
func (r *Registry) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed.CompareAndSwap(false, true) {
		return api.ErrClosed
	}
	r.stopLocked()
	dropped := 0
	for _, e := range r.entries {
		e.mu.Lock()
		dropped += e.dropLocked()
		e.mu.Unlock()
	}
	if dropped > 0 {
		r.log.Warn().Int("dropped", dropped).Msg("registry destroyed with queued items")
	}
	if r.probes != nil {
		for _, name := range []string{"hpts.entries", "hpts.config"} {
			r.probes.UnregisterProbe(name)
		}
	}
	r.log.Info().Msg("registry destroyed")
	return nil
}

// Shutdown implements api.GracefulShutdown.
func (r *Registry) Shutdown() error { return r.Destroy() }

// Register queues it to fire after delay. A pending registration of the
// same item is canceled first. delay <= 0 fires on the entry's next wake.
func (r *Registry) Register(it *Item, delay time.Duration) (*Handle, error) {
	return r.register(it, delay, nil, -1)
}

// RegisterOn is Register with a CPU hint.
func (r *Registry) RegisterOn(it *Item, delay time.Duration, cpu int) (*Handle, error) {
	if _, ok := r.byCPU[cpu]; !ok {
		return nil, fmt.Errorf("hpts: cpu %d: %w", cpu, api.ErrNoSuchCPU)
	}
	return r.register(it, delay, nil, cpu)
}

// Reschedule moves the item of h to fire after delay, on the same entry.
// The old registration is canceled under the same locks that queue the new
// one, so the item cannot fire twice for it.
func (r *Registry) Reschedule(h *Handle, delay time.Duration) (*Handle, error) {
	if h == nil {
		return nil, fmt.Errorf("hpts: nil handle: %w", api.ErrInvalidArgument)
	}
	return r.register(h.item, delay, h.entry, -1)
}

// Cancel withdraws h. See Handle.Cancel.
func (r *Registry) Cancel(h *Handle) bool { return h.Cancel() }

func (r *Registry) register(it *Item, delay time.Duration, target *entry, hint int) (*Handle, error) {
	if r.closed.Load() {
		return nil, api.ErrClosed
	}
	if it == nil || it.fn == nil {
		return nil, fmt.Errorf("hpts: item without callback: %w", api.ErrInvalidArgument)
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	e := target
	if e == nil {
		e = r.place(it, hint)
	}
	prev := it.cur
	if prev != nil && prev.entry != e {
		prev.entry.cancel(prev)
	}

	now := r.clock.Now()
	h := &Handle{item: it, deadline: now.Add(delay)}
	e.mu.Lock()
	if e.slots == nil {
		e.mu.Unlock()
		return nil, api.ErrClosed
	}
	if prev != nil && prev.entry == e {
		e.cancelLocked(prev)
	}
	e.insertLocked(h, now, delay)
	e.mu.Unlock()
	it.cur = h
	return h, nil
}

// Schedule implements api.Scheduler with a one-shot item.
func (r *Registry) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, fmt.Errorf("hpts: nil func: %w", api.ErrInvalidArgument)
	}
	it := NewItem(func(*Item) error {
		fn()
		return nil
	}, nil)
	return r.Register(it, delay)
}

// Now returns the registry clock's time.
func (r *Registry) Now() time.Time { return r.clock.Now() }

// Wake requests an immediate pass on the entry of cpu.
func (r *Registry) Wake(cpu int) error {
	e, err := r.entryOf(cpu)
	if err != nil {
		return err
	}
	return e.wake()
}

// RunBehind drains the entry of cpu on the calling goroutine when it holds
// queued items, lags at least BehindThreshold slots, no pass is running and
// the entry's direct rate allows it. It reports whether a pass ran.
func (r *Registry) RunBehind(cpu int) bool {
	e, err := r.entryOf(cpu)
	if err != nil {
		return false
	}
	now := r.clock.Now()
	e.mu.Lock()
	lag := e.tickOf(now) - e.doneTick
	ok := e.running && !e.paused && !e.flags.Active && e.onQueue > 0 &&
		lag >= int64(r.cfg.BehindThreshold)
	e.mu.Unlock()
	if !ok || !e.limiter.AllowN(now, 1) {
		return false
	}
	return e.runPass(true)
}

func (r *Registry) entryOf(cpu int) (*entry, error) {
	if r.closed.Load() {
		return nil, api.ErrClosed
	}
	e, ok := r.byCPU[cpu]
	if !ok {
		return nil, fmt.Errorf("hpts: cpu %d: %w", cpu, api.ErrNoSuchCPU)
	}
	return e, nil
}

// CPUs lists the CPUs that own an entry, in entry order.
func (r *Registry) CPUs() []int {
	out := make([]int, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.cpu
	}
	return out
}

// Layout returns the topology the registry was built from.
func (r *Registry) Layout() api.Layout { return r.layout }

// Config returns the configuration in effect.
func (r *Registry) Config() control.Config { return r.cfg }

// Stats snapshots every entry.
func (r *Registry) Stats() []EntryStats {
	out := make([]EntryStats, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.snapshot()
	}
	return out
}

// PublishMetrics writes entry snapshots under hpts.entry.<id>.
func (r *Registry) PublishMetrics() {
	if r.metrics == nil {
		return
	}
	for _, s := range r.Stats() {
		r.metrics.SetAll("hpts.entry."+strconv.Itoa(s.ID), s.Map())
	}
	r.metrics.Set("hpts.log.suppressed", r.warn.Suppressed())
}

// CheckInvariants verifies queue accounting on every entry under its lock.
func (r *Registry) CheckInvariants() error {
	var errs []error
	for _, e := range r.entries {
		e.mu.Lock()
		if err := e.checkInvariantLocked(); err != nil {
			errs = append(errs, err)
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}
