// File: facade/hioload.go
// Unified facade layer for hioload-hpts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HioloadHPTS aggregates the timer registry, logging, metrics, debug probes
// and the control adapter behind a single value built from one configuration.

package facade

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-hpts/adapters"
	"github.com/momentics/hioload-hpts/api"
	"github.com/momentics/hioload-hpts/control"
	"github.com/momentics/hioload-hpts/hpts"
	"github.com/momentics/hioload-hpts/internal/logging"
)

// HioloadHPTS is the main facade type.
type HioloadHPTS struct {
	registry *hpts.Registry
	control  *adapters.ControlAdapter
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	log      zerolog.Logger

	config  *control.Config
	mu      sync.Mutex
	started bool
}

var _ api.GracefulShutdown = (*HioloadHPTS)(nil)

// New builds the facade. opts are passed to hpts.New after the facade's own
// logger, metrics and probes, so callers may override any of them.
func New(cfg *control.Config, opts ...hpts.Option) (*HioloadHPTS, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	h := &HioloadHPTS{
		config:  cfg,
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
		log:     logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat),
	}
	base := []hpts.Option{hpts.WithLogger(h.log)}
	if cfg.Diagnostics {
		base = append(base, hpts.WithMetrics(h.metrics), hpts.WithProbes(h.probes))
	}
	reg, err := hpts.New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	h.registry = reg
	h.control = adapters.NewControlAdapter(cfg, reg, h.metrics, h.probes)
	return h, nil
}

// NewFromFile loads a .toml or .json configuration and builds the facade.
func NewFromFile(path string, opts ...hpts.Option) (*HioloadHPTS, error) {
	cfg, err := control.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Start launches the entry workers. Subsequent calls have no effect.
func (h *HioloadHPTS) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	if err := h.registry.Start(ctx); err != nil {
		return err
	}
	h.started = true
	return nil
}

// Stop pauses processing; queued items survive until the next Start.
func (h *HioloadHPTS) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return nil
	}
	h.started = false
	return h.registry.Stop()
}

// Shutdown destroys the registry.
func (h *HioloadHPTS) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
	return h.registry.Destroy()
}

// GetControl returns the Control interface for config and metrics.
func (h *HioloadHPTS) GetControl() api.Control { return h.control }

// GetScheduler exposes the registry as a plain api.Scheduler.
func (h *HioloadHPTS) GetScheduler() api.Scheduler { return h.registry }

// GetDebugAPI returns the probe registry.
func (h *HioloadHPTS) GetDebugAPI() api.Debug { return h.probes }

// Registry returns the underlying registry for item-level use.
func (h *HioloadHPTS) Registry() *hpts.Registry { return h.registry }

// Logger returns the facade's root logger.
func (h *HioloadHPTS) Logger() zerolog.Logger { return h.log }
