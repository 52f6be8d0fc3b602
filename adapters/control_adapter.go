// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/hioload-hpts/api"
	"github.com/momentics/hioload-hpts/control"
)

var _ api.Control = (*ControlAdapter)(nil)

// Publisher refreshes metrics on demand (hpts.Registry does).
type Publisher interface {
	PublishMetrics()
}

type ControlAdapter struct {
	config  *control.Config
	src     Publisher
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

// NewControlAdapter exposes cfg, the metrics src publishes and the probes.
// nil metrics or probes get fresh registries.
func NewControlAdapter(cfg *control.Config, src Publisher, metrics *control.MetricsRegistry, debug *control.DebugProbes) *ControlAdapter {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if metrics == nil {
		metrics = control.NewMetricsRegistry()
	}
	if debug == nil {
		debug = control.NewDebugProbes()
	}
	return &ControlAdapter{config: cfg, src: src, metrics: metrics, debug: debug}
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.Snapshot()
}

func (c *ControlAdapter) Stats() map[string]any {
	if c.src != nil {
		c.src.PublishMetrics()
	}
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Metrics returns the backing registry.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry { return c.metrics }
