// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-hpts components.

package benchmarks

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-hpts/control"
	"github.com/momentics/hioload-hpts/facade"
	"github.com/momentics/hioload-hpts/fake"
	"github.com/momentics/hioload-hpts/hpts"
)

func newRegistry(b *testing.B, cpus ...int) (*hpts.Registry, *fake.Clock) {
	b.Helper()
	clk := fake.NewClock(time.Unix(0, 0))
	r, err := hpts.New(control.DefaultConfig(),
		hpts.WithClock(clk),
		hpts.WithAffinity(fake.NewAffinity()),
		hpts.WithTopology(fake.NewTopology(cpus)),
		hpts.WithLogger(zerolog.Nop()))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { r.Destroy() })
	return r, clk
}

func noop(*hpts.Item) error { return nil }

// BenchmarkRegisterCancel measures the insert/cancel pair on one entry.
func BenchmarkRegisterCancel(b *testing.B) {
	r, _ := newRegistry(b, 0)
	it := hpts.NewItem(noop, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := r.Register(it, time.Duration(i%1000+1)*time.Millisecond)
		if err != nil {
			b.Fatal(err)
		}
		h.Cancel()
	}
}

// BenchmarkReregister replaces a pending registration each iteration.
func BenchmarkReregister(b *testing.B) {
	r, _ := newRegistry(b, 0)
	it := hpts.NewItem(noop, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Register(it, time.Duration(i%1000+1)*time.Millisecond); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRegisterParallel spreads flows across eight entries.
func BenchmarkRegisterParallel(b *testing.B) {
	r, _ := newRegistry(b, 0, 1, 2, 3, 4, 5, 6, 7)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			it := hpts.NewItem(noop, nil)
			it.SetFlowKey(strconv.Itoa(i))
			h, err := r.Register(it, time.Duration(i%500+1)*time.Millisecond)
			if err != nil {
				b.Fatal(err)
			}
			h.Cancel()
			i++
		}
	})
}

// BenchmarkDrain fires 1024 items per direct pass.
func BenchmarkDrain(b *testing.B) {
	r, clk := newRegistry(b, 0)
	if err := r.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	items := make([]*hpts.Item, 1024)
	for i := range items {
		items[i] = hpts.NewItem(noop, nil)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j, it := range items {
			if _, err := r.Register(it, time.Duration(j%64+1)*10*time.Microsecond); err != nil {
				b.Fatal(err)
			}
		}
		clk.Set(clk.Now().Add(time.Millisecond))
		b.StartTimer()
		r.RunBehind(0)
	}
}

// BenchmarkFacadeIntegration tests end-to-end facade scheduling.
func BenchmarkFacadeIntegration(b *testing.B) {
	clk := fake.NewClock(time.Unix(0, 0))
	h, err := facade.New(control.DefaultConfig(),
		hpts.WithClock(clk),
		hpts.WithAffinity(fake.NewAffinity()),
		hpts.WithTopology(fake.NewTopology([]int{0, 1})),
		hpts.WithLogger(zerolog.Nop()))
	if err != nil {
		b.Fatal(err)
	}
	defer h.Shutdown()
	s := h.GetScheduler()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, err := s.Schedule(time.Millisecond, func() {})
		if err != nil {
			b.Fatal(err)
		}
		c.Cancel()
	}
}
