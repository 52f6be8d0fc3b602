package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-hpts/adapters"
	"github.com/momentics/hioload-hpts/api"
	"github.com/momentics/hioload-hpts/fake"
)

type countingTopology struct {
	*fake.Topology
	calls int
}

func (c *countingTopology) Discover() (api.Layout, error) {
	c.calls++
	return c.Topology.Discover()
}

type platform struct {
	*fake.Affinity
	*countingTopology
}

func TestAffinityAdapterCachesDiscovery(t *testing.T) {
	topo := &countingTopology{Topology: fake.NewTopology([]int{0, 1}, []int{2, 3})}
	a := adapters.NewAffinityAdapter(platform{fake.NewAffinity(), topo})

	l1, err := a.Discover()
	require.NoError(t, err)
	l2, err := a.Discover()
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
	assert.Equal(t, 1, topo.calls)
	assert.Equal(t, api.CPUSet{2, 3}, l1.Domains()[1])
}

func TestAffinityAdapterRejectsUnknownCPUs(t *testing.T) {
	aff := fake.NewAffinity()
	topo := &countingTopology{Topology: fake.NewTopology([]int{0, 1})}
	a := adapters.NewAffinityAdapter(platform{aff, topo})

	_, err := a.BindCurrentThread(api.CPUSet{1, 7})
	require.ErrorIs(t, err, api.ErrNoSuchCPU)
	assert.Empty(t, aff.Binds())

	got, err := a.BindCurrentThread(api.CPUSet{1})
	require.NoError(t, err)
	assert.Equal(t, api.CPUSet{1}, got)
	require.Len(t, aff.Binds(), 1)
}

func TestAffinityAdapterPropagatesTopologyError(t *testing.T) {
	topo := &countingTopology{Topology: &fake.Topology{Err: api.ErrTopology}}
	a := adapters.NewAffinityAdapter(platform{fake.NewAffinity(), topo})
	_, err := a.BindCurrentThread(api.CPUSet{0})
	assert.ErrorIs(t, err, api.ErrTopology)
}
