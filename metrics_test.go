package datastore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRecencyMetricsTracksHitsAndMisses(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(t, 16, 1<<20, LRU)
	reg := prometheus.NewRegistry()
	m, err := NewRecencyMetrics(reg, a)
	require.NoError(t, err)

	rs1 := newAllocRefState(10, a, []byte("0123456789"))
	require.NoError(t, a.WriteToDevice(context.Background(), rs1, 1))
	rs2 := newAllocRefState(10, a, []byte("abcdefghij"))
	require.NoError(t, a.WriteToDevice(context.Background(), rs2, 2))

	_, err = a.ReadFromDevice(context.Background(), rs1, 1, true)
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Misses))

	// Ref 1 is now resident in memory, so reading it again is a hit.
	_, err = a.ReadFromDevice(context.Background(), rs1, 1, true)
	require.NoError(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(m.Hits))
}

func TestNewResourceGaugesRegistersCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	require.NoError(t, NewResourceGauges(reg, "test_cpu_ram", CpuRam))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 2)
}

