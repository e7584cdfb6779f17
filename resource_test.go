package datastore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCpuRamResourceReportsPositiveCapacity(t *testing.T) {
	t.Parallel()

	cap, err := CpuRam.Capacity()
	require.NoError(t, err)
	require.Greater(t, cap, uint64(0))

	avail, err := CpuRam.Available()
	require.NoError(t, err)
	require.GreaterOrEqual(t, cap, uint64(0))
	_ = avail
}

func TestUtilizedClampsToZeroWhenAvailableExceedsCapacity(t *testing.T) {
	t.Parallel()

	u, err := Utilized(overAvailableResource{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), u)
}

func TestFilesystemResourceRoundTrip(t *testing.T) {
	t.Parallel()

	r := FilesystemResource{Mountpoint: t.TempDir()}
	cap, err := r.Capacity()
	require.NoError(t, err)
	require.Greater(t, cap, uint64(0))

	avail, err := r.Available()
	require.NoError(t, err)
	require.LessOrEqual(t, avail, cap+avail) // sanity: no error path taken
}

func TestAvailableOnRejectsForeignResource(t *testing.T) {
	t.Parallel()

	dev := NewCpuRamDevice()
	_, err := AvailableOn(dev, FilesystemResource{Mountpoint: "/"})
	require.ErrorAs(t, err, new(*InvalidResourceForDeviceError))
}

func TestCapacityOnAcceptsOwnedResource(t *testing.T) {
	t.Parallel()

	dev := NewCpuRamDevice()
	cap, err := CapacityOn(dev, CpuRam)
	require.NoError(t, err)
	require.Greater(t, cap, uint64(0))
}

type overAvailableResource struct{}

func (overAvailableResource) Name() string             { return "over-available" }
func (overAvailableResource) Capacity() (uint64, error) { return 10, nil }
func (overAvailableResource) Available() (uint64, error) { return 20, nil }
