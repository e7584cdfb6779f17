package datastore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newFileDevice(t *testing.T, filters ...FilterPair) *SerializationFileDevice {
	t.Helper()
	dir := t.TempDir()
	dev, err := NewSerializationFileDevice(FileDeviceConfig{
		Resource:  FilesystemResource{Mountpoint: dir},
		Directory: dir,
		Filters:   filters,
	}, gobSerializer{}, zerolog.Nop())
	require.NoError(t, err)
	return dev
}

func TestFileDeviceWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	rs := newRefState(1, newTestState([]byte("hello, disk"), dev))

	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))

	state := storageRead(rs)
	leaf, _, ok := findLeaf(state.leaves, dev)
	require.True(t, ok)
	require.NotNil(t, leaf.Handle)

	got, err := dev.ReadFromDevice(context.Background(), rs, 1, true)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, disk"), got)
}

func TestFileDeviceWriteIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	rs := newRefState(1, newTestState([]byte("v"), dev))

	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))
	first := storageRead(rs)

	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))
	second := storageRead(rs)
	require.Same(t, first, second, "writing to a device that already has a leaf must be a no-op")
}

func TestFileDeviceFilterChainRoundTrip(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t, ZstdFilter(), BLAKE3ChecksumFilter())
	rs := newRefState(1, newTestState([]byte("filtered payload"), dev))

	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))
	got, err := dev.ReadFromDevice(context.Background(), rs, 1, true)
	require.NoError(t, err)
	require.Equal(t, []byte("filtered payload"), got)
}

func TestFileDeviceConcurrentGetMaterializesOnce(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	rs := newRefState(1, newTestState([]byte("concurrent"), dev))
	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))

	// Drop the in-memory copy so every concurrent ReadFromDevice below must
	// go back to disk to materialize it.
	storageRCU(rs, func(cur *StorageState) *StorageState {
		n := cloneStorageState(cur)
		n.data = nil
		return n
	})

	const n = 20
	results := make([][]byte, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			v, err := dev.ReadFromDevice(context.Background(), rs, 1, true)
			require.NoError(t, err)
			results[i] = v.([]byte)
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, []byte("concurrent"), r)
	}

	final := storageRead(rs)
	require.NotNil(t, final.data, "a successful materializing read must leave data populated for later readers")
}

func TestFileDeviceDeleteRemovesFileWhenNotRetained(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	rs := newRefState(1, newTestState([]byte("v"), dev))
	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))

	state := storageRead(rs)
	leaf, _, _ := findLeaf(state.leaves, dev)
	path := leaf.Handle.(*FileRef).Path

	require.NoError(t, dev.DeleteFromDevice(context.Background(), rs, 1))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, testEventualTimeout, testEventualTick)

	_, _, ok := findLeaf(storageRead(rs).leaves, dev)
	require.False(t, ok)
}

func TestFileDeviceDeleteKeepsFileWhenRetained(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	rs := newRefState(1, newTestState([]byte("v"), dev))
	require.NoError(t, dev.WriteToDevice(context.Background(), rs, 1))
	require.NoError(t, dev.RetainOnDevice(context.Background(), rs, 1, true, false))

	state := storageRead(rs)
	leaf, _, _ := findLeaf(state.leaves, dev)
	path := leaf.Handle.(*FileRef).Path

	require.NoError(t, dev.DeleteFromDevice(context.Background(), rs, 1))

	_, err := os.Stat(path)
	require.NoError(t, err, "retained file must survive delete")

	require.NoError(t, os.Remove(path))
}

func TestFileDeviceDeleteIsNoopWhenNoLeaf(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	rs := newRefState(1, newTestState([]byte("v"), NewCpuRamDevice()))
	require.NoError(t, dev.DeleteFromDevice(context.Background(), rs, 1))
}

func TestFileDeviceNewPathsAreUniquePerCall(t *testing.T) {
	t.Parallel()

	dev := newFileDevice(t)
	a := dev.newPath(1)
	b := dev.newPath(1)
	require.NotEqual(t, a, b)
	require.Equal(t, filepath.Dir(a), filepath.Dir(b))
}
