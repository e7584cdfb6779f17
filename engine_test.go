package datastore

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEnginePutGetDropRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewCpuRamDevice(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, 1, 5, []byte("hello")))

	got, err := e.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	require.NoError(t, e.Drop(ctx, 1))

	_, err = e.Get(ctx, 1)
	require.ErrorIs(t, err, ErrUnknownRef)
}

func TestEnginePutRejectsDuplicateRef(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewCpuRamDevice(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, e.Put(ctx, 1, 5, []byte("hello")))
	err := e.Put(ctx, 1, 5, []byte("world"))
	require.Error(t, err)
}

func TestEnginePutWithoutGlobalDeviceFails(t *testing.T) {
	t.Parallel()

	e := &Engine{refs: make(map[RefId]*RefState), logger: zerolog.Nop()}
	err := e.Put(context.Background(), 1, 5, []byte("hello"))
	require.ErrorAs(t, err, new(*InvalidConfigError))
}

func TestEngineSizeReturnsPutEstimate(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewCpuRamDevice(), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, e.Put(ctx, 1, 42, []byte("x")))

	size, err := e.Size(1)
	require.NoError(t, err)
	require.Equal(t, uint64(42), size)
}

func TestEngineSetDeviceMigratesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewCpuRamDevice(), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, e.Put(ctx, 1, 5, []byte("hello")))

	dir := t.TempDir()
	fileDev, err := NewSerializationFileDevice(FileDeviceConfig{
		Resource:  FilesystemResource{Mountpoint: dir},
		Directory: dir,
	}, gobSerializer{}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, e.SetDevice(ctx, 1, fileDev))
	require.NoError(t, e.SetDevice(ctx, 1, fileDev)) // idempotent

	got, err := e.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestEngineRetainOnDeviceDelegatesToDevice(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fileDev, err := NewSerializationFileDevice(FileDeviceConfig{
		Resource:  FilesystemResource{Mountpoint: dir},
		Directory: dir,
	}, gobSerializer{}, zerolog.Nop())
	require.NoError(t, err)

	e := NewEngine(fileDev, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, e.Put(ctx, 1, 5, []byte("hello")))

	rs, err := e.resolve(1)
	require.NoError(t, err)
	leaf, _, ok := findLeaf(storageRead(rs).leaves, fileDev)
	require.True(t, ok)
	path := leaf.Handle.(*FileRef).Path

	require.NoError(t, e.RetainOnDevice(ctx, 1, fileDev, true, false))
	require.NoError(t, e.Drop(ctx, 1))

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "retained file must survive Drop")
}

func TestEngineGetOnUnknownRefFails(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewCpuRamDevice(), zerolog.Nop())
	_, err := e.Get(context.Background(), 99)
	require.ErrorIs(t, err, ErrUnknownRef)
}

func TestEngineGlobalDeviceAccessors(t *testing.T) {
	t.Parallel()

	dev := NewCpuRamDevice()
	e := NewEngine(dev, zerolog.Nop())
	require.Same(t, dev, e.GlobalDevice())

	other := NewCpuRamDevice()
	e.SetGlobalDevice(other)
	require.Same(t, other, e.GlobalDevice())
}
