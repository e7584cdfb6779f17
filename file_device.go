package datastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Serializer is the opaque byte encoder/decoder external to this engine; the
// file device treats it as a black box over the filter-wrapped stream.
type Serializer interface {
	Encode(w io.Writer, v Value) error
	Decode(r io.Reader) (Value, error)
}

// FileRef is the file device's leaf handle: a path local to this process and
// the byte size written. It deliberately carries no host field - cross-host
// addressing is out of scope for this engine, see SPEC_FULL.md.
type FileRef struct {
	Path string
	Size int64
}

// FileDeviceConfig configures NewSerializationFileDevice.
type FileDeviceConfig struct {
	Resource  FilesystemResource
	Directory string
	Filters   []FilterPair // applied as documented on FilterPair; empty means raw bytes
}

// SerializationFileDevice is the serialization-to-disk leaf device. Each ref
// gets its own uniquely-named file under Directory; filters form a
// stackable byte-stream pipeline applied symmetrically on write and read.
type SerializationFileDevice struct {
	name       string
	resource   FilesystemResource
	directory  string
	filters    []FilterPair
	serializer Serializer
	logger     zerolog.Logger
	onFailure  func(*BackgroundIOError)
}

func NewSerializationFileDevice(cfg FileDeviceConfig, serializer Serializer, logger zerolog.Logger) (*SerializationFileDevice, error) {
	if cfg.Directory == "" {
		return nil, &InvalidConfigError{Field: "directory", Reason: "must not be empty"}
	}
	if serializer == nil {
		return nil, &InvalidConfigError{Field: "serializer", Reason: "must not be nil"}
	}
	if err := os.MkdirAll(cfg.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("storageengine: cannot prepare directory %q: %w", cfg.Directory, err)
	}
	return &SerializationFileDevice{
		name:       "file-device:" + cfg.Directory,
		resource:   cfg.Resource,
		directory:  cfg.Directory,
		filters:    cfg.Filters,
		serializer: serializer,
		logger:     logger,
	}, nil
}

// OnFailure installs a callback invoked (from the background goroutine) for
// every BackgroundIOError the device observes. It is the device's
// task-failure monitor; there is no default beyond an error-level log line.
func (d *SerializationFileDevice) OnFailure(fn func(*BackgroundIOError)) {
	d.onFailure = fn
}

func (d *SerializationFileDevice) Name() string { return d.name }

func (d *SerializationFileDevice) Resources() []StorageResource {
	return []StorageResource{d.resource}
}

func (d *SerializationFileDevice) Capacity(r StorageResource) (uint64, error) {
	if r != StorageResource(d.resource) {
		return 0, &InvalidResourceForDeviceError{Device: d, Resource: r}
	}
	return r.Capacity()
}

func (d *SerializationFileDevice) Available(r StorageResource) (uint64, error) {
	if r != StorageResource(d.resource) {
		return 0, &InvalidResourceForDeviceError{Device: d, Resource: r}
	}
	return r.Available()
}

func (d *SerializationFileDevice) Utilized(r StorageResource) (uint64, error) {
	if r != StorageResource(d.resource) {
		return 0, &InvalidResourceForDeviceError{Device: d, Resource: r}
	}
	return Utilized(r)
}

func (d *SerializationFileDevice) ExternallyVarying() bool { return true }

func (d *SerializationFileDevice) newPath(ref RefId) string {
	return filepath.Join(d.directory, fmt.Sprintf("ref-%d-%s.bin", ref, uuid.New().String()))
}

// WriteToDevice appends a leaf for this device (materializing the value from
// an existing leaf first if it isn't already in memory), then returns once
// the leaf is durably recorded in the StorageState - the actual bytes land on
// disk in a background task that fires the new state's ready signal when
// done. Idempotent: a second call while a leaf for this device already
// exists (complete or in flight) is a no-op.
func (d *SerializationFileDevice) WriteToDevice(ctx context.Context, rs *RefState, ref RefId) error {
	for {
		state := storageRead(rs)
		if _, _, ok := findLeaf(state.leaves, d); ok {
			return nil
		}

		val := state.data
		if val == nil {
			if len(state.leaves) == 0 {
				return fmt.Errorf("%w: ref %d has no leaf to materialize from for write", ErrMissingLeaf, ref)
			}
			v, err := state.leaves[0].Device.ReadFromDevice(ctx, rs, ref, true)
			if err != nil {
				return err
			}
			val = v
			// The recursive read may itself have RCU'd the state (e.g. the
			// allocator promoting this ref); re-observe before installing.
			state = storageRead(rs)
			if _, _, ok := findLeaf(state.leaves, d); ok {
				return nil
			}
		}

		next := cloneStorageState(state)
		next.leaves = append(next.leaves, StorageLeaf{Device: d})
		if !storageInstallOnce(rs, state, next) {
			continue
		}

		path := d.newPath(ref)
		d.logger.Debug().Uint64("ref", uint64(ref)).Str("path", path).Msg("file device: spawning write")
		go d.writeAsync(ref, next, path, val)
		return nil
	}
}

func (d *SerializationFileDevice) writeAsync(ref RefId, state *StorageState, path string, val Value) {
	defer state.ready.fire()

	size, err := d.writeValue(path, val)
	if err != nil {
		d.fail(ref, "write", err)
		return
	}

	for i, l := range state.leaves {
		if l.Device == d {
			state.leaves[i].Handle = &FileRef{Path: path, Size: size}
			return
		}
	}
}

func (d *SerializationFileDevice) writeValue(path string, val Value) (int64, error) {
	if len(d.filters) == 0 {
		if raw, ok := val.(RawBytesProvider); ok {
			return d.writeRaw(path, raw.RawBytes())
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var w io.Writer = f
	var closers []io.Closer
	for _, stage := range d.filters {
		wc, err := stage.Encode(w)
		if err != nil {
			return 0, fmt.Errorf("filter %q: %w", stage.Name, err)
		}
		w = wc
		closers = append(closers, wc)
	}

	if err := d.serializer.Encode(w, val); err != nil {
		return 0, err
	}
	// Close from outermost to innermost so each filter flushes into the one
	// beneath it before that one is itself closed.
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			return 0, err
		}
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *SerializationFileDevice) writeRaw(path string, data []byte) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := writeRawMmap(f, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// ReadFromDevice returns the already-resident value if present. Otherwise,
// when materialize is true, it races to install a placeholder state (data
// still absent, ready unfired) and spawns the disk read; a concurrent caller
// that loses that race simply re-observes the ref via storageRead, which
// blocks on the winner's ready and then finds data already populated - so
// exactly one file read happens no matter how many concurrent callers ask.
func (d *SerializationFileDevice) ReadFromDevice(ctx context.Context, rs *RefState, ref RefId, materialize bool) (Value, error) {
	state := storageRead(rs)
	if state.data != nil {
		return state.data, nil
	}
	if !materialize {
		return nil, nil
	}

	for {
		state = storageRead(rs)
		if state.data != nil {
			return state.data, nil
		}

		leaf, _, ok := findLeaf(state.leaves, d)
		if !ok {
			return nil, fmt.Errorf("%w: ref %d has no leaf for %s", ErrMissingLeaf, ref, d.name)
		}
		fileRef, _ := leaf.Handle.(*FileRef)
		if fileRef == nil {
			return nil, fmt.Errorf("%w: ref %d's file handle on %s is not yet assigned", ErrMissingLeaf, ref, d.name)
		}

		next := cloneStorageState(state)
		if !storageInstallOnce(rs, state, next) {
			continue
		}

		go d.readAsync(ref, next, fileRef)
		next.ready.wait()
		return next.data, nil
	}
}

func (d *SerializationFileDevice) readAsync(ref RefId, state *StorageState, fileRef *FileRef) {
	defer state.ready.fire()

	val, err := d.readValue(fileRef)
	if err != nil {
		d.fail(ref, "read", err)
		return
	}
	state.data = val
}

func (d *SerializationFileDevice) readValue(fileRef *FileRef) (Value, error) {
	if len(d.filters) == 0 {
		if _, ok := any(d.serializer).(RawBytesSerializer); ok {
			f, err := os.Open(fileRef.Path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			raw, err := readRawMmap(f, fileRef.Size)
			if err != nil {
				return nil, err
			}
			return d.serializer.(RawBytesSerializer).DecodeRaw(raw)
		}
	}

	f, err := os.Open(fileRef.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	var closers []io.Closer
	for _, stage := range d.filters {
		rc, err := stage.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", stage.Name, err)
		}
		r = rc
		closers = append(closers, rc)
	}

	val, err := d.serializer.Decode(r)
	for _, c := range closers {
		_ = c.Close()
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// RawBytesSerializer lets a Serializer opt into the mmap fast path on read,
// mirroring RawBytesProvider on write. Serializers for array-like payloads
// (fixed-width numeric buffers, etc.) can implement both to skip the regular
// Encode/Decode path entirely on an unfiltered device.
type RawBytesSerializer interface {
	DecodeRaw(raw []byte) (Value, error)
}

// DeleteFromDevice removes this device's leaf. The underlying file is
// unlinked unless the leaf's Retain flag is set. storageRead above waits for
// ready on whatever state is current, so if a write is still in flight for
// this ref, we block until it completes before touching the (by-then
// non-absent) handle - we never race an in-flight write's unlink.
func (d *SerializationFileDevice) DeleteFromDevice(ctx context.Context, rs *RefState, ref RefId) error {
	for {
		state := storageRead(rs)
		leaf, idx, ok := findLeaf(state.leaves, d)
		if !ok {
			return nil
		}

		next := cloneStorageState(state)
		next.leaves = append(next.leaves[:idx:idx], next.leaves[idx+1:]...)
		if !storageInstallOnce(rs, state, next) {
			continue
		}
		next.ready.fire()

		if !leaf.Retain {
			if fileRef, ok := leaf.Handle.(*FileRef); ok && fileRef != nil {
				path := fileRef.Path
				go func() {
					if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
						d.fail(ref, "delete", err)
					}
				}()
			}
		}
		return nil
	}
}

func (d *SerializationFileDevice) RetainOnDevice(ctx context.Context, rs *RefState, ref RefId, retain bool, all bool) error {
	return setRetainOnLeaves(rs, d, retain, all)
}

func (d *SerializationFileDevice) fail(ref RefId, op string, err error) {
	bgErr := &BackgroundIOError{Ref: ref, Op: op, Err: err}
	d.logger.Error().Err(err).Uint64("ref", uint64(ref)).Str("op", op).Msg("file device: background io failure")
	if d.onFailure != nil {
		d.onFailure(bgErr)
	}
}
