// Package datastore implements a per-process data storage engine: it holds
// named, reference-counted in-memory values and transparently migrates them
// to and from secondary storage media under pluggable placement policies.
//
// Client code (the DRef creation/GC machinery, out of scope here) calls Put
// to register a value under a caller-assigned RefId, Get to materialize it
// back into memory, and Drop to release it. The engine decides where bytes
// physically live via the StorageDevice a RefState's root currently points
// at; built-in devices are CpuRamDevice, SerializationFileDevice, and the
// composite SimpleRecencyAllocator.
package datastore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Engine is the process-wide entrypoint: a RefId → RefState map, protected
// by a single short-held mutex, plus an atomically-swappable default device.
type Engine struct {
	mu     sync.Mutex
	refs   map[RefId]*RefState
	device atomic.Pointer[StorageDevice]
	logger zerolog.Logger
}

// NewEngine constructs an Engine whose initial global default device is
// defaultDevice.
func NewEngine(defaultDevice StorageDevice, logger zerolog.Logger) *Engine {
	e := &Engine{
		refs:   make(map[RefId]*RefState),
		logger: logger,
	}
	e.SetGlobalDevice(defaultDevice)
	return e
}

// SetGlobalDevice overwrites the process-wide default device that Put writes
// every new ref to. SetDevice can re-parent a ref once it has been Put.
func (e *Engine) SetGlobalDevice(dev StorageDevice) {
	box := new(StorageDevice)
	*box = dev
	e.device.Store(box)
}

// GlobalDevice returns the current default device.
func (e *Engine) GlobalDevice() StorageDevice {
	box := e.device.Load()
	if box == nil {
		return nil
	}
	return *box
}

// Put installs v at ref with estimated size size, writing it to the current
// global default device. ref and size are supplied by the caller - this
// engine treats ref-id assignment and size estimation as external
// collaborators, see SPEC_FULL.md §1.
func (e *Engine) Put(ctx context.Context, ref RefId, size uint64, v Value) error {
	root := e.GlobalDevice()
	if root == nil {
		return &InvalidConfigError{Field: "global device", Reason: "no default device configured"}
	}

	initial := &StorageState{data: v, root: root, ready: newFiredReadySignal()}
	rs := newRefState(size, initial)

	e.mu.Lock()
	if _, exists := e.refs[ref]; exists {
		e.mu.Unlock()
		return fmt.Errorf("storageengine: ref %d is already in use", ref)
	}
	e.refs[ref] = rs
	e.mu.Unlock()

	if err := root.WriteToDevice(ctx, rs, ref); err != nil {
		e.mu.Lock()
		delete(e.refs, ref)
		e.mu.Unlock()
		return err
	}
	e.logger.Debug().Uint64("ref", uint64(ref)).Uint64("size", size).Msg("engine: put")
	return nil
}

// Get resolves ref and materializes its value, pulling it back into memory
// through whatever chain of devices currently holds it.
func (e *Engine) Get(ctx context.Context, ref RefId) (Value, error) {
	rs, err := e.resolve(ref)
	if err != nil {
		return nil, err
	}
	state := storageRead(rs)
	return state.root.ReadFromDevice(ctx, rs, ref, true)
}

// Drop removes ref from its root device and then from the datastore map.
// After Drop returns, ref is unknown to every subsequent Engine call.
func (e *Engine) Drop(ctx context.Context, ref RefId) error {
	rs, err := e.resolve(ref)
	if err != nil {
		return err
	}
	state := storageRead(rs)
	if err := state.root.DeleteFromDevice(ctx, rs, ref); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.refs, ref)
	e.mu.Unlock()
	e.logger.Debug().Uint64("ref", uint64(ref)).Msg("engine: drop")
	return nil
}

// SetDevice re-parents ref onto device. If device is already ref's root and
// already carries a leaf for it, this is a no-op; otherwise the value is
// written to device first (idempotent per-device, so a repeated SetDevice
// to the same device performs no additional underlying write) and the root
// pointer is swapped via RCU.
func (e *Engine) SetDevice(ctx context.Context, ref RefId, device StorageDevice) error {
	rs, err := e.resolve(ref)
	if err != nil {
		return err
	}
	state := storageRead(rs)
	if state.root == device {
		if _, _, ok := findLeaf(state.leaves, device); ok {
			return nil
		}
	}

	if err := device.WriteToDevice(ctx, rs, ref); err != nil {
		return err
	}
	storageRCU(rs, func(cur *StorageState) *StorageState {
		n := cloneStorageState(cur)
		n.root = device
		return n
	})
	return nil
}

// RetainOnDevice sets the retain flag for ref's leaf on device (or, with
// all=true when device is ref's root, on every leaf).
func (e *Engine) RetainOnDevice(ctx context.Context, ref RefId, device StorageDevice, retain bool, all bool) error {
	rs, err := e.resolve(ref)
	if err != nil {
		return err
	}
	return device.RetainOnDevice(ctx, rs, ref, retain, all)
}

// Size returns ref's estimated size without touching its storage state.
func (e *Engine) Size(ref RefId) (uint64, error) {
	rs, err := e.resolve(ref)
	if err != nil {
		return 0, err
	}
	return rs.Size, nil
}

func (e *Engine) resolve(ref RefId) (*RefState, error) {
	e.mu.Lock()
	rs, ok := e.refs[ref]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRef, ref)
	}
	return rs, nil
}
