package datastore

import (
	"context"
	"fmt"
)

// CpuRamDevice is the in-memory leaf device. Unlike SerializationFileDevice
// it never appends a StorageLeaf for itself - the presence of data on
// StorageState already models "this ref has a live copy in memory" per the
// first engine invariant, so CpuRamDevice only ever reads and writes that
// field directly.
type CpuRamDevice struct {
	name string
}

func NewCpuRamDevice() *CpuRamDevice {
	return &CpuRamDevice{name: "cpu-ram-device"}
}

func (d *CpuRamDevice) Name() string { return d.name }

func (d *CpuRamDevice) Resources() []StorageResource { return []StorageResource{CpuRam} }

func (d *CpuRamDevice) Capacity(r StorageResource) (uint64, error) {
	if r != CpuRam {
		return 0, &InvalidResourceForDeviceError{Device: d, Resource: r}
	}
	return r.Capacity()
}

func (d *CpuRamDevice) Available(r StorageResource) (uint64, error) {
	if r != CpuRam {
		return 0, &InvalidResourceForDeviceError{Device: d, Resource: r}
	}
	return r.Available()
}

func (d *CpuRamDevice) Utilized(r StorageResource) (uint64, error) {
	if r != CpuRam {
		return 0, &InvalidResourceForDeviceError{Device: d, Resource: r}
	}
	return Utilized(r)
}

func (d *CpuRamDevice) ExternallyVarying() bool { return true }

// WriteToDevice pulls the value back from the first non-memory leaf if it
// isn't already resident, then installs it into data.
func (d *CpuRamDevice) WriteToDevice(ctx context.Context, rs *RefState, ref RefId) error {
	state := storageRead(rs)
	if state.data != nil {
		return nil
	}
	if len(state.leaves) == 0 {
		return fmt.Errorf("%w: ref %d has no leaf to materialize from", ErrMissingLeaf, ref)
	}
	val, err := state.leaves[0].Device.ReadFromDevice(ctx, rs, ref, true)
	if err != nil {
		return err
	}
	storageRCU(rs, func(cur *StorageState) *StorageState {
		if cur.data != nil {
			return cur // someone else already materialized it; inherit unchanged
		}
		n := cloneStorageState(cur)
		n.data = val
		return n
	})
	return nil
}

func (d *CpuRamDevice) ReadFromDevice(ctx context.Context, rs *RefState, ref RefId, materialize bool) (Value, error) {
	state := storageRead(rs)
	if state.data != nil {
		return state.data, nil
	}
	if !materialize {
		return nil, nil
	}
	if len(state.leaves) == 0 {
		return nil, fmt.Errorf("%w: ref %d has no leaf to read from", ErrMissingLeaf, ref)
	}
	return state.leaves[0].Device.ReadFromDevice(ctx, rs, ref, true)
}

// DeleteFromDevice clears data. Retention in memory is not expressible: there
// is nothing below this device to keep the bytes in once they're evicted.
func (d *CpuRamDevice) DeleteFromDevice(ctx context.Context, rs *RefState, ref RefId) error {
	storageRCU(rs, func(cur *StorageState) *StorageState {
		n := cloneStorageState(cur)
		n.data = nil
		return n
	})
	return nil
}

func (d *CpuRamDevice) RetainOnDevice(ctx context.Context, rs *RefState, ref RefId, retain bool, all bool) error {
	return setRetainOnLeaves(rs, d, retain, all)
}
