package datastore

import "context"

// StorageDevice is the contract every leaf device (CpuRamDevice,
// SerializationFileDevice) and every composite device (SimpleRecencyAllocator)
// implements. All operations take the ref's RefState so devices can RCU-swap
// its StorageState and read its Size without the caller retaking the
// datastore lock.
//
// WriteToDevice ensures the value is physically present on the device,
// materializing it from another leaf first if necessary. ReadFromDevice
// returns the value when materialize is true; when false it performs
// accounting only (e.g. an LRU touch) without pulling bytes back. Missing
// leaves on DeleteFromDevice/RetainOnDevice are tolerated (idempotent)
// unless a device's own doc comment says otherwise.
type StorageDevice interface {
	Name() string
	Resources() []StorageResource
	Capacity(resource StorageResource) (uint64, error)
	Available(resource StorageResource) (uint64, error)
	Utilized(resource StorageResource) (uint64, error)

	// ExternallyVarying reports whether this device's availability can
	// change without the engine's own calls - true for leaf devices (the OS
	// or another process can consume memory or disk out of band), false for
	// composite devices like SimpleRecencyAllocator whose limits are fixed
	// at construction.
	ExternallyVarying() bool

	WriteToDevice(ctx context.Context, rs *RefState, ref RefId) error
	ReadFromDevice(ctx context.Context, rs *RefState, ref RefId, materialize bool) (Value, error)
	DeleteFromDevice(ctx context.Context, rs *RefState, ref RefId) error
	RetainOnDevice(ctx context.Context, rs *RefState, ref RefId, retain bool, all bool) error
}

// setRetainOnLeaves implements the common shape of RetainOnDevice for devices
// that track retention as a per-leaf flag on the StorageState (as opposed to
// SimpleRecencyAllocator, which keeps a single process-wide retain cell).
// When all is true and dev is the root, every leaf's flag is set; otherwise
// only the leaf owned by dev is touched. Missing leaf is a no-op.
func setRetainOnLeaves(rs *RefState, dev StorageDevice, retain bool, all bool) error {
	storageRCU(rs, func(cur *StorageState) *StorageState {
		n := cloneStorageState(cur)
		if all && cur.root == dev {
			for i := range n.leaves {
				n.leaves[i].Retain = retain
			}
			return n
		}
		for i := range n.leaves {
			if n.leaves[i].Device == dev {
				n.leaves[i].Retain = retain
			}
		}
		return n
	})
	return nil
}
