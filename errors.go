package datastore

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these; the typed errors below carry
// extra context and support errors.As.
var (
	// ErrUnknownRef is returned by any entrypoint given a RefId not currently
	// present in the datastore map.
	ErrUnknownRef = errors.New("storageengine: unknown reference id")

	// ErrMissingLeaf is returned when a read or delete expects a leaf entry
	// for a device that the current StorageState does not carry.
	ErrMissingLeaf = errors.New("storageengine: missing leaf for device")

	// ErrMigrationInvariantViolated signals that the recency allocator could
	// not free enough space in a tier despite the per-ref size check passing.
	// It indicates accounting drift between ref_cache and the tier lists.
	ErrMigrationInvariantViolated = errors.New("storageengine: migration invariant violated")
)

// InvalidResourceForDeviceError is raised when a capacity/availability query
// names a StorageResource that the queried StorageDevice does not own.
type InvalidResourceForDeviceError struct {
	Device   StorageDevice
	Resource StorageResource
}

func (e *InvalidResourceForDeviceError) Error() string {
	return fmt.Sprintf("storageengine: resource %q is not owned by device %q", e.Resource.Name(), deviceName(e.Device))
}

// InvalidConfigError is raised by a constructor when an option violates a
// stated precondition (non-positive limits, an unrecognized policy, ...).
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("storageengine: invalid config for %q: %s", e.Field, e.Reason)
}

// RefTooLargeError is raised by the recency allocator when a ref's estimated
// size exceeds both tier limits. The allocator rolls back its ref_cache
// insertion before returning this error.
type RefTooLargeError struct {
	Ref         RefId
	Size        uint64
	MemLimit    uint64
	DeviceLimit uint64
}

func (e *RefTooLargeError) Error() string {
	return fmt.Sprintf("storageengine: ref %d has size %d which exceeds both mem_limit (%d) and device_limit (%d)",
		e.Ref, e.Size, e.MemLimit, e.DeviceLimit)
}

// BackgroundIOError wraps a failure observed by a device's background I/O
// task (a write or a read dispatched to a goroutine). It is reported through
// a device's failure monitor; it does not automatically retry or undo the
// partial state transition that preceded it.
type BackgroundIOError struct {
	Ref RefId
	Op  string
	Err error
}

func (e *BackgroundIOError) Error() string {
	return fmt.Sprintf("storageengine: background %s failed for ref %d: %v", e.Op, e.Ref, e.Err)
}

func (e *BackgroundIOError) Unwrap() error { return e.Err }

func deviceName(d StorageDevice) string {
	if d == nil {
		return "<nil>"
	}
	return d.Name()
}
