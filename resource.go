package datastore

import (
	"github.com/pbnjay/memory"
	"golang.org/x/sys/unix"
)

// StorageResource identifies a physical medium. Capacity, Available and
// Utilized are all best-effort, in bytes - the engine never enforces them
// strictly (size estimates are inexact by design).
type StorageResource interface {
	Name() string
	Capacity() (uint64, error)
	Available() (uint64, error)
}

// Utilized computes capacity minus available for any resource. It clamps to
// zero instead of underflowing when Available briefly reports more than
// Capacity, which can happen on resources whose availability is externally
// varying (see ExternallyVarying).
func Utilized(r StorageResource) (uint64, error) {
	capacity, err := r.Capacity()
	if err != nil {
		return 0, err
	}
	available, err := r.Available()
	if err != nil {
		return 0, err
	}
	if available > capacity {
		return 0, nil
	}
	return capacity - available, nil
}

// AvailableOn validates that resource belongs to device before delegating,
// mirroring the spec's overloaded available(device, resource) query.
func AvailableOn(device StorageDevice, resource StorageResource) (uint64, error) {
	if !deviceOwnsResource(device, resource) {
		return 0, &InvalidResourceForDeviceError{Device: device, Resource: resource}
	}
	return device.Available(resource)
}

// CapacityOn is the Capacity analog of AvailableOn.
func CapacityOn(device StorageDevice, resource StorageResource) (uint64, error) {
	if !deviceOwnsResource(device, resource) {
		return 0, &InvalidResourceForDeviceError{Device: device, Resource: resource}
	}
	return device.Capacity(resource)
}

func deviceOwnsResource(device StorageDevice, resource StorageResource) bool {
	for _, r := range device.Resources() {
		if r == resource {
			return true
		}
	}
	return false
}

// CpuRamResource is the process-wide singleton resource backing
// CpuRamDevice. There is exactly one instance; compare by value.
type CpuRamResource struct{}

// CpuRam is the singleton CpuRamResource instance. Devices that expose
// in-memory storage report this resource from Resources().
var CpuRam = CpuRamResource{}

func (CpuRamResource) Name() string { return "cpu-ram" }

// Capacity reports total physical RAM, read once per call via
// github.com/pbnjay/memory (no caching - the figure can change on systems
// with hot-pluggable memory, rare as that is).
func (CpuRamResource) Capacity() (uint64, error) {
	return memory.TotalMemory(), nil
}

// Available prefers the OS's own "available for new allocations" counter
// over a naive free-memory figure, which on Linux is polluted by reclaimable
// page cache. github.com/pbnjay/memory's FreeMemory already reads
// MemAvailable on Linux (falling back to free+cached elsewhere), so no
// additional correction is needed here.
func (CpuRamResource) Available() (uint64, error) {
	return memory.FreeMemory(), nil
}

// FilesystemResource identifies a mounted filesystem by mountpoint.
type FilesystemResource struct {
	Mountpoint string
}

func (f FilesystemResource) Name() string { return "filesystem:" + f.Mountpoint }

func (f FilesystemResource) statfs() (unix.Statfs_t, error) {
	var st unix.Statfs_t
	err := unix.Statfs(f.Mountpoint, &st)
	return st, err
}

func (f FilesystemResource) Capacity() (uint64, error) {
	st, err := f.statfs()
	if err != nil {
		return 0, err
	}
	return st.Blocks * uint64(st.Bsize), nil
}

func (f FilesystemResource) Available() (uint64, error) {
	st, err := f.statfs()
	if err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
