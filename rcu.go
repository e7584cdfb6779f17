package datastore

import "sync/atomic"

// RefId identifies a reference within this process. Ids are assigned by the
// caller (the DRef creation machinery, out of scope here); the engine only
// requires that they be unique among currently-live references.
type RefId uint64

// Value is the opaque handle the engine moves between tiers. It never
// inspects the value beyond passing it to a Serializer or a RawBytesProvider
// fast path.
type Value = any

// StorageLeaf records one physical copy of a reference's data. It is owned by
// the StorageState that contains it; to mutate a single leaf, callers clone
// the leaves slice, edit the clone, and install a new StorageState.
type StorageLeaf struct {
	Device StorageDevice
	// Handle is device-specific (e.g. *FileRef) or nil ("absent"). It starts
	// nil when a leaf is first appended by an in-flight write and is filled
	// in exactly once, by the background task that owns the write, strictly
	// before that task fires the owning StorageState's ready signal.
	Handle any
	Retain bool
}

// StorageState is an immutable-by-convention snapshot of where a reference's
// bytes currently live. Fields other than ready may not be observed before
// ready has fired - see storageRead.
type StorageState struct {
	data   Value // nil means absent
	leaves []StorageLeaf
	root   StorageDevice
	ready  *readySignal
}

// cloneStorageState is the copy constructor every storage_rcu! transition
// must use, so that fields the transition doesn't touch are inherited
// unchanged. The clone's ready signal always starts unfired; the installer is
// responsible for firing it once the transition is safe to observe.
func cloneStorageState(base *StorageState) *StorageState {
	leaves := make([]StorageLeaf, len(base.leaves))
	copy(leaves, base.leaves)
	return &StorageState{
		data:   base.data,
		leaves: leaves,
		root:   base.root,
		ready:  newReadySignal(),
	}
}

// RefState is the per-reference record held in the datastore map. Size is
// fixed at creation; storage is a private, atomically-swappable pointer -
// direct access is forbidden, storageRead and storageRCU are the only doors.
type RefState struct {
	Size    uint64
	storage atomic.Pointer[StorageState]
}

func newRefState(size uint64, initial *StorageState) *RefState {
	rs := &RefState{Size: size}
	rs.storage.Store(initial)
	return rs
}

// storageRead atomically loads the current StorageState, waits for its ready
// signal, and returns the snapshot. The result may be stale the instant the
// caller inspects further fields; it must not be cached across entrypoints.
func storageRead(rs *RefState) *StorageState {
	s := rs.storage.Load()
	s.ready.wait()
	return s
}

// storageRCU installs a new StorageState produced by fn(current), retrying
// under contention. fn must be pure and build its result via
// cloneStorageState so unchanged fields are inherited. Use this for
// transitions that complete synchronously - the returned state's ready fires
// before storageRCU returns. Transitions that require a background task
// (a file write or read) must use storageInstallOnce instead, so that only
// the winner of the race spawns the task and fires ready once it finishes.
func storageRCU(rs *RefState, fn func(*StorageState) *StorageState) *StorageState {
	for {
		old := storageRead(rs)
		next := fn(old)
		if rs.storage.CompareAndSwap(old, next) {
			next.ready.fire()
			return next
		}
	}
}

// storageInstallOnce attempts to publish next atop the exact snapshot base
// the caller observed via storageRead. It reports whether it won the race; a
// loser must not assume its work was wasted for nothing - it should
// re-observe the ref via storageRead (which will block on the winner's ready)
// rather than retry blindly.
func storageInstallOnce(rs *RefState, base *StorageState, next *StorageState) bool {
	return rs.storage.CompareAndSwap(base, next)
}

// findLeaf returns the leaf for dev by device identity, if present.
func findLeaf(leaves []StorageLeaf, dev StorageDevice) (StorageLeaf, int, bool) {
	for i, l := range leaves {
		if l.Device == dev {
			return l, i, true
		}
	}
	return StorageLeaf{}, -1, false
}
