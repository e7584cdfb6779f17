package datastore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EvictionPolicy selects which end of a tier's list SimpleRecencyAllocator
// evicts from. LRU evicts the tail (oldest) when spilling memory to disk and
// promotes from the head (newest-at-bottom) when pulling from disk; MRU
// inverts both ends.
type EvictionPolicy int

const (
	LRU EvictionPolicy = iota
	MRU
)

func (p EvictionPolicy) String() string {
	switch p {
	case LRU:
		return "lru"
	case MRU:
		return "mru"
	default:
		return fmt.Sprintf("EvictionPolicy(%d)", int(p))
	}
}

// ParseEvictionPolicy accepts "lru"/"mru" case-sensitively as written in
// config files; anything else is InvalidConfig.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch s {
	case "lru":
		return LRU, nil
	case "mru":
		return MRU, nil
	default:
		return 0, &InvalidConfigError{Field: "policy", Reason: fmt.Sprintf("unknown policy %q, want lru or mru", s)}
	}
}

// RecencyStats are the allocator's monotonically increasing counters.
type RecencyStats struct {
	Hits   atomic.Uint64
	Misses atomic.Uint64
	Evicts atomic.Uint64
}

// RecencyAllocatorConfig configures NewSimpleRecencyAllocator.
type RecencyAllocatorConfig struct {
	MemLimit    uint64
	DeviceLimit uint64
	Upper       StorageDevice // conventionally a *CpuRamDevice
	Lower       StorageDevice // conventionally a *SerializationFileDevice
	Policy      EvictionPolicy
	Retain      bool
}

// SimpleRecencyAllocator is the two-tier composite device: an upper
// (memory) tier and a lower (secondary) tier, with byte limits, LRU/MRU
// eviction, and hit/miss/evict counters. Capacity is fixed at construction,
// so ExternallyVarying reports false.
type SimpleRecencyAllocator struct {
	name        string
	memLimit    uint64
	deviceLimit uint64
	upper       StorageDevice
	lower       StorageDevice
	policy      EvictionPolicy
	retain      atomic.Bool

	mu         sync.Mutex
	memRefs    []RefId
	deviceRefs []RefId
	refCache   map[RefId]*RefState

	Stats  RecencyStats
	logger zerolog.Logger

	hitsMetric, missesMetric, evictsMetric prometheus.Counter
}

func NewSimpleRecencyAllocator(cfg RecencyAllocatorConfig, logger zerolog.Logger) (*SimpleRecencyAllocator, error) {
	if cfg.MemLimit == 0 {
		return nil, &InvalidConfigError{Field: "mem_limit", Reason: "must be > 0"}
	}
	if cfg.DeviceLimit == 0 {
		return nil, &InvalidConfigError{Field: "device_limit", Reason: "must be > 0"}
	}
	if cfg.Policy != LRU && cfg.Policy != MRU {
		return nil, &InvalidConfigError{Field: "policy", Reason: "must be LRU or MRU"}
	}
	if cfg.Upper == nil {
		return nil, &InvalidConfigError{Field: "upper", Reason: "must not be nil"}
	}
	if cfg.Lower == nil {
		return nil, &InvalidConfigError{Field: "lower", Reason: "must not be nil"}
	}

	a := &SimpleRecencyAllocator{
		name:        "recency-allocator",
		memLimit:    cfg.MemLimit,
		deviceLimit: cfg.DeviceLimit,
		upper:       cfg.Upper,
		lower:       cfg.Lower,
		policy:      cfg.Policy,
		refCache:    make(map[RefId]*RefState),
		logger:      logger,
	}
	a.retain.Store(cfg.Retain)
	return a, nil
}

// SetMetrics wires Prometheus counters for hits/misses/evicts. Optional -
// nil fields are simply skipped.
func (a *SimpleRecencyAllocator) SetMetrics(hits, misses, evicts prometheus.Counter) {
	a.hitsMetric, a.missesMetric, a.evictsMetric = hits, misses, evicts
}

func (a *SimpleRecencyAllocator) Name() string { return a.name }

func (a *SimpleRecencyAllocator) lowerResource() StorageResource {
	res := a.lower.Resources()
	if len(res) == 0 {
		return nil
	}
	return res[0]
}

func (a *SimpleRecencyAllocator) Resources() []StorageResource {
	return []StorageResource{CpuRam, a.lowerResource()}
}

func (a *SimpleRecencyAllocator) Capacity(r StorageResource) (uint64, error) {
	switch {
	case r == CpuRam:
		return a.memLimit, nil
	case r == a.lowerResource():
		return a.deviceLimit, nil
	default:
		return 0, &InvalidResourceForDeviceError{Device: a, Resource: r}
	}
}

func (a *SimpleRecencyAllocator) Utilized(r StorageResource) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case r == CpuRam:
		return a.sumSizesLocked(a.memRefs), nil
	case r == a.lowerResource():
		return a.sumSizesLocked(a.deviceRefs), nil
	default:
		return 0, &InvalidResourceForDeviceError{Device: a, Resource: r}
	}
}

func (a *SimpleRecencyAllocator) Available(r StorageResource) (uint64, error) {
	capacity, err := a.Capacity(r)
	if err != nil {
		return 0, err
	}
	used, err := a.Utilized(r)
	if err != nil {
		return 0, err
	}
	if used > capacity {
		return 0, nil
	}
	return capacity - used, nil
}

func (a *SimpleRecencyAllocator) ExternallyVarying() bool { return false }

func (a *SimpleRecencyAllocator) sumSizesLocked(ids []RefId) uint64 {
	var total uint64
	for _, id := range ids {
		if rs, ok := a.refCache[id]; ok {
			total += rs.Size
		}
	}
	return total
}

func (a *SimpleRecencyAllocator) sizeOfLocked(id RefId) uint64 {
	if rs, ok := a.refCache[id]; ok {
		return rs.Size
	}
	return 0
}

// WriteToDevice registers ref (if new) in ref_cache, rejects it outright if
// it cannot possibly fit in either tier, and otherwise migrates it to the
// head of the memory tier (or, when it is larger than mem_limit, of the
// device tier), evicting as needed.
func (a *SimpleRecencyAllocator) WriteToDevice(ctx context.Context, rs *RefState, ref RefId) error {
	a.mu.Lock()
	_, existed := a.refCache[ref]
	if !existed {
		a.refCache[ref] = rs
	}
	a.mu.Unlock()

	if rs.Size > a.memLimit && rs.Size > a.deviceLimit {
		if !existed {
			a.mu.Lock()
			delete(a.refCache, ref)
			a.mu.Unlock()
		}
		return &RefTooLargeError{Ref: ref, Size: rs.Size, MemLimit: a.memLimit, DeviceLimit: a.deviceLimit}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	toMem := rs.Size <= a.memLimit
	_, err := a.migrateLocked(ctx, rs, ref, toMem, false)
	return err
}

// destination returns the tier ref is migrating INTO; spillover returns the
// other tier, which may need to give up space to make room.
func (a *SimpleRecencyAllocator) destination(toMem bool) (*[]RefId, StorageDevice, uint64) {
	if toMem {
		return &a.memRefs, a.upper, a.memLimit
	}
	return &a.deviceRefs, a.lower, a.deviceLimit
}

func (a *SimpleRecencyAllocator) spillover(toMem bool) (*[]RefId, StorageDevice, uint64) {
	if toMem {
		return &a.deviceRefs, a.lower, a.deviceLimit
	}
	return &a.memRefs, a.upper, a.memLimit
}

// migrateLocked implements sra_migrate!. Callers must hold a.mu.
func (a *SimpleRecencyAllocator) migrateLocked(ctx context.Context, rs *RefState, ref RefId, toMem bool, wantValue bool) (Value, error) {
	fromRefs, fromDevice, fromLimit := a.destination(toMem)
	toRefs, toDevice, toLimit := a.spillover(toMem)

	fromSize := a.sumSizesLocked(*fromRefs)
	toSize := a.sumSizesLocked(*toRefs)

	victims, err := a.planEvictions(*fromRefs, toMem, rs.Size, fromSize, fromLimit, toSize, toLimit)
	if err != nil {
		return nil, err
	}

	for _, victimID := range victims {
		victimState, ok := a.refCache[victimID]
		if !ok {
			continue
		}
		if err := toDevice.WriteToDevice(ctx, victimState, victimID); err != nil {
			return nil, err
		}
		if err := fromDevice.DeleteFromDevice(ctx, victimState, victimID); err != nil {
			return nil, err
		}
		*fromRefs = removeRefId(*fromRefs, victimID)
		*toRefs = append(*toRefs, victimID)
		a.Stats.Evicts.Add(1)
		if a.evictsMetric != nil {
			a.evictsMetric.Inc()
		}
	}
	if len(victims) > 0 {
		a.logger.Debug().
			Int("victims", len(victims)).
			Bool("to_mem", toMem).
			Str("policy", a.policy.String()).
			Msg("recency allocator: eviction batch")
	}

	*fromRefs = prependRefId(removeRefId(*fromRefs, ref), ref)
	if err := fromDevice.WriteToDevice(ctx, rs, ref); err != nil {
		return nil, err
	}

	if indexOfRefId(*toRefs, ref) >= 0 {
		*toRefs = removeRefId(*toRefs, ref)
		if err := toDevice.DeleteFromDevice(ctx, rs, ref); err != nil {
			return nil, err
		}
	}

	if wantValue {
		return fromDevice.ReadFromDevice(ctx, rs, ref, true)
	}
	return nil, nil
}

// planEvictions picks victims from fromRefs (scanning from the head when
// toMem agrees with an MRU policy - both true or both false - else the
// tail) until ref fits within fromLimit. mem_refs keeps newest at the head;
// device_refs keeps newest at the tail (victims are appended there), so
// "agrees" lands on the newest end for MRU and the oldest end for LRU in
// both directions of migration. A victim that wouldn't fit in the spillover
// tier is skipped rather than evicted - skip, don't evict a victim that just
// pushes the problem one tier down.
func (a *SimpleRecencyAllocator) planEvictions(fromRefs []RefId, toMem bool, refSize, fromSize, fromLimit, toSize, toLimit uint64) ([]RefId, error) {
	fromHead := toMem == (a.policy == MRU)

	order := make([]int, len(fromRefs))
	if fromHead {
		for i := range order {
			order[i] = i
		}
	} else {
		for i := range order {
			order[i] = len(fromRefs) - 1 - i
		}
	}

	var victims []RefId
	runningFrom, runningTo := fromSize, toSize
	for _, i := range order {
		if refSize+runningFrom <= fromLimit {
			break
		}
		id := fromRefs[i]
		size := a.sizeOfLocked(id)
		if size+runningTo <= toLimit {
			victims = append(victims, id)
			runningFrom -= size
			runningTo += size
		}
	}

	if refSize+runningFrom > fromLimit {
		return nil, fmt.Errorf("%w: need %d more bytes freed than the tier's victims could supply",
			ErrMigrationInvariantViolated, refSize+runningFrom-fromLimit)
	}
	return victims, nil
}

// ReadFromDevice bumps hits/misses, reorders mem_refs on a hit, and migrates
// a disk-resident ref back into memory on a miss.
func (a *SimpleRecencyAllocator) ReadFromDevice(ctx context.Context, rs *RefState, ref RefId, materialize bool) (Value, error) {
	a.mu.Lock()

	if indexOfRefId(a.memRefs, ref) >= 0 {
		a.Stats.Hits.Add(1)
		if a.hitsMetric != nil {
			a.hitsMetric.Inc()
		}
		a.memRefs = moveToHead(a.memRefs, ref)
		upper := a.upper
		a.mu.Unlock()
		return upper.ReadFromDevice(ctx, rs, ref, materialize)
	}

	if indexOfRefId(a.deviceRefs, ref) < 0 {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: ref %d is not tracked by this allocator", ErrMissingLeaf, ref)
	}

	a.Stats.Misses.Add(1)
	if a.missesMetric != nil {
		a.missesMetric.Inc()
	}
	defer a.mu.Unlock()
	return a.migrateLocked(ctx, rs, ref, true, materialize)
}

// DeleteFromDevice removes ref from whichever tier holds it. If the
// allocator's retain cell is set: a memory-resident ref is migrated to the
// lower tier instead of being deleted outright (so the bytes survive after
// the reference itself goes away); a disk-resident ref has its leaf's
// Retain flag set on the lower device before the allocator's own bookkeeping
// is dropped, so the device-level delete that follows skips the unlink. A ref
// tracked by neither tier is reported as ErrMissingLeaf.
func (a *SimpleRecencyAllocator) DeleteFromDevice(ctx context.Context, rs *RefState, ref RefId) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	retain := a.retain.Load()

	if indexOfRefId(a.memRefs, ref) >= 0 {
		if retain {
			_, err := a.migrateLocked(ctx, rs, ref, false, false)
			return err
		}
		if err := a.upper.DeleteFromDevice(ctx, rs, ref); err != nil {
			return err
		}
		a.memRefs = removeRefId(a.memRefs, ref)
		delete(a.refCache, ref)
		return nil
	}

	if indexOfRefId(a.deviceRefs, ref) >= 0 {
		if retain {
			if err := a.lower.RetainOnDevice(ctx, rs, ref, true, false); err != nil {
				return err
			}
		}
		if err := a.lower.DeleteFromDevice(ctx, rs, ref); err != nil {
			return err
		}
		a.deviceRefs = removeRefId(a.deviceRefs, ref)
		delete(a.refCache, ref)
		return nil
	}

	return fmt.Errorf("%w: ref %d is not tracked by this allocator", ErrMissingLeaf, ref)
}

// RetainOnDevice sets the allocator's single process-wide retain cell; the
// "all" parameter is unused since this cell is not per-leaf. Actual
// retention happens lazily, the next time DeleteFromDevice runs.
func (a *SimpleRecencyAllocator) RetainOnDevice(ctx context.Context, rs *RefState, ref RefId, retain bool, all bool) error {
	a.retain.Store(retain)
	return nil
}
