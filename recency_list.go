package datastore

// Small helpers over []RefId used by SimpleRecencyAllocator to keep its
// mem_refs/device_refs lists in order. A ref migrated into a tier is placed
// at the head of that tier's list; an evicted ref is appended at the tail of
// the tier it spills into. Ties are broken by position in these slices, i.e.
// insertion order.

func indexOfRefId(ids []RefId, id RefId) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

func removeRefId(ids []RefId, id RefId) []RefId {
	idx := indexOfRefId(ids, id)
	if idx < 0 {
		return ids
	}
	out := make([]RefId, 0, len(ids)-1)
	out = append(out, ids[:idx]...)
	out = append(out, ids[idx+1:]...)
	return out
}

func prependRefId(ids []RefId, id RefId) []RefId {
	out := make([]RefId, 0, len(ids)+1)
	out = append(out, id)
	out = append(out, ids...)
	return out
}

func moveToHead(ids []RefId, id RefId) []RefId {
	return prependRefId(removeRefId(ids, id), id)
}
