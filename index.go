package gsd

import "sort"

// index is the in-memory mirror of the on-disk index: a sorted slice
// reflecting the committed region, plus a write buffer of entries pending
// commit for the current (and recently closed) frames.
//
// On disk it is a single contiguous region of allocated 32-byte (v2) or
// 64-byte (v1) slots; the "active prefix" is the maximal prefix with
// location != 0. Growing the region means allocating a fresh, doubled
// region at EOF, copying the active prefix, and swinging the header
// pointer, the old region is left as dead space (GSD never reclaims,
// per spec.md §1 non-goals).
type index struct {
	committed []indexEntry // sorted by (frame, id); mirrors the on-disk active prefix
	pending   []indexEntry // not yet committed, across the open frame and any closed-but-unflushed frames

	location  int64  // current on-disk region location
	allocated uint64 // current on-disk region capacity, in entries
	entrySize int    // 32 for v2, 64 for v1
}

func newIndex(entrySize int) *index {
	return &index{entrySize: entrySize}
}

// payloadSize computes a chunk's on-disk byte size from its index entry.
func payloadSize(e indexEntry) int64 {
	sz, ok := typeSize(e.Type)
	if !ok {
		return 0
	}
	return int64(e.N) * int64(e.M) * int64(sz)
}

// append adds a new pending entry for a chunk just written.
func (ix *index) append(e indexEntry) {
	ix.pending = append(ix.pending, e)
}

// pendingBytes sums the payload size represented by every pending entry;
// used against maximumWriteBufferSize.
func (ix *index) pendingBytes() int64 {
	var total int64
	for _, e := range ix.pending {
		total += payloadSize(e)
	}
	return total
}

// nextCapacity returns the capacity a freshly (re)allocated region should
// have to hold need entries in total, doubling from the current
// allocation (or starting at defaultIndexCapacity) until it is enough.
func nextCapacity(current uint64, need int) uint64 {
	c := current
	if c == 0 {
		c = defaultIndexCapacity
	}
	for c < uint64(need) {
		c *= 2
	}
	return c
}

// partitionPending splits the pending buffer into entries belonging to a
// frame strictly before currentFrame (eligible for commit) and entries
// belonging to currentFrame or later (kept pending, since a flush never
// publishes a partial/open frame, spec.md §4.C5).
func (ix *index) partitionPending(currentFrame uint64) (eligible []indexEntry) {
	remaining := ix.pending[:0:0]
	for _, e := range ix.pending {
		if e.Frame < currentFrame {
			eligible = append(eligible, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	ix.pending = remaining
	return eligible
}

// mergeCommit sorts eligible (stably, to preserve write order among equal
// keys) and merges it into committed, preserving the (frame, id)
// non-decreasing invariant. It does not touch disk; callers persist the
// resulting committed slice themselves.
func (ix *index) mergeCommit(eligible []indexEntry) []indexEntry {
	if len(eligible) == 0 {
		return ix.committed
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return less(eligible[i], eligible[j])
	})
	merged := make([]indexEntry, 0, len(ix.committed)+len(eligible))
	i, j := 0, 0
	for i < len(ix.committed) && j < len(eligible) {
		if less(eligible[j], ix.committed[i]) {
			merged = append(merged, eligible[j])
			j++
		} else {
			merged = append(merged, ix.committed[i])
			i++
		}
	}
	merged = append(merged, ix.committed[i:]...)
	merged = append(merged, eligible[j:]...)
	ix.committed = merged
	return ix.committed
}

// nframes derives the visible frame count the way the reference pure
// reader does: one past the maximum frame present in the committed
// index, or 0 if it is empty (see SPEC_FULL.md "nframes derivation").
func (ix *index) nframes() uint64 {
	if len(ix.committed) == 0 {
		return 0
	}
	return ix.committed[len(ix.committed)-1].Frame + 1
}

// findCommitted does the binary-search-then-scan-left lookup described in
// spec.md §4.C6: find the rightmost committed entry at frame, then scan
// left through entries at that frame for a matching id.
func findCommitted(committed []indexEntry, frame uint64, id uint16) (indexEntry, bool) {
	n := len(committed)
	if n == 0 {
		return indexEntry{}, false
	}
	// Rightmost index with committed[i].Frame <= frame.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if committed[mid].Frame <= frame {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	i := lo - 1
	for i >= 0 && committed[i].Frame == frame {
		if committed[i].ID == id {
			return committed[i], true
		}
		i--
	}
	return indexEntry{}, false
}

// findPending linearly scans the (small) pending buffer for a match,
// scanning from the end so the most recently appended entry for a given
// (frame, id) wins if a caller somehow wrote it twice before flushing.
func findPending(pending []indexEntry, frame uint64, id uint16) (indexEntry, bool) {
	for i := len(pending) - 1; i >= 0; i-- {
		if pending[i].Frame == frame && pending[i].ID == id {
			return pending[i], true
		}
	}
	return indexEntry{}, false
}
