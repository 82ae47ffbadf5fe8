package gsd

import "golang.org/x/xerrors"

// WriteChunk buffers a new chunk for the current (open) frame: spec.md
// §4.C5 write_chunk. The id is resolved or assigned via the namelist (and
// its on-disk slot written immediately, growing the namelist chain if
// necessary); the payload is appended to the file at the current write
// frontier; an in-memory pending index entry is recorded. None of this is
// visible to another process until a subsequent commit updates the header.
func (h *Handle) WriteChunk(name string, typ TypeCode, n uint64, m uint32, data []byte) error {
	const op = "Handle.WriteChunk"
	if err := h.checkWritable(op); err != nil {
		return err
	}
	if h.gsdVersion.Major != 2 {
		return wrapf(op, KindInvalidArgument, "file is GSD v%d; call Upgrade() before writing new chunks", h.gsdVersion.Major)
	}
	if _, ok := typeSize(typ); !ok {
		return wrapf(op, KindUnsupportedType, "type code %d", typ)
	}
	if len(name) == 0 {
		return wrapf(op, KindInvalidArgument, "empty chunk name")
	}
	want := n * uint64(m)
	sz, _ := typeSize(typ)
	if want*uint64(sz) != uint64(len(data)) {
		return wrapf(op, KindInvalidArgument, "N*M*sizeof(type) = %d does not match len(data) = %d", want*uint64(sz), len(data))
	}

	id, err := h.assignID(name)
	if err != nil {
		return wrapf(op, KindOf(err), "%w", err)
	}

	loc := h.frontier
	if len(data) > 0 {
		if err := h.io.writeAt(loc, data); err != nil {
			return err
		}
		h.frontier += int64(len(data))
	}

	h.ix.append(indexEntry{
		Frame:    h.currentFrame,
		N:        n,
		Location: loc,
		M:        m,
		ID:       id,
		Type:     typ,
		Flags:    0,
	})
	return nil
}

// assignID resolves name to an id via the namelist, writing its on-disk
// slot immediately (spec.md §4.C3): in place if the current chain block
// has spare capacity, or into a freshly doubled block at the write
// frontier otherwise. The new block's location is staged in
// h.nlGrowLocation/h.nlGrowAllocated and only becomes header-visible at
// the next commit.
func (h *Handle) assignID(name string) (uint16, error) {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	if id, ok := h.nl.lookup(name); ok {
		return id, nil
	}
	id, err := h.nl.add(name)
	if err != nil {
		return 0, err
	}
	slot := encodeName(name)

	workingLoc, workingAlloc := h.nl.location, h.nl.allocated
	if h.nlGrowLocation != 0 {
		workingLoc, workingAlloc = h.nlGrowLocation, h.nlGrowAllocated
	}
	idx := uint64(h.nl.count() - 1)
	if idx < workingAlloc {
		// Spare capacity in the current working block: write in place.
		off := workingLoc + int64(idx)*namelistEntrySize
		if err := h.io.writeAt(off, slot); err != nil {
			return 0, err
		}
		return id, nil
	}

	// No spare capacity: allocate a fresh, doubled block at the write
	// frontier, copy everything written so far, append the new slot. The
	// new block is not referenced by the header until the next commit.
	newAlloc := nextCapacity(workingAlloc, int(idx)+1)
	newLoc := h.frontier
	if err := h.io.truncateTo(newLoc + int64(newAlloc)*namelistEntrySize); err != nil {
		return 0, err
	}
	for i, prior := range h.nl.names[:idx] {
		if err := h.io.writeAt(newLoc+int64(i)*namelistEntrySize, encodeName(prior)); err != nil {
			return 0, err
		}
	}
	if err := h.io.writeAt(newLoc+int64(idx)*namelistEntrySize, slot); err != nil {
		return 0, err
	}
	h.frontier = newLoc + int64(newAlloc)*namelistEntrySize
	h.nlGrowLocation = newLoc
	h.nlGrowAllocated = newAlloc
	return id, nil
}

// EndFrame implements spec.md §4.C5 end_frame(): advances the logical
// frame counter (an empty frame is legal) and, if the pending buffer has
// crossed either tunable threshold, performs a commit.
func (h *Handle) EndFrame() error {
	const op = "Handle.EndFrame"
	if err := h.checkWritable(op); err != nil {
		return err
	}
	h.currentFrame++

	if len(h.ix.pending) >= h.indexEntriesToBuffer || h.ix.pendingBytes() >= int64(h.maxWriteBufferSize) {
		if err := h.commit(op); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements spec.md §4.C5 flush(): commits pending entries without
// advancing the frame counter. Entries belonging to the still-open frame
// are left untouched, since a flush never publishes a partial frame.
func (h *Handle) Flush() error {
	const op = "Handle.Flush"
	if h.readOnly {
		return nil
	}
	return h.commit(op)
}

// commit is the shared implementation behind EndFrame's threshold-trigger,
// Flush, and Close: it is idempotent (with no eligible entries and no
// staged namelist block it only fsyncs) and always performs the full write order from spec.md §4.C4: payloads
// are already on disk by the time this runs; the index region is written
// (growing it if necessary); the namelist pointer is advanced if a grown
// block is staged; the header is written, and synced, last.
func (h *Handle) commit(op string) error {
	eligible := h.ix.partitionPending(h.currentFrame)
	merged := h.ix.mergeCommit(eligible)

	indexGrew := false
	if uint64(len(merged)) > h.ix.allocated {
		newAlloc := nextCapacity(h.ix.allocated, len(merged))
		newLoc := h.frontier
		if err := h.io.truncateTo(newLoc + int64(newAlloc)*int64(indexEntrySizeV2)); err != nil {
			return err
		}
		for i, e := range merged {
			if err := h.io.writeAt(newLoc+int64(i)*int64(indexEntrySizeV2), encodeIndexEntryV2(e)); err != nil {
				return err
			}
		}
		h.frontier = newLoc + int64(newAlloc)*int64(indexEntrySizeV2)
		h.ix.location = newLoc
		h.ix.allocated = newAlloc
		indexGrew = true
	} else if len(eligible) > 0 {
		// Spare capacity: append just the new tail entries in place.
		start := len(merged) - len(eligible)
		for i := start; i < len(merged); i++ {
			off := h.ix.location + int64(i)*int64(indexEntrySizeV2)
			if err := h.io.writeAt(off, encodeIndexEntryV2(merged[i])); err != nil {
				return err
			}
		}
	}

	namelistGrew := h.nlGrowLocation != 0
	if namelistGrew {
		h.nl.location = h.nlGrowLocation
		h.nl.allocated = h.nlGrowAllocated
		h.nlGrowLocation, h.nlGrowAllocated = 0, 0
	}

	if !indexGrew && !namelistGrew && len(eligible) == 0 {
		// Nothing changed on disk since the last commit; still fsync so
		// flush()/close() remain a meaningful durability boundary for
		// whatever was written since, matching §4.C4 idempotence.
		return h.io.flush()
	}

	if err := h.io.flush(); err != nil {
		return err
	}

	h.hdr.IndexLocation = uint64(h.ix.location)
	h.hdr.IndexAllocatedEntries = h.ix.allocated
	h.hdr.NamelistLocation = uint64(h.nl.location)
	h.hdr.NamelistAllocatedEntries = h.nl.allocated
	if err := h.io.writeAt(0, encodeHeader(&h.hdr)); err != nil {
		return xerrors.Errorf("%s: writing header: %w", op, err)
	}
	return h.io.flush()
}
