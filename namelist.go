package gsd

// namelist is the in-memory mirror of the on-disk name→id table: an
// append-only, deduplicated mapping from chunk name to a permanent 16-bit
// id, growable by copying into a doubled block.
//
// On disk it is a single contiguous block at namelistLocation of
// namelistAllocatedEntries * 64 bytes; a zeroed entry marks the end of the
// populated prefix. Growing the block means allocating a fresh, doubled
// block at EOF and copying the existing entries into it, the namelist
// never rewrites a slot once it is assigned (invariant 5 of spec.md).
type namelist struct {
	names []string // id -> name, in assignment order
	ids   map[string]uint16

	location  int64 // current on-disk block location
	allocated uint64 // current on-disk block capacity, in entries
}

func newNamelist() *namelist {
	return &namelist{ids: make(map[string]uint16)}
}

// lookup returns the id for name and true if it has already been assigned.
func (n *namelist) lookup(name string) (uint16, bool) {
	id, ok := n.ids[name]
	return id, ok
}

// add assigns the next free id to name and records it in memory. Callers
// persist the on-disk slot themselves; add only updates the in-memory
// view.
func (n *namelist) add(name string) (uint16, error) {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	if id, ok := n.ids[name]; ok {
		return id, nil
	}
	if len(n.names) >= maxNames {
		return 0, newError("namelist.add", KindTooManyNames, nil)
	}
	id := uint16(len(n.names))
	n.names = append(n.names, name)
	n.ids[name] = id
	return id, nil
}

// count returns the number of assigned names.
func (n *namelist) count() int { return len(n.names) }

// matching returns every name beginning with prefix, in id (insertion)
// order, matching the original pure-Python reader's dict-iteration-order
// semantics (see SPEC_FULL.md).
func (n *namelist) matching(prefix string) []string {
	var out []string
	for _, name := range n.names {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, name)
		}
	}
	return out
}
