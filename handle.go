package gsd

import (
	"os"

	"golang.org/x/xerrors"
)

// Handle is an open GSD file, readable and (unless opened "r") writable.
// Mutating operations on a Handle are not safe for concurrent or reentrant
// use (spec.md §5): the caller serializes them. ReadChunk, ChunkExists and
// FindMatchingChunkNames may run concurrently with each other while no
// mutating call is in progress.
type Handle struct {
	io   *fileIO
	path string
	mode string

	readOnly bool

	hdr header
	nl  *namelist
	ix  *index

	application   string
	schema        string
	schemaVersion Version
	gsdVersion    Version

	currentFrame uint64
	frontier     int64

	// nlGrowLocation/nlGrowAllocated stage a freshly allocated, doubled
	// namelist block that has already been written to disk but is not yet
	// referenced by the header (see assignID in frame.go).
	nlGrowLocation  int64
	nlGrowAllocated uint64

	maxWriteBufferSize   int
	indexEntriesToBuffer int

	closed bool
}

// OpenOptions supplies the metadata required when creating a new file.
// They are ignored (but not validated against) when opening an existing
// file: spec.md treats application/schema/schema_version as advisory,
// not a compatibility contract (see DESIGN.md, Open Question decision 3).
type OpenOptions struct {
	Application   string
	Schema        string
	SchemaVersion Version
}

// Open opens path in the given mode: "r", "r+", "w", "x", or "a", matching
// spec.md §4.C7's canonical mode set.
func Open(path, mode string, opts OpenOptions) (*Handle, error) {
	const op = "gsd.Open"
	var flag int
	readOnly := false
	creating := false
	switch mode {
	case "r":
		flag = os.O_RDONLY
		readOnly = true
	case "r+":
		flag = os.O_RDWR
	case "w":
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
		creating = true
	case "x":
		flag = os.O_RDWR | os.O_CREATE | os.O_EXCL
		creating = true
	case "a":
		flag = os.O_RDWR
	default:
		return nil, wrapf(op, KindInvalidArgument, "unsupported mode %q", mode)
	}

	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if mode == "x" && os.IsExist(err) {
			return nil, newError(op, KindAlreadyExists, err)
		}
		return nil, wrapf(op, KindIoFailed, "open %s: %w", path, err)
	}

	h := &Handle{
		io:                   newFileIO(f, defaultCacheBytes),
		path:                 path,
		mode:                 mode,
		readOnly:             readOnly,
		maxWriteBufferSize:   defaultMaxWriteBufferSize,
		indexEntriesToBuffer: defaultIndexEntriesToBuffer,
	}

	if creating {
		if err := h.initEmpty(opts); err != nil {
			f.Close()
			return nil, err
		}
		return h, nil
	}

	if err := h.load(); err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// initEmpty lays out a brand new, empty v2 file: header, an empty index
// region, an empty namelist region, nothing else.
func (h *Handle) initEmpty(opts OpenOptions) error {
	h.application = opts.Application
	h.schema = opts.Schema
	h.schemaVersion = opts.SchemaVersion
	h.gsdVersion = Version{Major: gsdVersionMajor, Minor: gsdVersionMinor}
	h.nl = newNamelist()
	h.ix = newIndex(indexEntrySizeV2)

	indexLoc := int64(headerSize)
	indexAlloc := uint64(defaultIndexCapacity)
	namelistLoc := indexLoc + int64(indexAlloc)*int64(indexEntrySizeV2)
	namelistAlloc := uint64(defaultIndexCapacity)
	end := namelistLoc + int64(namelistAlloc)*namelistEntrySize

	if err := h.io.truncateTo(end); err != nil {
		return err
	}

	h.ix.location = indexLoc
	h.ix.allocated = indexAlloc
	h.nl.location = namelistLoc
	h.nl.allocated = namelistAlloc
	h.frontier = end

	h.hdr = header{
		Magic:                    magic,
		IndexLocation:            uint64(indexLoc),
		IndexAllocatedEntries:    indexAlloc,
		NamelistLocation:         uint64(namelistLoc),
		NamelistAllocatedEntries: namelistAlloc,
		SchemaVersion:            h.schemaVersion.pack(),
		GsdVersion:               h.gsdVersion.pack(),
		Application:              truncateField(opts.Application, 64),
		Schema:                   truncateField(opts.Schema, 64),
	}
	if err := h.io.writeAt(0, encodeHeader(&h.hdr)); err != nil {
		return err
	}
	return h.io.flush()
}

// load reads an existing file's header, index, and namelist into memory.
func (h *Handle) load() error {
	const op = "Handle.load"
	buf := make([]byte, headerSize)
	if err := h.io.readAt(0, buf); err != nil {
		return err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	h.hdr = *hdr
	h.application = fieldString(hdr.Application[:])
	h.schema = fieldString(hdr.Schema[:])
	h.schemaVersion = unpackVersion(hdr.SchemaVersion)
	h.gsdVersion = unpackVersion(hdr.GsdVersion)

	size, err := h.io.size()
	if err != nil {
		return err
	}

	entrySize := indexEntrySizeV2
	if h.gsdVersion.Major == 1 {
		entrySize = indexEntrySizeV1
	}
	h.ix = newIndex(entrySize)
	h.ix.location = int64(hdr.IndexLocation)
	h.ix.allocated = hdr.IndexAllocatedEntries

	entryBuf := make([]byte, entrySize)
	for i := uint64(0); i < hdr.IndexAllocatedEntries; i++ {
		off := int64(hdr.IndexLocation) + int64(i)*int64(entrySize)
		if off+int64(entrySize) > size {
			break
		}
		if err := h.io.readAt(off, entryBuf); err != nil {
			return err
		}
		var e indexEntry
		if entrySize == indexEntrySizeV2 {
			e = decodeIndexEntryV2(entryBuf)
		} else {
			e = decodeIndexEntryV1(entryBuf)
		}
		if e.empty() {
			break
		}
		h.ix.committed = append(h.ix.committed, e)
	}

	h.nl = newNamelist()
	h.nl.location = int64(hdr.NamelistLocation)
	h.nl.allocated = hdr.NamelistAllocatedEntries
	slot := make([]byte, namelistEntrySize)
	for i := uint64(0); i < hdr.NamelistAllocatedEntries; i++ {
		off := int64(hdr.NamelistLocation) + int64(i)*namelistEntrySize
		if off+namelistEntrySize > size {
			break
		}
		if err := h.io.readAt(off, slot); err != nil {
			return err
		}
		if slot[0] == 0 {
			break
		}
		name := decodeName(slot)
		if _, err := h.nl.add(name); err != nil {
			return xerrors.Errorf("%s: rebuilding namelist: %w", op, err)
		}
	}

	h.frontier = size
	h.currentFrame = h.ix.nframes()
	return nil
}

func (h *Handle) checkWritable(op string) error {
	if h.closed {
		return wrapf(op, KindIoFailed, "use of closed file")
	}
	if h.readOnly {
		return newError(op, KindReadOnly, nil)
	}
	return nil
}

// Truncate implements spec.md §4.C7 truncate(): resets the file to a
// header with empty index and namelist regions, preserving
// application/schema/schema_version.
func (h *Handle) Truncate() error {
	const op = "Handle.Truncate"
	if err := h.checkWritable(op); err != nil {
		return err
	}
	// Drop every byte first so initEmpty's regions start out zeroed.
	if err := h.io.truncateTo(0); err != nil {
		return err
	}
	opts := OpenOptions{Application: h.application, Schema: h.schema, SchemaVersion: h.schemaVersion}
	if err := h.initEmpty(opts); err != nil {
		return err
	}
	h.currentFrame = 0
	h.nlGrowLocation, h.nlGrowAllocated = 0, 0
	return nil
}

// Upgrade implements spec.md §4.C7 upgrade(): in-place v1 -> v2 rewrite.
// The original data chunks are untouched; only the index and namelist
// regions are rewritten in the v2 layout, at freshly allocated space.
func (h *Handle) Upgrade() error {
	const op = "Handle.Upgrade"
	if err := h.checkWritable(op); err != nil {
		return err
	}
	if h.gsdVersion.Major != 1 {
		return wrapf(op, KindInvalidArgument, "file is already GSD v%d", h.gsdVersion.Major)
	}

	committed := h.ix.committed
	newIndexAlloc := nextCapacity(0, len(committed))
	newIndexLoc := h.frontier
	if err := h.io.truncateTo(newIndexLoc + int64(newIndexAlloc)*int64(indexEntrySizeV2)); err != nil {
		return err
	}
	for i, e := range committed {
		if err := h.io.writeAt(newIndexLoc+int64(i)*int64(indexEntrySizeV2), encodeIndexEntryV2(e)); err != nil {
			return err
		}
	}
	newFrontier := newIndexLoc + int64(newIndexAlloc)*int64(indexEntrySizeV2)

	names := h.nl.names
	newNamelistAlloc := nextCapacity(0, len(names))
	newNamelistLoc := newFrontier
	if err := h.io.truncateTo(newNamelistLoc + int64(newNamelistAlloc)*namelistEntrySize); err != nil {
		return err
	}
	for i, name := range names {
		if err := h.io.writeAt(newNamelistLoc+int64(i)*namelistEntrySize, encodeName(name)); err != nil {
			return err
		}
	}
	h.frontier = newNamelistLoc + int64(newNamelistAlloc)*namelistEntrySize

	if err := h.io.flush(); err != nil {
		return err
	}

	h.ix.entrySize = indexEntrySizeV2
	h.ix.location = newIndexLoc
	h.ix.allocated = newIndexAlloc
	h.nl.location = newNamelistLoc
	h.nl.allocated = newNamelistAlloc
	h.gsdVersion = Version{Major: 2, Minor: 0}

	h.hdr.IndexLocation = uint64(h.ix.location)
	h.hdr.IndexAllocatedEntries = h.ix.allocated
	h.hdr.NamelistLocation = uint64(h.nl.location)
	h.hdr.NamelistAllocatedEntries = h.nl.allocated
	h.hdr.GsdVersion = h.gsdVersion.pack()
	if err := h.io.writeAt(0, encodeHeader(&h.hdr)); err != nil {
		return err
	}
	return h.io.flush()
}

// Close implements spec.md §4.C7 close(): flushes pending state, drops the
// cache, and releases the OS handle. Idempotent.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	var commitErr error
	if !h.readOnly {
		commitErr = h.commit("Handle.Close")
	}
	closeErr := h.io.close()
	h.closed = true
	if commitErr != nil {
		return commitErr
	}
	return closeErr
}

// ChunkExists implements spec.md §6 Handle.chunk_exists.
func (h *Handle) ChunkExists(frame uint64, name string) bool {
	return chunkExists(h.nl, h.ix, frame, name)
}

// ReadChunk implements spec.md §6 Handle.read_chunk.
func (h *Handle) ReadChunk(frame uint64, name string) ([]byte, ChunkInfo, error) {
	const op = "Handle.ReadChunk"
	if h.closed {
		return nil, ChunkInfo{}, wrapf(op, KindIoFailed, "use of closed file")
	}
	e, err := locate(h.nl, h.ix, frame, name)
	if err != nil {
		return nil, ChunkInfo{}, err
	}
	return readChunkBytes(h.io, e)
}

// FindMatchingChunkNames implements spec.md §6
// Handle.find_matching_chunk_names.
func (h *Handle) FindMatchingChunkNames(prefix string) []string {
	return listMatching(h.nl, prefix)
}

// Nframes implements spec.md §6 Handle.nframes(): the number of
// completed end_frame calls. currentFrame already counts completed
// frames (it advances once per end_frame, ahead of the next commit), so
// this reflects writes still sitting in the pending buffer, not just
// what has reached the committed on-disk region. A still-open frame
// with buffered writes is not yet counted, matching the "never publish
// a partial frame" invariant.
func (h *Handle) Nframes() uint64 {
	return h.currentFrame
}

func (h *Handle) Application() string    { return h.application }
func (h *Handle) Schema() string         { return h.schema }
func (h *Handle) SchemaVersion() Version { return h.schemaVersion }
func (h *Handle) GsdVersion() Version    { return h.gsdVersion }
func (h *Handle) Mode() string           { return h.mode }
func (h *Handle) Name() string           { return h.path }

// MaximumWriteBufferSize returns the current tuning for
// maximum_write_buffer_size (bytes).
func (h *Handle) MaximumWriteBufferSize() int { return h.maxWriteBufferSize }

// SetMaximumWriteBufferSize tunes maximum_write_buffer_size; zero is
// rejected with InvalidArgument.
func (h *Handle) SetMaximumWriteBufferSize(n int) error {
	if n <= 0 {
		return wrapf("Handle.SetMaximumWriteBufferSize", KindInvalidArgument, "size must be > 0, got %d", n)
	}
	h.maxWriteBufferSize = n
	return nil
}

// IndexEntriesToBuffer returns the current tuning for
// index_entries_to_buffer.
func (h *Handle) IndexEntriesToBuffer() int { return h.indexEntriesToBuffer }

// SetIndexEntriesToBuffer tunes index_entries_to_buffer; zero is rejected
// with InvalidArgument.
func (h *Handle) SetIndexEntriesToBuffer(n int) error {
	if n <= 0 {
		return wrapf("Handle.SetIndexEntriesToBuffer", KindInvalidArgument, "count must be > 0, got %d", n)
	}
	h.indexEntriesToBuffer = n
	return nil
}
