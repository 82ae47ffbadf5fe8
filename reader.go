package gsd

import (
	"io"

	"github.com/orcaman/writerseeker"
)

// Reader is a read-only view over an arbitrary io.ReaderAt containing a
// complete GSD file: spec.md §4.C6's "pure reader" component, usable
// against anything that can hand back bytes at an offset: an *os.File
// opened "r", a memory-mapped region, or an in-memory buffer assembled
// with writerseeker.WriterSeeker during a test.
//
// Unlike Handle, Reader never writes, never allocates a page cache, and
// takes no write lock: many Readers may be open over the same data
// concurrently (spec.md §5).
type Reader struct {
	src byteReader

	application   string
	schema        string
	schemaVersion Version
	gsdVersion    Version

	nl *namelist
	ix *index
}

// readerAtAdapter satisfies byteReader over an io.ReaderAt, translating a
// short read into KindIoFailed rather than silently returning fewer bytes.
type readerAtAdapter struct {
	r io.ReaderAt
}

func (a readerAtAdapter) readAt(offset int64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := a.r.ReadAt(p, offset)
	if n == len(p) {
		return nil
	}
	if err != nil {
		return wrapf("Reader", KindIoFailed, "read at %d: %w", offset, err)
	}
	return wrapf("Reader", KindIoFailed, "short read at %d: got %d of %d bytes", offset, n, len(p))
}

// NewReader opens a read-only view over src, parsing its header, index,
// and namelist chains. src must expose the full file: the header at
// offset 0 through the end of the namelist region.
func NewReader(src io.ReaderAt) (*Reader, error) {
	return newReaderFrom(readerAtAdapter{src})
}

func newReaderFrom(br byteReader) (*Reader, error) {
	buf := make([]byte, headerSize)
	if err := br.readAt(0, buf); err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:           br,
		application:   fieldString(hdr.Application[:]),
		schema:        fieldString(hdr.Schema[:]),
		schemaVersion: unpackVersion(hdr.SchemaVersion),
		gsdVersion:    unpackVersion(hdr.GsdVersion),
	}

	entrySize := indexEntrySizeV2
	if r.gsdVersion.Major == 1 {
		entrySize = indexEntrySizeV1
	}
	r.ix = newIndex(entrySize)
	r.ix.location = int64(hdr.IndexLocation)
	r.ix.allocated = hdr.IndexAllocatedEntries

	entryBuf := make([]byte, entrySize)
	for i := uint64(0); i < hdr.IndexAllocatedEntries; i++ {
		off := int64(hdr.IndexLocation) + int64(i)*int64(entrySize)
		if err := br.readAt(off, entryBuf); err != nil {
			break
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
		r.ix.committed = append(r.ix.committed, e)
	}

	r.nl = newNamelist()
	r.nl.location = int64(hdr.NamelistLocation)
	r.nl.allocated = hdr.NamelistAllocatedEntries
	slot := make([]byte, namelistEntrySize)
	for i := uint64(0); i < hdr.NamelistAllocatedEntries; i++ {
		off := int64(hdr.NamelistLocation) + int64(i)*namelistEntrySize
		if err := br.readAt(off, slot); err != nil {
			break
		}
		if slot[0] == 0 {
			break
		}
		if _, err := r.nl.add(decodeName(slot)); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Reader) Application() string    { return r.application }
func (r *Reader) Schema() string         { return r.schema }
func (r *Reader) SchemaVersion() Version { return r.schemaVersion }
func (r *Reader) GsdVersion() Version    { return r.gsdVersion }
func (r *Reader) Nframes() uint64        { return r.ix.nframes() }

// ChunkExists implements spec.md §6 exists(frame, name) against a
// read-only view.
func (r *Reader) ChunkExists(frame uint64, name string) bool {
	return chunkExists(r.nl, r.ix, frame, name)
}

// ReadChunk implements spec.md §6 read(frame, name) against a read-only
// view, returning the raw payload and its shape/type.
func (r *Reader) ReadChunk(frame uint64, name string) ([]byte, ChunkInfo, error) {
	e, err := locate(r.nl, r.ix, frame, name)
	if err != nil {
		return nil, ChunkInfo{}, err
	}
	return readChunkBytes(r.src, e)
}

// FindMatchingChunkNames implements spec.md §6
// find_matching_chunk_names against a read-only view.
func (r *Reader) FindMatchingChunkNames(prefix string) []string {
	return listMatching(r.nl, prefix)
}

// dumpToMemory copies every byte of an on-disk region described by a
// Handle into a fresh, in-memory seekable buffer, for tests that want a
// Reader decoupled from the underlying *os.File without touching disk
// again. It is the one place this package reaches for writerseeker
// rather than an *os.File.
func dumpToMemory(h *Handle) (io.ReaderAt, error) {
	size, err := h.io.size()
	if err != nil {
		return nil, err
	}
	var ws writerseeker.WriterSeeker
	buf := make([]byte, size)
	if err := h.io.readAt(0, buf); err != nil {
		return nil, err
	}
	if _, err := ws.Write(buf); err != nil {
		return nil, wrapf("dumpToMemory", KindIoFailed, "buffering snapshot: %w", err)
	}
	return ws.BytesReader(), nil
}
