package gsd

import (
	"errors"
	"io"
)

// byteReader is the minimal read-side contract the locator needs. fileIO
// satisfies it directly (backing a writable Handle); a thin adapter over
// io.ReaderAt satisfies it for the pure-reader surface (see reader.go).
type byteReader interface {
	readAt(offset int64, p []byte) error
}

// locate implements spec.md §4.C6 find(frame, name): resolve name to an id
// via the namelist (a miss is NotFound), then binary-search the committed
// index for the rightmost entry at frame and scan left for a matching id;
// if not found on disk, linearly scan the pending write buffer.
func locate(nl *namelist, ix *index, frame uint64, name string) (indexEntry, error) {
	id, ok := nl.lookup(name)
	if !ok {
		return indexEntry{}, newError("locate", KindNotFound, nil)
	}
	if e, ok := findCommitted(ix.committed, frame, id); ok {
		return e, nil
	}
	if e, ok := findPending(ix.pending, frame, id); ok {
		return e, nil
	}
	return indexEntry{}, newError("locate", KindNotFound, nil)
}

// chunkExists is locate without allocating a result, matching §4.C6
// exists(frame, name).
func chunkExists(nl *namelist, ix *index, frame uint64, name string) bool {
	_, err := locate(nl, ix, frame, name)
	return err == nil
}

// ChunkInfo describes a located chunk's shape without its bytes: the
// N/M/TypeCode triple a caller needs to reinterpret the raw payload
// returned alongside it by ReadChunk/readChunkBytes.
type ChunkInfo struct {
	N    uint64
	M    uint32
	Type TypeCode
}

// readChunkBytes implements §4.C6 read(entry): validate the entry, compute
// its payload length, and issue one read. Zero-length chunks are legal and
// return an empty, non-nil slice.
func readChunkBytes(br byteReader, e indexEntry) ([]byte, ChunkInfo, error) {
	sz, ok := typeSize(e.Type)
	if !ok {
		return nil, ChunkInfo{}, newError("readChunkBytes", KindCorrupt, nil)
	}
	n := int64(e.N) * int64(e.M)
	if n > 0 && e.Location <= headerSize {
		return nil, ChunkInfo{}, newError("readChunkBytes", KindCorrupt, nil)
	}
	length := n * int64(sz)
	info := ChunkInfo{N: e.N, M: e.M, Type: e.Type}
	if length == 0 {
		return []byte{}, info, nil
	}
	buf := make([]byte, length)
	if err := br.readAt(e.Location, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ChunkInfo{}, wrapf("readChunkBytes", KindCorrupt, "chunk extends past end of file: %w", err)
		}
		return nil, ChunkInfo{}, err
	}
	return buf, info, nil
}

// listMatching implements §4.C6 list_matching(prefix): every namelist
// entry beginning with prefix, in id (insertion) order.
func listMatching(nl *namelist, prefix string) []string {
	return nl.matching(prefix)
}
