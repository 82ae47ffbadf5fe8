package gsd

import (
	"container/list"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// defaultCacheBytes is the default total size of the write-through page
// cache: 16 MiB, per spec.
const defaultCacheBytes = 16 * 1024 * 1024

// cachePageSize is the granularity at which recently written bytes are
// cached. A page is the unit of eviction; reads and writes are sliced
// against whichever pages they overlap.
const cachePageSize = 64 * 1024

// fileIO is the only place in this package that touches the OS file
// descriptor. It retries short reads/writes (and EINTR) until they are
// satisfied or hit a hard error, and keeps a small LRU of recently written
// pages so that a read immediately following a write never needs to hit the
// disk.
//
// The page cache is guarded by mu, so concurrent readAt calls are safe;
// mutating calls (writeAt, truncateTo, close) must be serialized by the
// caller, following the file layer's single-writer contract (spec §5).
type fileIO struct {
	f *os.File

	cacheBytes int // budget, in bytes, for the page cache
	mu         sync.Mutex
	pages      map[int64]*list.Element // page offset -> lru element
	lru        *list.List              // front = most recently used
	cachedSize int
}

type cachePage struct {
	offset int64
	data   []byte
}

func newFileIO(f *os.File, cacheBytes int) *fileIO {
	if cacheBytes <= 0 {
		cacheBytes = defaultCacheBytes
	}
	return &fileIO{
		f:          f,
		cacheBytes: cacheBytes,
		pages:      make(map[int64]*list.Element),
		lru:        list.New(),
	}
}

// byteRange is a half-open [lo, hi) span of absolute file offsets.
type byteRange struct {
	lo, hi int64
}

// readAt reads len(p) bytes starting at offset, consulting the write
// cache first for any page it overlaps, and issuing pread only for the
// gaps the cache did not cover, retrying short/interrupted reads from
// the OS.
func (c *fileIO) readAt(offset int64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	c.mu.Lock()
	gaps := c.fillFromCacheLocked(offset, p)
	c.mu.Unlock()

	for _, g := range gaps {
		if err := c.preadRange(g.lo, p[g.lo-offset:g.hi-offset]); err != nil {
			return err
		}
	}
	return nil
}

// preadRange reads into dst (sized to the gap) starting at the absolute
// file offset, retrying short/interrupted reads.
func (c *fileIO) preadRange(offset int64, dst []byte) error {
	remaining := dst
	pos := offset
	for len(remaining) > 0 {
		n, err := unix.Pread(int(c.f.Fd()), remaining, pos)
		if n > 0 {
			remaining = remaining[n:]
			pos += int64(n)
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapf("fileIO.readAt", KindIoFailed, "pread at %d: %w", offset, err)
		}
		if n == 0 {
			return wrapf("fileIO.readAt", KindIoFailed, "short read at %d: %w", offset, io.ErrUnexpectedEOF)
		}
	}
	return nil
}

// fillFromCacheLocked copies any cached bytes overlapping [offset,
// offset+len(p)) into p and returns the sub-ranges the cache did not
// cover, which the caller must still fill from disk.
func (c *fileIO) fillFromCacheLocked(offset int64, p []byte) []byteRange {
	end := offset + int64(len(p))
	start := offset - offset%cachePageSize
	var gaps []byteRange
	for pageOff := start; pageOff < end; pageOff += cachePageSize {
		lo := offset
		if pageOff > lo {
			lo = pageOff
		}
		hi := end
		if pageEnd := pageOff + cachePageSize; pageEnd < hi {
			hi = pageEnd
		}
		if lo >= hi {
			continue
		}
		el, ok := c.pages[pageOff]
		if !ok {
			gaps = append(gaps, byteRange{lo, hi})
			continue
		}
		page := el.Value.(*cachePage)
		c.lru.MoveToFront(el)

		dataEnd := pageOff + int64(len(page.data))
		covHi := hi
		if dataEnd < covHi {
			covHi = dataEnd
		}
		if covHi > lo {
			copy(p[lo-offset:covHi-offset], page.data[lo-pageOff:covHi-pageOff])
		}
		if covHi < hi {
			gaps = append(gaps, byteRange{covHi, hi})
		}
	}
	return gaps
}

// writeAt writes p at offset, retrying short/interrupted writes, and
// records the written bytes in the page cache.
func (c *fileIO) writeAt(offset int64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	remaining := p
	pos := offset
	for len(remaining) > 0 {
		n, err := unix.Pwrite(int(c.f.Fd()), remaining, pos)
		if n > 0 {
			remaining = remaining[n:]
			pos += int64(n)
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapf("fileIO.writeAt", KindIoFailed, "pwrite at %d: %w", offset, err)
		}
	}
	c.mu.Lock()
	c.cacheLocked(offset, p)
	c.mu.Unlock()
	return nil
}

// cacheLocked stores p (a recently written run of bytes) in the page
// cache, split along page boundaries, evicting the least-recently-used
// pages to stay within the configured budget.
func (c *fileIO) cacheLocked(offset int64, p []byte) {
	end := offset + int64(len(p))
	start := offset - offset%cachePageSize
	for pageOff := start; pageOff < end; pageOff += cachePageSize {
		pageEnd := pageOff + cachePageSize
		lo := offset
		if pageOff > lo {
			lo = pageOff
		}
		hi := end
		if pageEnd < hi {
			hi = pageEnd
		}
		if lo >= hi {
			continue
		}
		if el, ok := c.pages[pageOff]; ok {
			page := el.Value.(*cachePage)
			needed := int(hi - pageOff)
			if needed > len(page.data) {
				grown := make([]byte, needed)
				copy(grown, page.data)
				// Bytes between the old end of the page and lo were not
				// written through the cache: load them from disk.
				if gapLo := pageOff + int64(len(page.data)); gapLo < lo {
					if c.preadRange(gapLo, grown[gapLo-pageOff:lo-pageOff]) != nil {
						c.cachedSize -= len(page.data)
						delete(c.pages, pageOff)
						c.lru.Remove(el)
						continue
					}
				}
				c.cachedSize += needed - len(page.data)
				page.data = grown
			}
			copy(page.data[lo-pageOff:hi-pageOff], p[lo-offset:hi-offset])
			c.lru.MoveToFront(el)
			continue
		}
		data := make([]byte, hi-pageOff)
		// Bytes of the page before lo were not written through the cache:
		// load them from disk so the page mirrors the file.
		if lo > pageOff && c.preadRange(pageOff, data[:lo-pageOff]) != nil {
			continue
		}
		copy(data[lo-pageOff:], p[lo-offset:hi-offset])
		page := &cachePage{offset: pageOff, data: data}
		el := c.lru.PushFront(page)
		c.pages[pageOff] = el
		c.cachedSize += len(data)
	}
	c.evictLocked()
}

func (c *fileIO) evictLocked() {
	for c.cachedSize > c.cacheBytes {
		el := c.lru.Back()
		if el == nil {
			return
		}
		page := el.Value.(*cachePage)
		c.cachedSize -= len(page.data)
		delete(c.pages, page.offset)
		c.lru.Remove(el)
	}
}

// flush fsyncs the underlying file descriptor. The page cache holds
// recent writes only for read-after-write hits; it is not a write-behind
// buffer, so there is nothing to drain here beyond the OS sync.
func (c *fileIO) flush() error {
	if err := c.f.Sync(); err != nil {
		return wrapf("fileIO.flush", KindIoFailed, "fsync: %w", err)
	}
	return nil
}

// size returns the current length of the file.
func (c *fileIO) size() (int64, error) {
	fi, err := c.f.Stat()
	if err != nil {
		return 0, wrapf("fileIO.size", KindIoFailed, "stat: %w", err)
	}
	return fi.Size(), nil
}

// truncateTo resets the file to length n and drops the page cache, since
// any cached bytes past n are no longer valid and any cached bytes before
// n may be about to be overwritten with different content.
func (c *fileIO) truncateTo(n int64) error {
	if err := c.f.Truncate(n); err != nil {
		return wrapf("fileIO.truncateTo", KindIoFailed, "truncate: %w", err)
	}
	// Best-effort: ask the filesystem to back the new length with real
	// blocks now rather than on first write to each page. Growth happens
	// in big, predictable jumps (index/namelist doubling) so this is worth
	// doing; failure (e.g. unsupported on the target fs) is not fatal.
	unix.Fallocate(int(c.f.Fd()), 0, 0, n)
	c.mu.Lock()
	c.pages = make(map[int64]*list.Element)
	c.lru.Init()
	c.cachedSize = 0
	c.mu.Unlock()
	return nil
}

// close releases the page cache and closes the OS handle.
func (c *fileIO) close() error {
	c.mu.Lock()
	c.pages = nil
	c.lru = nil
	c.mu.Unlock()
	if err := c.f.Close(); err != nil {
		return wrapf("fileIO.close", KindIoFailed, "close: %w", err)
	}
	return nil
}
