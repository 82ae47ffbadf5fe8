package gsd

import (
	"encoding/binary"
)

// header is the fixed 256-byte block at offset 0 of a GSD file.
type header struct {
	Magic                   uint64
	IndexLocation           uint64
	IndexAllocatedEntries   uint64
	NamelistLocation        uint64
	NamelistAllocatedEntries uint64
	SchemaVersion           uint32
	GsdVersion              uint32
	Application             [64]byte
	Schema                  [64]byte
	// 80 reserved bytes, always zero.
}

// encodeHeader writes h into a headerSize-byte slice.
func encodeHeader(h *header) []byte {
	buf := make([]byte, headerSize)
	e := binary.LittleEndian
	e.PutUint64(buf[0:], h.Magic)
	e.PutUint64(buf[8:], h.IndexLocation)
	e.PutUint64(buf[16:], h.IndexAllocatedEntries)
	e.PutUint64(buf[24:], h.NamelistLocation)
	e.PutUint64(buf[32:], h.NamelistAllocatedEntries)
	e.PutUint32(buf[40:], h.SchemaVersion)
	e.PutUint32(buf[44:], h.GsdVersion)
	copy(buf[48:112], h.Application[:])
	copy(buf[112:176], h.Schema[:])
	// buf[176:256] stays zero (reserved).
	return buf
}

// decodeHeader parses a headerSize-byte slice. It validates the magic and
// the major version, but not any pointer field (callers validate those
// against the actual file length once it is known).
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, wrapf("decodeHeader", KindIoFailed, "short header: got %d bytes, want %d", len(buf), headerSize)
	}
	e := binary.LittleEndian
	h := &header{
		Magic:                    e.Uint64(buf[0:]),
		IndexLocation:            e.Uint64(buf[8:]),
		IndexAllocatedEntries:    e.Uint64(buf[16:]),
		NamelistLocation:         e.Uint64(buf[24:]),
		NamelistAllocatedEntries: e.Uint64(buf[32:]),
		SchemaVersion:            e.Uint32(buf[40:]),
		GsdVersion:               e.Uint32(buf[44:]),
	}
	copy(h.Application[:], buf[48:112])
	copy(h.Schema[:], buf[112:176])
	if h.Magic != magic {
		return nil, newError("decodeHeader", KindNotAGsdFile, nil)
	}
	major := h.GsdVersion >> 16
	if major != 1 && major != 2 {
		return nil, wrapf("decodeHeader", KindUnsupportedVersion, "gsd_version.major = %d", major)
	}
	return h, nil
}

// truncateField copies s into a fixed-width NUL-padded field, truncating
// to width-1 bytes to leave room for the terminator.
func truncateField(s string, width int) [64]byte {
	var out [64]byte
	b := []byte(s)
	if len(b) > width-1 {
		b = b[:width-1]
	}
	copy(out[:], b)
	return out
}

func fieldString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// indexEntry is the in-memory representation of one index slot, shared
// between the v1 (64-byte) and v2 (32-byte) on-disk layouts.
type indexEntry struct {
	Frame    uint64
	N        uint64
	Location int64
	M        uint32
	ID       uint16
	Type     TypeCode
	Flags    uint8
}

// empty reports whether this is an unused (zeroed) slot.
func (e indexEntry) empty() bool { return e.Location == 0 }

// less orders entries by (frame, id), the invariant the on-disk index
// prefix must respect after every commit.
func less(a, b indexEntry) bool {
	if a.Frame != b.Frame {
		return a.Frame < b.Frame
	}
	return a.ID < b.ID
}

// encodeIndexEntryV2 writes e into a indexEntrySizeV2-byte slice, per
// spec's v2 layout: frame(u64) N(u64) location(i64) M(u32) id(u16) type(u8) flags(u8).
func encodeIndexEntryV2(e indexEntry) []byte {
	buf := make([]byte, indexEntrySizeV2)
	b := binary.LittleEndian
	b.PutUint64(buf[0:], e.Frame)
	b.PutUint64(buf[8:], e.N)
	b.PutUint64(buf[16:], uint64(e.Location))
	b.PutUint32(buf[24:], e.M)
	b.PutUint16(buf[28:], e.ID)
	buf[30] = byte(e.Type)
	buf[31] = e.Flags
	return buf
}

func decodeIndexEntryV2(buf []byte) indexEntry {
	b := binary.LittleEndian
	return indexEntry{
		Frame:    b.Uint64(buf[0:]),
		N:        b.Uint64(buf[8:]),
		Location: int64(b.Uint64(buf[16:])),
		M:        b.Uint32(buf[24:]),
		ID:       b.Uint16(buf[28:]),
		Type:     TypeCode(buf[30]),
		Flags:    buf[31],
	}
}

// decodeIndexEntryV1 parses the legacy 64-byte layout: the same logical
// fields as v2, but wider and in their original field order, predating the
// tightly packed v2 layout. Layout (little-endian):
// frame(u64) N(u64) location(i64) M(u64) id(u32) type(u32) flags(u32)
// followed by 20 reserved zero bytes.
func decodeIndexEntryV1(buf []byte) indexEntry {
	b := binary.LittleEndian
	return indexEntry{
		Frame:    b.Uint64(buf[0:]),
		N:        b.Uint64(buf[8:]),
		Location: int64(b.Uint64(buf[16:])),
		M:        uint32(b.Uint64(buf[24:])),
		ID:       uint16(b.Uint32(buf[32:])),
		Type:     TypeCode(b.Uint32(buf[36:])),
		Flags:    uint8(b.Uint32(buf[40:])),
	}
}

// encodeIndexEntryV1 is used only by tests that build v1 fixtures.
func encodeIndexEntryV1(e indexEntry) []byte {
	buf := make([]byte, indexEntrySizeV1)
	b := binary.LittleEndian
	b.PutUint64(buf[0:], e.Frame)
	b.PutUint64(buf[8:], e.N)
	b.PutUint64(buf[16:], uint64(e.Location))
	b.PutUint64(buf[24:], uint64(e.M))
	b.PutUint32(buf[32:], uint32(e.ID))
	b.PutUint32(buf[36:], uint32(e.Type))
	b.PutUint32(buf[40:], uint32(e.Flags))
	return buf
}

// encodeName writes name into a namelistEntrySize-byte, NUL-padded slot.
func encodeName(name string) []byte {
	buf := make([]byte, namelistEntrySize)
	b := []byte(name)
	if len(b) > maxNameLen {
		b = b[:maxNameLen]
	}
	copy(buf, b)
	return buf
}

func decodeName(buf []byte) string {
	return fieldString(buf)
}
