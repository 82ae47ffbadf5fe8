package gsd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// buildV1Fixture hand-assembles a minimal, valid v1 file: one frame, two
// chunks, exercising the wider-field legacy index layout this package only
// ever reads (never writes).
func buildV1Fixture(t *testing.T, path string) {
	t.Helper()
	const indexAlloc = 4
	const namelistAlloc = 4

	indexLoc := int64(headerSize)
	namelistLoc := indexLoc + int64(indexAlloc)*indexEntrySizeV1
	payloadLoc := namelistLoc + int64(namelistAlloc)*namelistEntrySize

	buf := make([]byte, payloadLoc+16)

	hdr := header{
		Magic:                    magic,
		IndexLocation:            uint64(indexLoc),
		IndexAllocatedEntries:    indexAlloc,
		NamelistLocation:         uint64(namelistLoc),
		NamelistAllocatedEntries: namelistAlloc,
		GsdVersion:               Version{Major: 1, Minor: 0}.pack(),
		Application:              truncateField("legacy-app", 64),
		Schema:                   truncateField("legacy-schema", 64),
	}
	copy(buf[0:headerSize], encodeHeader(&hdr))

	copy(buf[namelistLoc:], encodeName("alpha"))
	copy(buf[namelistLoc+namelistEntrySize:], encodeName("beta"))

	copy(buf[payloadLoc:], []byte{1, 2, 3, 4})
	copy(buf[payloadLoc+4:], []byte{5, 6, 7, 8})

	entries := []indexEntry{
		{Frame: 0, N: 4, Location: payloadLoc, M: 1, ID: 0, Type: TypeUint8},
		{Frame: 0, N: 4, Location: payloadLoc + 4, M: 1, ID: 1, Type: TypeUint8},
	}
	for i, e := range entries {
		copy(buf[indexLoc+int64(i)*indexEntrySizeV1:], encodeIndexEntryV1(e))
	}

	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestV1Upgrade(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "v1.gsd")
	buildV1Fixture(t, orig)

	ro, err := Open(orig, "r", OpenOptions{})
	if err != nil {
		t.Fatalf("open v1 read-only: %v", err)
	}
	if got := ro.GsdVersion(); got != (Version{1, 0}) {
		t.Fatalf("GsdVersion() = %v, want 1.0", got)
	}
	for _, tc := range []struct {
		name string
		want []byte
	}{
		{"alpha", []byte{1, 2, 3, 4}},
		{"beta", []byte{5, 6, 7, 8}},
	} {
		got, _, err := ro.ReadChunk(0, tc.name)
		if err != nil {
			t.Fatalf("ReadChunk(%q): %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ReadChunk(%q) mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
	if err := ro.Close(); err != nil {
		t.Fatal(err)
	}

	work := filepath.Join(dir, "work.gsd")
	buildV1Fixture(t, work)
	w, err := Open(work, "r+", OpenOptions{})
	if err != nil {
		t.Fatalf("open v1 r+: %v", err)
	}
	if err := w.Upgrade(); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if got := w.GsdVersion(); got != (Version{2, 0}) {
		t.Fatalf("GsdVersion() after Upgrade = %v, want 2.0", got)
	}
	for _, tc := range []struct {
		name string
		want []byte
	}{
		{"alpha", []byte{1, 2, 3, 4}},
		{"beta", []byte{5, 6, 7, 8}},
	} {
		got, _, err := w.ReadChunk(0, tc.name)
		if err != nil {
			t.Fatalf("post-upgrade ReadChunk(%q): %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("post-upgrade ReadChunk(%q) mismatch (-want +got):\n%s", tc.name, diff)
		}
	}

	longName := make([]byte, maxNameLen)
	for i := range longName {
		longName[i] = 'z'
	}
	if err := w.WriteChunk(string(longName), TypeUint8, 1, 1, []byte{9}); err != nil {
		t.Fatalf("WriteChunk after upgrade: %v", err)
	}
	if err := w.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := Open(work, "r", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	got, _, err := r2.ReadChunk(1, string(longName))
	if err != nil {
		t.Fatalf("ReadChunk new chunk after reopen: %v", err)
	}
	if diff := cmp.Diff([]byte{9}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteChunkRejectedOnV1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v1.gsd")
	buildV1Fixture(t, path)

	w, err := Open(path, "r+", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	err = w.WriteChunk("gamma", TypeUint8, 1, 1, []byte{1})
	if KindOf(err) != KindInvalidArgument {
		t.Fatalf("WriteChunk on v1 file: got %v, want KindInvalidArgument", err)
	}
}
