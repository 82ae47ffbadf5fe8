package gsd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestCrashConsistencyIndexGrowth implements spec.md §8's "crash-freedom
// (simulated)" property for the index-region-growth commit path: splicing
// the header from just before a growth commit onto the fully-written
// bytes of that commit must reproduce exactly the pre-commit state, since
// growth always allocates a fresh region at EOF and never touches the old
// one (spec.md §4.C4). This is the header-as-linearization-point
// invariant (spec.md §5) exercised directly rather than through a real
// process crash.
func TestCrashConsistencyIndexGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.gsd")
	w := mustOpen(t, path, "x", OpenOptions{})
	if err := w.SetIndexEntriesToBuffer(1); err != nil {
		t.Fatal(err)
	}

	var preGrowthSnapshot []byte
	var preGrowthFrames uint64
	grew := false
	for i := 0; i < 400; i++ {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("snapshot before frame %d: %v", i, err)
		}
		preGrowthSnapshot = data
		preGrowthFrames = w.Nframes()

		if err := w.WriteChunk("c", TypeUint8, 1, 1, []byte{byte(i)}); err != nil {
			t.Fatalf("frame %d WriteChunk: %v", i, err)
		}
		if err := w.EndFrame(); err != nil {
			t.Fatalf("frame %d EndFrame: %v", i, err)
		}
		if w.ix.allocated > defaultIndexCapacity {
			grew = true
			break
		}
	}
	if !grew {
		t.Fatal("index never grew past defaultIndexCapacity; loop bound too small")
	}

	full, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Everything the growth commit wrote (the new index region) is fully
	// on disk in `full`; only the header still names the old region.
	// Splicing the old header back on is exactly what a crash right
	// before the header write would leave behind.
	crashed := append([]byte(nil), full...)
	copy(crashed[:headerSize], preGrowthSnapshot[:headerSize])

	r, err := NewReader(bytes.NewReader(crashed))
	if err != nil {
		t.Fatalf("NewReader(crashed): %v", err)
	}
	if got := r.Nframes(); got != preGrowthFrames {
		t.Fatalf("Nframes() on crashed snapshot = %d, want %d (pre-growth)", got, preGrowthFrames)
	}
	if r.ChunkExists(preGrowthFrames, "c") {
		t.Errorf("crashed snapshot must not expose the frame committed by the growth that never updated the header")
	}
	for f := uint64(0); f < preGrowthFrames; f++ {
		got, _, err := r.ReadChunk(f, "c")
		if err != nil {
			t.Fatalf("ReadChunk(%d, c) on crashed snapshot: %v", f, err)
		}
		if len(got) != 1 || got[0] != byte(f) {
			t.Errorf("ReadChunk(%d, c) = %v, want [%d]", f, got, byte(f))
		}
	}
}
