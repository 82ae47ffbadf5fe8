package gsd

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestReaderOverMemorySnapshot exercises the pure Reader surface against an
// in-memory writerseeker-backed snapshot rather than a live *os.File,
// matching the "arbitrary seekable byte source" reader contract.
func TestReaderOverMemorySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.gsd")
	w := mustOpen(t, path, "w", OpenOptions{Application: "app", Schema: "sch"})
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := w.WriteChunk(name, TypeUint8, 1, 1, []byte(name[:1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.EndFrame(); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	snap, err := dumpToMemory(w)
	if err != nil {
		t.Fatalf("dumpToMemory: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(snap)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if got := r.Nframes(); got != 1 {
		t.Fatalf("Nframes() = %d, want 1", got)
	}
	got, _, err := r.ReadChunk(0, "beta")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte("b"), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	names := r.FindMatchingChunkNames("")
	want := []string{"alpha", "beta", "gamma"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("FindMatchingChunkNames mismatch (-want +got):\n%s", diff)
	}
}

func TestFindMatchingChunkNamesPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.gsd")
	w := mustOpen(t, path, "w", OpenOptions{})
	defer w.Close()
	for _, name := range []string{"position", "velocity", "particles/N", "particles/typeid"} {
		if err := w.WriteChunk(name, TypeUint8, 1, 1, []byte{0}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.EndFrame(); err != nil {
		t.Fatal(err)
	}
	got := w.FindMatchingChunkNames("particles/")
	want := []string{"particles/N", "particles/typeid"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
