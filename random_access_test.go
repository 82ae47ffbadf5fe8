package gsd

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

// TestRandomAccess implements scenario 4: five frames of 1000 distinctly
// named chunks each (names shuffled per frame), verified against every
// (frame, name) pair under concurrent readers.
func TestRandomAccess(t *testing.T) {
	const frames = 5
	const perFrame = 1000

	path := filepath.Join(t.TempDir(), "t.gsd")
	w := mustOpen(t, path, "w", OpenOptions{})

	rng := rand.New(rand.NewSource(1))
	want := make(map[uint64]map[string]uint64) // frame -> name -> value
	for f := 0; f < frames; f++ {
		names := make([]string, perFrame)
		for i := range names {
			names[i] = fmt.Sprintf("chunk-%05d", i)
		}
		rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })

		frameValues := make(map[string]uint64, perFrame)
		for _, name := range names {
			v := rng.Uint64()
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, v)
			if err := w.WriteChunk(name, TypeUint64, 1, 1, buf); err != nil {
				t.Fatalf("frame %d WriteChunk(%q): %v", f, name, err)
			}
			frameValues[name] = v
		}
		want[uint64(f)] = frameValues
		if err := w.EndFrame(); err != nil {
			t.Fatalf("frame %d EndFrame: %v", f, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, "r", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	type pair struct {
		frame uint64
		name  string
	}
	var order []pair
	for f, names := range want {
		for name := range names {
			order = append(order, pair{f, name})
		}
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var g errgroup.Group
	for _, p := range order {
		p := p
		g.Go(func() error {
			got, _, err := r.ReadChunk(p.frame, p.name)
			if err != nil {
				return fmt.Errorf("ReadChunk(%d, %q): %w", p.frame, p.name, err)
			}
			wantVal := want[p.frame][p.name]
			wantBuf := make([]byte, 8)
			binary.LittleEndian.PutUint64(wantBuf, wantVal)
			if diff := cmp.Diff(wantBuf, got); diff != "" {
				return fmt.Errorf("ReadChunk(%d, %q) mismatch (-want +got):\n%s", p.frame, p.name, diff)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
