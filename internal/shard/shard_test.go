package shard

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"atm/internal/archive"
	"atm/internal/artifact"
	"atm/internal/codec"
	"atm/internal/melody"
	"atm/internal/midi"
	"atm/internal/partition"
	"atm/internal/pathgen"
)

func setup(t *testing.T) (*codec.Space, partition.Plan, pathgen.Generator) {
	t.Helper()
	a, err := melody.ParseAlphabet("C4,D4,E4,F4,G4,A4,B4,C5")
	if err != nil {
		t.Fatal(err)
	}
	space, plan, err := partition.New(a, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	paths, err := pathgen.New(space, pathgen.Config{Depth: pathgen.AutoDepth})
	if err != nil {
		t.Fatal(err)
	}
	return space, plan, paths
}

func entries(t *testing.T, data []byte) []string {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(data))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names
		}
		if err != nil {
			t.Fatalf("archive unreadable after %d entries: %v", len(names), err)
		}
		names = append(names, hdr.Name)
	}
}

func TestRunWritesRange(t *testing.T) {
	space, plan, paths := setup(t)
	r, _ := plan.Range(2)

	var buf bytes.Buffer
	backend := archive.NewTar(&buf, paths)
	var reports []uint64
	w := &Writer{
		Range:     r,
		Space:     space,
		Generator: midi.Generator{},
		Backend:   backend,
		ChunkSize: 50,
		Progress:  func(_ partition.Range, done uint64) { reports = append(reports, done) },
	}
	res := w.Run(context.Background())
	if !res.OK() {
		t.Fatal(res.Err)
	}
	if res.Entries != 128 {
		t.Fatalf("Entries = %d", res.Entries)
	}
	if backend.State() != archive.Closed {
		t.Fatal("backend left open")
	}

	names := entries(t, buf.Bytes())
	if len(names) != 128 {
		t.Fatalf("%d entries in archive", len(names))
	}
	for i, name := range names {
		m, _ := space.Decode(r.Lo + uint64(i))
		want, _ := paths.Path(m)
		if name != want {
			t.Fatalf("entry %d = %q, want %q", i, name, want)
		}
	}
	if len(reports) != 3 || reports[2] != 128 {
		t.Fatalf("progress reports %v", reports)
	}
}

func TestRunEmptyRange(t *testing.T) {
	space, _, paths := setup(t)
	var buf bytes.Buffer
	w := &Writer{
		Range:     partition.Range{Shard: 5, Lo: 512, Hi: 512},
		Space:     space,
		Generator: midi.Generator{},
		Backend:   archive.NewTar(&buf, paths),
	}
	res := w.Run(context.Background())
	if !res.OK() || res.Entries != 0 {
		t.Fatalf("res = %+v", res)
	}
	if buf.Len() != 1024 {
		t.Fatalf("empty shard archive is %d bytes, want 1024", buf.Len())
	}
}

func TestRunAbortsOnGeneratorFailure(t *testing.T) {
	space, plan, paths := setup(t)
	r, _ := plan.Range(0)
	boom := errors.New("boom")
	var calls int
	gen := artifact.GeneratorFunc(func(m melody.Melody) (artifact.Artifact, error) {
		calls++
		if calls == 11 {
			return artifact.Artifact{}, boom
		}
		return midi.Generator{}.Generate(m)
	})

	var buf bytes.Buffer
	backend := archive.NewTar(&buf, paths)
	res := (&Writer{Range: r, Space: space, Generator: gen, Backend: backend}).Run(context.Background())
	if !errors.Is(res.Err, ErrGenerate) || !errors.Is(res.Err, boom) {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Entries != 10 || calls != 11 {
		t.Fatalf("entries=%d calls=%d, want 10/11", res.Entries, calls)
	}
	if backend.State() != archive.Closed {
		t.Fatal("backend not finished after failure")
	}
	if n := len(entries(t, buf.Bytes())); n != 10 {
		t.Fatalf("partial archive holds %d entries, want 10", n)
	}
}

type brokenWriter struct{ limit int }

func (b *brokenWriter) Write(p []byte) (int, error) {
	if len(p) > b.limit {
		n := b.limit
		b.limit = 0
		return n, errors.New("device gone")
	}
	b.limit -= len(p)
	return len(p), nil
}

func TestRunAbortsOnIOFailure(t *testing.T) {
	space, plan, paths := setup(t)
	r, _ := plan.Range(1)
	w := &Writer{
		Range:     r,
		Space:     space,
		Generator: midi.Generator{},
		Backend:   archive.NewTar(&brokenWriter{limit: 4096}, paths),
	}
	res := w.Run(context.Background())
	if !archive.IsIOError(res.Err) {
		t.Fatalf("err = %v, want I/O error", res.Err)
	}
	if res.Entries == 0 || res.Entries >= r.Len() {
		t.Fatalf("Entries = %d", res.Entries)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	space, plan, paths := setup(t)
	r, _ := plan.Range(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	w := &Writer{
		Range:     r,
		Space:     space,
		Generator: midi.Generator{},
		Backend:   archive.NewTar(&buf, paths),
		ChunkSize: 16,
	}
	res := w.Run(ctx)
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Entries != 16 {
		t.Fatalf("Entries = %d, want one chunk", res.Entries)
	}
	if n := len(entries(t, buf.Bytes())); n != 16 {
		t.Fatalf("archive holds %d entries", n)
	}
}
