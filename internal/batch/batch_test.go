package batch

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"atm/internal/archive"
	"atm/internal/artifact"
	"atm/internal/lookup"
	"atm/internal/manifest"
	"atm/internal/melody"
	"atm/internal/midi"
	"atm/internal/output"
	"atm/internal/partition"
	"atm/internal/pathgen"
	"atm/internal/publish"
)

func octave(t *testing.T) melody.Alphabet {
	t.Helper()
	a, err := melody.ParseAlphabet("C4,D4,E4,F4,G4,A4,B4,C5")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

type shardEntry struct {
	name string
	data []byte
}

// shardEntries returns every tar header of one shard file in write order.
func shardEntries(t *testing.T, path string) []shardEntry {
	t.Helper()
	rc, err := output.OpenReader(path, output.DetectCompression(path))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	var out []shardEntry
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, shardEntry{name: hdr.Name, data: data})
	}
}

// readShard returns entry name -> payload for one shard file. A name
// written twice fails the test.
func readShard(t *testing.T, path string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, e := range shardEntries(t, path) {
		if _, dup := out[e.name]; dup {
			t.Fatalf("%s: entry %q written twice", path, e.name)
		}
		out[e.name] = e.data
	}
	return out
}

func TestOctaveEndToEnd(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Alphabet:         octave(t),
		Length:           3,
		Shards:           4,
		Dir:              dir,
		Paths:            pathgen.Config{Depth: pathgen.AutoDepth},
		ChunkSize:        32,
		ProgressInterval: 1,
	}
	report, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if report.Entries() != 512 {
		t.Fatalf("Entries() = %d, want 512", report.Entries())
	}

	man, err := manifest.Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !man.Complete() || man.Total != 512 || len(man.Results) != 4 {
		t.Fatalf("manifest = %+v", man)
	}
	lopts, err := lookup.OptionsFromManifest(man)
	if err != nil {
		t.Fatal(err)
	}
	loc, err := lookup.New(lopts)
	if err != nil {
		t.Fatal(err)
	}

	var total int
	for _, res := range man.Results {
		if res.Entries != 128 || res.Hi-res.Lo != 128 {
			t.Fatalf("shard %d: %+v", res.Shard, res)
		}
		entries := readShard(t, filepath.Join(dir, res.File))
		total += len(entries)
		for k := res.Lo; k < res.Hi; k++ {
			m, _ := loc.Space().Decode(k)
			l, err := loc.Locate(m)
			if err != nil {
				t.Fatal(err)
			}
			if l.Shard != res.Shard {
				t.Fatalf("%s: lookup says shard %d, written to %d", m, l.Shard, res.Shard)
			}
			data, ok := entries[l.Path]
			if !ok {
				t.Fatalf("%s: %q missing from shard %d", m, l.Path, res.Shard)
			}
			if !bytes.Equal(data, midi.Encode(m)) {
				t.Fatalf("%s: payload mismatch", m)
			}
		}
	}
	if total != 512 {
		t.Fatalf("archives hold %d entries, want 512", total)
	}

	first, _ := melody.ParseMelody("C4,C4,C4")
	last, _ := melody.ParseMelody("C5,C5,C5")
	if l, _ := loc.Locate(first); l.Shard != 0 {
		t.Errorf("C4,C4,C4 in shard %d", l.Shard)
	}
	if l, _ := loc.Locate(last); l.Shard != 3 {
		t.Errorf("C5,C5,C5 in shard %d", l.Shard)
	}
}

func TestRepeatedPitchAlphabet(t *testing.T) {
	alphabet, err := melody.ParseAlphabet("C4,C4,D4")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	opts := Options{Alphabet: alphabet, Length: 2, Shards: 1, Dir: dir}
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	man, err := manifest.Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	lopts, err := lookup.OptionsFromManifest(man)
	if err != nil {
		t.Fatal(err)
	}
	loc, err := lookup.New(lopts)
	if err != nil {
		t.Fatal(err)
	}

	entries := shardEntries(t, filepath.Join(dir, man.Results[0].File))
	if len(entries) != 9 {
		t.Fatalf("%d tar headers, want 9", len(entries))
	}
	for k, e := range entries {
		l, err := loc.LocateIndex(uint64(k))
		if err != nil {
			t.Fatal(err)
		}
		if e.name != l.Path {
			t.Fatalf("header %d = %q, want %q", k, e.name, l.Path)
		}
		m, _ := loc.Space().Decode(uint64(k))
		if !bytes.Equal(e.data, midi.Encode(m)) {
			t.Fatalf("header %d: payload is not %s", k, m)
		}
	}
	if len(readShard(t, filepath.Join(dir, man.Results[0].File))) != 9 {
		t.Fatal("entry names collide")
	}

	// Lookup resolves the repeated pitch to its first position.
	m, _ := melody.ParseMelody("C4,C4")
	if l, _ := loc.Locate(m); l.Index != 0 || l.Path != "0.mid" {
		t.Fatalf("Locate(C4,C4) = %+v", l)
	}
}

func TestBatchedZstdEndToEnd(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), Options{
		Alphabet:    octave(t),
		Length:      3,
		Shards:      3,
		Dir:         dir,
		Backend:     archive.KindBatched,
		BatchSize:   4,
		Compression: output.CompressionZstd,
		Paths:       pathgen.Config{Scheme: pathgen.SchemeHash, MaxFiles: 8, Depth: pathgen.AutoDepth},
		Parallelism: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	man, err := manifest.Read(filepath.Join(dir, manifest.FileName))
	if err != nil {
		t.Fatal(err)
	}
	lopts, _ := lookup.OptionsFromManifest(man)
	loc, err := lookup.New(lopts)
	if err != nil {
		t.Fatal(err)
	}

	for _, res := range man.Results {
		batches := readShard(t, filepath.Join(dir, res.File))
		inner := make(map[string]map[string][]byte)
		for name, data := range batches {
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				t.Fatal(err)
			}
			inner[name] = make(map[string][]byte)
			tr := tar.NewReader(zr)
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatal(err)
				}
				body, _ := io.ReadAll(tr)
				inner[name][hdr.Name] = body
			}
		}
		for k := res.Lo; k < res.Hi; k++ {
			m, _ := loc.Space().Decode(k)
			l, err := loc.Locate(m)
			if err != nil {
				t.Fatal(err)
			}
			if l.Shard != res.Shard {
				t.Fatalf("index %d: shard %d, want %d", k, l.Shard, res.Shard)
			}
			if !bytes.Equal(inner[l.Path][l.Inner], midi.Encode(m)) {
				t.Fatalf("index %d: %s/%s missing or wrong", k, l.Path, l.Inner)
			}
		}
	}
}

func TestShardFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	poison, _ := melody.ParseMelody("E4,C4,C4") // index 128, first entry of shard 1
	gen := artifact.GeneratorFunc(func(m melody.Melody) (artifact.Artifact, error) {
		if m.Equal(poison) {
			return artifact.Artifact{}, errors.New("refused")
		}
		return midi.Generator{}.Generate(m)
	})
	report, err := Run(context.Background(), Options{
		Alphabet:  octave(t),
		Length:    3,
		Shards:    4,
		Dir:       dir,
		Generator: gen,
	})
	if !errors.Is(err, ErrShardFailed) {
		t.Fatalf("err = %v, want ErrShardFailed", err)
	}
	if report == nil {
		t.Fatal("no report for a run that started")
	}
	for _, res := range report.Results {
		if res.Range.Shard == 1 {
			if res.OK() {
				t.Fatal("shard 1 succeeded")
			}
			continue
		}
		if !res.OK() || res.Entries != 128 {
			t.Fatalf("sibling shard %d: %+v", res.Range.Shard, res)
		}
	}

	man, err := manifest.Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if man.Complete() || man.Results[1].Error == "" {
		t.Fatalf("manifest does not record the failure: %+v", man.Results[1])
	}
	// The partial archive is kept, footer and all.
	if entries := readShard(t, filepath.Join(dir, man.Results[1].File)); len(entries) != 0 {
		t.Fatalf("partial shard holds %d entries", len(entries))
	}
}

func TestInvalidConfigurationTouchesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	for name, opts := range map[string]Options{
		"zero shards":  {Alphabet: octave(t), Length: 3, Dir: dir},
		"zero length":  {Alphabet: octave(t), Shards: 2, Dir: dir},
		"no alphabet":  {Length: 3, Shards: 2, Dir: dir},
		"bad backend":  {Alphabet: octave(t), Length: 3, Shards: 2, Dir: dir, Backend: "cpio"},
		"bad codec":    {Alphabet: octave(t), Length: 3, Shards: 2, Dir: dir, Compression: "lzma"},
		"no directory": {Alphabet: octave(t), Length: 3, Shards: 2},
		"gzip level":   {Alphabet: octave(t), Length: 3, Shards: 2, Dir: dir, Compression: output.CompressionGzip, Level: 11},
		"brotli level": {Alphabet: octave(t), Length: 3, Shards: 2, Dir: dir, Compression: output.CompressionBrotli, Level: 12},
		"batch level":  {Alphabet: octave(t), Length: 3, Shards: 2, Dir: dir, Backend: archive.KindBatched, Compression: output.CompressionZstd, Level: -5},
	} {
		_, err := Run(context.Background(), opts)
		if !errors.Is(err, partition.ErrInvalidConfiguration) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("output directory created for invalid runs: %v", err)
	}
}

func TestRunRefusesLockedDirectory(t *testing.T) {
	dir := t.TempDir()
	lock, err := output.LockDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()
	_, err = Run(context.Background(), Options{Alphabet: octave(t), Length: 2, Shards: 2, Dir: dir})
	if !errors.Is(err, output.ErrDirectoryLocked) {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishEachShard(t *testing.T) {
	dir := t.TempDir()
	mirror := t.TempDir()
	_, err := Run(context.Background(), Options{
		Alphabet:    octave(t),
		Length:      2,
		Shards:      3,
		Dir:         dir,
		Compression: output.CompressionGzip,
		Publisher:   publish.NewDir(mirror),
	})
	if err != nil {
		t.Fatal(err)
	}
	man, err := manifest.Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range man.Results {
		if res.Published == "" {
			t.Fatalf("shard %d not published", res.Shard)
		}
		want, _ := os.ReadFile(filepath.Join(dir, res.File))
		got, err := os.ReadFile(filepath.Join(mirror, res.File))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("shard %d mirror differs", res.Shard)
		}
	}
}
