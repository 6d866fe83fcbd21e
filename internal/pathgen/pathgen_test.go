package pathgen

import (
	"errors"
	"path"
	"testing"

	"atm/internal/codec"
	"atm/internal/melody"
	"atm/internal/partition"
)

func space(t *testing.T, notes string, length int) *codec.Space {
	t.Helper()
	a, err := melody.ParseAlphabet(notes)
	if err != nil {
		t.Fatal(err)
	}
	s, err := codec.NewSpace(a, length)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

const octave = "C4,D4,E4,F4,G4,A4,B4,C5"

func TestAutoDepth(t *testing.T) {
	tests := []struct {
		total, maxFiles uint64
		want            int
	}{
		{1, 4096, 0},
		{4096, 4096, 0},
		{4097, 4096, 1},
		{4096 * 4096, 4096, 1},
		{4096*4096 + 1, 4096, 2},
		{1 << 30, 4096, 2},
		{512, 8, 2},
		{513, 8, 3},
	}
	for _, tt := range tests {
		if got := autoDepth(tt.total, tt.maxFiles); got != tt.want {
			t.Errorf("autoDepth(%d, %d) = %d, want %d", tt.total, tt.maxFiles, got, tt.want)
		}
	}
}

func TestIndexPathsFlat(t *testing.T) {
	s := space(t, octave, 3)
	g, err := New(s, Config{Scheme: SchemeIndex, Depth: AutoDepth})
	if err != nil {
		t.Fatal(err)
	}
	if g.Layout().Depth != 0 {
		t.Fatalf("depth = %d, want flat", g.Layout().Depth)
	}
	for _, tc := range []struct {
		melody, want string
	}{
		{"C4,C4,C4", "000.mid"},
		{"C4,D4,C4", "008.mid"},
		{"C5,C5,C5", "511.mid"},
	} {
		m, _ := melody.ParseMelody(tc.melody)
		got, err := g.Path(m)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("Path(%s) = %q, want %q", tc.melody, got, tc.want)
		}
	}
}

func TestIndexPathsNested(t *testing.T) {
	// 512 entries, fan-out 8, depth 2: top = index/64, mid = (index/8)%8.
	s := space(t, octave, 3)
	g, err := New(s, Config{MaxFiles: 8, Depth: 2})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := melody.ParseMelody("E4,C4,B4") // 2*64 + 0*8 + 6 = 134
	got, err := g.Path(m)
	if err != nil {
		t.Fatal(err)
	}
	if got != "2/0/134.mid" {
		t.Fatalf("Path = %q", got)
	}
	if gs := g.Layout().GroupStart(134); gs != 128 {
		t.Fatalf("GroupStart(134) = %d, want 128", gs)
	}
}

func TestPathsUniqueAcrossSpace(t *testing.T) {
	for _, scheme := range []Scheme{SchemeIndex, SchemeHash} {
		t.Run(string(scheme), func(t *testing.T) {
			s := space(t, octave, 4)
			g, err := New(s, Config{Scheme: scheme, MaxFiles: 16, Depth: AutoDepth})
			if err != nil {
				t.Fatal(err)
			}
			seen := make(map[string]uint64, s.Total())
			dirCount := make(map[string]uint64)
			for k := range s.Total() {
				m, _ := s.Decode(k)
				p, err := g.Path(m)
				if err != nil {
					t.Fatal(err)
				}
				if prev, dup := seen[p]; dup {
					t.Fatalf("indices %d and %d share path %q", prev, k, p)
				}
				seen[p] = k
				dirCount[path.Dir(p)]++
			}
			for dir, n := range dirCount {
				if n > 16 {
					t.Errorf("%s holds %d entries, max 16", dir, n)
				}
			}
		})
	}
}

func TestPathsIgnoreSharding(t *testing.T) {
	// The same melody must get the same path whatever shard count is used.
	s := space(t, octave, 3)
	g, err := New(s, Config{MaxFiles: 8, Depth: AutoDepth})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := melody.ParseMelody("G4,A4,B4")
	want, _ := g.Path(m)
	for _, shards := range []int{1, 3, 4, 7} {
		_, plan, err := partition.New(s.Alphabet(), s.Length(), shards)
		if err != nil {
			t.Fatal(err)
		}
		idx, _ := s.Encode(m)
		if _, _, err := plan.ShardOf(idx); err != nil {
			t.Fatal(err)
		}
		got, _ := g.Path(m)
		if got != want {
			t.Fatalf("P=%d: path %q, want %q", shards, got, want)
		}
	}
}

func TestHashPaths(t *testing.T) {
	s := space(t, octave, 3)
	g, err := New(s, Config{Scheme: SchemeHash})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := melody.ParseMelody("C4,D4,E4")
	got, err := g.Path(m)
	if err != nil {
		t.Fatal(err)
	}
	if got != "606264.mid" {
		t.Fatalf("Path = %q", got)
	}
}

func TestHashRejectsCollidingAlphabets(t *testing.T) {
	tests := []struct {
		name  string
		notes string
	}{
		{"enharmonic", "C#4,Db4,E4"},
		{"duplicate", "C4,D4,C4"},
		{"mixed digit counts", "A6,C8"}, // 93 and 108
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := space(t, tt.notes, 2)
			_, err := New(s, Config{Scheme: SchemeHash})
			if !errors.Is(err, ErrPathGeneration) {
				t.Fatalf("err = %v, want ErrPathGeneration", err)
			}
		})
	}
}

func TestPathErrors(t *testing.T) {
	s := space(t, octave, 3)
	g, err := New(s, Config{})
	if err != nil {
		t.Fatal(err)
	}
	m, _ := melody.ParseMelody("C4,F#4,C4")
	if _, err := g.Path(m); !errors.Is(err, ErrPathGeneration) || !errors.Is(err, codec.ErrUnknownSymbol) {
		t.Fatalf("unknown pitch: err = %v", err)
	}

	if _, err := g.PathForIndex(s.Total()); !errors.Is(err, ErrPathGeneration) || !errors.Is(err, codec.ErrIndexOutOfRange) {
		t.Fatalf("index past the space: err = %v", err)
	}

	if _, err := New(s, Config{Scheme: "bogus"}); !errors.Is(err, ErrPathGeneration) {
		t.Fatalf("bogus scheme: err = %v", err)
	}
	if _, err := New(s, Config{MaxFiles: 1}); !errors.Is(err, ErrPathGeneration) {
		t.Fatalf("fan-out 1: err = %v", err)
	}
	if _, err := New(s, Config{MaxFiles: 4096, Depth: 6}); !errors.Is(err, ErrPathGeneration) {
		t.Fatalf("overflowing depth: err = %v", err)
	}
}

func TestRepeatedPitchPaths(t *testing.T) {
	// C4 appears at positions 0 and 1, so indexes 0, 1, 3 and 4 all decode
	// to C4,C4 and encode back to 0.
	s := space(t, "C4,C4,D4", 2)
	g, err := New(s, Config{})
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]uint64)
	for k := range s.Total() {
		p, err := g.PathForIndex(k)
		if err != nil {
			t.Fatal(err)
		}
		if prev, ok := seen[p]; ok {
			t.Fatalf("indexes %d and %d both named %q", prev, k, p)
		}
		seen[p] = k
	}

	m, _ := melody.ParseMelody("C4,C4")
	got, err := g.Path(m)
	if err != nil {
		t.Fatal(err)
	}
	if got != "0.mid" {
		t.Fatalf("Path(C4,C4) = %q, want first-position name 0.mid", got)
	}
}

func TestSegmentPadding(t *testing.T) {
	l, err := NewLayout(100000, 100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if dir := l.Dir(12345); dir != "1/23" {
		t.Fatalf("Dir(12345) = %q", dir)
	}
	if dir := l.Dir(10005); dir != "1/00" {
		t.Fatalf("Dir(10005) = %q", dir)
	}
	if name := l.FileName(7); name != "00007.mid" {
		t.Fatalf("FileName(7) = %q", name)
	}
}
