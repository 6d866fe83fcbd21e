// Package pathgen names archive entries.
//
// Paths are derived from the melody's global index, never from the shard
// that writes it, so the lookup side can rebuild a path from the melody
// alone. Directories fan out by index so no directory holds more than
// MaxFiles entries once extracted:
//
//	<top>/<mid>/.../<file>.mid
//
// With fan-out F and depth D, segment k (1..D) is (index / F^(D-k+1)) mod F,
// except the top segment which is not reduced mod F. Depth 0 is flat.
package pathgen

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"atm/internal/codec"
	"atm/internal/melody"
	"atm/internal/midi"
)

var ErrPathGeneration = errors.New("path generation failed")

// Extension is appended to every generated file name.
const Extension = ".mid"

// DefaultMaxFiles keeps extracted directories under the size most
// filesystems handle well.
const DefaultMaxFiles = 4096

// AutoDepth selects the smallest depth for which the top directory level
// holds at most maxFiles entries.
const AutoDepth = -1

// Scheme selects the file name format.
type Scheme string

const (
	SchemeIndex Scheme = "index"
	SchemeHash  Scheme = "hash"
)

// Generator maps a melody to its archive-internal path.
//
// Path names a melody by its first-position index, which is what a lookup
// knows. PathForIndex names the entry written for one index; writers use it
// so that alphabets repeating a pitch still get one distinct entry per index.
type Generator interface {
	Path(m melody.Melody) (string, error)
	PathForIndex(index uint64) (string, error)
	Layout() Layout
}

// Config selects a naming scheme and directory fan-out.
type Config struct {
	Scheme   Scheme
	MaxFiles uint64
	Depth    int // AutoDepth, 0 (flat), or an explicit depth
}

// New builds the generator described by cfg over space.
func New(space *codec.Space, cfg Config) (Generator, error) {
	layout, err := NewLayout(space.Total(), cfg.MaxFiles, cfg.Depth)
	if err != nil {
		return nil, err
	}
	switch cfg.Scheme {
	case SchemeIndex, "":
		return &IndexGenerator{space: space, layout: layout}, nil
	case SchemeHash:
		return NewHashGenerator(space, layout)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q (must be %q or %q)", ErrPathGeneration, cfg.Scheme, SchemeIndex, SchemeHash)
	}
}

// Layout is the directory fan-out shared by all schemes.
type Layout struct {
	MaxFiles  uint64
	Depth     int
	divisors  []uint64 // F^D, F^(D-1), ..., F
	topWidth  int
	segWidth  int
	fileWidth int
}

// NewLayout computes the layout for an index space of total entries.
func NewLayout(total, maxFiles uint64, depth int) (Layout, error) {
	if maxFiles == 0 {
		maxFiles = DefaultMaxFiles
	}
	if maxFiles < 2 {
		return Layout{}, fmt.Errorf("%w: max files per directory must be at least 2, got %d", ErrPathGeneration, maxFiles)
	}
	if total == 0 {
		return Layout{}, fmt.Errorf("%w: empty index space", ErrPathGeneration)
	}
	if depth == AutoDepth {
		depth = autoDepth(total, maxFiles)
	}
	if depth < 0 {
		return Layout{}, fmt.Errorf("%w: invalid depth %d", ErrPathGeneration, depth)
	}

	divisors := make([]uint64, depth)
	for k := range depth {
		d, err := codec.Pow(maxFiles, depth-k)
		if err != nil {
			return Layout{}, fmt.Errorf("%w: depth %d too deep for fan-out %d: %w", ErrPathGeneration, depth, maxFiles, err)
		}
		divisors[k] = d
	}

	l := Layout{
		MaxFiles:  maxFiles,
		Depth:     depth,
		divisors:  divisors,
		segWidth:  digits(maxFiles - 1),
		fileWidth: digits(total - 1),
	}
	if depth > 0 {
		l.topWidth = digits((total - 1) / divisors[0])
	}
	return l, nil
}

func autoDepth(total, maxFiles uint64) int {
	depth := 0
	for n := total; n > maxFiles; depth++ {
		n = n/maxFiles + min(n%maxFiles, 1)
	}
	return depth
}

func digits(n uint64) int {
	return len(strconv.FormatUint(n, 10))
}

// Dir returns the directory part of the path for index, "" when flat.
func (l Layout) Dir(index uint64) string {
	if l.Depth == 0 {
		return ""
	}
	segs := make([]string, l.Depth)
	for k, div := range l.divisors {
		v := index / div
		width := l.topWidth
		if k > 0 {
			v %= l.MaxFiles
			width = l.segWidth
		}
		segs[k] = pad(v, width)
	}
	return strings.Join(segs, "/")
}

// GroupStart returns the first index sharing index's leaf directory.
func (l Layout) GroupStart(index uint64) uint64 {
	if l.Depth == 0 {
		return 0
	}
	return index - index%l.MaxFiles
}

// FileName renders index as a fixed-width decimal stem.
func (l Layout) FileName(index uint64) string {
	return pad(index, l.fileWidth) + Extension
}

func pad(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func join(dir, file string) string {
	if dir == "" {
		return file
	}
	return path.Join(dir, file)
}

// IndexGenerator names each entry after its zero-padded global index.
type IndexGenerator struct {
	space  *codec.Space
	layout Layout
}

func (g *IndexGenerator) Layout() Layout { return g.layout }

func (g *IndexGenerator) Path(m melody.Melody) (string, error) {
	index, err := g.space.Encode(m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPathGeneration, err)
	}
	return g.PathForIndex(index)
}

func (g *IndexGenerator) PathForIndex(index uint64) (string, error) {
	if index >= g.space.Total() {
		return "", fmt.Errorf("%w: %w: %d >= %d", ErrPathGeneration, codec.ErrIndexOutOfRange, index, g.space.Total())
	}
	return join(g.layout.Dir(index), g.layout.FileName(index)), nil
}

// HashGenerator names each entry after its MIDI hash, the concatenated
// MIDI note numbers of the melody (e.g. 606264.mid).
type HashGenerator struct {
	space  *codec.Space
	layout Layout
}

// NewHashGenerator rejects alphabets whose hashes could collide: two
// entries sharing a MIDI number, or MIDI numbers of differing digit counts
// (which make the concatenation ambiguous).
func NewHashGenerator(space *codec.Space, layout Layout) (*HashGenerator, error) {
	seen := make(map[uint8]melody.Pitch)
	width := 0
	for _, p := range space.Alphabet() {
		n := p.MIDI()
		if prev, ok := seen[n]; ok {
			return nil, fmt.Errorf("%w: %s and %s share MIDI number %d", ErrPathGeneration, prev, p, n)
		}
		seen[n] = p

		w := digits(uint64(n))
		if width == 0 {
			width = w
		} else if w != width {
			return nil, fmt.Errorf("%w: MIDI numbers of %d and %d digits make hashes ambiguous", ErrPathGeneration, width, w)
		}
	}
	return &HashGenerator{space: space, layout: layout}, nil
}

func (g *HashGenerator) Layout() Layout { return g.layout }

func (g *HashGenerator) Path(m melody.Melody) (string, error) {
	index, err := g.space.Encode(m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPathGeneration, err)
	}
	return join(g.layout.Dir(index), midi.Hash(m)+Extension), nil
}

func (g *HashGenerator) PathForIndex(index uint64) (string, error) {
	m, err := g.space.Decode(index)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPathGeneration, err)
	}
	return join(g.layout.Dir(index), midi.Hash(m)+Extension), nil
}
