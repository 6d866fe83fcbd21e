// Package lookup locates a melody inside a sharded corpus without
// generating or reading anything.
//
// A Locator composes the same index codec, partition plan and path
// generator the batch writer uses, so its answers are byte-identical to the
// names the writer produced for the same parameters.
package lookup

import (
	"fmt"

	"atm/internal/archive"
	"atm/internal/codec"
	"atm/internal/manifest"
	"atm/internal/melody"
	"atm/internal/partition"
	"atm/internal/pathgen"
)

// Options are the write-side parameters a lookup must agree with.
type Options struct {
	Alphabet  melody.Alphabet
	Length    int
	Shards    int
	Paths     pathgen.Config
	Backend   archive.Kind
	BatchSize int
}

// Location is where a melody lives.
type Location struct {
	Index  uint64
	Shard  int
	Offset uint64
	// Path is the entry name in the shard archive. For batched archives it
	// names the batch, and Inner names the file inside that batch.
	Path  string
	Inner string
}

// Locator answers repeated lookups for one set of Options.
type Locator struct {
	space     *codec.Space
	plan      partition.Plan
	paths     pathgen.Generator
	backend   archive.Kind
	batchSize uint64
}

// New validates opts and builds a Locator.
func New(opts Options) (*Locator, error) {
	space, plan, err := partition.New(opts.Alphabet, opts.Length, opts.Shards)
	if err != nil {
		return nil, err
	}
	paths, err := pathgen.New(space, opts.Paths)
	if err != nil {
		return nil, err
	}
	backend, err := archive.ParseKind(string(opts.Backend))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", partition.ErrInvalidConfiguration, err)
	}
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = archive.DefaultBatchSize
	}
	if batchSize < 0 {
		return nil, fmt.Errorf("%w: batch size %d", partition.ErrInvalidConfiguration, batchSize)
	}
	return &Locator{
		space:     space,
		plan:      plan,
		paths:     paths,
		backend:   backend,
		batchSize: uint64(batchSize),
	}, nil
}

// Locate returns the location of m. When the alphabet repeats a pitch, m is
// found under the first position of each symbol.
func (l *Locator) Locate(m melody.Melody) (Location, error) {
	index, err := l.space.Encode(m)
	if err != nil {
		return Location{}, err
	}
	return l.LocateIndex(index)
}

// LocateIndex returns the location of the entry written for index.
func (l *Locator) LocateIndex(index uint64) (Location, error) {
	shard, offset, err := l.plan.ShardOf(index)
	if err != nil {
		return Location{}, err
	}
	p, err := l.paths.PathForIndex(index)
	if err != nil {
		return Location{}, err
	}
	loc := Location{Index: index, Shard: shard, Offset: offset, Path: p}
	if l.backend == archive.KindBatched {
		r, err := l.plan.Range(shard)
		if err != nil {
			return Location{}, err
		}
		start := max(l.paths.Layout().GroupStart(index), r.Lo)
		dir, file := archive.SplitPath(p)
		loc.Path = archive.BatchName(dir, (index-start)/l.batchSize)
		loc.Inner = file
	}
	return loc, nil
}

// Space returns the index space the locator was built over.
func (l *Locator) Space() *codec.Space { return l.space }

// Plan returns the shard plan.
func (l *Locator) Plan() partition.Plan { return l.plan }

// Locate is a one-shot lookup.
func Locate(m melody.Melody, opts Options) (Location, error) {
	l, err := New(opts)
	if err != nil {
		return Location{}, err
	}
	return l.Locate(m)
}

// OptionsFromManifest recovers the write-side parameters of a run.
func OptionsFromManifest(m *manifest.Manifest) (Options, error) {
	alphabet, err := m.ParsedAlphabet()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Alphabet: alphabet,
		Length:   m.Length,
		Shards:   m.Shards,
		Paths: pathgen.Config{
			Scheme:   pathgen.Scheme(m.Paths),
			MaxFiles: m.MaxFiles,
			Depth:    m.Depth,
		},
		Backend:   archive.Kind(m.Backend),
		BatchSize: m.BatchSize,
	}, nil
}
