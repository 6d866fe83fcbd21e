// Package batch runs a full corpus generation: one shard writer per shard,
// each owning its own output file, joined at the end into a manifest.
//
// Shards share nothing. A failing shard does not stop its siblings; the run
// fails if any shard fails, and every failure is reported.
package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"atm/internal/archive"
	"atm/internal/artifact"
	"atm/internal/codec"
	"atm/internal/logging"
	"atm/internal/manifest"
	"atm/internal/melody"
	"atm/internal/midi"
	"atm/internal/output"
	"atm/internal/partition"
	"atm/internal/pathgen"
	"atm/internal/publish"
	"atm/internal/shard"
	"atm/internal/sysmetrics"
)

var ErrShardFailed = errors.New("shard failed")

// DefaultPrefix names shard files when no prefix is given.
const DefaultPrefix = "atm"

// Options configures a run. Zero values select the documented defaults.
type Options struct {
	Alphabet melody.Alphabet
	Length   int
	Shards   int

	Dir    string
	Prefix string

	Backend     archive.Kind
	BatchSize   int
	Compression output.Compression
	Level       int // 0 selects output.DefaultLevel
	Paths       pathgen.Config
	Mode        fs.FileMode

	// Parallelism caps concurrently running shards; 0 runs all at once.
	Parallelism int
	// ChunkSize is the number of entries between progress checks.
	ChunkSize uint64
	// ProgressInterval is the minimum time between progress log lines per
	// shard; 0 disables progress logging.
	ProgressInterval time.Duration

	// Generator renders melodies; nil selects MIDI.
	Generator artifact.Generator
	// Publisher, when set, receives each sealed shard file.
	Publisher publish.Publisher

	Logger *slog.Logger
}

// Report is the outcome of a run.
type Report struct {
	Manifest *manifest.Manifest
	Results  []shard.Result
	Duration time.Duration
}

// Entries returns the number of entries written across all shards.
func (r *Report) Entries() uint64 {
	var n uint64
	for _, res := range r.Results {
		n += res.Entries
	}
	return n
}

type run struct {
	opts   Options
	space  *codec.Space
	plan   partition.Plan
	paths  pathgen.Generator
	man    *manifest.Manifest
	logger *slog.Logger
}

// Run validates opts, writes every shard and the manifest, and returns the
// report. The error joins every shard failure; the report is returned
// whenever the run got far enough to start shards.
func Run(ctx context.Context, opts Options) (*Report, error) {
	r, err := prepare(opts)
	if err != nil {
		return nil, err
	}

	lock, err := output.LockDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	start := time.Now()
	ranges := r.plan.Ranges()
	r.logger.Info("batch started",
		"run", r.man.RunID,
		"total", r.plan.Total(),
		"shards", r.plan.Shards(),
		"shard_size", r.plan.ShardSize(),
		"parallelism", cmp.Or(opts.Parallelism, len(ranges)),
	)

	results := make([]shard.Result, len(ranges))
	r.man.Results = make([]manifest.Shard, len(ranges))

	var g errgroup.Group
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}
	for i, rng := range ranges {
		g.Go(func() error {
			results[i], r.man.Results[i] = r.runShard(ctx, rng)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Manifest: r.man, Results: results, Duration: time.Since(start)}

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%w: %d: %w", ErrShardFailed, res.Range.Shard, res.Err))
		}
	}
	if err := manifest.Write(opts.Dir, r.man); err != nil {
		errs = append(errs, fmt.Errorf("write manifest: %w", err))
	}

	runErr := errors.Join(errs...)
	if runErr != nil {
		r.logger.Error("batch failed", "run", r.man.RunID, "failed", len(errs), "duration", report.Duration)
	} else {
		r.logger.Info("batch finished", "run", r.man.RunID, "entries", report.Entries(), "duration", report.Duration)
	}
	return report, runErr
}

// prepare validates every parameter before any file is touched.
func prepare(opts Options) (*run, error) {
	space, plan, err := partition.New(opts.Alphabet, opts.Length, opts.Shards)
	if err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: no output directory", partition.ErrInvalidConfiguration)
	}
	if opts.Parallelism < 0 {
		return nil, fmt.Errorf("%w: parallelism %d", partition.ErrInvalidConfiguration, opts.Parallelism)
	}
	kind, err := archive.ParseKind(string(opts.Backend))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", partition.ErrInvalidConfiguration, err)
	}
	opts.Backend = kind
	opts.Compression, err = output.ParseCompression(string(opts.Compression))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", partition.ErrInvalidConfiguration, err)
	}
	if err := archive.ValidateMode(opts.Mode); err != nil {
		return nil, fmt.Errorf("%w: %w", partition.ErrInvalidConfiguration, err)
	}
	opts.Prefix = cmp.Or(opts.Prefix, DefaultPrefix)
	opts.Level = cmp.Or(opts.Level, output.DefaultLevel)
	if err := output.ValidateLevel(opts.Compression, opts.Level); err != nil {
		return nil, fmt.Errorf("%w: %w", partition.ErrInvalidConfiguration, err)
	}
	if opts.Backend == archive.KindBatched {
		// Batches are always gzip, at the stream level capped to gzip's range.
		if err := output.ValidateLevel(output.CompressionGzip, min(opts.Level, 9)); err != nil {
			return nil, fmt.Errorf("%w: batch %w", partition.ErrInvalidConfiguration, err)
		}
	}
	opts.BatchSize = cmp.Or(opts.BatchSize, archive.DefaultBatchSize)
	if opts.Generator == nil {
		opts.Generator = midi.Generator{Mode: opts.Mode}
	}

	paths, err := pathgen.New(space, opts.Paths)
	if err != nil {
		return nil, err
	}

	man := manifest.New()
	man.Alphabet = space.Alphabet().Strings()
	man.Length = space.Length()
	man.Shards = plan.Shards()
	man.Prefix = opts.Prefix
	man.Total = plan.Total()
	man.Paths = string(cmp.Or(opts.Paths.Scheme, pathgen.SchemeIndex))
	man.MaxFiles = paths.Layout().MaxFiles
	man.Depth = paths.Layout().Depth
	man.Backend = string(opts.Backend)
	if opts.Backend == archive.KindBatched {
		man.BatchSize = opts.BatchSize
	}
	man.Compression = string(opts.Compression)
	man.Level = opts.Level

	return &run{
		opts:   opts,
		space:  space,
		plan:   plan,
		paths:  paths,
		man:    man,
		logger: logging.Default(opts.Logger).With("component", "batch"),
	}, nil
}

func (r *run) newBackend(f *output.File) (archive.Backend, error) {
	if r.opts.Backend == archive.KindBatched {
		return archive.NewBatched(f, r.paths, archive.BatchOptions{
			Size:  r.opts.BatchSize,
			Level: min(r.opts.Level, 9),
			Mode:  r.opts.Mode,
		})
	}
	return archive.NewTar(f, r.paths), nil
}

// runShard writes one shard file and, on success, publishes it. The file
// is always closed so a partial archive lands under its final name.
func (r *run) runShard(ctx context.Context, rng partition.Range) (shard.Result, manifest.Shard) {
	name := output.FileName(r.opts.Prefix, rng.Shard, r.opts.Compression)
	entry := manifest.Shard{Shard: rng.Shard, Lo: rng.Lo, Hi: rng.Hi, File: name}
	fail := func(res shard.Result, err error) (shard.Result, manifest.Shard) {
		res.Err = err
		entry.Entries = res.Entries
		entry.Error = err.Error()
		r.logger.Warn("shard failed", "shard", rng.Shard, "entries", res.Entries, "error", err)
		return res, entry
	}

	f, err := output.Create(r.opts.Dir, name, output.Options{
		Compression: r.opts.Compression,
		Level:       r.opts.Level,
	})
	if err != nil {
		return fail(shard.Result{Range: rng}, err)
	}
	backend, err := r.newBackend(f)
	if err != nil {
		_ = f.Close()
		return fail(shard.Result{Range: rng}, err)
	}

	w := &shard.Writer{
		Range:     rng,
		Space:     r.space,
		Generator: r.opts.Generator,
		Backend:   backend,
		ChunkSize: r.opts.ChunkSize,
		Progress:  r.progress(),
		Logger:    r.opts.Logger,
	}
	res := w.Run(ctx)
	closeErr := f.Close()
	entry.Bytes = f.Size()
	entry.Digest = f.Digest()
	if res.Err != nil || closeErr != nil {
		return fail(res, errors.Join(res.Err, closeErr))
	}
	entry.Entries = res.Entries

	if r.opts.Publisher != nil {
		url, err := r.opts.Publisher.Publish(ctx, name, f.Path())
		if err != nil {
			return fail(res, fmt.Errorf("publish: %w", err))
		}
		entry.Published = url
		r.logger.Info("shard published", "shard", rng.Shard, "url", url)
	}

	r.logger.Info("shard sealed",
		"shard", rng.Shard,
		"entries", res.Entries,
		"bytes", entry.Bytes,
		"duration", res.Duration,
	)
	return res, entry
}

// progress returns a per-shard callback that logs at most once per
// ProgressInterval.
func (r *run) progress() shard.Progress {
	if r.opts.ProgressInterval <= 0 {
		return nil
	}
	every := &rate.Sometimes{Interval: r.opts.ProgressInterval}
	return func(rng partition.Range, done uint64) {
		every.Do(func() {
			r.logger.Info("shard progress",
				"shard", rng.Shard,
				"done", done,
				"of", rng.Len(),
				"sys", sysmetrics.Take(),
			)
		})
	}
}
