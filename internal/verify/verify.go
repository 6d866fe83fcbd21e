// Package verify checks a written corpus against its manifest.
//
// Every shard archive is decompressed and walked in order. Entry k of shard
// s must carry the name lookup computes for global index lo(s)+k and the
// bytes the MIDI encoder produces for that melody. Batched archives are
// checked one level down, inside each batch.
package verify

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"atm/internal/archive"
	"atm/internal/logging"
	"atm/internal/lookup"
	"atm/internal/manifest"
	"atm/internal/midi"
	"atm/internal/output"
)

var (
	ErrMismatch   = errors.New("archive does not match manifest")
	ErrIncomplete = errors.New("run did not complete")
	ErrBadPattern = errors.New("bad match pattern")
)

// maxProblems bounds the mismatches recorded per shard.
const maxProblems = 10

// Options configures a verification.
type Options struct {
	// Dir holds the shard files.
	Dir         string
	Parallelism int
	Logger      *slog.Logger
}

// Shard is the verdict for one shard file.
type Shard struct {
	Shard    int
	File     string
	Expected uint64
	Entries  uint64
	DigestOK bool
	Problems []string
	Err      error
}

// OK reports whether the shard verified cleanly.
func (s Shard) OK() bool {
	return s.Err == nil && s.DigestOK && len(s.Problems) == 0 && s.Entries == s.Expected
}

// Report collects the per-shard verdicts.
type Report struct {
	RunID    string
	Shards   []Shard
	Duration time.Duration
}

// OK reports whether every shard verified.
func (r *Report) OK() bool {
	for _, s := range r.Shards {
		if !s.OK() {
			return false
		}
	}
	return true
}

type verifier struct {
	man *manifest.Manifest
	loc *lookup.Locator
	dir string
}

// Run verifies every shard listed in man. The returned error wraps
// ErrMismatch when any shard fails, and ErrIncomplete when the manifest
// itself records failed shards.
func Run(ctx context.Context, man *manifest.Manifest, opts Options) (*Report, error) {
	lopts, err := lookup.OptionsFromManifest(man)
	if err != nil {
		return nil, err
	}
	loc, err := lookup.New(lopts)
	if err != nil {
		return nil, err
	}
	v := &verifier{man: man, loc: loc, dir: opts.Dir}
	logger := logging.Default(opts.Logger).With("component", "verify")

	start := time.Now()
	report := &Report{RunID: man.RunID, Shards: make([]Shard, len(man.Results))}

	g, ctx := errgroup.WithContext(ctx)
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}
	for i, res := range man.Results {
		g.Go(func() error {
			report.Shards[i] = v.shard(ctx, res)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Duration = time.Since(start)

	var errs []error
	for _, s := range report.Shards {
		if s.OK() {
			continue
		}
		logger.Warn("shard failed verification", "shard", s.Shard, "file", s.File, "problems", len(s.Problems), "error", s.Err)
		errs = append(errs, fmt.Errorf("%w: shard %d", ErrMismatch, s.Shard))
	}
	if !man.Complete() {
		errs = append(errs, ErrIncomplete)
	}
	logger.Info("verification finished", "run", man.RunID, "shards", len(report.Shards), "failed", len(errs), "duration", report.Duration)
	return report, errors.Join(errs...)
}

func (v *verifier) shard(ctx context.Context, res manifest.Shard) Shard {
	out := Shard{Shard: res.Shard, File: res.File, Expected: res.Hi - res.Lo}
	path := filepath.Join(v.dir, res.File)

	digest, err := fileDigest(path)
	if err != nil {
		out.Err = err
		return out
	}
	out.DigestOK = digest == res.Digest

	rc, err := output.OpenReader(path, output.Compression(v.man.Compression))
	if err != nil {
		out.Err = err
		return out
	}
	defer func() { _ = rc.Close() }()

	c := &cursor{v: v, next: res.Lo, hi: res.Hi, shard: res.Shard, out: &out}
	if archive.Kind(v.man.Backend) == archive.KindBatched {
		out.Err = c.batches(ctx, rc)
	} else {
		out.Err = c.entries(ctx, tar.NewReader(rc), "")
	}
	if out.Entries != res.Entries {
		out.problem("manifest records %d entries, archive holds %d", res.Entries, out.Entries)
	}
	return out
}

func (s *Shard) problem(format string, args ...any) {
	if len(s.Problems) < maxProblems {
		s.Problems = append(s.Problems, fmt.Sprintf(format, args...))
	}
}

// cursor walks a shard's index range in step with its archive entries.
type cursor struct {
	v     *verifier
	next  uint64
	hi    uint64
	shard int
	out   *Shard
}

func (c *cursor) entries(ctx context.Context, tr *tar.Reader, batch string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if c.out.Entries%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		c.check(hdr.Name, batch, data)
	}
}

func (c *cursor) batches(ctx context.Context, r io.Reader) error {
	tr := tar.NewReader(r)
	zr := new(gzip.Reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := zr.Reset(tr); err != nil {
			return fmt.Errorf("batch %s: %w", hdr.Name, err)
		}
		if err := c.entries(ctx, tar.NewReader(zr), hdr.Name); err != nil {
			return fmt.Errorf("batch %s: %w", hdr.Name, err)
		}
	}
}

func (c *cursor) check(name, batch string, data []byte) {
	c.out.Entries++
	index := c.next
	c.next++
	if index >= c.hi {
		c.out.problem("entry %q beyond shard range", name)
		return
	}
	m, err := c.v.loc.Space().Decode(index)
	if err != nil {
		c.out.problem("index %d: %v", index, err)
		return
	}
	loc, err := c.v.loc.LocateIndex(index)
	if err != nil {
		c.out.problem("index %d: %v", index, err)
		return
	}
	if loc.Shard != c.shard {
		c.out.problem("index %d belongs to shard %d", index, loc.Shard)
	}
	want, got := loc.Path, name
	if batch != "" {
		want, got = loc.Path+"/"+loc.Inner, batch+"/"+name
	}
	if got != want {
		c.out.problem("index %d: entry %q, want %q", index, got, want)
		return
	}
	if !bytes.Equal(data, midi.Encode(m)) {
		c.out.problem("index %d: %s payload differs", index, m)
	}
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func newMatcher(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	return func(name string) bool {
		ok, _ := doublestar.Match(pattern, name)
		return ok
	}, nil
}

// Entry is one archive member listed by Inspect.
type Entry struct {
	// Batch names the enclosing batch when descending into batched archives.
	Batch string
	Name  string
	Size  int64
	Mode  int64
}

// Path is the entry's full name, including its batch.
func (e Entry) Path() string {
	if e.Batch == "" {
		return e.Name
	}
	return e.Batch + "/" + e.Name
}

// InspectOptions controls Inspect.
type InspectOptions struct {
	Compression output.Compression
	// Match is a doublestar pattern applied to Entry.Path; empty matches all.
	Match string
	// Descend lists the members of gzip-compressed batches instead of the
	// batches themselves.
	Descend bool
}

// Inspect calls fn for every entry of the archive at path that matches.
func Inspect(path string, opts InspectOptions, fn func(Entry) error) error {
	match, err := newMatcher(opts.Match)
	if err != nil {
		return err
	}
	rc, err := output.OpenReader(path, opts.Compression)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if opts.Descend && strings.HasSuffix(hdr.Name, ".tar.gz") {
			if err := inspectBatch(tr, hdr.Name, match, fn); err != nil {
				return err
			}
			continue
		}
		e := Entry{Name: hdr.Name, Size: hdr.Size, Mode: hdr.Mode}
		if match(e.Path()) {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}

func inspectBatch(r io.Reader, batch string, match func(string) bool, fn func(Entry) error) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("batch %s: %w", batch, err)
	}
	defer func() { _ = zr.Close() }()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("batch %s: %w", batch, err)
		}
		e := Entry{Batch: batch, Name: hdr.Name, Size: hdr.Size, Mode: hdr.Mode}
		if match(e.Path()) {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}
