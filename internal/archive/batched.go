package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/klauspost/compress/gzip"

	"atm/internal/artifact"
	"atm/internal/pathgen"
)

// DefaultBatchSize is the number of artifacts packed into one batch.
const DefaultBatchSize = 25

// BatchName returns the outer entry name of batch number n in dir.
func BatchName(dir string, n uint64) string {
	name := fmt.Sprintf("batch%d.tar.gz", n)
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// BatchOptions configures a Batched backend.
type BatchOptions struct {
	Size  int         // artifacts per batch; 0 means DefaultBatchSize
	Level int         // gzip level, 0-9; -1 selects the gzip default
	Mode  fs.FileMode // mode of the outer batch entries; 0 means 0o644
}

// Batched groups artifacts by leaf directory into gzip-compressed tar
// batches and stores each batch as one entry of the outer tar stream:
//
//	<dir>/batch<N>.tar.gz
//
// Inside a batch, artifacts are named by the file part of their path. The
// batch counter restarts at every directory boundary.
type Batched[W io.Writer] struct {
	w     W
	tw    *tar.Writer
	paths pathgen.Generator
	opts  BatchOptions
	state State

	buf     bytes.Buffer
	gz      *gzip.Writer
	inner   *tar.Writer
	pending int // artifacts in the open batch
	dir     string
	started bool
	number  uint64

	entries uint64
	batches uint64
}

// NewBatched returns an Open batched backend writing to w.
func NewBatched[W io.Writer](w W, paths pathgen.Generator, opts BatchOptions) (*Batched[W], error) {
	if opts.Size == 0 {
		opts.Size = DefaultBatchSize
	}
	if opts.Size < 0 {
		return nil, fmt.Errorf("%w: batch size %d", ErrInvalidBatch, opts.Size)
	}
	if opts.Mode == 0 {
		opts.Mode = artifact.DefaultMode
	}
	if err := ValidateMode(opts.Mode); err != nil {
		return nil, err
	}
	gz, err := gzip.NewWriterLevel(nil, opts.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	return &Batched[W]{
		w:     w,
		tw:    tar.NewWriter(w),
		paths: paths,
		opts:  opts,
		gz:    gz,
	}, nil
}

// AppendFile adds a to the open batch, first sealing the batch if a's
// directory differs from the previous artifact's or the batch is full.
func (b *Batched[W]) AppendFile(a artifact.Artifact) error {
	if b.state == Closed {
		return &IOError{Op: "append", Err: ErrClosed}
	}
	name, err := b.paths.PathForIndex(a.Index)
	if err != nil {
		return err
	}
	if err := checkArtifact(a); err != nil {
		return err
	}

	dir, file := SplitPath(name)
	switch {
	case !b.started || dir != b.dir:
		if err := b.flush(); err != nil {
			return err
		}
		b.started = true
		b.dir = dir
		b.number = 0
		b.open()
	case b.pending == b.opts.Size:
		if err := b.flush(); err != nil {
			return err
		}
		b.number++
		b.open()
	}

	if err := writeEntry(b.inner, file, a.Data, a.EffectiveMode()); err != nil {
		return err
	}
	b.pending++
	b.entries++
	return nil
}

// SplitPath splits an entry path into its directory ("" when flat) and
// file name.
func SplitPath(p string) (dir, file string) {
	dir, file = path.Split(p)
	return path.Clean("/" + dir)[1:], file
}

func (b *Batched[W]) open() {
	b.buf.Reset()
	b.gz.Reset(&b.buf)
	b.inner = tar.NewWriter(b.gz)
	b.pending = 0
}

// flush seals the open batch, if any, into the outer archive.
func (b *Batched[W]) flush() error {
	if b.inner == nil {
		return nil
	}
	inner := b.inner
	b.inner = nil
	name := BatchName(b.dir, b.number)
	if err := inner.Close(); err != nil {
		return &IOError{Op: "seal batch", Path: name, Err: err}
	}
	if err := b.gz.Close(); err != nil {
		return &IOError{Op: "seal batch", Path: name, Err: err}
	}
	if err := writeEntry(b.tw, name, b.buf.Bytes(), b.opts.Mode); err != nil {
		return err
	}
	b.batches++
	return nil
}

// Finish seals the last batch and writes the outer footer. Calling it on a
// closed archive does nothing.
func (b *Batched[W]) Finish() error {
	if b.state == Closed {
		return nil
	}
	b.state = Closed
	// Write the footer even if the last batch failed to seal.
	flushErr := b.flush()
	if err := b.tw.Close(); err != nil {
		return errors.Join(flushErr, &IOError{Op: "finish", Err: err})
	}
	return flushErr
}

// IntoInner finishes the archive and hands back the underlying writer.
func (b *Batched[W]) IntoInner() (W, error) {
	err := b.Finish()
	return b.w, err
}

// Writer returns the underlying writer without finishing the archive.
func (b *Batched[W]) Writer() W { return b.w }

func (b *Batched[W]) State() State { return b.state }

func (b *Batched[W]) Entries() uint64 { return b.entries }

// Batches returns the number of sealed batches.
func (b *Batched[W]) Batches() uint64 { return b.batches }
