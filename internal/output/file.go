// Package output owns the byte stream beneath an archive backend: the shard
// file on disk, buffering, optional whole-stream compression and the
// content digest of what reached disk.
//
// A File is written under a temporary name and renamed into place when it
// is closed, whether the shard succeeded or not. A failed shard therefore
// leaves its truncated (but footer-terminated) archive under the final name
// for inspection.
package output

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// DefaultFileMode is applied to shard files.
const DefaultFileMode fs.FileMode = 0o644

const bufferSize = 1 << 20

var ErrFileClosed = errors.New("output file already closed")

// FileName returns the shard file name, e.g. "atm-3.tar.zst".
func FileName(prefix string, shard int, c Compression) string {
	return fmt.Sprintf("%s-%d.tar%s", prefix, shard, c.Ext())
}

// Options configures a File.
type Options struct {
	Compression Compression
	Level       int
	Mode        fs.FileMode
}

// File is a buffered, optionally compressed shard file. It is not safe for
// concurrent use; each shard owns one.
type File struct {
	path    string
	tmpPath string
	mode    fs.FileMode
	f       *os.File
	sink    *sink
	bw      *bufio.Writer
	comp    *compressor
	closed  bool
}

// sink counts and hashes every byte that reaches the file.
type sink struct {
	f    *os.File
	hash *blake3.Hasher
	n    int64
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	_, _ = s.hash.Write(p[:n])
	s.n += int64(n)
	return n, err
}

// Create opens a temporary file in dir that becomes dir/name on Close.
func Create(dir, name string, opts Options) (*File, error) {
	if opts.Mode == 0 {
		opts.Mode = DefaultFileMode
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return nil, err
	}
	s := &sink{f: tmp, hash: blake3.New()}
	bw := bufio.NewWriterSize(s, bufferSize)
	comp, err := newCompressor(bw, opts.Compression, opts.Level)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	return &File{
		path:    filepath.Join(dir, name),
		tmpPath: tmp.Name(),
		mode:    opts.Mode,
		f:       tmp,
		sink:    s,
		bw:      bw,
		comp:    comp,
	}, nil
}

func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	return f.comp.Write(p)
}

// Close finishes compression, flushes, syncs and renames the file into
// place. Every step is attempted even after an earlier one fails.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	errs := []error{
		f.comp.close(),
		f.bw.Flush(),
		f.f.Sync(),
		f.f.Chmod(f.mode),
		f.f.Close(),
	}
	errs = append(errs, os.Rename(f.tmpPath, f.path)) //nolint:gosec // G703: both paths are built internally
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	return nil
}

// Path returns the final file path.
func (f *File) Path() string { return f.path }

// Size returns the number of bytes written to disk so far.
func (f *File) Size() int64 { return f.sink.n }

// Digest returns the hex BLAKE3 digest of the bytes written to disk.
// It is complete only after Close.
func (f *File) Digest() string {
	return hex.EncodeToString(f.sink.hash.Sum(nil))
}

var _ io.WriteCloser = (*File)(nil)
