package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrUnknownCompression = errors.New("unknown compression")
	ErrInvalidLevel       = errors.New("invalid compression level")
)

// Compression selects the whole-stream codec applied to a shard file.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionBrotli Compression = "brotli"
)

// DefaultLevel is used when no level is given. It is a valid level for
// every codec.
const DefaultLevel = 6

// seekableFrameSize is the uncompressed frame size for seekable zstd output.
const seekableFrameSize = 256 << 10

// zstdDec is shared by all readers; zstd decoders are safe for concurrent use.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

// ParseCompression accepts a codec name; the empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd, CompressionBrotli:
		return c, nil
	case "gz":
		return CompressionGzip, nil
	case "zst":
		return CompressionZstd, nil
	case "br":
		return CompressionBrotli, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// Ext returns the file name suffix appended after ".tar".
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionBrotli:
		return ".br"
	default:
		return ""
	}
}

// DetectCompression infers the codec from a file name.
func DetectCompression(name string) Compression {
	switch filepath.Ext(name) {
	case ".gz", ".tgz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	case ".br":
		return CompressionBrotli
	default:
		return CompressionNone
	}
}

// compressor is the encoding layer of a File. close must flush everything
// to the layer below without closing it.
type compressor struct {
	io.Writer
	close func() error
}

// ValidateLevel checks level against the range c accepts. zstd maps any
// level onto its nearest encoder speed, and none ignores the level.
func ValidateLevel(c Compression, level int) error {
	switch c {
	case CompressionGzip:
		if level < gzip.StatelessCompression || level > gzip.BestCompression {
			return fmt.Errorf("%w: gzip level %d not in [%d, %d]", ErrInvalidLevel, level, gzip.StatelessCompression, gzip.BestCompression)
		}
	case CompressionBrotli:
		if level < brotli.BestSpeed || level > brotli.BestCompression {
			return fmt.Errorf("%w: brotli level %d not in [%d, %d]", ErrInvalidLevel, level, brotli.BestSpeed, brotli.BestCompression)
		}
	}
	return nil
}

func newCompressor(dst io.Writer, c Compression, level int) (*compressor, error) {
	if err := ValidateLevel(c, level); err != nil {
		return nil, err
	}
	switch c {
	case CompressionNone, "":
		return &compressor{Writer: dst, close: func() error { return nil }}, nil

	case CompressionGzip:
		gz, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			return nil, fmt.Errorf("gzip level %d: %w", level, err)
		}
		return &compressor{Writer: gz, close: gz.Close}, nil

	case CompressionZstd:
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		sw, err := seekable.NewWriter(dst, enc)
		if err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("create seekable writer: %w", err)
		}
		// Each Write to sw becomes one frame, so batch writes up to the
		// frame size first.
		frames := bufio.NewWriterSize(sw, seekableFrameSize)
		return &compressor{Writer: frames, close: func() error {
			return errors.Join(frames.Flush(), sw.Close(), enc.Close())
		}}, nil

	case CompressionBrotli:
		bw := brotli.NewWriterLevel(dst, level)
		return &compressor{Writer: bw, close: bw.Close}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}
}

// NewWriter returns an encoder for c writing to dst. Close flushes the
// encoder but leaves dst open.
func NewWriter(dst io.Writer, c Compression, level int) (io.WriteCloser, error) {
	comp, err := newCompressor(dst, c, level)
	if err != nil {
		return nil, err
	}
	return comp, nil
}

func (c *compressor) Close() error { return c.close() }

// OpenReader opens a shard file and returns its decompressed tar stream.
func OpenReader(path string, c Compression) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, c)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &readCloser{Reader: r, closers: []io.Closer{r, f}}, nil
}

// NewReader wraps an open shard stream with the codec's decoder. zstd
// input must be seekable.
func NewReader(rs io.ReadSeeker, c Compression) (io.ReadCloser, error) {
	switch c {
	case CompressionNone, "":
		return io.NopCloser(rs), nil
	case CompressionGzip:
		zr, err := gzip.NewReader(rs)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		return zr, nil
	case CompressionZstd:
		r, err := seekable.NewReader(rs, zstdDec)
		if err != nil {
			return nil, fmt.Errorf("open seekable zstd: %w", err)
		}
		return r, nil
	case CompressionBrotli:
		return io.NopCloser(brotli.NewReader(rs)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
