// Package archive provides tar storage backends for generated artifacts.
//
// A backend is an explicit two-state machine. It starts Open, and Finish
// moves it to Closed exactly once; every path that ends a backend (normal
// completion, abort after a failure, IntoInner) goes through Finish so the
// footer is written once and only once. Appends after Finish fail with an
// I/O error wrapping ErrClosed and leave the stream untouched.
//
// Path generation errors propagate unchanged. Stream failures are wrapped
// in *IOError.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"atm/internal/artifact"
)

var (
	ErrClosed       = errors.New("archive is closed for writing, cannot append file")
	ErrSizeMismatch = errors.New("artifact size does not match payload")
	ErrInvalidMode  = errors.New("invalid file mode")
	ErrInvalidBatch = errors.New("invalid batch options")
)

// State is the lifecycle state of a backend.
type State int

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Backend stores artifacts as archive entries.
type Backend interface {
	AppendFile(a artifact.Artifact) error
	Finish() error
	State() State
	// Entries returns the number of artifacts appended so far.
	Entries() uint64
}

// IOError is a failure of the underlying stream, or an append attempted
// against a closed archive.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return "archive " + e.Op + ": " + e.Err.Error()
	}
	return "archive " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err is, or wraps, an *IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// epoch is the modification time stamped on every entry, so identical
// inputs produce byte-identical archives.
var epoch = time.Unix(0, 0)

// ValidateMode rejects modes carrying bits outside the permission set.
func ValidateMode(mode fs.FileMode) error {
	if mode&^fs.ModePerm != 0 {
		return fmt.Errorf("%w: %o", ErrInvalidMode, mode)
	}
	return nil
}

// writeEntry appends one regular file entry to tw.
func writeEntry(tw *tar.Writer, name string, data []byte, mode fs.FileMode) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     int64(len(data)),
		Mode:     int64(mode.Perm()),
		ModTime:  epoch,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return &IOError{Op: "append", Path: name, Err: err}
	}
	if _, err := tw.Write(data); err != nil {
		return &IOError{Op: "append", Path: name, Err: err}
	}
	return nil
}

func checkArtifact(a artifact.Artifact) error {
	if a.Size != int64(len(a.Data)) {
		return fmt.Errorf("%w: declared %d bytes, payload %d", ErrSizeMismatch, a.Size, len(a.Data))
	}
	return ValidateMode(a.Mode)
}

// Kind names a backend implementation.
type Kind string

const (
	KindTar     Kind = "tar"
	KindBatched Kind = "batched"
)

// ParseKind accepts a backend name; the empty string means KindTar.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "", KindTar:
		return KindTar, nil
	case KindBatched:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backend %q (must be %q or %q)", s, KindTar, KindBatched)
	}
}
