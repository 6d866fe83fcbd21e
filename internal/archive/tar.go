package archive

import (
	"archive/tar"
	"io"

	"atm/internal/artifact"
	"atm/internal/pathgen"
)

// Tar writes each artifact as one entry of a plain tar stream over W.
type Tar[W io.Writer] struct {
	w       W
	tw      *tar.Writer
	paths   pathgen.Generator
	state   State
	entries uint64
}

// NewTar returns an Open backend writing to w, naming entries with paths.
func NewTar[W io.Writer](w W, paths pathgen.Generator) *Tar[W] {
	return &Tar[W]{
		w:     w,
		tw:    tar.NewWriter(w),
		paths: paths,
	}
}

// AppendFile appends a as one entry. Nothing is written when the archive is
// closed or when its path cannot be generated.
func (t *Tar[W]) AppendFile(a artifact.Artifact) error {
	if t.state == Closed {
		return &IOError{Op: "append", Err: ErrClosed}
	}
	name, err := t.paths.PathForIndex(a.Index)
	if err != nil {
		return err
	}
	if err := checkArtifact(a); err != nil {
		return err
	}
	if err := writeEntry(t.tw, name, a.Data, a.EffectiveMode()); err != nil {
		return err
	}
	t.entries++
	return nil
}

// Finish closes the archive and writes the two-block footer. Calling it on
// a closed archive does nothing.
func (t *Tar[W]) Finish() error {
	if t.state == Closed {
		return nil
	}
	t.state = Closed
	if err := t.tw.Close(); err != nil {
		return &IOError{Op: "finish", Err: err}
	}
	return nil
}

// IntoInner finishes the archive and hands back the underlying writer.
// The writer is returned even when the footer could not be written.
func (t *Tar[W]) IntoInner() (W, error) {
	err := t.Finish()
	return t.w, err
}

// Writer returns the underlying writer without finishing the archive.
// Writing to it directly while Open corrupts the archive.
func (t *Tar[W]) Writer() W { return t.w }

func (t *Tar[W]) State() State { return t.state }

func (t *Tar[W]) Entries() uint64 { return t.entries }
