// Package manifest records the parameters and outcome of a batch run.
//
// A manifest is the 4-byte format header followed by a msgpack body. It
// carries everything needed to recompute any melody's shard and path, so
// lookup and verification can run against a corpus without repeating the
// write-side flags.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"atm/internal/format"
	"atm/internal/melody"
)

// FileName is the manifest's name inside the output directory.
const FileName = "manifest.atm"

const version = 1

var ErrCorrupt = errors.New("corrupt manifest")

// Manifest describes one batch run.
type Manifest struct {
	RunID       string    `msgpack:"run_id"`
	Created     time.Time `msgpack:"created"`
	Alphabet    []string  `msgpack:"alphabet"`
	Length      int       `msgpack:"length"`
	Shards      int       `msgpack:"shards"`
	Prefix      string    `msgpack:"prefix"`
	Total       uint64    `msgpack:"total"`
	Paths       string    `msgpack:"paths"`
	MaxFiles    uint64    `msgpack:"max_files"`
	Depth       int       `msgpack:"depth"`
	Backend     string    `msgpack:"backend"`
	BatchSize   int       `msgpack:"batch_size,omitempty"`
	Compression string    `msgpack:"compression"`
	Level       int       `msgpack:"level"`
	Results     []Shard   `msgpack:"results"`
}

// Shard is the outcome of one shard.
type Shard struct {
	Shard     int    `msgpack:"shard"`
	Lo        uint64 `msgpack:"lo"`
	Hi        uint64 `msgpack:"hi"`
	Entries   uint64 `msgpack:"entries"`
	Bytes     int64  `msgpack:"bytes"`
	File      string `msgpack:"file"`
	Digest    string `msgpack:"blake3"`
	Published string `msgpack:"published,omitempty"`
	Error     string `msgpack:"error,omitempty"`
}

// New returns a manifest with a fresh run ID.
func New() *Manifest {
	return &Manifest{
		RunID:   uuid.Must(uuid.NewV7()).String(),
		Created: time.Now().UTC(),
	}
}

// Complete reports whether every shard sealed successfully.
func (m *Manifest) Complete() bool {
	if len(m.Results) != m.Shards {
		return false
	}
	for _, r := range m.Results {
		if r.Error != "" {
			return false
		}
	}
	return true
}

// ParsedAlphabet parses the recorded alphabet.
func (m *Manifest) ParsedAlphabet() (melody.Alphabet, error) {
	out := make(melody.Alphabet, len(m.Alphabet))
	for i, s := range m.Alphabet {
		p, err := melody.ParsePitch(s)
		if err != nil {
			return nil, fmt.Errorf("%w: alphabet: %w", ErrCorrupt, err)
		}
		out[i] = p
	}
	return out, nil
}

// Encode writes the header and body to w.
func (m *Manifest) Encode(w io.Writer) error {
	h := format.Header{Type: format.TypeManifest, Version: version}
	if m.Complete() {
		h.Flags |= format.FlagComplete
	}
	hdr := h.Encode()
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(m)
}

// Decode reads a manifest written by Encode.
func Decode(r io.Reader) (*Manifest, error) {
	var hdr [format.HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, format.ErrHeaderTooSmall)
	}
	if _, err := format.DecodeAndValidate(hdr[:], format.TypeManifest, version); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var m Manifest
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &m, nil
}

// Write stores m as dir/FileName via a temp file and rename.
func Write(dir string, m *Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, FileName)) //nolint:gosec // G703: both paths are built internally
}

// Read loads a manifest from path. A directory is taken to contain one.
func Read(path string) (*Manifest, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}
