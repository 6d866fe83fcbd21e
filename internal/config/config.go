// Package config loads batch run parameters from a YAML file.
//
// A run file holds the same settings as the batch command's flags. The CLI
// applies file values first and lets explicitly set flags override them.
//
//	notes: C4,D4,E4,F4,G4,A4,B4,C5
//	length: 12
//	shards: 64
//	target: /data/atm
//	compress: zstd
//	paths:
//	  scheme: index
//	  max_files: 4096
//	  depth: -1
//	publish:
//	  url: s3://corpus/runs
//	  s3_region: eu-north-1
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid run config")

// Run is the contents of a run file. Zero values mean "not set".
type Run struct {
	Notes  string `yaml:"notes"`
	Length int    `yaml:"length"`
	Shards int    `yaml:"shards"`
	Target string `yaml:"target"`
	Prefix string `yaml:"prefix"`

	Backend   string `yaml:"backend"`
	BatchSize int    `yaml:"batch_size"`
	Compress  string `yaml:"compress"`
	Level     int    `yaml:"level"`
	Mode      string `yaml:"mode"`

	Paths Paths `yaml:"paths"`

	Parallelism      int           `yaml:"parallelism"`
	ChunkSize        uint64        `yaml:"chunk_size"`
	ProgressInterval time.Duration `yaml:"progress_interval"`

	Publish Publish `yaml:"publish"`
}

// Paths selects the path generator.
type Paths struct {
	Scheme   string `yaml:"scheme"`
	MaxFiles uint64 `yaml:"max_files"`
	// Depth is a pointer because 0 (flat) is a meaningful value.
	Depth *int `yaml:"depth"`
}

// Publish configures shard upload.
type Publish struct {
	URL            string `yaml:"url"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3PathStyle    bool   `yaml:"s3_path_style"`
	GCSCredentials string `yaml:"gcs_credentials"`
}

// Load reads and validates a run file.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read run config: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a run file. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func Parse(data []byte) (*Run, error) {
	var r Run
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Run) validate() error {
	switch {
	case r.Length < 0:
		return fmt.Errorf("%w: negative length %d", ErrInvalid, r.Length)
	case r.Shards < 0:
		return fmt.Errorf("%w: negative shard count %d", ErrInvalid, r.Shards)
	case r.BatchSize < 0:
		return fmt.Errorf("%w: negative batch size %d", ErrInvalid, r.BatchSize)
	case r.Parallelism < 0:
		return fmt.Errorf("%w: negative parallelism %d", ErrInvalid, r.Parallelism)
	case r.ProgressInterval < 0:
		return fmt.Errorf("%w: negative progress interval %s", ErrInvalid, r.ProgressInterval)
	case r.Paths.Depth != nil && *r.Paths.Depth < -1:
		return fmt.Errorf("%w: depth %d", ErrInvalid, *r.Paths.Depth)
	}
	if r.Mode != "" {
		if _, err := ParseMode(r.Mode); err != nil {
			return err
		}
	}
	return nil
}

// ParseMode parses an octal permission string such as "644" or "0o600".
func ParseMode(s string) (fs.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		// Accept Go-style 0o prefixes.
		v, err = strconv.ParseUint(s, 0, 32)
	}
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("%w: mode %q is not an octal permission", ErrInvalid, s)
	}
	return fs.FileMode(v), nil
}
