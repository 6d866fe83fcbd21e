// Package publish uploads sealed shard files to object storage.
//
// Destinations are URLs:
//
//	s3://bucket/prefix
//	gs://bucket/prefix
//	azblob://container/prefix
//	file:///abs/dir
//
// Each shard file is stored at <prefix>/<file name>.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrDestination = errors.New("invalid publish destination")

// Publisher stores a local file under name and returns its remote URL.
type Publisher interface {
	Publish(ctx context.Context, name, localPath string) (string, error)
}

// Destination is a parsed publish URL.
type Destination struct {
	Scheme string
	Bucket string // bucket or container; empty for file
	Prefix string // key prefix, or directory for file
}

func (d Destination) String() string {
	if d.Scheme == "file" {
		return "file://" + d.Prefix
	}
	return d.Scheme + "://" + path.Join(d.Bucket, d.Prefix)
}

// Key returns the object key for name.
func (d Destination) Key(name string) string {
	if d.Prefix == "" {
		return name
	}
	return path.Join(d.Prefix, name)
}

// ParseDestination validates raw and splits it into its parts.
func ParseDestination(raw string) (Destination, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("%w: %w", ErrDestination, err)
	}
	switch u.Scheme {
	case "s3", "gs", "azblob":
		if u.Host == "" {
			return Destination{}, fmt.Errorf("%w: %q has no bucket", ErrDestination, raw)
		}
		return Destination{
			Scheme: u.Scheme,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	case "file":
		if u.Host != "" || u.Path == "" {
			return Destination{}, fmt.Errorf("%w: %q must be file:///absolute/dir", ErrDestination, raw)
		}
		return Destination{Scheme: "file", Prefix: u.Path}, nil
	default:
		return Destination{}, fmt.Errorf("%w: unsupported scheme %q", ErrDestination, u.Scheme)
	}
}

// Options carries credentials and endpoints. Unset fields fall back to
// each SDK's default credential chain.
type Options struct {
	S3Region       string
	S3Endpoint     string
	S3PathStyle    bool
	S3AccessKey    string
	S3SecretKey    string
	GCSCredentials string // service account key file
	AzureConnStr   string
}

// New returns the publisher for raw.
func New(ctx context.Context, raw string, opts Options) (Publisher, error) {
	dest, err := ParseDestination(raw)
	if err != nil {
		return nil, err
	}
	switch dest.Scheme {
	case "s3":
		return newS3(ctx, dest, opts)
	case "gs":
		return newGCS(ctx, dest, opts)
	case "azblob":
		return newAzure(dest, opts)
	default:
		return &Dir{dest: dest}, nil
	}
}

// Dir copies files into a local directory, typically a mounted volume.
type Dir struct {
	dest Destination
}

// NewDir returns a publisher that copies into dir.
func NewDir(dir string) *Dir {
	return &Dir{dest: Destination{Scheme: "file", Prefix: dir}}
}

func (d *Dir) Publish(ctx context.Context, name, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.dest.Prefix, 0o750); err != nil {
		return "", err
	}
	src, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(d.dest.Prefix, ".publish-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	target := filepath.Join(d.dest.Prefix, name)
	if err := os.Rename(tmpPath, target); err != nil { //nolint:gosec // G703: both paths are built internally
		_ = os.Remove(tmpPath)
		return "", err
	}
	return "file://" + target, nil
}
