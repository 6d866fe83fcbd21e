package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS uploads to a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	dest   Destination
}

func newGCS(ctx context.Context, dest Destination, opts Options) (*GCS, error) {
	var clientOpts []option.ClientOption
	if opts.GCSCredentials != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.GCSCredentials)) //nolint:staticcheck // SA1019: key files are the supported input here
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client, dest: dest}, nil
}

func (p *GCS) Publish(ctx context.Context, name, localPath string) (string, error) {
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	key := p.dest.Key(name)
	w := p.client.Bucket(p.dest.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/x-tar"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs upload %s/%s: %w", p.dest.Bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs upload %s/%s: %w", p.dest.Bucket, key, err)
	}
	return "gs://" + p.dest.Bucket + "/" + key, nil
}

// Close releases the client.
func (p *GCS) Close() error { return p.client.Close() }
