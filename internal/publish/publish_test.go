package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		raw  string
		want Destination
		key  string
	}{
		{"s3://corpus/runs/2026", Destination{Scheme: "s3", Bucket: "corpus", Prefix: "runs/2026"}, "runs/2026/atm-0.tar"},
		{"gs://corpus", Destination{Scheme: "gs", Bucket: "corpus"}, "atm-0.tar"},
		{"azblob://midi/atm/", Destination{Scheme: "azblob", Bucket: "midi", Prefix: "atm"}, "atm/atm-0.tar"},
		{"file:///mnt/corpus", Destination{Scheme: "file", Prefix: "/mnt/corpus"}, "/mnt/corpus/atm-0.tar"},
	}
	for _, tt := range tests {
		got, err := ParseDestination(tt.raw)
		if err != nil {
			t.Fatalf("ParseDestination(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("ParseDestination(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
		if k := got.Key("atm-0.tar"); k != tt.key {
			t.Errorf("%q key = %q, want %q", tt.raw, k, tt.key)
		}
	}
}

func TestParseDestinationRejects(t *testing.T) {
	for _, raw := range []string{
		"ftp://host/dir",
		"s3:///no-bucket",
		"file://host/dir",
		"/plain/path",
		"://",
	} {
		if _, err := ParseDestination(raw); !errors.Is(err, ErrDestination) {
			t.Errorf("ParseDestination(%q) err = %v", raw, err)
		}
	}
}

func TestAzureNeedsConnectionString(t *testing.T) {
	t.Setenv(azureConnEnv, "")
	if _, err := New(context.Background(), "azblob://c/p", Options{}); !errors.Is(err, ErrDestination) {
		t.Fatalf("err = %v", err)
	}
}

func TestDirPublish(t *testing.T) {
	src := filepath.Join(t.TempDir(), "atm-2.tar")
	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "mirror")

	p, err := New(context.Background(), "file://"+dest, Options{})
	if err != nil {
		t.Fatal(err)
	}
	url, err := p.Publish(context.Background(), "atm-2.tar", src)
	if err != nil {
		t.Fatal(err)
	}
	if url != "file://"+filepath.Join(dest, "atm-2.tar") {
		t.Fatalf("url = %q", url)
	}
	got, err := os.ReadFile(filepath.Join(dest, "atm-2.tar"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Fatalf("copied %q", got)
	}
	entries, _ := os.ReadDir(dest)
	if len(entries) != 1 {
		t.Fatalf("%d files in destination", len(entries))
	}
}

func TestDirPublishCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDir(t.TempDir()).Publish(ctx, "x", "/nonexistent"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
