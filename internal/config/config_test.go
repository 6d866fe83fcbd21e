package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	data := []byte(`
notes: C4,D4,E4
length: 5
shards: 8
target: /data/atm
backend: batched
batch_size: 50
compress: zstd
level: 3
mode: "600"
paths:
  scheme: hash
  max_files: 256
  depth: 0
parallelism: 4
progress_interval: 5s
publish:
  url: s3://corpus/runs
  s3_region: eu-north-1
  s3_path_style: true
`)
	got, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	zero := 0
	want := &Run{
		Notes:            "C4,D4,E4",
		Length:           5,
		Shards:           8,
		Target:           "/data/atm",
		Backend:          "batched",
		BatchSize:        50,
		Compress:         "zstd",
		Level:            3,
		Mode:             "600",
		Paths:            Paths{Scheme: "hash", MaxFiles: 256, Depth: &zero},
		Parallelism:      4,
		ProgressInterval: 5 * time.Second,
		Publish:          Publish{URL: "s3://corpus/runs", S3Region: "eu-north-1", S3PathStyle: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Paths.Depth != nil || got.Shards != 0 {
		t.Fatalf("empty file set values: %+v", got)
	}
}

func TestParseRejects(t *testing.T) {
	for name, data := range map[string]string{
		"unknown key":    "shardz: 4\n",
		"negative":       "shards: -1\n",
		"bad depth":      "paths:\n  depth: -2\n",
		"bad mode":       "mode: rwx\n",
		"mode too large": "mode: \"1777\"\n",
		"bad duration":   "progress_interval: soon\n",
		"not a map":      "- 1\n- 2\n",
	} {
		if _, err := Parse([]byte(data)); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("length: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Length != 3 {
		t.Fatalf("Length = %d", r.Length)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]fs.FileMode{"644": 0o644, "0600": 0o600, "0o755": 0o755, "0": 0} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %o, %v; want %o", in, got, err, want)
		}
	}
}
