package sysmetrics

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTake(t *testing.T) {
	s := Take()
	if s.CPUPercent < 0 {
		t.Errorf("CPUPercent = %v", s.CPUPercent)
	}
	if s.MemoryInuse <= 0 {
		t.Errorf("MemoryInuse = %d", s.MemoryInuse)
	}
}

func TestLogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("progress", "sys", Sample{CPUPercent: 150.25, MemoryInuse: 3 << 20})

	out := buf.String()
	for _, want := range []string{"sys.cpu=150", "sys.mem=\"3.0 MiB\""} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}
