// Package sysmetrics samples process-level CPU and memory usage for
// progress reporting.
package sysmetrics

import (
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	mu       sync.Mutex
	lastWall time.Time
	lastUser time.Duration
	lastSys  time.Duration
	lastCPU  float64
)

func init() {
	now := time.Now()
	utime, stime := getrusageTimes()
	mu.Lock()
	lastWall = now
	lastUser = utime
	lastSys = stime
	mu.Unlock()
}

// Sample is one reading of process resource usage.
type Sample struct {
	CPUPercent  float64
	MemoryInuse int64
}

// Take reads CPU usage since the previous call and current memory in use.
func Take() Sample {
	return Sample{CPUPercent: CPUPercent(), MemoryInuse: MemoryInuse()}
}

// LogValue renders the sample as a log group with human-readable memory.
func (s Sample) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("cpu", humanize.FormatFloat("#.#", s.CPUPercent)+"%"),
		slog.String("mem", humanize.IBytes(uint64(max(s.MemoryInuse, 0)))),
	)
}

// CPUPercent returns the process CPU usage as a percentage since the last
// call. Shards run in parallel, so values above 100 are normal.
func CPUPercent() float64 {
	now := time.Now()
	utime, stime := getrusageTimes()

	mu.Lock()
	defer mu.Unlock()

	wall := now.Sub(lastWall)
	if wall <= 0 {
		return lastCPU
	}

	cpuDelta := (utime - lastUser) + (stime - lastSys)
	lastCPU = float64(cpuDelta) / float64(wall) * 100.0
	lastWall = now
	lastUser = utime
	lastSys = stime
	return lastCPU
}

// MemoryInuse returns live heap plus goroutine stacks, in bytes.
func MemoryInuse() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapInuse + m.StackInuse) //nolint:gosec // G115: memory sizes fit in int64
}

func getrusageTimes() (user, sys time.Duration) {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0, 0
	}
	return time.Duration(rusage.Utime.Nano()), time.Duration(rusage.Stime.Nano())
}
