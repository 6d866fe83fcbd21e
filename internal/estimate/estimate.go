// Package estimate predicts the size of a corpus before it is written.
//
// The plain tar estimate is exact arithmetic: every MIDI entry fits in one
// header block plus one data block. Compressed sizes cannot be computed, so
// they are measured on a prefix of the index space and extrapolated.
package estimate

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/dustin/go-humanize"

	"atm/internal/archive"
	"atm/internal/codec"
	"atm/internal/midi"
	"atm/internal/output"
	"atm/internal/pathgen"
)

const (
	// EntrySize is one 512-byte tar header plus one 512-byte data block.
	EntrySize = 1024
	// FooterSize is the two zero blocks that end an archive.
	FooterSize = 1024
	// BlockSize is the alignment applied to simulated sizes.
	BlockSize = 512
	// MaxSimulated caps the number of melodies rendered by Compressed.
	MaxSimulated = 200_000
)

// Tar is the size of an uncompressed tar corpus.
type Tar struct {
	Notes  int
	Length int
	Total  uint64
	Bytes  uint64
}

func (e Tar) String() string {
	return fmt.Sprintf("%d notes, length %d: %s melodies, %s", e.Notes, e.Length,
		humanize.Comma(int64(min(e.Total, 1<<62))), //nolint:gosec // G115: clamped
		humanize.Bytes(e.Bytes))
}

// TarSize returns the exact size of one uncompressed archive holding the
// whole space. Splitting into shards adds one footer per extra shard.
func TarSize(space *codec.Space) (Tar, error) {
	hi, lo := bits.Mul64(space.Total(), EntrySize)
	n, carry := bits.Add64(lo, FooterSize, 0)
	if hi != 0 || carry != 0 {
		return Tar{}, fmt.Errorf("%w: %d melodies overflow a byte count", codec.ErrSpaceOverflow, space.Total())
	}
	return Tar{
		Notes:  len(space.Alphabet()),
		Length: space.Length(),
		Total:  space.Total(),
		Bytes:  n,
	}, nil
}

// Compressed is an extrapolated compressed size.
type Compressed struct {
	Notes       int
	Length      int
	Compression output.Compression
	Level       int
	Total       uint64
	// Simulated melodies were actually rendered and compressed.
	Simulated      uint64
	SimulatedBytes uint64
	Bytes          uint64
	Duration       time.Duration
}

func (e Compressed) String() string {
	return fmt.Sprintf("%s level %d: simulated %s melodies into %s, estimate %s",
		e.Compression, e.Level,
		humanize.Comma(int64(e.Simulated)), //nolint:gosec // G115: at most MaxSimulated
		humanize.Bytes(e.SimulatedBytes),
		humanize.Bytes(e.Bytes))
}

// SimulationCount returns how many melodies Compressed renders for a space
// of total melodies: all of them up to MaxSimulated, otherwise 20% capped at
// MaxSimulated.
func SimulationCount(total uint64) uint64 {
	if total <= MaxSimulated {
		return total
	}
	return min(total/5, MaxSimulated)
}

// Align rounds n up to a multiple of BlockSize.
func Align(n uint64) uint64 {
	if r := n % BlockSize; r != 0 {
		n += BlockSize - r
	}
	return n
}

// CompressedSize renders the first SimulationCount melodies into an
// in-memory tar stream compressed with c, and scales the aligned result to
// the whole space.
func CompressedSize(ctx context.Context, space *codec.Space, paths pathgen.Generator, c output.Compression, level int) (Compressed, error) {
	start := time.Now()
	sim := SimulationCount(space.Total())

	var sink counter
	enc, err := output.NewWriter(&sink, c, level)
	if err != nil {
		return Compressed{}, err
	}
	tw := archive.NewTar(enc, paths)
	gen := midi.Generator{}
	m, err := space.Decode(0)
	if err != nil {
		return Compressed{}, err
	}
	for i := range sim {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				_ = enc.Close()
				return Compressed{}, err
			}
		}
		if err := space.DecodeInto(i, m); err != nil {
			return Compressed{}, err
		}
		a, err := gen.Generate(m)
		if err != nil {
			return Compressed{}, err
		}
		a.Index = i
		if err := tw.AppendFile(a); err != nil {
			return Compressed{}, err
		}
	}
	if err := tw.Finish(); err != nil {
		return Compressed{}, err
	}
	if err := enc.Close(); err != nil {
		return Compressed{}, err
	}

	simBytes := Align(sink.n)
	est := Compressed{
		Notes:          len(space.Alphabet()),
		Length:         space.Length(),
		Compression:    c,
		Level:          level,
		Total:          space.Total(),
		Simulated:      sim,
		SimulatedBytes: simBytes,
		Bytes:          simBytes,
		Duration:       time.Since(start),
	}
	if sim > 0 && sim < space.Total() {
		scale := (space.Total() + sim - 1) / sim
		hi, lo := bits.Mul64(scale, simBytes)
		if hi != 0 {
			return Compressed{}, fmt.Errorf("%w: estimate exceeds a byte count", codec.ErrSpaceOverflow)
		}
		est.Bytes = lo
	}
	return est, nil
}

type counter struct{ n uint64 }

func (c *counter) Write(p []byte) (int, error) {
	c.n += uint64(len(p))
	return len(p), nil
}
