// Package shard materializes one contiguous index range into a backend.
package shard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"atm/internal/archive"
	"atm/internal/artifact"
	"atm/internal/codec"
	"atm/internal/logging"
	"atm/internal/melody"
	"atm/internal/partition"
)

var ErrGenerate = errors.New("artifact generation failed")

// DefaultChunkSize is the number of entries written between progress
// reports and cancellation checks.
const DefaultChunkSize = 10_000

// Progress is called after every chunk with the entries written so far.
type Progress func(r partition.Range, done uint64)

// Writer owns one shard's backend for the duration of Run.
type Writer struct {
	Range     partition.Range
	Space     *codec.Space
	Generator artifact.Generator
	Backend   archive.Backend
	ChunkSize uint64
	Progress  Progress
	Logger    *slog.Logger
}

// Result is the outcome of one shard.
type Result struct {
	Range    partition.Range
	Entries  uint64
	Duration time.Duration
	Err      error
}

// OK reports whether the shard completed.
func (r Result) OK() bool { return r.Err == nil }

// Run writes every melody in [Lo, Hi) in index order, then finishes the
// backend. It stops at the first failure, finishes the backend on a
// best-effort basis so the partial archive stays readable, and reports the
// failure in the Result. Cancelling ctx aborts at the next chunk boundary.
func (w *Writer) Run(ctx context.Context) Result {
	logger := logging.Default(w.Logger).With("component", "shard", "shard", w.Range.Shard)
	chunk := w.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}

	start := time.Now()
	res := Result{Range: w.Range}
	logger.Debug("shard started", "lo", w.Range.Lo, "hi", w.Range.Hi)

	err := w.write(ctx, chunk, &res)
	if err != nil {
		if ferr := w.Backend.Finish(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("finish after failure: %w", ferr))
		}
		res.Err = err
	} else if err := w.Backend.Finish(); err != nil {
		res.Err = fmt.Errorf("finish: %w", err)
	}

	res.Duration = time.Since(start)
	if res.Err != nil {
		logger.Debug("shard failed", "entries", res.Entries, "error", res.Err)
	} else {
		logger.Debug("shard finished", "entries", res.Entries, "duration", res.Duration)
	}
	return res
}

func (w *Writer) write(ctx context.Context, chunk uint64, res *Result) error {
	m := make(melody.Melody, w.Space.Length())
	for index := w.Range.Lo; index < w.Range.Hi; index++ {
		if err := w.Space.DecodeInto(index, m); err != nil {
			return err
		}
		a, err := w.Generator.Generate(m)
		if err != nil {
			return fmt.Errorf("%w: index %d (%s): %w", ErrGenerate, index, m, err)
		}
		a.Index = index
		if err := w.Backend.AppendFile(a); err != nil {
			return fmt.Errorf("index %d (%s): %w", index, m, err)
		}
		res.Entries++

		if res.Entries%chunk == 0 {
			if w.Progress != nil {
				w.Progress(w.Range, res.Entries)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if w.Progress != nil && res.Entries%chunk != 0 {
		w.Progress(w.Range, res.Entries)
	}
	return nil
}
