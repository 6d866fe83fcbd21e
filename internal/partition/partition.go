// Package partition splits the index space into contiguous shards.
//
// Every shard except possibly the last covers ceil(total/P) indices. The
// mapping from index to shard is monotonic, so shard boundaries are pure
// arithmetic and never require visiting a melody. Both the batch writer and
// the lookup side build their Plan through New so they always agree.
package partition

import (
	"errors"
	"fmt"

	"atm/internal/codec"
	"atm/internal/melody"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Range is a half-open sub-range [Lo, Hi) of the index space.
type Range struct {
	Shard int
	Lo    uint64
	Hi    uint64
}

// Len returns the number of indices in the range.
func (r Range) Len() uint64 { return r.Hi - r.Lo }

// Empty reports whether the range holds no indices.
func (r Range) Empty() bool { return r.Hi == r.Lo }

func (r Range) String() string {
	return fmt.Sprintf("shard %d [%d, %d)", r.Shard, r.Lo, r.Hi)
}

// Plan is the shard layout for one (total, P) pair.
type Plan struct {
	total     uint64
	shards    int
	shardSize uint64
}

// NewPlan builds a plan over total indices split into shards shards.
func NewPlan(total uint64, shards int) (Plan, error) {
	if shards <= 0 {
		return Plan{}, fmt.Errorf("%w: shard count must be at least 1, got %d", ErrInvalidConfiguration, shards)
	}
	if total == 0 {
		return Plan{}, fmt.Errorf("%w: empty index space", ErrInvalidConfiguration)
	}
	p := uint64(shards)
	// ceil without the total+p-1 overflow.
	size := total / p
	if total%p != 0 {
		size++
	}
	return Plan{total: total, shards: shards, shardSize: size}, nil
}

// New validates (alphabet, length, shards) and returns the index space and
// its plan. Empty alphabets, zero lengths and zero shard counts are all
// reported as ErrInvalidConfiguration.
func New(alphabet melody.Alphabet, length, shards int) (*codec.Space, Plan, error) {
	if shards <= 0 {
		return nil, Plan{}, fmt.Errorf("%w: shard count must be at least 1, got %d", ErrInvalidConfiguration, shards)
	}
	space, err := codec.NewSpace(alphabet, length)
	if err != nil {
		if errors.Is(err, codec.ErrEmptyAlphabet) || errors.Is(err, codec.ErrZeroLength) {
			return nil, Plan{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		return nil, Plan{}, err
	}
	plan, err := NewPlan(space.Total(), shards)
	if err != nil {
		return nil, Plan{}, err
	}
	return space, plan, nil
}

// Total returns the size of the index space.
func (p Plan) Total() uint64 { return p.total }

// Shards returns the shard count P.
func (p Plan) Shards() int { return p.shards }

// ShardSize returns ceil(total/P).
func (p Plan) ShardSize() uint64 { return p.shardSize }

// ShardOf returns the shard holding index and its offset within that shard.
func (p Plan) ShardOf(index uint64) (shard int, offset uint64, err error) {
	if index >= p.total {
		return 0, 0, fmt.Errorf("%w: %d not in [0, %d)", codec.ErrIndexOutOfRange, index, p.total)
	}
	return int(index / p.shardSize), index % p.shardSize, nil //nolint:gosec // G115: quotient < shards
}

// Range returns the index range owned by shard s. When ceil(total/P) leaves
// nothing for the trailing shards, their ranges are empty at [total, total).
func (p Plan) Range(s int) (Range, error) {
	if s < 0 || s >= p.shards {
		return Range{}, fmt.Errorf("%w: shard %d not in [0, %d)", ErrInvalidConfiguration, s, p.shards)
	}
	if uint64(s) > p.total/p.shardSize {
		return Range{Shard: s, Lo: p.total, Hi: p.total}, nil
	}
	lo := uint64(s) * p.shardSize
	return Range{Shard: s, Lo: lo, Hi: lo + min(p.shardSize, p.total-lo)}, nil
}

// Ranges returns all P ranges in shard order.
func (p Plan) Ranges() []Range {
	out := make([]Range, p.shards)
	for s := range p.shards {
		out[s], _ = p.Range(s)
	}
	return out
}
