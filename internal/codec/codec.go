// Package codec maps melodies to their lexicographic index in the full
// permutation space and back.
//
// For an alphabet of size base and melody length L, the index of a melody
// is its mixed-radix value with position 0 as the most significant digit:
//
//	index = Σ position(melody[i]) × base^(L-1-i)
//
// All arithmetic is unsigned 64-bit. A space whose size base^L does not fit
// in a uint64 is rejected when the Space is constructed, so Encode and
// Decode never need to check for overflow.
package codec

import (
	"errors"
	"fmt"
	"math/bits"

	"atm/internal/melody"
)

var (
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrSpaceOverflow   = errors.New("permutation space overflows uint64")
	ErrLengthMismatch  = errors.New("melody length mismatch")
	ErrEmptyAlphabet   = errors.New("empty alphabet")
	ErrZeroLength      = errors.New("zero melody length")
)

// Space is the set of all melodies of a fixed length over a fixed alphabet.
// It is immutable and safe for concurrent use.
type Space struct {
	alphabet melody.Alphabet
	length   int
	total    uint64
}

// NewSpace validates the alphabet and length and computes base^length.
func NewSpace(alphabet melody.Alphabet, length int) (*Space, error) {
	if len(alphabet) == 0 {
		return nil, ErrEmptyAlphabet
	}
	if length <= 0 {
		return nil, ErrZeroLength
	}
	total, err := Pow(uint64(len(alphabet)), length)
	if err != nil {
		return nil, err
	}
	return &Space{alphabet: alphabet, length: length, total: total}, nil
}

// Pow returns base^exp, or ErrSpaceOverflow if the result does not fit in a uint64.
func Pow(base uint64, exp int) (uint64, error) {
	result := uint64(1)
	for range exp {
		hi, lo := bits.Mul64(result, base)
		if hi != 0 {
			return 0, fmt.Errorf("%w: %d^%d", ErrSpaceOverflow, base, exp)
		}
		result = lo
	}
	return result, nil
}

// Alphabet returns the alphabet the space was built over.
func (s *Space) Alphabet() melody.Alphabet { return s.alphabet }

// Base returns the alphabet size.
func (s *Space) Base() uint64 { return uint64(len(s.alphabet)) }

// Length returns the melody length.
func (s *Space) Length() int { return s.length }

// Total returns base^length, the number of distinct melodies.
func (s *Space) Total() uint64 { return s.total }

// Encode returns the index of m. Each pitch resolves to the first matching
// alphabet position, so duplicate alphabet entries encode deterministically.
func (s *Space) Encode(m melody.Melody) (uint64, error) {
	if len(m) != s.length {
		return 0, fmt.Errorf("%w: expected %d pitches, got %d", ErrLengthMismatch, s.length, len(m))
	}
	base := s.Base()
	var index uint64
	for i, p := range m {
		pos, ok := s.alphabet.Position(p)
		if !ok {
			return 0, fmt.Errorf("%w: %s at position %d", ErrUnknownSymbol, p, i)
		}
		index = index*base + uint64(pos)
	}
	return index, nil
}

// Decode returns the melody at index. Callers must keep index below Total.
func (s *Space) Decode(index uint64) (melody.Melody, error) {
	m := make(melody.Melody, s.length)
	if err := s.DecodeInto(index, m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeInto writes the melody at index into dst, which must have Length
// elements. It lets a shard writer reuse one buffer across its whole range.
func (s *Space) DecodeInto(index uint64, dst melody.Melody) error {
	if index >= s.total {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, s.total)
	}
	if len(dst) != s.length {
		return fmt.Errorf("%w: buffer holds %d pitches, need %d", ErrLengthMismatch, len(dst), s.length)
	}
	base := s.Base()
	for i := s.length - 1; i >= 0; i-- {
		dst[i] = s.alphabet[index%base]
		index /= base
	}
	return nil
}
