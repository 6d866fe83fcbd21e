// Package melody defines the pitch alphabet and melody types shared by the
// write path (batch generation) and the read path (lookup).
//
// A Pitch is a note letter, an optional accidental and an octave. Pitches
// compare by value. An Alphabet is an ordered list of pitches; order is
// significant and duplicates are kept as distinct symbols by position.
// A Melody is a fixed-length sequence of pitches drawn from an Alphabet.
package melody

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPitch = errors.New("invalid pitch")
	ErrEmptyList    = errors.New("empty pitch list")
)

// Accidental raises or lowers a note by one semitone.
type Accidental int8

const (
	Flat    Accidental = -1
	Natural Accidental = 0
	Sharp   Accidental = 1
)

// semitones maps note letters to their offset above C.
var semitones = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// Pitch is a single alphabet symbol, e.g. C4 or Db5.
type Pitch struct {
	Letter     byte
	Accidental Accidental
	Octave     int8
}

// ParsePitch parses a pitch in NOTE[ACCIDENTAL][:]OCTAVE form.
// Accepted examples: "C4", "C:4", "C#4", "Db:5", "B-1".
func ParsePitch(s string) (Pitch, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Pitch{}, fmt.Errorf("%w: %q", ErrInvalidPitch, s)
	}

	letter := s[0]
	if letter >= 'a' && letter <= 'g' {
		letter -= 'a' - 'A'
	}
	if _, ok := semitones[letter]; !ok {
		return Pitch{}, fmt.Errorf("%w: %q: unknown note %q", ErrInvalidPitch, s, s[0])
	}

	rest := s[1:]
	acc := Natural
	switch {
	case strings.HasPrefix(rest, "#"):
		acc = Sharp
		rest = rest[1:]
	case strings.HasPrefix(rest, "b"):
		acc = Flat
		rest = rest[1:]
	}
	rest = strings.TrimPrefix(rest, ":")

	octave, err := strconv.ParseInt(rest, 10, 8)
	if err != nil {
		return Pitch{}, fmt.Errorf("%w: %q: bad octave: %w", ErrInvalidPitch, s, err)
	}

	p := Pitch{Letter: letter, Accidental: acc, Octave: int8(octave)}
	if n := p.number(); n < 0 || n > 127 {
		return Pitch{}, fmt.Errorf("%w: %q is outside the MIDI note range", ErrInvalidPitch, s)
	}
	return p, nil
}

// MustParsePitch is like ParsePitch but panics on error. For tests and constants.
func MustParsePitch(s string) Pitch {
	p, err := ParsePitch(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pitch) number() int {
	return (int(p.Octave)+1)*12 + semitones[p.Letter] + int(p.Accidental)
}

// MIDI returns the MIDI note number (C4 = 60).
func (p Pitch) MIDI() uint8 {
	return uint8(p.number()) //nolint:gosec // G115: range checked at parse time
}

func (p Pitch) String() string {
	var b strings.Builder
	b.WriteByte(p.Letter)
	switch p.Accidental {
	case Sharp:
		b.WriteByte('#')
	case Flat:
		b.WriteByte('b')
	}
	b.WriteString(strconv.Itoa(int(p.Octave)))
	return b.String()
}

// Alphabet is the ordered set of pitches usable at any melody position.
type Alphabet []Pitch

// ParseAlphabet parses a comma-separated pitch list.
func ParseAlphabet(s string) (Alphabet, error) {
	ps, err := parseList(s)
	if err != nil {
		return nil, err
	}
	return Alphabet(ps), nil
}

// Position returns the index of the first alphabet entry equal to p.
func (a Alphabet) Position(p Pitch) (int, bool) {
	for i, q := range a {
		if q == p {
			return i, true
		}
	}
	return 0, false
}

// Strings renders each pitch, in alphabet order.
func (a Alphabet) Strings() []string {
	out := make([]string, len(a))
	for i, p := range a {
		out[i] = p.String()
	}
	return out
}

func (a Alphabet) String() string {
	return strings.Join(a.Strings(), ",")
}

// Melody is an ordered, fixed-length sequence of pitches.
type Melody []Pitch

// ParseMelody parses a comma-separated pitch list.
func ParseMelody(s string) (Melody, error) {
	ps, err := parseList(s)
	if err != nil {
		return nil, err
	}
	return Melody(ps), nil
}

// Equal reports whether m and o hold the same pitches at every position.
func (m Melody) Equal(o Melody) bool {
	if len(m) != len(o) {
		return false
	}
	for i := range m {
		if m[i] != o[i] {
			return false
		}
	}
	return true
}

func (m Melody) String() string {
	return Alphabet(m).String()
}

func parseList(s string) ([]Pitch, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyList
	}
	fields := strings.Split(s, ",")
	out := make([]Pitch, 0, len(fields))
	for _, f := range fields {
		p, err := ParsePitch(f)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
