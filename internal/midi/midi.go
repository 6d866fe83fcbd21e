// Package midi renders melodies as Standard MIDI Files.
//
// Output is format 0 with a single track and a division of one tick per
// quarter note. Every pitch is a quarter note on channel 0:
//
//	00 90 kk 64   note on, velocity 100
//	01 80 kk 40   note off one tick later, velocity 64
//
// followed by the end-of-track meta event. The encoding is a pure function
// of the melody, so identical melodies always produce identical bytes.
package midi

import (
	"encoding/binary"
	"io/fs"
	"strconv"
	"strings"

	"atm/internal/artifact"
	"atm/internal/melody"
)

const (
	Division = 1

	headerChunkSize = 14 // "MThd" + length + format + ntrks + division
	trackPrefixSize = 8  // "MTrk" + length
	bytesPerNote    = 8
	endOfTrackSize  = 4

	noteOn       = 0x90
	noteOff      = 0x80
	onVelocity   = 100
	offVelocity  = 64
	metaEvent    = 0xFF
	metaEndTrack = 0x2F
)

// Size returns the encoded size of a melody of n pitches.
func Size(n int) int {
	return headerChunkSize + trackPrefixSize + n*bytesPerNote + endOfTrackSize
}

// Encode renders m as a complete SMF file.
func Encode(m melody.Melody) []byte {
	return AppendEncode(make([]byte, 0, Size(len(m))), m)
}

// AppendEncode appends the SMF encoding of m to dst.
func AppendEncode(dst []byte, m melody.Melody) []byte {
	dst = append(dst, "MThd"...)
	dst = binary.BigEndian.AppendUint32(dst, 6)
	dst = binary.BigEndian.AppendUint16(dst, 0) // format 0
	dst = binary.BigEndian.AppendUint16(dst, 1) // one track
	dst = binary.BigEndian.AppendUint16(dst, Division)

	dst = append(dst, "MTrk"...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(m)*bytesPerNote+endOfTrackSize)) //nolint:gosec // G115: melody lengths are small
	for _, p := range m {
		k := p.MIDI()
		dst = append(dst,
			0x00, noteOn, k, onVelocity,
			0x01, noteOff, k, offVelocity,
		)
	}
	return append(dst, 0x00, metaEvent, metaEndTrack, 0x00)
}

// Hash returns the concatenated decimal MIDI numbers of m, e.g. "606264"
// for C4,D4,E4.
func Hash(m melody.Melody) string {
	var b strings.Builder
	b.Grow(len(m) * 3)
	for _, p := range m {
		b.WriteString(strconv.Itoa(int(p.MIDI())))
	}
	return b.String()
}

// Generator produces MIDI artifacts.
type Generator struct {
	Mode fs.FileMode
}

func (g Generator) Generate(m melody.Melody) (artifact.Artifact, error) {
	data := Encode(m)
	return artifact.Artifact{
		Melody: m,
		Size:   int64(len(data)),
		Data:   data,
		Mode:   g.Mode,
	}, nil
}
