// Package artifact defines the byte payload stored for each melody.
package artifact

import (
	"io/fs"

	"atm/internal/melody"
)

// DefaultMode is applied to entries whose artifact carries no mode.
const DefaultMode fs.FileMode = 0o644

// Artifact is the rendered file for one melody. Index is the global index
// being written and names the archive entry; generators leave it zero and
// the caller that drives the enumeration sets it.
type Artifact struct {
	Index  uint64
	Melody melody.Melody
	Size   int64
	Data   []byte
	Mode   fs.FileMode // 0 means DefaultMode
}

// EffectiveMode returns a.Mode, or DefaultMode when unset.
func (a Artifact) EffectiveMode() fs.FileMode {
	if a.Mode == 0 {
		return DefaultMode
	}
	return a.Mode
}

// Generator renders a melody to an artifact. Implementations must be
// deterministic and safe for concurrent use.
type Generator interface {
	Generate(m melody.Melody) (Artifact, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(m melody.Melody) (Artifact, error)

func (f GeneratorFunc) Generate(m melody.Melody) (Artifact, error) { return f(m) }
