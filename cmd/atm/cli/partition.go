package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"atm/internal/archive"
	"atm/internal/lookup"
	"atm/internal/manifest"
	"atm/internal/melody"
	"atm/internal/output"
)

// locationJSON is the partition command's JSON shape.
type locationJSON struct {
	Melody string `json:"melody"`
	Index  uint64 `json:"index"`
	Shard  int    `json:"shard"`
	Offset uint64 `json:"offset"`
	File   string `json:"file,omitempty"`
	Path   string `json:"path"`
	Inner  string `json:"inner,omitempty"`
}

func newPartitionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Locate a melody: its shard, offset and path, without reading any archive",
		Example: `  atm partition -n C4,D4,E4,F4,G4,A4,B4,C5 -s 4 -m E4,C4,C4
  atm partition --manifest ./out -m E4,C4,C4 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("melody")
			m, err := melody.ParseMelody(raw)
			if err != nil {
				return fmt.Errorf("--melody: %w", err)
			}
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			opts, prefix, comp, err := lookupOptions(cmd, len(m))
			if err != nil {
				return err
			}
			loc, err := lookup.Locate(m, opts)
			if err != nil {
				return err
			}
			a.logger.Debug("located", "component", "partition", "index", loc.Index, "shard", loc.Shard)

			out := locationJSON{
				Melody: m.String(),
				Index:  loc.Index,
				Shard:  loc.Shard,
				Offset: loc.Offset,
				Path:   loc.Path,
				Inner:  loc.Inner,
			}
			if prefix != "" {
				out.File = output.FileName(prefix, loc.Shard, comp)
			}
			if p.format == "json" {
				return p.json(out)
			}
			pairs := [][2]string{
				{"Melody", out.Melody},
				{"Index", strconv.FormatUint(out.Index, 10)},
				{"Shard", strconv.Itoa(out.Shard)},
				{"Offset", strconv.FormatUint(out.Offset, 10)},
			}
			if out.File != "" {
				pairs = append(pairs, [2]string{"File", out.File})
			}
			pairs = append(pairs, [2]string{"Path", out.Path})
			if out.Inner != "" {
				pairs = append(pairs, [2]string{"Inner", out.Inner})
			}
			p.kv(pairs)
			return nil
		},
	}

	cmd.Flags().StringP("melody", "m", "", "melody to locate, e.g. E4,C4,C4")
	cmd.Flags().StringP("notes", "n", "", "comma-separated note set")
	cmd.Flags().IntP("length", "L", 0, "melody length (default: length of --melody)")
	cmd.Flags().IntP("shards", "s", 1, "number of shards")
	cmd.Flags().String("manifest", "", "take every parameter from a run's manifest (file or directory)")
	addPathFlags(cmd)
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("melody")
	cmd.MarkFlagsMutuallyExclusive("manifest", "notes")

	return cmd
}

// lookupOptions returns the write-side parameters from --manifest or from
// the flags. With a manifest it also returns the shard file naming.
func lookupOptions(cmd *cobra.Command, melodyLen int) (lookup.Options, string, output.Compression, error) {
	if path, _ := cmd.Flags().GetString("manifest"); path != "" {
		man, err := manifest.Read(path)
		if err != nil {
			return lookup.Options{}, "", "", err
		}
		opts, err := lookup.OptionsFromManifest(man)
		if err != nil {
			return lookup.Options{}, "", "", err
		}
		prefix, comp := manifestNaming(man)
		return opts, prefix, comp, nil
	}

	alphabet, err := alphabetFlag(cmd)
	if err != nil {
		return lookup.Options{}, "", "", err
	}
	length, _ := cmd.Flags().GetInt("length")
	if length == 0 {
		length = melodyLen
	}
	shards, _ := cmd.Flags().GetInt("shards")
	backend, _ := cmd.Flags().GetString("backend")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	return lookup.Options{
		Alphabet:  alphabet,
		Length:    length,
		Shards:    shards,
		Paths:     pathConfigFromFlags(cmd),
		Backend:   archive.Kind(backend),
		BatchSize: batchSize,
	}, "", "", nil
}

// manifestNaming recovers the shard file prefix and compression recorded
// in a manifest.
func manifestNaming(man *manifest.Manifest) (string, output.Compression) {
	return man.Prefix, output.Compression(man.Compression)
}
