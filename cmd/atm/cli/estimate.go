package cli

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"atm/internal/codec"
	"atm/internal/estimate"
	"atm/internal/output"
	"atm/internal/pathgen"
)

const blockCaveat = "Sizes assume 512-byte blocks. File systems with larger blocks or RAID stripes round each file up further."

func newEstimateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate output size before writing a corpus",
	}
	cmd.PersistentFlags().StringP("notes", "n", "", "comma-separated note set")
	cmd.PersistentFlags().IntP("length", "L", 0, "melody length in notes")
	cmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")

	cmd.AddCommand(newEstimateTarCmd(a), newEstimateCompressedCmd(a))
	return cmd
}

func estimateSpace(cmd *cobra.Command) (*codec.Space, error) {
	alphabet, err := alphabetFlag(cmd)
	if err != nil {
		return nil, err
	}
	length, _ := cmd.Flags().GetInt("length")
	return codec.NewSpace(alphabet, length)
}

func newEstimateTarCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tar",
		Short: "Exact size of the uncompressed tar corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			space, err := estimateSpace(cmd)
			if err != nil {
				return err
			}
			est, err := estimate.TarSize(space)
			if err != nil {
				return err
			}
			if p.format == "json" {
				return p.json(est)
			}
			p.kv([][2]string{
				{"Distinct notes", strconv.Itoa(est.Notes)},
				{"Melody length", strconv.Itoa(est.Length)},
				{"Melodies", strconv.FormatUint(est.Total, 10)},
				{"Estimated size", humanize.Bytes(est.Bytes) + " (" + strconv.FormatUint(est.Bytes, 10) + " bytes)"},
				{"Caveats", blockCaveat},
			})
			return nil
		},
	}
}

func newEstimateCompressedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compressed",
		Short: "Extrapolate compressed size from an in-memory simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			space, err := estimateSpace(cmd)
			if err != nil {
				return err
			}
			compName, _ := cmd.Flags().GetString("compress")
			level, _ := cmd.Flags().GetInt("level")
			comp, err := output.ParseCompression(compName)
			if err != nil {
				return err
			}
			paths, err := pathgen.New(space, pathConfigFromFlags(cmd))
			if err != nil {
				return err
			}

			a.logger.Info("simulating", "component", "estimate", "melodies", estimate.SimulationCount(space.Total()))
			est, err := estimate.CompressedSize(cmd.Context(), space, paths, comp, level)
			if err != nil {
				return err
			}
			if p.format == "json" {
				return p.json(est)
			}
			p.kv([][2]string{
				{"Distinct notes", strconv.Itoa(est.Notes)},
				{"Melody length", strconv.Itoa(est.Length)},
				{"Compression", string(est.Compression) + " level " + strconv.Itoa(est.Level)},
				{"Melodies", strconv.FormatUint(est.Total, 10)},
				{"Simulated melodies", strconv.FormatUint(est.Simulated, 10)},
				{"Simulated size", humanize.Bytes(est.SimulatedBytes)},
				{"Estimated size", humanize.Bytes(est.Bytes)},
				{"Caveats", "Extrapolated from the simulated prefix of the index space. " + blockCaveat},
			})
			return nil
		},
	}
	cmd.Flags().String("compress", string(output.CompressionGzip), "compression: none, gzip, zstd, brotli")
	cmd.Flags().Int("level", output.DefaultLevel, "compression level")
	cmd.Flags().String("paths", string(pathgen.SchemeIndex), "path scheme: index or hash")
	cmd.Flags().Uint64("max-files", pathgen.DefaultMaxFiles, "maximum entries per directory")
	cmd.Flags().Int("partition-depth", pathgen.AutoDepth, "directory depth (-1 = automatic)")
	return cmd
}
