package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atm/internal/config"
	"atm/internal/melody"
	"atm/internal/midi"
)

func newSingleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "single",
		Short:   "Write one melody as a MIDI file",
		Example: `  atm single -m C4,E4,G4 -t chord.mid`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("melody")
			target, _ := cmd.Flags().GetString("target")
			modeStr, _ := cmd.Flags().GetString("mode")

			m, err := melody.ParseMelody(raw)
			if err != nil {
				return fmt.Errorf("--melody: %w", err)
			}
			mode, err := config.ParseMode(modeStr)
			if err != nil {
				return fmt.Errorf("--mode: %w", err)
			}
			art, err := midi.Generator{Mode: mode}.Generate(m)
			if err != nil {
				return err
			}
			if err := os.WriteFile(target, art.Data, art.EffectiveMode()); err != nil {
				return err
			}
			a.logger.Info("wrote MIDI file", "component", "single", "path", target, "bytes", art.Size)
			return nil
		},
	}

	cmd.Flags().StringP("melody", "m", "", "melody, e.g. C4,E4,G4")
	cmd.Flags().StringP("target", "t", "", "output file")
	cmd.Flags().String("mode", "644", "octal permission bits of the file")
	_ = cmd.MarkFlagRequired("melody")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}
