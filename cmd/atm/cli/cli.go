// Package cli implements the atm command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"atm/internal/archive"
	"atm/internal/logging"
	"atm/internal/melody"
	"atm/internal/pathgen"
)

// app carries state shared by all subcommands. The logger is built in the
// root's PersistentPreRunE once the logging flags are parsed.
type app struct {
	logger  *slog.Logger
	version string
}

// NewRootCommand returns the "atm" command with all subcommands wired in.
func NewRootCommand(version string) *cobra.Command {
	a := &app{logger: logging.Discard(), version: version}

	cmd := &cobra.Command{
		Use:   "atm",
		Short: "Enumerate every melody over a note set into sharded tar archives",
		Long: "atm writes one MIDI file per melody of a fixed length over a fixed note set. " +
			"Melodies are numbered in base-N, split into contiguous shards, and each shard is " +
			"written to its own archive. Any melody's shard and path can be computed without " +
			"reading the archives.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	cmd.PersistentFlags().StringSlice("debug-component", nil, "log this component at debug level (repeatable)")

	cmd.AddCommand(
		newBatchCmd(a),
		newPartitionCmd(a),
		newSingleCmd(a),
		newEstimateCmd(a),
		newVerifyCmd(a),
		newInspectCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// newLogger builds the process logger from the persistent flags. Records
// go to the command's stderr so tests can capture them.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	debug, _ := cmd.Flags().GetStringSlice("debug-component")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}

	// Allow all levels; filtering is done by the component filter.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	switch strings.ToLower(format) {
	case "text":
		base = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	case "json":
		base = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", format)
	}

	filter := logging.NewComponentFilterHandler(base, level)
	for _, c := range debug {
		filter.SetLevel(c, slog.LevelDebug)
	}
	return slog.New(filter), nil
}

// addPathFlags registers the path generator and backend flags shared by
// batch and partition.
func addPathFlags(cmd *cobra.Command) {
	cmd.Flags().String("paths", string(pathgen.SchemeIndex), "path scheme: index or hash")
	cmd.Flags().Uint64("max-files", pathgen.DefaultMaxFiles, "maximum entries per directory")
	cmd.Flags().Int("partition-depth", pathgen.AutoDepth, "directory depth (-1 picks the smallest depth that respects --max-files)")
	cmd.Flags().String("backend", string(archive.KindTar), "storage backend: tar or batched")
	cmd.Flags().Int("batch-size", archive.DefaultBatchSize, "files per batch (batched backend)")
}

func pathConfigFromFlags(cmd *cobra.Command) pathgen.Config {
	scheme, _ := cmd.Flags().GetString("paths")
	maxFiles, _ := cmd.Flags().GetUint64("max-files")
	depth, _ := cmd.Flags().GetInt("partition-depth")
	return pathgen.Config{Scheme: pathgen.Scheme(scheme), MaxFiles: maxFiles, Depth: depth}
}

func alphabetFlag(cmd *cobra.Command) (melody.Alphabet, error) {
	notes, _ := cmd.Flags().GetString("notes")
	if notes == "" {
		return nil, fmt.Errorf("--notes is required")
	}
	a, err := melody.ParseAlphabet(notes)
	if err != nil {
		return nil, fmt.Errorf("--notes: %w", err)
	}
	return a, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), a.version)
		},
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
