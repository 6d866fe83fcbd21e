package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"atm/internal/manifest"
	"atm/internal/output"
	"atm/internal/verify"
)

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check every shard archive of a run against its manifest",
		Example: `  atm verify --manifest ./out
  atm verify --manifest ./out/manifest.atm -d /mnt/mirror`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("manifest")
			dir, _ := cmd.Flags().GetString("dir")
			parallelism, _ := cmd.Flags().GetInt("parallelism")
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			man, err := manifest.Read(path)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = manifestDir(path)
			}

			report, err := verify.Run(cmd.Context(), man, verify.Options{
				Dir:         dir,
				Parallelism: parallelism,
				Logger:      a.logger,
			})
			if report == nil {
				return err
			}
			if p.format == "json" {
				if jerr := p.json(report.Shards); jerr != nil {
					return jerr
				}
				return err
			}
			rows := make([][]string, 0, len(report.Shards))
			for _, s := range report.Shards {
				status := "ok"
				switch {
				case s.Err != nil:
					status = s.Err.Error()
				case !s.DigestOK:
					status = "digest mismatch"
				case len(s.Problems) > 0:
					status = strings.Join(s.Problems, "; ")
				case s.Entries != s.Expected:
					status = "short"
				}
				rows = append(rows, []string{
					strconv.Itoa(s.Shard),
					s.File,
					strconv.FormatUint(s.Entries, 10) + "/" + strconv.FormatUint(s.Expected, 10),
					status,
				})
			}
			p.table([]string{"SHARD", "FILE", "ENTRIES", "STATUS"}, rows)
			return err
		},
	}

	cmd.Flags().String("manifest", "", "manifest file or run directory")
	cmd.Flags().StringP("dir", "d", "", "directory holding the shard files (default: the manifest's directory)")
	cmd.Flags().Int("parallelism", 0, "shards verified at once (0 = all)")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

// manifestDir returns the run directory for a manifest path that may name
// either the file or its directory.
func manifestDir(path string) string {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

func newInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the entries of one shard archive",
		Example: `  atm inspect out/atm-3.tar.zst --match '**/12*.mid'
  atm inspect out/atm-0.tar --descend -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compName, _ := cmd.Flags().GetString("compress")
			match, _ := cmd.Flags().GetString("match")
			descend, _ := cmd.Flags().GetBool("descend")
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			comp := output.DetectCompression(args[0])
			if compName != "" {
				if comp, err = output.ParseCompression(compName); err != nil {
					return err
				}
			}

			var entries []verify.Entry
			err = verify.Inspect(args[0], verify.InspectOptions{
				Compression: comp,
				Match:       match,
				Descend:     descend,
			}, func(e verify.Entry) error {
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
			a.logger.Debug("inspected", "component", "inspect", "file", args[0], "entries", len(entries))

			if p.format == "json" {
				return p.json(entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Path(),
					strconv.FormatInt(e.Size, 10),
					"0" + strconv.FormatInt(e.Mode, 8),
				})
			}
			p.table([]string{"NAME", "SIZE", "MODE"}, rows)
			return nil
		},
	}

	cmd.Flags().String("compress", "", "archive compression (default: from the file extension)")
	cmd.Flags().String("match", "", "only list entries matching this doublestar pattern")
	cmd.Flags().Bool("descend", false, "list members of batched archives instead of the batches")
	addOutputFlag(cmd)

	return cmd
}
