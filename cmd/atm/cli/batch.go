package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"atm/internal/archive"
	"atm/internal/batch"
	"atm/internal/config"
	"atm/internal/melody"
	"atm/internal/output"
	"atm/internal/pathgen"
	"atm/internal/publish"
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Generate every melody into sharded archives",
		Example: `  atm batch -n C4,D4,E4,F4,G4,A4,B4,C5 -L 8 -s 16 -t ./out --compress zstd
  atm batch --config run.yaml --parallelism 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, publishURL, pubOpts, err := batchOptions(cmd)
			if err != nil {
				return err
			}
			opts.Logger = a.logger

			if publishURL != "" {
				p, err := publish.New(cmd.Context(), publishURL, pubOpts)
				if err != nil {
					return err
				}
				if c, ok := p.(io.Closer); ok {
					defer func() { _ = c.Close() }()
				}
				opts.Publisher = p
			}

			report, err := batch.Run(cmd.Context(), opts)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().StringP("notes", "n", "", "comma-separated note set, e.g. C4,D4,E4")
	cmd.Flags().IntP("length", "L", 0, "melody length in notes")
	cmd.Flags().IntP("shards", "s", 1, "number of shards")
	cmd.Flags().StringP("target", "t", "", "output directory")
	cmd.Flags().String("prefix", batch.DefaultPrefix, "shard file name prefix")
	cmd.Flags().String("compress", string(output.CompressionNone), "shard compression: none, gzip, zstd, brotli")
	cmd.Flags().Int("level", output.DefaultLevel, "compression level")
	cmd.Flags().String("mode", "644", "octal permission bits of archive entries")
	cmd.Flags().Int("parallelism", 0, "shards written at once (0 = all)")
	cmd.Flags().Uint64("chunk-size", 0, "entries between progress checks (0 = default)")
	cmd.Flags().Duration("progress-interval", time.Second, "minimum time between progress lines per shard (0 disables)")
	cmd.Flags().String("publish", "", "upload sealed shards to s3://, gs://, azblob:// or file:// URL")
	cmd.Flags().String("s3-region", "", "S3 region")
	cmd.Flags().String("s3-endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().Bool("s3-path-style", false, "use path-style S3 addressing")
	cmd.Flags().String("gcs-credentials", "", "GCS service account key file")
	cmd.Flags().String("config", "", "YAML run file; explicit flags override it")
	addPathFlags(cmd)

	return cmd
}

// batchOptions merges the run file, if any, with the flags. A flag wins
// only when it was set on the command line.
func batchOptions(cmd *cobra.Command) (batch.Options, string, publish.Options, error) {
	f := cmd.Flags()
	run := &config.Run{}
	if path, _ := f.GetString("config"); path != "" {
		var err error
		if run, err = config.Load(path); err != nil {
			return batch.Options{}, "", publish.Options{}, err
		}
	}
	str := func(flag, file string) string {
		v, _ := f.GetString(flag)
		if !f.Changed(flag) && file != "" {
			return file
		}
		return v
	}
	num := func(flag string, file int) int {
		v, _ := f.GetInt(flag)
		if !f.Changed(flag) && file != 0 {
			return file
		}
		return v
	}

	notes := str("notes", run.Notes)
	if notes == "" {
		return batch.Options{}, "", publish.Options{}, fmt.Errorf("--notes is required")
	}
	alphabet, err := melody.ParseAlphabet(notes)
	if err != nil {
		return batch.Options{}, "", publish.Options{}, fmt.Errorf("--notes: %w", err)
	}
	mode, err := config.ParseMode(str("mode", run.Mode))
	if err != nil {
		return batch.Options{}, "", publish.Options{}, fmt.Errorf("--mode: %w", err)
	}

	paths := pathConfigFromFlags(cmd)
	if !f.Changed("paths") && run.Paths.Scheme != "" {
		paths.Scheme = pathgen.Scheme(run.Paths.Scheme)
	}
	if !f.Changed("max-files") && run.Paths.MaxFiles != 0 {
		paths.MaxFiles = run.Paths.MaxFiles
	}
	if !f.Changed("partition-depth") && run.Paths.Depth != nil {
		paths.Depth = *run.Paths.Depth
	}

	chunk, _ := f.GetUint64("chunk-size")
	if !f.Changed("chunk-size") && run.ChunkSize != 0 {
		chunk = run.ChunkSize
	}
	interval, _ := f.GetDuration("progress-interval")
	if !f.Changed("progress-interval") && run.ProgressInterval != 0 {
		interval = run.ProgressInterval
	}
	pathStyle, _ := f.GetBool("s3-path-style")
	if !f.Changed("s3-path-style") && run.Publish.S3PathStyle {
		pathStyle = true
	}

	opts := batch.Options{
		Alphabet:         alphabet,
		Length:           num("length", run.Length),
		Shards:           num("shards", run.Shards),
		Dir:              str("target", run.Target),
		Prefix:           str("prefix", run.Prefix),
		Backend:          archive.Kind(str("backend", run.Backend)),
		BatchSize:        num("batch-size", run.BatchSize),
		Compression:      output.Compression(str("compress", run.Compress)),
		Level:            num("level", run.Level),
		Paths:            paths,
		Mode:             mode,
		Parallelism:      num("parallelism", run.Parallelism),
		ChunkSize:        chunk,
		ProgressInterval: interval,
	}
	pub := publish.Options{
		S3Region:       str("s3-region", run.Publish.S3Region),
		S3Endpoint:     str("s3-endpoint", run.Publish.S3Endpoint),
		S3PathStyle:    pathStyle,
		GCSCredentials: str("gcs-credentials", run.Publish.GCSCredentials),
	}
	return opts, str("publish", run.Publish.URL), pub, nil
}

func printReport(w io.Writer, r *batch.Report) {
	p := &printer{format: "table", w: w}
	rows := make([][]string, 0, len(r.Manifest.Results))
	for _, s := range r.Manifest.Results {
		status := "ok"
		if s.Error != "" {
			status = s.Error
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Shard),
			fmt.Sprintf("[%d, %d)", s.Lo, s.Hi),
			humanize.Comma(int64(s.Entries)), //nolint:gosec // G115: entry counts fit in int64
			humanize.IBytes(uint64(max(s.Bytes, 0))),
			s.File,
			status,
		})
	}
	p.table([]string{"SHARD", "RANGE", "ENTRIES", "SIZE", "FILE", "STATUS"}, rows)
	printf(w, "\nrun %s: %s melodies in %s\n", r.Manifest.RunID,
		humanize.Comma(int64(r.Entries())), //nolint:gosec // G115: entry counts fit in int64
		r.Duration.Round(time.Millisecond))
}
