package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/PixelDrop/internal/batch"
	"github.com/dharsanguruparan/PixelDrop/internal/codec"
	"github.com/dharsanguruparan/PixelDrop/internal/intake"
	"github.com/dharsanguruparan/PixelDrop/internal/logging"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
	"github.com/dharsanguruparan/PixelDrop/internal/orchestrator"
	"github.com/dharsanguruparan/PixelDrop/internal/result"
)

type convertOptions struct {
	format      string
	outDir      string
	zipPath     string
	concurrency int
	timeout     time.Duration
	quality     int
	maxBytes    int64
	logLevel    string
}

func newConvertCmd() *cobra.Command {
	opts := convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert [file...]",
		Short: "Convert local images to one target format",
		Long: `Convert runs a batch over local files. Files that are not images are skipped.
A file that fails to decode or encode is reported and does not stop the others.
Outputs keep submission order and are written to --out, or bundled with --zip.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "t", string(model.FormatPNG), "Target format: "+formatList())
	f.StringVarP(&opts.outDir, "out", "o", ".", "Directory for converted files")
	f.StringVar(&opts.zipPath, "zip", "", "Write all converted files into this zip archive instead of --out")
	f.IntVarP(&opts.concurrency, "concurrency", "c", orchestrator.DefaultConcurrency, "Images converted at the same time")
	f.DurationVar(&opts.timeout, "timeout", 0, "Per-image decode/encode timeout (0 disables)")
	f.IntVar(&opts.quality, "quality", codec.DefaultJPEGQuality, "JPEG quality (1-100)")
	f.Int64Var(&opts.maxBytes, "max-bytes", 0, "Skip files larger than this many bytes (0 disables)")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	return cmd
}

func runConvert(cmd *cobra.Command, opts convertOptions, paths []string) error {
	target, err := model.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	logger, cleanup := logging.Setup("", logging.ParseLevel(opts.logLevel))
	defer cleanup()

	orch, err := orchestrator.New(orchestrator.Config{
		ConcurrencyLimit: opts.concurrency,
		JobTimeout:       opts.timeout,
	}, codec.NewStd(opts.quality), logger)
	if err != nil {
		return err
	}

	candidates := make([]model.Candidate, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		// Local files carry no declared type; the validator sniffs the bytes.
		candidates = append(candidates, model.Candidate{Name: filepath.Base(p), Bytes: data})
	}

	validator := intake.New(intake.Options{MaxFileBytes: opts.maxBytes}, logger)
	sess := batch.NewSession("cli")
	for _, entry := range validator.SubmitAll(candidates) {
		sess.Add(*entry)
	}
	skipped := len(candidates) - sess.Len()

	jobs, err := sess.BuildJobs(target)
	if errors.Is(err, batch.ErrEmptyBatch) {
		return fmt.Errorf("no images among %d file(s)", len(candidates))
	}
	if err != nil {
		return err
	}
	res := orch.Run(cmd.Context(), jobs)
	sess.FinishRun()

	if err := writeOutputs(res, opts); err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), res, skipped, opts)
	if res.Aborted {
		return errors.New("conversion interrupted")
	}
	return nil
}

func writeOutputs(res *result.BatchResult, opts convertOptions) error {
	if len(res.Succeeded) == 0 {
		return nil
	}
	if opts.zipPath != "" {
		f, err := os.Create(opts.zipPath)
		if err != nil {
			return fmt.Errorf("create zip: %w", err)
		}
		if err := result.WriteZip(f, res); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, a := range res.Succeeded {
		if err := os.WriteFile(filepath.Join(opts.outDir, a.OutputName), a.Payload, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", a.OutputName, err)
		}
	}
	return nil
}

func printReport(w io.Writer, res *result.BatchResult, skipped int, opts convertOptions) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tSTATUS\tDETAIL")
	for _, a := range res.Succeeded {
		dest := filepath.Join(opts.outDir, a.OutputName)
		if opts.zipPath != "" {
			dest = opts.zipPath + ":" + a.OutputName
		}
		fmt.Fprintf(tw, "%s\tok\t%s (%d bytes)\n", a.OriginalName, dest, a.Size)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(tw, "%s\tfailed\t%s\n", f.OriginalName, f.Reason)
	}
	tw.Flush()

	s := res.Summary()
	fmt.Fprintf(w, "\n%d converted to %s, %d failed", s.Succeeded, res.TargetFormat, s.Failed)
	if skipped > 0 {
		fmt.Fprintf(w, ", %d skipped (not an image)", skipped)
	}
	fmt.Fprintln(w)
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported target formats",
		Run: func(cmd *cobra.Command, args []string) {
			for _, f := range model.Formats() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f, f.ContentType())
			}
		},
	}
}

func formatList() string {
	names := make([]string, 0, len(model.Formats()))
	for _, f := range model.Formats() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}
