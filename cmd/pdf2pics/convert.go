package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drummonds/pdf2pics/engine"
)

var (
	convertPDF        string
	convertPDFs       []string
	convertCollection string
	convertDirectory  string
	convertOutputDir  string
	sweepGrace        time.Duration
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a PDF, a list of PDFs, a collection or a directory and print the result as JSON",
	Example: `  pdf2pics convert --pdf reports/q1.pdf
  pdf2pics convert --pdfs a.pdf,b.pdf --output-dir run1
  pdf2pics convert --dir reports --format jpeg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := convertRequest(cmd)
		if err != nil {
			return err
		}
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.orchestrator.Convert(cmd.Context(), req, cfg.Batch())
		if err != nil {
			return errors.New(engine.PublicMessage(err))
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return err
		}
		if result.Failed() > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d documents failed\n", result.Failed(), len(result.Documents))
		}
		return nil
	},
}

// convertRequest turns the input flags into a request, exactly one must be given
func convertRequest(cmd *cobra.Command) (engine.ConversionRequest, error) {
	flags := cmd.Flags()
	var requests []engine.ConversionRequest
	if flags.Changed("pdf") {
		requests = append(requests, engine.Single(convertPDF))
	}
	if flags.Changed("pdfs") {
		requests = append(requests, engine.Many(convertPDFs...))
	}
	if flags.Changed("collection") {
		requests = append(requests, engine.Collection(convertCollection))
	}
	if flags.Changed("dir") {
		requests = append(requests, engine.Directory(convertDirectory))
	}
	if len(requests) != 1 {
		return engine.ConversionRequest{}, errors.New("exactly one of --pdf, --pdfs, --collection or --dir is required")
	}
	return requests[0].WithOutputDir(convertOutputDir), nil
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned part files and empty folders from the output root",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		grace := cfg.SweepGrace
		if cmd.Flags().Changed("grace") {
			grace = sweepGrace
		}
		report, err := engine.SweepOrphans(cfg.OutputRoot, grace)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d part files and %d empty folders\n", report.PartsRemoved, report.DirsRemoved)
		return nil
	},
}

func init() {
	flags := convertCmd.Flags()
	flags.StringVar(&convertPDF, "pdf", "", "one PDF, relative to the PDF root")
	flags.StringSliceVar(&convertPDFs, "pdfs", nil, "comma separated PDFs, relative to the PDF root")
	flags.StringVar(&convertCollection, "collection", "", "named collection")
	flags.StringVar(&convertDirectory, "dir", "", "directory to scan, relative to the PDF root")
	flags.StringVar(&convertOutputDir, "output-dir", "", "subfolder of the output root")

	sweepCmd.Flags().DurationVar(&sweepGrace, "grace", time.Hour, "only remove files and folders older than this (SWEEP_GRACE)")
}
