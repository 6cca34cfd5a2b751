package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drummonds/pdf2pics/config"
	"github.com/drummonds/pdf2pics/database"
	"github.com/drummonds/pdf2pics/engine"
	"github.com/drummonds/pdf2pics/mcptool"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

var version = "dev"

var (
	envFile     string
	pdfRoot     string
	outputRoot  string
	dpi         float64
	concurrency int
	imageFormat string
	renderer    string
)

var rootCmd = &cobra.Command{
	Use:   "pdf2pics",
	Short: "Convert PDF documents into page images",
	Long: `pdf2pics renders PDFs below a PDF root into page images below an output root.

Conversions can be driven from an MCP client over stdio, over HTTP, or from this CLI.
Every path a caller gives or gets back is relative to one of the two roots.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", "", "extra .env style file to load")
	flags.StringVar(&pdfRoot, "pdf-root", "", "directory input paths are resolved against (PDF_ROOT)")
	flags.StringVar(&outputRoot, "output-root", "", "directory images are written under (OUTPUT_ROOT)")
	flags.Float64Var(&dpi, "dpi", 0, "render resolution (RENDER_DPI)")
	flags.IntVar(&concurrency, "concurrency", 0, "documents rendered at once (RENDER_CONCURRENCY)")
	flags.StringVar(&imageFormat, "format", "", "image format: png, jpeg, tiff, bmp or gif (IMAGE_FORMAT)")
	flags.StringVar(&renderer, "renderer", "", "rasterizer backend: fitz or pdfium (RENDERER)")

	rootCmd.AddCommand(mcpCmd, serveCmd, convertCmd, sweepCmd, collectionsCmd)
}

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	database.Logger = Logger
	engine.Logger = Logger
	mcptool.Logger = Logger
}

// setup applies flag overrides to the environment, then loads the configuration
func setup(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	overrides := map[string]string{}
	if flags.Changed("pdf-root") {
		overrides["PDF_ROOT"] = pdfRoot
	}
	if flags.Changed("output-root") {
		overrides["OUTPUT_ROOT"] = outputRoot
	}
	if flags.Changed("dpi") {
		overrides["RENDER_DPI"] = strconv.FormatFloat(dpi, 'f', -1, 64)
	}
	if flags.Changed("concurrency") {
		overrides["RENDER_CONCURRENCY"] = strconv.Itoa(concurrency)
	}
	if flags.Changed("format") {
		overrides["IMAGE_FORMAT"] = imageFormat
	}
	if flags.Changed("renderer") {
		overrides["RENDERER"] = renderer
	}
	for key, value := range overrides {
		if err := os.Setenv(key, value); err != nil {
			return config.Config{}, fmt.Errorf("unable to apply --%s: %w", key, err)
		}
	}

	cfg, logger, err := config.Setup(envFile)
	if logger != nil {
		injectGlobals(logger) //inject the logger into all of the packages
	}
	return cfg, err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
