package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Config contains all of the process settings
type Config struct {
	PDFRoot          string // absolute path all input PDFs are resolved against
	OutputRoot       string // absolute path all rendered images are written under
	DPI              float64
	Concurrency      int
	BatchTimeout     time.Duration
	ImageFormat      string
	JPEGQuality      int
	PageRetries      int
	Renderer         string // fitz or pdfium
	RendererPoolSize int    // documents open at once across all batches, pooled backends only
	CollectionsFile  string

	DatabaseType     string
	DatabaseVerbose  bool
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string

	SweepInterval int // minutes
	SweepGrace    time.Duration

	ListenAddrIP   string
	ListenAddrPort string
}

// BatchConfig is the immutable configuration block handed to a single conversion call
type BatchConfig struct {
	PDFRoot     string
	OutputRoot  string
	DPI         float64
	Concurrency int
	Timeout     time.Duration
	Format      string
	JPEGQuality int
	PageRetries int
}

const maxDPI = 2400

var supportedFormats = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"tif":  true,
	"tiff": true,
	"bmp":  true,
	"gif":  true,
}

// Batch derives the per-call configuration from the process configuration
func (c Config) Batch() BatchConfig {
	return BatchConfig{
		PDFRoot:     c.PDFRoot,
		OutputRoot:  c.OutputRoot,
		DPI:         c.DPI,
		Concurrency: c.Concurrency,
		Timeout:     c.BatchTimeout,
		Format:      c.ImageFormat,
		JPEGQuality: c.JPEGQuality,
		PageRetries: c.PageRetries,
	}
}

// Validate checks that the batch configuration can drive a conversion
func (b BatchConfig) Validate() error {
	if b.PDFRoot == "" {
		return fmt.Errorf("pdf root is not configured")
	}
	if b.OutputRoot == "" {
		return fmt.Errorf("output root is not configured")
	}
	if b.DPI <= 0 || b.DPI > maxDPI {
		return fmt.Errorf("dpi must be in (0, %d], got %v", maxDPI, b.DPI)
	}
	if b.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", b.Concurrency)
	}
	if b.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", b.Timeout)
	}
	if b.PageRetries < 0 {
		return fmt.Errorf("page retries must not be negative, got %d", b.PageRetries)
	}
	if !supportedFormats[strings.ToLower(b.Format)] {
		return fmt.Errorf("unsupported image format %q", b.Format)
	}
	if b.JPEGQuality < 1 || b.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be between 1 and 100, got %d", b.JPEGQuality)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// LoadEnvFiles loads .env style files, silently ignoring any that don't exist
func LoadEnvFiles(extra ...string) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")
	for _, f := range extra {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to load env file %s: %v\n", f, err)
		}
	}
}

// Load reads the configuration from the environment
func Load() (Config, error) {
	cfg := Config{}

	pdfRoot, err := filepath.Abs(filepath.FromSlash(getEnv("PDF_ROOT", ".")))
	if err != nil {
		return cfg, fmt.Errorf("failed creating absolute path for pdf root: %w", err)
	}
	cfg.PDFRoot = pdfRoot

	outputRoot, err := filepath.Abs(filepath.FromSlash(getEnv("OUTPUT_ROOT", "output")))
	if err != nil {
		return cfg, fmt.Errorf("failed creating absolute path for output root: %w", err)
	}
	cfg.OutputRoot = outputRoot

	// 4x zoom over the 72 DPI PDF user space
	cfg.DPI = getEnvFloat("RENDER_DPI", 288)
	cfg.Concurrency = getEnvInt("RENDER_CONCURRENCY", 5)
	cfg.BatchTimeout = getEnvDuration("BATCH_TIMEOUT", 10*time.Minute)
	cfg.ImageFormat = strings.ToLower(getEnv("IMAGE_FORMAT", "png"))
	cfg.JPEGQuality = getEnvInt("JPEG_QUALITY", 95)
	cfg.PageRetries = getEnvInt("PAGE_RETRIES", 1)
	cfg.Renderer = strings.ToLower(getEnv("RENDERER", "fitz"))
	// shared by every batch the process runs, never below one batch's concurrency
	cfg.RendererPoolSize = max(getEnvInt("RENDERER_POOL_SIZE", 4*cfg.Concurrency), cfg.Concurrency)

	if collections := getEnv("COLLECTIONS_FILE", ""); collections != "" {
		collectionsAbs, err := filepath.Abs(filepath.FromSlash(collections))
		if err != nil {
			return cfg, fmt.Errorf("failed creating absolute path for collections file: %w", err)
		}
		cfg.CollectionsFile = collectionsAbs
	}

	cfg.DatabaseType = getEnv("DATABASE_TYPE", "")
	cfg.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	cfg.DatabasePort = getEnv("DATABASE_PORT", "5432")
	cfg.DatabaseUser = getEnv("DATABASE_USER", "pdf2pics")
	cfg.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	cfg.DatabaseDbname = getEnv("DATABASE_NAME", "pdf2pics")
	cfg.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")
	cfg.DatabaseVerbose = getEnvBool("DATABASE_VERBOSE", false)

	cfg.SweepInterval = getEnvInt("SWEEP_INTERVAL", 60)
	cfg.SweepGrace = getEnvDuration("SWEEP_GRACE", time.Hour)

	cfg.ListenAddrIP = getEnv("SERVER_ADDR", "")
	cfg.ListenAddrPort = getEnv("SERVER_PORT", "8002")

	return cfg, nil
}

// Setup loads env files and configuration, then builds the logger
func Setup(envFile string) (Config, *slog.Logger, error) {
	LoadEnvFiles(envFile)

	cfg, err := Load()
	if err != nil {
		return cfg, nil, err
	}

	logger := setupLogging(cfg.OutputRoot)
	Logger = logger

	logger.Info("Configuration loaded",
		"pdfRoot", cfg.PDFRoot,
		"outputRoot", cfg.OutputRoot,
		"dpi", cfg.DPI,
		"concurrency", cfg.Concurrency,
		"renderer", cfg.Renderer,
		"format", cfg.ImageFormat)

	if err := cfg.Batch().Validate(); err != nil {
		return cfg, logger, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

// parseLevel maps LOG_LEVEL values onto slog levels
func parseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging configures the application logger. Stdout belongs to the MCP transport so logs go to a file or stderr.
func setupLogging(outputRoot string) *slog.Logger {
	handlerOptions := &slog.HandlerOptions{Level: parseLevel(getEnv("LOG_LEVEL", "info"))}
	return slog.New(slog.NewTextHandler(logWriter(outputRoot), handlerOptions))
}

func logWriter(outputRoot string) io.Writer {
	if getEnv("LOG_OUTPUT", "file") == "stderr" {
		return os.Stderr
	}
	logPath, err := filepath.Abs(filepath.FromSlash(getEnv("LOG_FILE", filepath.Join(outputRoot, "conversion.log"))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating log file path: %v\n", err)
		return os.Stderr
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		return os.Stderr
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return os.Stderr
	}
	return logFile
}
