// Package mcptool exposes the conversion batches as Model Context Protocol tools over stdio.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/drummonds/pdf2pics/config"
	"github.com/drummonds/pdf2pics/engine"
	mcpgo "github.com/felixgeelhaar/mcp-go"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

const instructions = `Converts PDF files to page images. All paths are relative to the configured PDF root,
output_dir is relative to the configured output root. Results list each input with its page images,
also relative to the output root, or with the error that stopped that document.`

// Server wraps an MCP server exposing the conversion tools
type Server struct {
	srv          *mcpgo.Server
	orchestrator *engine.Orchestrator
	config       config.Config
}

type pdfInput struct {
	PDF       string `json:"pdf"`
	OutputDir string `json:"output_dir"`
}

type pdfsInput struct {
	PDFs      json.RawMessage `json:"pdfs"`
	OutputDir string          `json:"output_dir"`
}

type collectionInput struct {
	Collection string `json:"collection"`
	OutputDir  string `json:"output_dir"`
}

type directoryInput struct {
	Directory string `json:"directory"`
	OutputDir string `json:"output_dir"`
}

// NewServer creates the MCP server and registers the conversion tools
func NewServer(orchestrator *engine.Orchestrator, cfg config.Config, version string) *Server {
	info := mcpgo.ServerInfo{
		Name:        "pdf2pics",
		Version:     version,
		Description: "Batch PDF to image conversion",
		Capabilities: mcpgo.Capabilities{
			Tools: true,
		},
	}
	s := &Server{
		srv:          mcpgo.NewServer(info, mcpgo.WithInstructions(instructions)),
		orchestrator: orchestrator,
		config:       cfg,
	}

	s.srv.Tool("convert_pdf").
		Description("Convert one PDF to page images. Arguments: pdf (path), output_dir (optional subfolder).").
		Handler(s.convertPDF)
	s.srv.Tool("convert_pdfs").
		Description("Convert several PDFs to page images. Arguments: pdfs (a path, a list of paths, or a directory to scan), output_dir (optional subfolder).").
		Handler(s.convertPDFs)
	s.srv.Tool("convert_collection").
		Description("Convert every PDF of a named collection. Arguments: collection (name), output_dir (optional subfolder).").
		Handler(s.convertCollection)
	s.srv.Tool("convert_directory").
		Description("Convert every PDF below a directory. Arguments: directory (path), output_dir (optional subfolder).").
		Handler(s.convertDirectory)

	return s
}

// Server returns the underlying mcp-go server
func (s *Server) Server() *mcpgo.Server {
	return s.srv
}

// ServeStdio runs the server over stdin/stdout until ctx is done
func (s *Server) ServeStdio(ctx context.Context) error {
	Logger.Info("Serving MCP tools over stdio", "pdfRoot", s.config.PDFRoot, "outputRoot", s.config.OutputRoot)
	return mcpgo.ServeStdio(ctx, s.srv)
}

func (s *Server) convertPDF(ctx context.Context, input json.RawMessage) (string, error) {
	var in pdfInput
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if in.PDF == "" {
		return "", errors.New("pdf is required")
	}
	return s.run(ctx, engine.Single(in.PDF).WithOutputDir(in.OutputDir))
}

func (s *Server) convertPDFs(ctx context.Context, input json.RawMessage) (string, error) {
	var in pdfsInput
	if err := decode(input, &in); err != nil {
		return "", err
	}
	req, err := s.pdfsRequest(in.PDFs)
	if err != nil {
		return "", err
	}
	return s.run(ctx, req.WithOutputDir(in.OutputDir))
}

func (s *Server) convertCollection(ctx context.Context, input json.RawMessage) (string, error) {
	var in collectionInput
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if in.Collection == "" {
		return "", errors.New("collection is required")
	}
	return s.run(ctx, engine.Collection(in.Collection).WithOutputDir(in.OutputDir))
}

func (s *Server) convertDirectory(ctx context.Context, input json.RawMessage) (string, error) {
	var in directoryInput
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if in.Directory == "" {
		return "", errors.New("directory is required")
	}
	return s.run(ctx, engine.Directory(in.Directory).WithOutputDir(in.OutputDir))
}

// pdfsRequest accepts a list of paths or a single path. A single path naming a directory
// below the PDF root is scanned like convert_directory.
func (s *Server) pdfsRequest(raw json.RawMessage) (engine.ConversionRequest, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return engine.ConversionRequest{}, errors.New("pdfs is required")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if s.isDirectory(single) {
			return engine.Directory(single), nil
		}
		return engine.Single(single), nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return engine.ConversionRequest{}, errors.New("pdfs must be a path or a list of paths")
	}
	return engine.Many(many...), nil
}

// isDirectory reports false for anything the sandbox rejects, expansion then reports the real error
func (s *Server) isDirectory(rel string) bool {
	sandbox, err := engine.NewSandbox(s.config.PDFRoot)
	if err != nil {
		return false
	}
	norm, err := engine.Normalize(rel)
	if err != nil {
		return false
	}
	abs, err := sandbox.Resolve(norm)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

func (s *Server) run(ctx context.Context, req engine.ConversionRequest) (string, error) {
	result, err := s.orchestrator.Convert(ctx, req, s.config.Batch())
	if err != nil {
		Logger.Warn("Conversion tool call failed", "kind", req.Kind, "target", req.Target(), "error", err)
		if kind := engine.KindOf(err); kind != "" {
			return "", fmt.Errorf("%s: %s", kind, engine.PublicMessage(err))
		}
		return "", errors.New(engine.PublicMessage(err))
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("unable to encode batch result: %w", err)
	}
	return string(out), nil
}

func decode(input json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(input))) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
