package main

import (
	"errors"
	"fmt"

	"github.com/drummonds/pdf2pics/config"
	"github.com/drummonds/pdf2pics/database"
	"github.com/drummonds/pdf2pics/engine"
	"github.com/drummonds/pdf2pics/engine/pdfrenderer"
)

// app holds everything a command needs to run conversions
type app struct {
	config          config.Config
	orchestrator    *engine.Orchestrator
	fileCollections *database.FileCollections
	repository      *database.BunDB
	renderer        pdfrenderer.Renderer
}

// newApp builds the renderer and the collection providers. The collections file is
// consulted before the database.
func newApp(cfg config.Config) (*app, error) {
	a := &app{config: cfg}

	var providers engine.ChainCollections
	if cfg.CollectionsFile != "" {
		fileCollections, err := database.NewFileCollections(cfg.CollectionsFile)
		if err != nil {
			Logger.Warn("Collections file not loaded", "path", cfg.CollectionsFile, "error", err)
		} else {
			a.fileCollections = fileCollections
			providers = append(providers, fileCollections)
		}
	}
	if cfg.DatabaseType != "" {
		Logger.Info("Setting up database", "type", cfg.DatabaseType)
		repository, err := database.NewRepository(cfg)
		if err != nil {
			return nil, fmt.Errorf("unable to set up collection database: %w", err)
		}
		a.repository = repository
		providers = append(providers, repository)
	}

	renderer, err := pdfrenderer.NewRenderer(cfg.Renderer, cfg.RendererPoolSize)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("unable to create renderer: %w", err)
	}
	a.renderer = renderer

	var collections engine.CollectionProvider
	if len(providers) > 0 {
		collections = providers
	}
	a.orchestrator = engine.NewOrchestrator(renderer, collections)
	return a, nil
}

// Close releases the renderer and the database
func (a *app) Close() error {
	var errs []error
	if a.renderer != nil {
		errs = append(errs, a.renderer.Close())
	}
	if a.repository != nil {
		errs = append(errs, a.repository.Close())
	}
	return errors.Join(errs...)
}
