package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/drummonds/pdf2pics/engine"
	"github.com/drummonds/pdf2pics/mcptool"
)

var listenPort string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the conversion tools to an MCP client over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		if err := engine.StartupChecks(cfg); err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		a.watchCollections(ctx)

		return mcptool.NewServer(a.orchestrator, cfg, version).ServeStdio(ctx)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversion API over HTTP and sweep the output root on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.ListenAddrPort = listenPort
		}
		Logger.Info("Running startup checks")
		if err := engine.StartupChecks(cfg); err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		a.watchCollections(ctx)

		scheduler, err := engine.InitializeSchedules(cfg) //initialize all the cron jobs
		if err != nil {
			return err
		}
		defer scheduler.Stop()

		e := echo.New()
		e.HideBanner = true
		e.HTTPErrorHandler = func(err error, c echo.Context) {
			var he *echo.HTTPError
			if errors.As(err, &he) && he.Code == http.StatusNotFound {
				c.JSON(http.StatusNotFound, map[string]string{
					"error":   "Not Found",
					"message": "The requested API endpoint does not exist",
					"path":    c.Request().URL.Path,
				})
				return
			}
			e.DefaultHTTPErrorHandler(err, c)
		}
		e.Use(middleware.Recover())
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
			Output: os.Stderr,
		}))

		serverHandler := engine.ServerHandler{Orchestrator: a.orchestrator, Echo: e, ServerConfig: cfg, Version: version}
		serverHandler.RegisterRoutes()

		if cfg.ListenAddrIP == "" {
			Logger.Info("No Ip Addr set, binding on ALL addresses")
		}
		addr := fmt.Sprintf("%s:%s", cfg.ListenAddrIP, cfg.ListenAddrPort)
		Logger.Info("Starting HTTP server", "address", addr)

		serverErr := make(chan error, 1)
		go func() {
			serverErr <- e.Start(addr)
		}()

		select {
		case err := <-serverErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				Logger.Error("Server failed to start", "error", err)
				return err
			}
			return nil
		case <-ctx.Done():
		}

		Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenPort, "port", "", "port to listen on (SERVER_PORT)")
}

// watchCollections reloads the collections file when it changes until ctx is done
func (a *app) watchCollections(ctx context.Context) {
	if a.fileCollections == nil {
		return
	}
	go func() {
		if err := a.fileCollections.Watch(ctx); err != nil {
			Logger.Error("Collections file watcher stopped", "error", err)
		}
	}()
}
