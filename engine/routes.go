package engine

import (
	"errors"
	"net/http"

	"github.com/drummonds/pdf2pics/config"
	"github.com/labstack/echo/v4"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Orchestrator *Orchestrator
	Echo         *echo.Echo
	ServerConfig config.Config
	Version      string
}

// convertBody is the JSON body of a conversion request, exactly one input field is set
type convertBody struct {
	PDF        string   `json:"pdf"`
	PDFs       []string `json:"pdfs"`
	Collection string   `json:"collection"`
	Directory  string   `json:"directory"`
	OutputDir  string   `json:"outputDir"`
}

func (b convertBody) request() (ConversionRequest, error) {
	var requests []ConversionRequest
	if b.PDF != "" {
		requests = append(requests, Single(b.PDF))
	}
	if b.PDFs != nil {
		requests = append(requests, Many(b.PDFs...))
	}
	if b.Collection != "" {
		requests = append(requests, Collection(b.Collection))
	}
	if b.Directory != "" {
		requests = append(requests, Directory(b.Directory))
	}
	if len(requests) != 1 {
		return ConversionRequest{}, invalidRequest("exactly one of pdf, pdfs, collection or directory must be given")
	}
	return requests[0].WithOutputDir(b.OutputDir), nil
}

// RegisterRoutes adds the conversion API and the rendered output to echo
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo
	e.POST("/api/convert", serverHandler.Convert)
	e.GET("/api/batches/active", serverHandler.GetActiveBatches)
	e.GET("/api/collections", serverHandler.GetCollections)
	e.POST("/api/sweep", serverHandler.RunSweepNow)
	e.GET("/api/health", serverHandler.GetHealth)

	// Rendered pages, paths in a batch result are relative to this prefix
	e.Static("/output", serverHandler.ServerConfig.OutputRoot)
}

// Convert runs a conversion batch and returns its result
// @Summary Convert PDFs to images
// @Description Renders one PDF, a list, a named collection or a directory tree to page images
// @Tags Convert
// @Accept json
// @Produce json
// @Success 200 {array} object "One entry per document, in request order"
// @Failure 400 {object} map[string]interface{} "Malformed request or input"
// @Failure 403 {object} map[string]interface{} "Path outside the configured roots"
// @Failure 404 {object} map[string]interface{} "Input or collection not found"
// @Router /convert [post]
func (serverHandler *ServerHandler) Convert(c echo.Context) error {
	var body convertBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	req, err := body.request()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}

	result, err := serverHandler.Orchestrator.Convert(c.Request().Context(), req, serverHandler.ServerConfig.Batch())
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			Logger.Error("Conversion failed", "error", err)
			return c.JSON(status, map[string]interface{}{
				"error": "Internal error while converting",
			})
		}
		return c.JSON(status, errorBody(err))
	}
	return c.JSON(http.StatusOK, result)
}

// GetActiveBatches lists the batches currently rendering
// @Summary Get active batches
// @Tags Convert
// @Produce json
// @Router /batches/active [get]
func (serverHandler *ServerHandler) GetActiveBatches(c echo.Context) error {
	return c.JSON(http.StatusOK, serverHandler.Orchestrator.Tracker.Active())
}

// GetCollections lists the known collection names
func (serverHandler *ServerHandler) GetCollections(c echo.Context) error {
	lister, ok := serverHandler.Orchestrator.Collections.(CollectionLister)
	if !ok {
		return c.JSON(http.StatusOK, []string{})
	}
	names, err := lister.CollectionNames(c.Request().Context())
	if err != nil {
		Logger.Error("Failed to list collections", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to list collections",
		})
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, names)
}

// RunSweepNow removes orphaned part files and empty folders from the output root
func (serverHandler *ServerHandler) RunSweepNow(c echo.Context) error {
	report, err := SweepOrphans(serverHandler.ServerConfig.OutputRoot, serverHandler.ServerConfig.SweepGrace)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Sweep failed",
		})
	}
	return c.JSON(http.StatusOK, report)
}

// GetHealth is the health check endpoint
func (serverHandler *ServerHandler) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "pdf2pics",
		"version": serverHandler.Version,
	})
}

func errorBody(err error) map[string]interface{} {
	body := map[string]interface{}{"error": PublicMessage(err)}
	var convErr *Error
	if errors.As(err, &convErr) {
		body["kind"] = convErr.Kind
		if convErr.Path != "" {
			body["path"] = convErr.Path
		}
	}
	return body
}

// statusForError maps batch level failures to HTTP status codes
func statusForError(err error) int {
	var invariant *InvariantViolation
	if errors.As(err, &invariant) {
		return http.StatusInternalServerError
	}
	switch KindOf(err) {
	case KindSandboxViolation:
		return http.StatusForbidden
	case KindNotFound, KindUnknownCollection:
		return http.StatusNotFound
	case KindInvalidRequest, KindNotAPdf, KindNotADirectory:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
