package engine

import (
	"fmt"
	"os"

	"github.com/drummonds/pdf2pics/config"
)

// StartupChecks performs all the checks to make sure everything works
func StartupChecks(serverConfig config.Config) error {
	if err := pdfRootChecks(serverConfig); err != nil {
		return err
	}
	if err := outputDirectoryChecks(serverConfig); err != nil {
		return err
	}
	if serverConfig.CollectionsFile != "" {
		if _, err := os.Stat(serverConfig.CollectionsFile); err != nil {
			Logger.Warn("Collections file not readable, collection requests will fail until it appears", "path", serverConfig.CollectionsFile, "error", err)
		}
	}
	return nil
}

// pdfRootChecks ensures the PDF root exists, nothing can be converted otherwise
func pdfRootChecks(serverConfig config.Config) error {
	rootInfo, err := os.Stat(serverConfig.PDFRoot)
	if err != nil {
		Logger.Error("PDF root is not accessible", "path", serverConfig.PDFRoot, "error", err)
		return fmt.Errorf("pdf root is not accessible: %w", err)
	}
	if !rootInfo.IsDir() {
		Logger.Error("PDF root exists but is not a directory", "path", serverConfig.PDFRoot)
		return fmt.Errorf("pdf root is not a directory: %s", serverConfig.PDFRoot)
	}
	Logger.Info("PDF root exists", "path", serverConfig.PDFRoot)
	return nil
}

// outputDirectoryChecks ensures the output directory exists
func outputDirectoryChecks(serverConfig config.Config) error {
	outputInfo, err := os.Stat(serverConfig.OutputRoot)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating output directory", "path", serverConfig.OutputRoot)
			err = os.MkdirAll(serverConfig.OutputRoot, 0755)
			if err != nil {
				Logger.Error("Failed to create output directory", "path", serverConfig.OutputRoot, "error", err)
				return err
			}
			Logger.Info("Output directory created successfully", "path", serverConfig.OutputRoot)
			return nil
		}
		Logger.Error("Error checking output directory", "path", serverConfig.OutputRoot, "error", err)
		return err
	}

	if !outputInfo.IsDir() {
		Logger.Error("Output path exists but is not a directory", "path", serverConfig.OutputRoot)
		return fmt.Errorf("output path is not a directory: %s", serverConfig.OutputRoot)
	}

	Logger.Info("Output directory exists", "path", serverConfig.OutputRoot)
	return nil
}
