package engine

import (
	"strings"
)

// RequestKind selects which input shape a ConversionRequest carries
type RequestKind string

const (
	RequestSingle     RequestKind = "single"
	RequestMany       RequestKind = "many"
	RequestCollection RequestKind = "collection"
	RequestDirectory  RequestKind = "directory"
)

// ConversionRequest names the PDFs to convert. Exactly one of the shape fields is populated,
// matching Kind. OutputDir is an optional subfolder of the output root.
type ConversionRequest struct {
	Kind       RequestKind `json:"kind"`
	Path       string      `json:"path,omitempty"`
	Paths      []string    `json:"paths,omitempty"`
	Collection string      `json:"collection,omitempty"`
	OutputDir  string      `json:"outputDir,omitempty"`
}

// Single requests one PDF relative to the PDF root
func Single(path string) ConversionRequest {
	return ConversionRequest{Kind: RequestSingle, Path: path}
}

// Many requests an ordered list of PDFs relative to the PDF root
func Many(paths ...string) ConversionRequest {
	return ConversionRequest{Kind: RequestMany, Paths: paths}
}

// Collection requests every member of a named collection
func Collection(name string) ConversionRequest {
	return ConversionRequest{Kind: RequestCollection, Collection: name}
}

// Directory requests every PDF below a directory relative to the PDF root
func Directory(path string) ConversionRequest {
	return ConversionRequest{Kind: RequestDirectory, Path: path}
}

// WithOutputDir returns a copy of the request writing under dir
func (r ConversionRequest) WithOutputDir(dir string) ConversionRequest {
	r.OutputDir = dir
	return r
}

// Validate checks the request shape only; paths are checked during expansion
func (r ConversionRequest) Validate() error {
	switch r.Kind {
	case RequestSingle, RequestDirectory:
		if strings.TrimSpace(r.Path) == "" {
			return invalidRequest(string(r.Kind) + " request needs a path")
		}
		if len(r.Paths) > 0 || r.Collection != "" {
			return invalidRequest(string(r.Kind) + " request carries fields of another request kind")
		}
	case RequestMany:
		if len(r.Paths) == 0 {
			return invalidRequest("many request needs at least one path")
		}
		if r.Path != "" || r.Collection != "" {
			return invalidRequest("many request carries fields of another request kind")
		}
	case RequestCollection:
		if strings.TrimSpace(r.Collection) == "" {
			return invalidRequest("collection request needs a collection name")
		}
		if r.Path != "" || len(r.Paths) > 0 {
			return invalidRequest("collection request carries fields of another request kind")
		}
	default:
		return invalidRequest("unknown request kind " + string(r.Kind))
	}
	return nil
}

// Target is a short description of the request for logging
func (r ConversionRequest) Target() string {
	switch r.Kind {
	case RequestMany:
		return strings.Join(r.Paths, ",")
	case RequestCollection:
		return r.Collection
	default:
		return r.Path
	}
}
