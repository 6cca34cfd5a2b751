package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drummonds/pdf2pics/engine"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Repository stores named collections of PDFs
type Repository interface {
	engine.CollectionProvider
	engine.CollectionLister
	SaveCollection(ctx context.Context, name string, members []string) error
	DeleteCollection(ctx context.Context, name string) error
	Close() error
}

// normalizeMembers checks that every member is a relative path inside the PDF root and
// returns them in canonical form
func normalizeMembers(name string, members []string) ([]string, error) {
	normalized := make([]string, 0, len(members))
	for _, member := range members {
		norm, err := engine.Normalize(member)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}
		normalized = append(normalized, norm)
	}
	return normalized, nil
}
