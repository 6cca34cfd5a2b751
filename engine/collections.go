package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// CollectionProvider looks up the members of a named collection. Members are paths relative
// to the PDF root. Unknown names fail with an error matching ErrUnknownCollection.
type CollectionProvider interface {
	ListCollection(ctx context.Context, name string) ([]string, error)
}

// CollectionLister is implemented by providers that can enumerate their collection names
type CollectionLister interface {
	CollectionNames(ctx context.Context) ([]string, error)
}

// UnknownCollection builds the error providers return for a name they do not know
func UnknownCollection(name string) error {
	return NewError(KindUnknownCollection, name, "unknown collection", nil)
}

// StaticCollections is an in-memory provider
type StaticCollections map[string][]string

func (s StaticCollections) ListCollection(_ context.Context, name string) ([]string, error) {
	members, ok := s[name]
	if !ok {
		return nil, UnknownCollection(name)
	}
	return append([]string(nil), members...), nil
}

func (s StaticCollections) CollectionNames(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ChainCollections asks each provider in turn, the first one that knows the name wins
type ChainCollections []CollectionProvider

func (c ChainCollections) ListCollection(ctx context.Context, name string) ([]string, error) {
	for _, provider := range c {
		members, err := provider.ListCollection(ctx, name)
		if err == nil {
			return members, nil
		}
		if !errors.Is(err, ErrUnknownCollection) {
			return nil, fmt.Errorf("collection lookup for %q failed: %w", name, err)
		}
	}
	return nil, UnknownCollection(name)
}

// CollectionNames merges the names of every provider that can list them
func (c ChainCollections) CollectionNames(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, provider := range c {
		lister, ok := provider.(CollectionLister)
		if !ok {
			continue
		}
		providerNames, err := lister.CollectionNames(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range providerNames {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
