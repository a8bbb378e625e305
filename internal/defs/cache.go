package defs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Provider resolves a type reference to its definition. Resolution may
// contact the owning realm; this package only needs the functional
// contract. A provider signals an unresolvable reference by returning an
// error that matches *NotFoundError with errors.As.
type Provider interface {
	LookupDefinition(ctx context.Context, ref CodeRef) (*Definition, error)
}

// Cache is a process-local definition cache in front of a Provider.
//
// Positive results are cached by the reference's internal key. Negative
// results ("type not found") are cached too and replayed without
// re-fetching until Invalidate is called for the owning realm. Construction
// ties the cache to the component owning a realm, not to ambient globals,
// so tests stay deterministic.
type Cache struct {
	provider Provider

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	def *Definition
	err error
}

// NewCache wraps a provider with caching.
func NewCache(provider Provider) *Cache {
	return &Cache{
		provider: provider,
		entries:  map[string]cacheEntry{},
	}
}

// GetDefinition resolves a type reference, consulting the cache first.
func (c *Cache) GetDefinition(ctx context.Context, ref CodeRef) (*Definition, error) {
	key := InternalKeyFor(ref)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry.def, entry.err
	}

	def, err := c.provider.LookupDefinition(ctx, ref)
	var notFound *NotFoundError
	switch {
	case err == nil:
		c.store(key, cacheEntry{def: def})
		return def, nil
	case errors.As(err, &notFound):
		// negative result: replay without re-fetching
		c.store(key, cacheEntry{err: err})
		return nil, err
	default:
		// transient provider failures are not cached
		return nil, fmt.Errorf("lookup definition %s: %w", key, err)
	}
}

func (c *Cache) store(key string, entry cacheEntry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Invalidate drops every cached entry (positive and negative) whose module
// belongs to the given realm. Called when a realm re-indexes.
func (c *Cache) Invalidate(realmURL string) {
	prefix := strings.TrimRight(realmURL, "/") + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// maxTypeVisits bounds recursive field enumeration: a type revisited more
// than this many times along one enumeration terminates that branch, so
// self-referential schemas cannot recurse forever.
const maxTypeVisits = 2

// FieldPath is one enumerated field with its dotted path from the root
// type.
type FieldPath struct {
	Path  string
	Field Field
}

// EnumerateFields recursively lists every reachable field of a type as
// dotted paths. Primitive fields are leaves; composite fields recurse into
// their own definitions. Unresolvable nested types terminate their branch
// rather than failing the enumeration.
func (c *Cache) EnumerateFields(ctx context.Context, ref CodeRef) ([]FieldPath, error) {
	def, err := c.GetDefinition(ctx, ref)
	if err != nil {
		return nil, err
	}
	visits := map[string]int{InternalKeyFor(ref): 1}
	return c.enumerate(ctx, def, "", visits)
}

func (c *Cache) enumerate(ctx context.Context, def *Definition, prefix string, visits map[string]int) ([]FieldPath, error) {
	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []FieldPath
	for _, name := range names {
		field := def.Fields[name]
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		out = append(out, FieldPath{Path: path, Field: field})
		if field.IsPrimitive {
			continue
		}
		key := InternalKeyFor(field.FieldOrCard)
		if visits[key] >= maxTypeVisits {
			continue
		}
		visits[key]++
		nested, err := c.GetDefinition(ctx, field.FieldOrCard)
		if err != nil {
			var notFound *NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		nestedPaths, err := c.enumerate(ctx, nested, path, visits)
		if err != nil {
			return nil, err
		}
		out = append(out, nestedPaths...)
	}
	return out, nil
}
