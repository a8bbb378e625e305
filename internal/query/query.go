// Package query defines the wire format for structured index queries and
// its validation. The JSON shape {filter, sort, page} is an externally
// documented contract; HTTP endpoints serialize it without alteration.
package query

import (
	"encoding/json"

	"realmindex/internal/defs"
)

// Query is a declarative filter/sort/page specification. Fields optionally
// projects returned documents to the named top-level fields.
type Query struct {
	Filter *Filter  `json:"filter,omitempty"`
	Sort   []Sort   `json:"sort,omitempty"`
	Page   *Page    `json:"page,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// Page is 0-based offset pagination.
type Page struct {
	Number int `json:"number"`
	Size   int `json:"size"`
}

// Sort orders results by a field resolved against a scoping type. General
// sort keys (lastModified, createdAt, url) need no On type.
type Sort struct {
	By        string        `json:"by"`
	On        *defs.CodeRef `json:"on,omitempty"`
	Direction string        `json:"direction,omitempty"` // "asc" | "desc"
}

// Filter is a closed union: exactly one of the predicate fields is set.
// Type is a pure adoption-chain membership test and excludes the others.
// On re-scopes descendant predicates that carry no On of their own.
type Filter struct {
	On *defs.CodeRef `json:"on,omitempty"`

	Type     *defs.CodeRef              `json:"type,omitempty"`
	Eq       map[string]json.RawMessage `json:"eq,omitempty"`
	Contains map[string]json.RawMessage `json:"contains,omitempty"`
	Range    map[string]RangeValue      `json:"range,omitempty"`
	Not      *Filter                    `json:"not,omitempty"`
	Any      []Filter                   `json:"any,omitempty"`
	Every    []Filter                   `json:"every,omitempty"`
}

// RangeValue holds the bounds of a range predicate. Bounds must be non-null
// JSON primitives.
type RangeValue struct {
	Gt  json.RawMessage `json:"gt,omitempty"`
	Gte json.RawMessage `json:"gte,omitempty"`
	Lt  json.RawMessage `json:"lt,omitempty"`
	Lte json.RawMessage `json:"lte,omitempty"`
}

// RangeOperators maps range bound names to SQL comparison operators, in the
// order they are compiled.
var RangeOperators = []struct {
	Name     string
	Operator string
}{
	{"gt", ">"},
	{"gte", ">="},
	{"lt", "<"},
	{"lte", "<="},
}

// Bound returns the raw bound for a range operator name, nil when unset.
func (r RangeValue) Bound(name string) json.RawMessage {
	switch name {
	case "gt":
		return r.Gt
	case "gte":
		return r.Gte
	case "lt":
		return r.Lt
	case "lte":
		return r.Lte
	}
	return nil
}

// Parse decodes and validates a JSON query document.
func Parse(data []byte) (Query, error) {
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return Query{}, &ValidationError{Pointer: "/", Message: err.Error()}
	}
	if err := Validate(q); err != nil {
		return Query{}, err
	}
	return q, nil
}
