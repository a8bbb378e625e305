package defs

import (
	"fmt"
	"time"
)

// Arity describes how many values a field holds and how it relates to its
// value type.
type Arity string

const (
	Contains     Arity = "contains"
	ContainsMany Arity = "containsMany"
	LinksTo      Arity = "linksTo"
	LinksToMany  Arity = "linksToMany"
)

// Plural reports whether the arity holds many values. Plural path segments
// change how the query SQL is shaped.
func (a Arity) Plural() bool {
	return a == ContainsMany || a == LinksToMany
}

// Field is one entry in a type's field table.
type Field struct {
	Arity       Arity   `json:"arity" yaml:"arity"`
	IsPrimitive bool    `json:"isPrimitive" yaml:"isPrimitive"`
	IsComputed  bool    `json:"isComputed,omitempty" yaml:"isComputed,omitempty"`
	FieldOrCard CodeRef `json:"fieldOrCard" yaml:"fieldOrCard"`
	// Serializer names a registered query-value serializer applied to
	// query-side literals before binding (e.g. date formatting).
	Serializer string `json:"serializer,omitempty" yaml:"serializer,omitempty"`
}

// Definition is a type's field schema.
type Definition struct {
	Key    string           `json:"key" yaml:"key"`
	Fields map[string]Field `json:"fields" yaml:"fields"`
}

// QueryValueFormatter transforms a query-side literal before it is bound,
// matching how the field serializes values into the search document.
type QueryValueFormatter func(value any) any

// serializers is the registry of named query-value formatters.
var serializers = map[string]QueryValueFormatter{
	"date": func(value any) any {
		if s, ok := value.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return value
	},
	"datetime": func(value any) any {
		if s, ok := value.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
		return value
	},
}

// RegisterSerializer installs a named query-value formatter. Registration
// happens at program init, before any queries compile.
func RegisterSerializer(name string, fn QueryValueFormatter) {
	serializers[name] = fn
}

// FormatQueryValue applies the field's serializer, if any, to a query-side
// literal. Fields without a serializer pass values through.
func FormatQueryValue(field Field, value any) any {
	if field.Serializer == "" {
		return value
	}
	fn, ok := serializers[field.Serializer]
	if !ok {
		return value
	}
	return fn(value)
}

// NotFoundError reports that a type reference cannot be resolved. Searches
// degrade to empty results on it; direct definition lookups surface it.
type NotFoundError struct {
	Ref   CodeRef
	Cause string
}

func (e *NotFoundError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("filter refers to nonexistent type: import { %s } from %q (%s)",
			e.Ref.Name, e.Ref.Module, e.Cause)
	}
	return fmt.Sprintf("filter refers to nonexistent type: import { %s } from %q",
		e.Ref.Name, e.Ref.Module)
}
