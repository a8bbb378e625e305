// Package defs resolves type references to their field schemas and caches
// the results. The query engine consumes it to validate filter paths and to
// learn whether a path segment is singular or plural.
package defs

import (
	"realmindex/internal/realms"
)

// CodeRef identifies an exported type in a module.
type CodeRef struct {
	Module string `json:"module" yaml:"module"`
	Name   string `json:"name" yaml:"name"`
}

// BaseCardRef is the root "any card" type. Filters that specify no scoping
// type resolve their paths against it.
var BaseCardRef = CodeRef{Module: "https://base.realm.local/card-api", Name: "CardDef"}

// InternalKeyFor returns the canonical identity of a type: the module URL
// with query/fragment and executable extension normalized away, joined with
// the exported name. Rows store their adoption chain as these keys.
func InternalKeyFor(ref CodeRef) string {
	module := realms.TrimExecutableExtension(realms.Canonical(ref.Module))
	return module + "/" + ref.Name
}

// IsZero reports whether the ref is unset.
func (r CodeRef) IsZero() bool {
	return r.Module == "" && r.Name == ""
}
