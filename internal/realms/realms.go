// Package realms holds realm URL-space helpers shared by the index writer
// and query engine: membership checks, alias normalization, and dependency
// classification.
package realms

import (
	"net/url"
	"strings"
)

// ExecutableExtensions are the module source extensions that are trimmed
// when deriving an item's file alias. Dependents reference modules by the
// extension-less alias.
var ExecutableExtensions = []string{".gts", ".gjs", ".ts", ".js"}

// Paths answers questions about a realm's URL space.
type Paths struct {
	realmURL string
}

// NewPaths builds a Paths for a realm URL. The realm URL is normalized to
// end with a single trailing slash.
func NewPaths(realmURL string) Paths {
	return Paths{realmURL: strings.TrimRight(realmURL, "/") + "/"}
}

// InRealm reports whether a URL belongs to this realm's URL space.
func (p Paths) InRealm(u string) bool {
	return strings.HasPrefix(u, p.realmURL)
}

// Local returns the realm-relative path for a URL inside the realm, or the
// URL unchanged when it is foreign.
func (p Paths) Local(u string) string {
	return strings.TrimPrefix(u, p.realmURL)
}

// HasExecutableExtension reports whether a URL names a code module.
func HasExecutableExtension(u string) bool {
	for _, ext := range ExecutableExtensions {
		if strings.HasSuffix(u, ext) {
			return true
		}
	}
	return false
}

// TrimExecutableExtension strips a module source extension, if present.
// Non-module URLs pass through unchanged.
func TrimExecutableExtension(u string) string {
	for _, ext := range ExecutableExtensions {
		if strings.HasSuffix(u, ext) {
			return strings.TrimSuffix(u, ext)
		}
	}
	return u
}

// FileAlias derives the identity dependents use to reference an item: the
// executable extension is trimmed for modules and the .json extension is
// trimmed for instance documents.
func FileAlias(u string) string {
	alias := TrimExecutableExtension(u)
	return strings.TrimSuffix(alias, ".json")
}

// IsDataDocument reports whether a URL looks like an instance document
// rather than a code module. Tombstones for invalidated URLs infer their
// type from this.
func IsDataDocument(u string) bool {
	return !HasExecutableExtension(u)
}

// IsScopedCSS reports whether a dependency reference is a scoped stylesheet
// request. Scoped stylesheets are collected across search results so the
// caller can assemble CSS regardless of which realm produced it.
func IsScopedCSS(dep string) bool {
	return strings.HasSuffix(dep, ".scoped.css")
}

// Canonical normalizes a URL for identity comparison: query and fragment
// are dropped. Unparseable input is returned with the suffixes stripped
// textually.
func Canonical(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			return u[:i]
		}
		return u
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}
