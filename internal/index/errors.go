package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"realmindex/internal/defs"
)

// ConflictError reports that two concurrent batches invalidated overlapping
// sets of items in the same realm. The loser sees the uniqueness violation
// on its tombstone insert and must retry against the new published state.
type ConflictError struct {
	RealmURL      string
	Version       int64
	URL           string
	Invalidations []string
	BatchID       uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"tried to invalidate %s in realm %s with version %d, but that version already exists (batch %s, invalidating %s)",
		e.URL, e.RealmURL, e.Version, e.BatchID, strings.Join(e.Invalidations, ", "))
}

// IsConflictError reports whether err is (or wraps) a ConflictError.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// NonexistentFieldError reports a filter or sort leaf that names a field
// its scoping type does not have. Unlike an unresolvable type, which
// degrades a search to empty results, a bad field fails the request. In
// names the query part ("filter" or "sort") the path came from.
type NonexistentFieldError struct {
	Field string
	Type  defs.CodeRef
	In    string
}

func (e *NonexistentFieldError) Error() string {
	in := e.In
	if in == "" {
		in = "query"
	}
	return fmt.Sprintf("%s refers to nonexistent field %q on type %s",
		in, e.Field, defs.InternalKeyFor(e.Type))
}

// IsNonexistentFieldError reports whether err is (or wraps) a
// NonexistentFieldError.
func IsNonexistentFieldError(err error) bool {
	var fe *NonexistentFieldError
	return errors.As(err, &fe)
}
