// Package index contains the versioned batch writer and the structured
// query engine for the card index. The writer is the sole mutator of index
// storage; the engine compiles declarative filters into SQL over the
// search document.
package index

// EntryType discriminates index rows.
type EntryType string

const (
	TypeInstance EntryType = "instance"
	TypeModule   EntryType = "module"
	TypeCSS      EntryType = "css"
	TypeError    EntryType = "error"
)

// Entry is a payload accepted by Batch.UpdateEntry. The concrete type
// selects the row discriminant.
type Entry interface {
	entryType() EntryType
}

// InstanceEntry indexes a card instance: its persisted document, the JSON
// search projection used for filtering, and prerendered HTML per format.
type InstanceEntry struct {
	Source            string
	LastModified      int64
	ResourceCreatedAt int64
	Document          map[string]any
	SearchDoc         map[string]any
	IsolatedHTML      string
	// EmbeddedHTML and FittedHTML are keyed by internal type key so a more
	// specific render type can be probed at query time.
	EmbeddedHTML map[string]string
	FittedHTML   map[string]string
	AtomHTML     string
	// Types is the adoption chain, most specific first.
	Types []string
	Deps  []string
}

func (InstanceEntry) entryType() EntryType { return TypeInstance }

// ModuleEntry indexes a code module with its transpiled form.
type ModuleEntry struct {
	Source         string
	TranspiledCode string
	LastModified   int64
	Deps           []string
}

func (ModuleEntry) entryType() EntryType { return TypeModule }

// CSSEntry indexes a stylesheet.
type CSSEntry struct {
	Source       string
	LastModified int64
	Deps         []string
}

func (CSSEntry) entryType() EntryType { return TypeCSS }

// ErrorEntry records an indexing failure for a URL. The error's own deps
// are tracked so fixing a dependency re-invalidates the failed item.
type ErrorEntry struct {
	Error ErrorDoc
}

func (ErrorEntry) entryType() EntryType { return TypeError }

// ErrorDoc is the structured error payload stored in error rows.
type ErrorDoc struct {
	Message string   `json:"message"`
	Status  int      `json:"status,omitempty"`
	Deps    []string `json:"deps,omitempty"`
}

// Instance is a single-entry read result. Error is set when the row is an
// error entry; the remaining fields carry whatever the row retained.
type Instance struct {
	CanonicalURL      string
	RealmURL          string
	RealmVersion      int64
	Document          map[string]any
	SearchDoc         map[string]any
	Types             []string
	Deps              []string
	Source            string
	IsolatedHTML      string
	EmbeddedHTML      map[string]string
	FittedHTML        map[string]string
	AtomHTML          string
	LastModified      int64
	ResourceCreatedAt int64
	IndexedAt         int64
	Error             *ErrorDoc
}

// Module is a single-entry read result for code modules.
type Module struct {
	CanonicalURL      string
	Source            string
	TranspiledCode    string
	LastModified      int64
	ResourceCreatedAt int64
	Deps              []string
	Error             *ErrorDoc
}

// ModifiedTime reports a row's type and last-modified time at the realm's
// published version. External callers diff this against file storage to
// decide what needs re-indexing.
type ModifiedTime struct {
	URL          string
	Type         EntryType
	LastModified int64
}
