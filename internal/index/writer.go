package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"realmindex/internal/expr"
	"realmindex/internal/realms"
	"realmindex/internal/store"
)

// invalidationPageSize bounds each dependent-lookup query. The traversal
// pages with a stable URL ordering so results stay deterministic across
// pages.
const invalidationPageSize = 1000

// jsonColumns are the index_entries columns that hold JSON documents.
var jsonColumns = []string{
	"pristine_doc", "search_doc", "error_doc",
	"deps", "types", "embedded_html", "fitted_html",
}

var errBatchDone = errors.New("batch is already done")

// Writer creates batches. One Writer per store; batches are cheap.
type Writer struct {
	store     *store.Store
	nowMillis func() int64
}

// NewWriter returns a Writer over the given store.
func NewWriter(st *store.Store) *Writer {
	return &Writer{
		store:     st,
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
}

// Batch is one realm's indexing pass. It owns a version assigned at open
// time, writes rows at that version, and makes them visible atomically in
// Done. Batches for the same realm racing each other are caught by the
// store's uniqueness constraint and surface as ConflictError.
//
// A Batch is not safe for concurrent use; the caller sequences operations.
type Batch struct {
	ID uuid.UUID

	store     *store.Store
	realmURL  string
	paths     realms.Paths
	nowMillis func() int64

	version         int64
	isNewGeneration bool
	done            bool
	touched         map[string]bool
	invalidated     map[string]bool
}

// NewBatch opens a batch for a realm and assigns its version: published
// version + 1, or 1 for a realm never indexed before. The assignment is
// stable for the batch's lifetime.
func (w *Writer) NewBatch(ctx context.Context, realmURL string) (*Batch, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate batch id: %w", err)
	}
	b := &Batch{
		ID:          id,
		store:       w.store,
		realmURL:    realmURL,
		paths:       realms.NewPaths(realmURL),
		nowMillis:   w.nowMillis,
		touched:     map[string]bool{},
		invalidated: map[string]bool{},
	}
	if err := b.assignVersion(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Version is the realm version this batch writes at.
func (b *Batch) Version() int64 {
	return b.version
}

func (b *Batch) assignVersion(ctx context.Context) error {
	rows, err := b.store.QueryExpr(ctx, expr.Expression{
		"SELECT current_version FROM realm_versions WHERE realm_url =",
		expr.Bind(b.realmURL),
	})
	if err != nil {
		return fmt.Errorf("read realm version for %s: %w", b.realmURL, err)
	}
	if len(rows) == 0 {
		// never-indexed realm: seed the counter so Done's publish is an
		// update either way
		_, err := b.store.ExecExpr(ctx, expr.Expression{
			"INSERT INTO realm_versions (realm_url, current_version) VALUES (",
			expr.Bind(b.realmURL), ",", expr.Bind(int64(0)),
			") ON CONFLICT (realm_url) DO NOTHING",
		})
		if err != nil {
			return fmt.Errorf("initialize realm version for %s: %w", b.realmURL, err)
		}
		b.version = 1
		return nil
	}
	b.version = asInt64(rows[0]["current_version"]) + 1
	return nil
}

// UpdateEntry upserts a row for url at the batch's version. URLs outside
// the realm's own URL space are silently ignored.
func (b *Batch) UpdateEntry(ctx context.Context, url string, entry Entry) error {
	if b.done {
		return errBatchDone
	}
	if !b.paths.InRealm(url) {
		return nil
	}
	b.touched[url] = true

	values := map[string]any{
		"url":           url,
		"file_alias":    realms.FileAlias(url),
		"type":          string(entry.entryType()),
		"realm_url":     b.realmURL,
		"realm_version": b.version,
		"is_deleted":    false,
		"indexed_at":    b.nowMillis(),
	}
	switch e := entry.(type) {
	case InstanceEntry:
		values["pristine_doc"] = e.Document
		values["search_doc"] = e.SearchDoc
		values["isolated_html"] = e.IsolatedHTML
		values["embedded_html"] = stringMapAny(e.EmbeddedHTML)
		values["fitted_html"] = stringMapAny(e.FittedHTML)
		values["atom_html"] = e.AtomHTML
		values["deps"] = stringsAny(e.Deps)
		values["types"] = stringsAny(e.Types)
		values["source"] = e.Source
		values["last_modified"] = e.LastModified
		values["resource_created_at"] = e.ResourceCreatedAt
	case ModuleEntry:
		values["deps"] = stringsAny(e.Deps)
		values["source"] = e.Source
		values["transpiled_code"] = e.TranspiledCode
		values["last_modified"] = e.LastModified
	case CSSEntry:
		values["deps"] = stringsAny(e.Deps)
		values["source"] = e.Source
		values["last_modified"] = e.LastModified
	case ErrorEntry:
		values["error_doc"] = errorDocAny(e.Error)
		values["deps"] = stringsAny(e.Error.Deps)
	default:
		return fmt.Errorf("unknown entry type %T", entry)
	}

	cv, err := expr.AsExpressions(values, jsonColumns...)
	if err != nil {
		return fmt.Errorf("serialize entry for %s: %w", url, err)
	}
	_, err = b.store.ExecExpr(ctx,
		expr.Upsert("index_entries", []string{"url", "realm_version"}, cv))
	if err != nil {
		return fmt.Errorf("write entry for %s: %w", url, err)
	}
	return nil
}

// Invalidate tombstones url and the transitive closure of everything that
// depends on it, at the batch's version. The closure crosses realm
// boundaries; invalidation is a whole-system concern. Returns the full
// invalidation set.
//
// Items this batch already wrote or already tombstoned get no new
// tombstone: the batch's own row at this version stays authoritative. A
// uniqueness violation on the remaining insert therefore means another
// batch wrote one of these (url, version) rows; it surfaces as a
// ConflictError and is not retried here.
func (b *Batch) Invalidate(ctx context.Context, url string) ([]string, error) {
	if b.done {
		return nil, errBatchDone
	}
	alias := realms.TrimExecutableExtension(realms.Canonical(url))
	visited := map[string]bool{}
	closure, err := b.calculateInvalidations(ctx, alias, visited)
	if err != nil {
		return nil, err
	}

	invalidations := make([]string, 0, len(closure)+1)
	seen := map[string]bool{}
	for _, u := range append([]string{url}, closure...) {
		if seen[u] {
			continue
		}
		seen[u] = true
		invalidations = append(invalidations, u)
	}

	names := []string{"url", "file_alias", "type", "realm_url", "realm_version", "is_deleted"}
	var rows []expr.ColumnValues
	for _, u := range invalidations {
		if b.touched[u] || b.invalidated[u] {
			continue
		}
		entryType := TypeModule
		if realms.IsDataDocument(u) {
			entryType = TypeInstance
		}
		rows = append(rows, expr.Row(u, realms.FileAlias(u), string(entryType),
			b.realmURL, b.version, true))
	}
	if len(rows) > 0 {
		_, err = b.store.ExecExpr(ctx, expr.Insert("index_entries", names, rows))
		if err != nil {
			if store.IsUniqueViolation(err) {
				return nil, &ConflictError{
					RealmURL:      b.realmURL,
					Version:       b.version,
					URL:           url,
					Invalidations: invalidations,
					BatchID:       b.ID,
				}
			}
			return nil, fmt.Errorf("write tombstones for %s: %w", url, err)
		}
	}
	for _, u := range invalidations {
		// record the file alias too: the traversal guard compares
		// node-resolved aliases, not stored URLs
		b.invalidated[u] = true
		b.invalidated[realms.FileAlias(u)] = true
	}
	return invalidations, nil
}

// calculateInvalidations walks the dependency graph breadth-by-alias:
// everything whose deps contain the alias, then recursively everything
// depending on those. The visited set breaks cycles; items already
// invalidated in this batch are not revisited.
func (b *Batch) calculateInvalidations(ctx context.Context, alias string, visited map[string]bool) ([]string, error) {
	if visited[alias] || b.invalidated[alias] {
		return nil, nil
	}
	visited[alias] = true

	dependents, err := b.itemsThatReference(ctx, alias)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range dependents {
		out = append(out, item.url)
		// instances are referenced by URL, modules by their file alias
		next := item.fileAlias
		if item.entryType == TypeInstance {
			next = item.url
		}
		nested, err := b.calculateInvalidations(ctx, next, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return dedupe(out), nil
}

type referencingItem struct {
	url       string
	fileAlias string
	entryType EntryType
}

// itemsThatReference finds, across the whole store, the current rows whose
// deps array contains the alias. Stylesheets are excluded: a CSS row
// depending on its module must not drag the module's dependents in through
// itself. The lookup pages with a stable ordering rather than trusting one
// unbounded query.
func (b *Batch) itemsThatReference(ctx context.Context, alias string) ([]referencingItem, error) {
	var out []referencingItem
	for page := 0; ; page++ {
		rows, err := b.store.QueryExpr(ctx, expr.Expression{
			"SELECT i.url, i.file_alias, i.type",
			"FROM index_wip AS i",
			expr.TableValuedFunctionsPlaceholder,
			"WHERE", expr.TableValuedEach{Column: "deps"}, "=", expr.Bind(alias),
			"AND i.type != 'css'",
			"ORDER BY i.url COLLATE BINARY",
			fmt.Sprintf("LIMIT %d OFFSET %d", invalidationPageSize, page*invalidationPageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("lookup dependents of %s: %w", alias, err)
		}
		for _, row := range rows {
			out = append(out, referencingItem{
				url:       asString(row["url"]),
				fileAlias: asString(row["file_alias"]),
				entryType: EntryType(asString(row["type"])),
			})
		}
		if len(rows) < invalidationPageSize {
			return out, nil
		}
	}
}

// MakeNewGeneration marks this batch as a from-scratch reindex. Every URL
// currently live in the realm gets a tombstone at the batch's version, so
// items the reindex never touches disappear when the generation publishes;
// Done then prunes all superseded rows.
//
// The version is re-floored above any row in the realm, published or not,
// so an abandoned work-in-progress batch cannot collide with the new
// generation's rows.
func (b *Batch) MakeNewGeneration(ctx context.Context) error {
	if b.done {
		return errBatchDone
	}
	b.isNewGeneration = true

	rows, err := b.store.QueryExpr(ctx, expr.Expression{
		"SELECT MAX(realm_version) AS max_version FROM index_entries WHERE realm_url =",
		expr.Bind(b.realmURL),
	})
	if err != nil {
		return fmt.Errorf("read max version for %s: %w", b.realmURL, err)
	}
	if len(rows) > 0 && rows[0]["max_version"] != nil {
		if floor := asInt64(rows[0]["max_version"]) + 1; floor > b.version {
			b.version = floor
		}
	}

	_, err = b.store.ExecExpr(ctx, expr.Expression{
		"INSERT INTO index_entries (url, file_alias, type, realm_url, realm_version, is_deleted)",
		"SELECT i.url, i.file_alias, i.type, i.realm_url,", expr.Bind(b.version), ", TRUE",
		"FROM index_live AS i WHERE i.realm_url =", expr.Bind(b.realmURL),
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return &ConflictError{
				RealmURL: b.realmURL,
				Version:  b.version,
				BatchID:  b.ID,
			}
		}
		return fmt.Errorf("tombstone generation for %s: %w", b.realmURL, err)
	}
	return nil
}

// Done publishes the batch's version as the realm's current version, making
// every row written by this batch visible to live readers at once. A
// new-generation batch additionally prunes all superseded rows for the
// realm. Returns the realm's row count at the published version. The batch
// is terminal afterwards.
func (b *Batch) Done(ctx context.Context) (int64, error) {
	if b.done {
		return 0, errBatchDone
	}
	_, err := b.store.ExecExpr(ctx, expr.Expression{
		"INSERT INTO realm_versions (realm_url, current_version) VALUES (",
		expr.Bind(b.realmURL), ",", expr.Bind(b.version),
		") ON CONFLICT (realm_url) DO UPDATE SET current_version=excluded.current_version",
	})
	if err != nil {
		return 0, fmt.Errorf("publish version %d for %s: %w", b.version, b.realmURL, err)
	}
	if b.isNewGeneration {
		_, err = b.store.ExecExpr(ctx, expr.Expression{
			"DELETE FROM index_entries WHERE realm_url =", expr.Bind(b.realmURL),
			"AND realm_version <", expr.Bind(b.version),
		})
		if err != nil {
			return 0, fmt.Errorf("prune superseded rows for %s: %w", b.realmURL, err)
		}
	}
	b.done = true

	rows, err := b.store.QueryExpr(ctx, expr.Expression{
		"SELECT COUNT(*) AS total FROM index_live WHERE realm_url =",
		expr.Bind(b.realmURL),
		"AND (is_deleted = FALSE OR is_deleted IS NULL)",
	})
	if err != nil {
		return 0, fmt.Errorf("count rows for %s: %w", b.realmURL, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt64(rows[0]["total"]), nil
}

// ModifiedTimes reports, for every row at the realm's published version,
// its type and last-modified time.
func (w *Writer) ModifiedTimes(ctx context.Context, realmURL string) ([]ModifiedTime, error) {
	rows, err := w.store.QueryExpr(ctx, expr.Expression{
		"SELECT url, type, last_modified FROM index_live WHERE realm_url =",
		expr.Bind(realmURL),
		"AND (is_deleted = FALSE OR is_deleted IS NULL)",
		"ORDER BY url COLLATE BINARY",
	})
	if err != nil {
		return nil, fmt.Errorf("read modified times for %s: %w", realmURL, err)
	}
	out := make([]ModifiedTime, 0, len(rows))
	for _, row := range rows {
		out = append(out, ModifiedTime{
			URL:          asString(row["url"]),
			Type:         EntryType(asString(row["type"])),
			LastModified: asInt64(row["last_modified"]),
		})
	}
	return out, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// stringsAny widens a string slice for canonical JSON serialization. A nil
// slice stays nil so the column stores JSON null rather than [].
func stringsAny(values []string) any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func stringMapAny(values map[string]string) any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func errorDocAny(doc ErrorDoc) map[string]any {
	out := map[string]any{"message": doc.Message}
	if doc.Status != 0 {
		out["status"] = int64(doc.Status)
	}
	if doc.Deps != nil {
		out["deps"] = stringsAny(doc.Deps)
	}
	return out
}
