package index

import (
	"context"
	"errors"
	"fmt"

	"realmindex/internal/defs"
	"realmindex/internal/expr"
	"realmindex/internal/query"
	"realmindex/internal/realms"
	"realmindex/internal/store"
)

// Engine compiles structured queries into SQL and executes them against a
// realm's index rows. It is read-only; the writer is the only mutator.
type Engine struct {
	store *store.Store
	defs  *defs.Cache
}

// NewEngine returns an engine over the given store and definition cache.
func NewEngine(st *store.Store, cache *defs.Cache) *Engine {
	return &Engine{store: st, defs: cache}
}

// Definitions exposes the engine's definition cache for direct metadata
// lookups. Unlike a search, those surface resolution failures.
func (e *Engine) Definitions() *defs.Cache {
	return e.defs
}

// ReadOptions selects which snapshot a read sees. Every query runs
// entirely against one snapshot; live and work-in-progress rows are never
// mixed.
type ReadOptions struct {
	// WorkInProgress reads the in-flight next version instead of the
	// published one.
	WorkInProgress bool
}

// SearchOptions adjusts what a search matches beyond its filter.
type SearchOptions struct {
	ReadOptions
	// IncludeErrors admits error rows for instance URLs alongside
	// successfully indexed instances.
	IncludeErrors bool
	// CardURLs restricts the search to the given URLs.
	CardURLs []string
}

// PageMeta reports pagination totals.
type PageMeta struct {
	Total int64 `json:"total"`
}

// Meta accompanies every search result.
type Meta struct {
	Page PageMeta `json:"page"`
}

// SearchResult is a page of matching instance documents.
type SearchResult struct {
	Cards []map[string]any `json:"cards"`
	Meta  Meta             `json:"meta"`
}

// Search runs a structured query against a realm and returns the matching
// instance documents. A filter referencing an unresolvable type returns a
// well-formed empty page, not an error: a missing type means no possible
// matches.
func (e *Engine) Search(ctx context.Context, realmURL string, q query.Query, opts SearchOptions) (*SearchResult, error) {
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	rows, meta, err := e.executeSearch(ctx, realmURL, q, opts,
		expr.Expression{"SELECT url, pristine_doc"})
	if err != nil {
		return nil, err
	}
	result := &SearchResult{Cards: []map[string]any{}, Meta: meta}
	for _, row := range rows {
		doc := jsonObject(row["pristine_doc"])
		if doc == nil {
			continue
		}
		if len(q.Fields) > 0 {
			doc = projectFields(doc, q.Fields)
		}
		result.Cards = append(result.Cards, doc)
	}
	return result, nil
}

// executeSearch compiles and runs the main query and its COUNT(DISTINCT
// url) twin over the same predicate and snapshot, so the total always
// agrees with the page contents.
func (e *Engine) executeSearch(ctx context.Context, realmURL string, q query.Query, opts SearchOptions, selectClause expr.Expression) ([]map[string]any, Meta, error) {
	conditions := []expr.Expression{
		{"i.realm_url =", expr.Bind(realmURL)},
		{"(is_deleted = FALSE OR is_deleted IS NULL)"},
	}
	if opts.IncludeErrors {
		conditions = append(conditions, expr.Any([]expr.Expression{
			{"i.type =", expr.Bind(string(TypeInstance))},
			expr.Every([]expr.Expression{
				{"i.type =", expr.Bind(string(TypeError))},
				{"i.url LIKE '%.json'"},
			}),
		}))
	} else {
		conditions = append(conditions, expr.Expression{"i.type =", expr.Bind(string(TypeInstance))})
	}
	if len(opts.CardURLs) > 0 {
		urls := make([]expr.Expression, len(opts.CardURLs))
		for i, u := range opts.CardURLs {
			urls[i] = expr.Expression{expr.Bind(u)}
		}
		in := expr.Expression{"i.url IN"}
		in = append(in, expr.Parens(expr.SeparatedByCommas(urls))...)
		conditions = append(conditions, in)
	}
	if q.Filter != nil {
		condition, err := e.filterCondition(*q.Filter, defs.BaseCardRef)
		if err != nil {
			return nil, Meta{}, err
		}
		conditions = append(conditions, condition)
	}
	where := expr.Every(conditions)

	order, err := e.orderExpression(q.Sort)
	if err != nil {
		return nil, Meta{}, err
	}

	table := e.tableFor(opts.ReadOptions)
	main := append(expr.Expression{}, selectClause...)
	main = append(main, "FROM "+table+" AS i", expr.TableValuedFunctionsPlaceholder, "WHERE")
	main = append(main, where...)
	main = append(main, "GROUP BY url")
	main = append(main, order...)
	if q.Page != nil {
		main = append(main,
			fmt.Sprintf("LIMIT %d OFFSET %d", q.Page.Size, q.Page.Number*q.Page.Size))
	}

	count := expr.Expression{
		"SELECT COUNT(DISTINCT url) AS total",
		"FROM " + table + " AS i", expr.TableValuedFunctionsPlaceholder, "WHERE",
	}
	count = append(count, where...)

	resolvedMain, err := e.resolve(ctx, main)
	if err != nil {
		return degradeUnknownType(err)
	}
	resolvedCount, err := e.resolve(ctx, count)
	if err != nil {
		return degradeUnknownType(err)
	}

	rows, err := e.store.QueryExpr(ctx, resolvedMain)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("execute search: %w", err)
	}
	countRows, err := e.store.QueryExpr(ctx, resolvedCount)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("execute search count: %w", err)
	}
	var total int64
	if len(countRows) > 0 {
		total = asInt64(countRows[0]["total"])
	}
	return rows, Meta{Page: PageMeta{Total: total}}, nil
}

// degradeUnknownType converts an unresolvable-type failure into an empty
// page. Anything else propagates.
func degradeUnknownType(err error) ([]map[string]any, Meta, error) {
	var notFound *defs.NotFoundError
	if errors.As(err, &notFound) {
		return nil, Meta{Page: PageMeta{Total: 0}}, nil
	}
	return nil, Meta{}, err
}

func (e *Engine) tableFor(opts ReadOptions) string {
	if opts.WorkInProgress {
		return "index_wip"
	}
	return "index_live"
}

// GetInstance reads one instance (or its error row) by URL or file alias.
// Returns nil when the URL is unknown or tombstoned.
func (e *Engine) GetInstance(ctx context.Context, url string, opts ReadOptions) (*Instance, error) {
	row, err := e.getEntry(ctx, url, opts, TypeInstance)
	if err != nil || row == nil {
		return nil, err
	}
	return &Instance{
		CanonicalURL:      asString(row["url"]),
		RealmURL:          asString(row["realm_url"]),
		RealmVersion:      asInt64(row["realm_version"]),
		Document:          jsonObject(row["pristine_doc"]),
		SearchDoc:         jsonObject(row["search_doc"]),
		Types:             jsonStrings(row["types"]),
		Deps:              jsonStrings(row["deps"]),
		Source:            asString(row["source"]),
		IsolatedHTML:      asString(row["isolated_html"]),
		EmbeddedHTML:      jsonStringMap(row["embedded_html"]),
		FittedHTML:        jsonStringMap(row["fitted_html"]),
		AtomHTML:          asString(row["atom_html"]),
		LastModified:      asInt64(row["last_modified"]),
		ResourceCreatedAt: asInt64(row["resource_created_at"]),
		IndexedAt:         asInt64(row["indexed_at"]),
		Error:             jsonErrorDoc(row["error_doc"]),
	}, nil
}

// GetModule reads one module (or its error row) by URL or file alias.
// Returns nil when the URL is unknown or tombstoned.
func (e *Engine) GetModule(ctx context.Context, url string, opts ReadOptions) (*Module, error) {
	row, err := e.getEntry(ctx, url, opts, TypeModule)
	if err != nil || row == nil {
		return nil, err
	}
	return &Module{
		CanonicalURL:      asString(row["url"]),
		Source:            asString(row["source"]),
		TranspiledCode:    asString(row["transpiled_code"]),
		LastModified:      asInt64(row["last_modified"]),
		ResourceCreatedAt: asInt64(row["resource_created_at"]),
		Deps:              jsonStrings(row["deps"]),
		Error:             jsonErrorDoc(row["error_doc"]),
	}, nil
}

// getEntry finds a row by exact URL or by file alias, so callers may use
// either the stored identity or the extension-normalized one dependents
// reference.
func (e *Engine) getEntry(ctx context.Context, url string, opts ReadOptions, entryType EntryType) (map[string]any, error) {
	alias := realms.FileAlias(realms.Canonical(url))
	rows, err := e.store.QueryExpr(ctx, expr.Expression{
		"SELECT * FROM " + e.tableFor(opts),
		"WHERE (url =", expr.Bind(url), "OR file_alias =", expr.Bind(alias), ")",
		"AND (type =", expr.Bind(string(entryType)),
		"OR type =", expr.Bind(string(TypeError)), ")",
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entryType, url, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	if asBool(row["is_deleted"]) {
		return nil, nil
	}
	return row, nil
}

// projectFields trims a document to the requested top-level fields. The id
// field always survives so results stay addressable.
func projectFields(doc map[string]any, fields []string) map[string]any {
	keep := map[string]bool{"id": true}
	for _, f := range fields {
		keep[f] = true
	}
	out := make(map[string]any, len(keep))
	for key, value := range doc {
		if keep[key] {
			out[key] = value
		}
	}
	return out
}
