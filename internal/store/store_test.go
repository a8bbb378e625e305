package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmindex/internal/expr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestExecAndQueryExpr(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cv, err := expr.AsExpressions(map[string]any{
		"url":           "https://demo.realm.local/jade.json",
		"file_alias":    "https://demo.realm.local/jade",
		"type":          "instance",
		"realm_url":     "https://demo.realm.local/",
		"realm_version": int64(1),
		"search_doc":    map[string]any{"name": "Jade"},
	}, "search_doc")
	require.NoError(t, err)

	_, err = s.ExecExpr(ctx, expr.Upsert("index_entries", []string{"url", "realm_version"}, cv))
	require.NoError(t, err)

	rows, err := s.QueryExpr(ctx, expr.Expression{
		"SELECT url, search_doc FROM index_entries WHERE realm_url =",
		expr.Bind("https://demo.realm.local/"),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://demo.realm.local/jade.json", rows[0]["url"])
	// byte-slice columns come back as strings
	assert.Equal(t, `{"name":"Jade"}`, rows[0]["search_doc"])
}

func TestUpsertReplacesWithinVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Jade", "Jadeite"} {
		cv, err := expr.AsExpressions(map[string]any{
			"url":           "https://demo.realm.local/jade.json",
			"file_alias":    "https://demo.realm.local/jade",
			"type":          "instance",
			"realm_url":     "https://demo.realm.local/",
			"realm_version": int64(1),
			"search_doc":    map[string]any{"name": name},
		}, "search_doc")
		require.NoError(t, err)
		_, err = s.ExecExpr(ctx, expr.Upsert("index_entries", []string{"url", "realm_version"}, cv))
		require.NoError(t, err)
	}

	rows, err := s.QueryExpr(ctx, expr.Expression{
		"SELECT search_doc FROM index_entries",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, `{"name":"Jadeite"}`, rows[0]["search_doc"])
}

func TestIsUniqueViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := expr.Insert("realm_versions",
		[]string{"realm_url", "current_version"},
		[]expr.ColumnValues{expr.Row("https://demo.realm.local/", int64(1))})

	_, err := s.ExecExpr(ctx, insert)
	require.NoError(t, err)

	_, err = s.ExecExpr(ctx, insert)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("disk I/O error")))
}

func TestViewsQueryable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRow := func(version int64) {
		cv, err := expr.AsExpressions(map[string]any{
			"url":           "https://demo.realm.local/jade.json",
			"file_alias":    "https://demo.realm.local/jade",
			"type":          "instance",
			"realm_url":     "https://demo.realm.local/",
			"realm_version": version,
		})
		require.NoError(t, err)
		_, err = s.ExecExpr(ctx, expr.Upsert("index_entries", []string{"url", "realm_version"}, cv))
		require.NoError(t, err)
	}
	seedRow(1)
	seedRow(2)

	_, err := s.ExecExpr(ctx, expr.Expression{
		"INSERT INTO realm_versions (realm_url, current_version) VALUES (",
		expr.Bind("https://demo.realm.local/"), ",", expr.Bind(int64(1)), ")",
	})
	require.NoError(t, err)

	// live sees the published version, wip the newest
	live, err := s.QueryExpr(ctx, expr.Expression{"SELECT realm_version FROM index_live"})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, int64(1), live[0]["realm_version"])

	wip, err := s.QueryExpr(ctx, expr.Expression{"SELECT realm_version FROM index_wip"})
	require.NoError(t, err)
	require.Len(t, wip, 1)
	assert.Equal(t, int64(2), wip[0]["realm_version"])
}
