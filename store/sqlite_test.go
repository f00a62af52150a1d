package store_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/rednext/schema"
	"github.com/stevemurr/rednext/store"
)

func TestSqliteListFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	db := store.NewSqliteDB(dir, store.WithLogger(quiet))
	create(t, db, "tasks", todoSchema)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.db.bak"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upper.DB"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.db"), 0o755))

	names, err := db.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, names)
}

func TestSqliteMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not", "yet")
	db := store.NewSqliteDB(dir, store.WithLogger(quiet))

	names, err := db.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	c := create(t, db, "tasks", todoSchema)
	assert.Equal(t, "tasks", c.Name())
	assert.FileExists(t, filepath.Join(dir, "tasks.db"))
}

func TestSqliteLocationIsAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	db := store.NewSqliteDB(path, store.WithLogger(quiet))

	_, err := db.List()
	assert.Error(t, err)
	_, err = db.Create("tasks", todoSchema)
	assert.Error(t, err)
}

func TestSqliteCreateFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	broken := store.NewSqliteDB(dir, store.WithDriver("nope"), store.WithLogger(quiet))
	_, err := broken.Create("tasks", todoSchema)
	require.Error(t, err)

	names, err := store.NewSqliteDB(dir, store.WithLogger(quiet)).List()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.NoFileExists(t, filepath.Join(dir, "tasks.db"))
	assert.NoFileExists(t, filepath.Join(dir, "tasks.db-journal"))

	c := create(t, store.NewSqliteDB(dir, store.WithLogger(quiet)), "tasks", todoSchema)
	assert.Equal(t, "tasks", c.Name(), "the name is free again")
}

func TestSqliteDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	db := store.NewSqliteDB(dir, store.WithLogger(quiet))
	c, err := db.Create("tasks", todoSchema)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, db.Delete("tasks"))
	assert.NoFileExists(t, filepath.Join(dir, "tasks.db"))
}

func TestSqliteOpenDoesNotCreateFiles(t *testing.T) {
	dir := t.TempDir()
	db := store.NewSqliteDB(dir, store.WithLogger(quiet))
	_, err := db.Open("ghost")
	require.ErrorIs(t, err, store.ErrNotExist)
	assert.NoFileExists(t, filepath.Join(dir, "ghost.db"))
}

func TestSqliteOpenRejectsBadSchema(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown type": `CREATE TABLE schema (idx INTEGER PRIMARY KEY, name TEXT, datatype TEXT);
			INSERT INTO schema VALUES (0, 'a', 'Float');`,
		"no schema table": `CREATE TABLE other (x INTEGER);`,
		"empty schema":    `CREATE TABLE schema (idx INTEGER PRIMARY KEY, name TEXT, datatype TEXT);`,
	}
	for name, ddl := range tests {
		t.Run(name, func(t *testing.T) {
			stem := filepath.Base(t.Name())
			raw, err := sql.Open(store.DriverCGO, filepath.Join(dir, stem+".db"))
			require.NoError(t, err)
			_, err = raw.Exec(ddl)
			require.NoError(t, err)
			require.NoError(t, raw.Close())

			db := store.NewSqliteDB(dir, store.WithLogger(quiet))
			_, err = db.Open(stem)
			assert.ErrorIs(t, err, schema.ErrInvalidSchema)
		})
	}
}

func TestSqliteQuotedColumnNames(t *testing.T) {
	s := schema.Schema{
		{Name: "due date", Type: schema.DateTime},
		{Name: `say "hi"`, Type: schema.Text},
		{Name: "x); DROP TABLE items; --", Type: schema.Text},
		{Name: "select", Type: schema.Boolean},
	}
	db := store.NewSqliteDB(t.TempDir(), store.WithLogger(quiet))
	c := create(t, db, "odd", s)

	fields := []schema.Field{
		{Name: "due date", Value: schema.DateTimeValue(mustTime(t, "2024-07-01T01:20:00"))},
		{Name: `say "hi"`, Value: schema.TextValue("hello")},
		{Name: "x); DROP TABLE items; --", Value: schema.TextValue("'; DELETE FROM items; --")},
		{Name: "select", Value: schema.BoolValue(true)},
	}
	_, err := c.Insert(fields)
	require.NoError(t, err)

	found, err := c.Find("DELETE FROM")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assertFields(t, fields, found[0].Fields)

	require.NoError(t, c.Close())
	again, err := db.Open("odd")
	require.NoError(t, err)
	defer again.Close()
	assert.True(t, s.Equal(again.Schema()))
}

func TestSqliteFilesAreDriverIndependent(t *testing.T) {
	dir := t.TempDir()
	cgo := store.NewSqliteDB(dir, store.WithDriver(store.DriverCGO), store.WithLogger(quiet))
	c, err := cgo.Create("shared", schema.Schema{
		{Name: "txt", Type: schema.Text},
		{Name: "due", Type: schema.DateTime},
		{Name: "flag", Type: schema.Boolean},
	})
	require.NoError(t, err)
	due := mustTime(t, "2025-01-31T23:59:59")
	id, err := c.Insert([]schema.Field{
		{Name: "txt", Value: schema.TextValue("written by cgo")},
		{Name: "due", Value: schema.DateTimeValue(due)},
		{Name: "flag", Value: schema.BoolValue(true)},
	})
	require.NoError(t, err)
	require.NoError(t, c.Done(id, due))
	require.NoError(t, c.Close())

	pure := store.NewSqliteDB(dir, store.WithDriver(store.DriverPure), store.WithLogger(quiet))
	c, err = pure.Open("shared")
	require.NoError(t, err)
	defer c.Close()
	r, err := c.Get(id)
	require.NoError(t, err)
	require.NotNil(t, r)
	v, _ := r.Field("due")
	assert.True(t, due.Equal(v.Time()))
	v, _ = r.Field("flag")
	assert.True(t, v.Bool())
	require.NotNil(t, r.CompletedAt)
	assert.True(t, due.Equal(*r.CompletedAt))
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := schema.ParseTime(s)
	require.NoError(t, err)
	return parsed
}
