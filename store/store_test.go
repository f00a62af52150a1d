package store_test

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/stevemurr/rednext/handler"
	"github.com/stevemurr/rednext/schema"
	"github.com/stevemurr/rednext/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var todoSchema = schema.Schema{
	{Name: "txt", Type: schema.Text},
	{Name: "n", Type: schema.Number},
}

func todo(txt string, n int32) []schema.Field {
	return []schema.Field{
		{Name: "txt", Value: schema.TextValue(txt)},
		{Name: "n", Value: schema.NumberValue(n)},
	}
}

func ids(rs []schema.Record) []uint64 {
	out := make([]uint64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func assertFields(t *testing.T, want, got []schema.Field) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Name, got[i].Name, "field %d name", i)
		assert.True(t, want[i].Value.Equal(got[i].Value), "field %q: want %v, got %v", want[i].Name, want[i].Value, got[i].Value)
	}
}

func create(t *testing.T, db store.Catalog, name string, s schema.Schema) store.Collection {
	t.Helper()
	c, err := db.Create(name, s)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// runCatalogTests runs the common contract suite against any Catalog.
// newCatalog must return an empty catalog on every call.
func runCatalogTests(t *testing.T, newCatalog func(t *testing.T) store.Catalog) {
	t.Helper()

	t.Run("List empty", func(t *testing.T) {
		names, err := newCatalog(t).List()
		require.NoError(t, err)
		assert.NotNil(t, names)
		assert.Empty(t, names)
	})

	t.Run("Create Open Delete", func(t *testing.T) {
		db := newCatalog(t)
		c := create(t, db, "tasks", todoSchema)
		assert.Equal(t, "tasks", c.Name())
		assert.True(t, todoSchema.Equal(c.Schema()))
		create(t, db, "books", schema.Schema{{Name: "title", Type: schema.Text}})

		names, err := db.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"books", "tasks"}, names)

		_, err = db.Create("tasks", todoSchema)
		assert.ErrorIs(t, err, store.ErrExists)

		opened, err := db.Open("tasks")
		require.NoError(t, err)
		assert.True(t, todoSchema.Equal(opened.Schema()))
		require.NoError(t, opened.Close())

		require.NoError(t, db.Delete("tasks"))
		_, err = db.Open("tasks")
		assert.ErrorIs(t, err, store.ErrNotExist)
		assert.ErrorIs(t, db.Delete("tasks"), store.ErrNotExist)

		names, err = db.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"books"}, names)
	})

	t.Run("Open and Delete missing", func(t *testing.T) {
		db := newCatalog(t)
		_, err := db.Open("nope")
		assert.ErrorIs(t, err, store.ErrNotExist)
		var opErr *store.OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "open", opErr.Op)
		assert.Equal(t, "nope", opErr.Target)

		assert.ErrorIs(t, db.Delete("nope"), store.ErrNotExist)
	})

	t.Run("Create rejects bad names and schemas", func(t *testing.T) {
		db := newCatalog(t)
		for _, name := range []string{"", "a/b", ".hidden", "list", "open"} {
			_, err := db.Create(name, todoSchema)
			assert.ErrorIs(t, err, store.ErrInvalidName, "name %q", name)
		}
		_, err := db.Create("dup", schema.Schema{
			{Name: "a", Type: schema.Text},
			{Name: "a", Type: schema.Number},
		})
		assert.ErrorIs(t, err, schema.ErrInvalidSchema)
		_, err = db.Create("empty", schema.Schema{})
		assert.ErrorIs(t, err, schema.ErrInvalidSchema)

		names, err := db.List()
		require.NoError(t, err)
		assert.Empty(t, names, "failed creates leave nothing behind")
	})

	t.Run("Insert list round trip", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		items, err := c.ListItems()
		require.NoError(t, err)
		assert.Empty(t, items)

		id, err := c.Insert(todo("buy milk", 2))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)

		items, err = c.ListItems()
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, uint64(1), items[0].ID)
		assertFields(t, todo("buy milk", 2), items[0].Fields)
		assert.Nil(t, items[0].CompletedAt)
	})

	t.Run("Insert reorders fields into schema order", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		_, err := c.Insert([]schema.Field{
			{Name: "n", Value: schema.NumberValue(7)},
			{Name: "txt", Value: schema.TextValue("reversed")},
		})
		require.NoError(t, err)
		items, err := c.ListItems()
		require.NoError(t, err)
		require.Len(t, items, 1)
		assertFields(t, todo("reversed", 7), items[0].Fields)
	})

	t.Run("Insert rejects invalid field sets", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		_, err := c.Insert(todo("x", 1)[:1])
		assert.ErrorIs(t, err, schema.ErrInvalidFields)
		_, err = c.Insert([]schema.Field{
			{Name: "txt", Value: schema.NumberValue(1)},
			{Name: "n", Value: schema.NumberValue(1)},
		})
		assert.ErrorIs(t, err, schema.ErrTypeMismatch)

		items, err := c.ListItems()
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("All field types", func(t *testing.T) {
		s := schema.Schema{
			{Name: "txt", Type: schema.Text},
			{Name: "due", Type: schema.DateTime},
			{Name: "bool", Type: schema.Boolean},
			{Name: "n", Type: schema.Number},
		}
		c := create(t, newCatalog(t), "typed", s)
		due := time.Date(2024, 7, 1, 1, 20, 0, 0, time.UTC)
		rows := [][]schema.Field{
			{
				{Name: "txt", Value: schema.TextValue("task 1")},
				{Name: "due", Value: schema.DateTimeValue(due)},
				{Name: "bool", Value: schema.BoolValue(true)},
				{Name: "n", Value: schema.NumberValue(42)},
			},
			{
				{Name: "txt", Value: schema.TextValue("")},
				{Name: "due", Value: schema.DateTimeValue(due.AddDate(10, 0, 0))},
				{Name: "bool", Value: schema.BoolValue(false)},
				{Name: "n", Value: schema.NumberValue(-2147483648)},
			},
			{
				{Name: "txt", Value: schema.TextValue("ünïcødé ✓")},
				{Name: "due", Value: schema.DateTimeValue(due.Add(59 * time.Second))},
				{Name: "bool", Value: schema.BoolValue(true)},
				{Name: "n", Value: schema.NumberValue(2147483647)},
			},
		}
		for _, fields := range rows {
			_, err := c.Insert(fields)
			require.NoError(t, err)
		}
		items, err := c.ListItems()
		require.NoError(t, err)
		require.Len(t, items, len(rows))
		for i, fields := range rows {
			assertFields(t, fields, items[i].Fields)
		}
	})

	t.Run("Scenario done then lists", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		_, err := c.Insert(todo("buy milk", 2))
		require.NoError(t, err)

		at := time.Date(2024, 7, 2, 9, 30, 0, 0, time.UTC)
		require.NoError(t, c.Done(1, at))

		done, err := c.ListDone()
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, uint64(1), done[0].ID)
		assertFields(t, todo("buy milk", 2), done[0].Fields)
		require.NotNil(t, done[0].CompletedAt)
		assert.True(t, at.Equal(*done[0].CompletedAt), "completed at %v", *done[0].CompletedAt)

		undone, err := c.ListUndone()
		require.NoError(t, err)
		assert.Empty(t, undone)
	})

	t.Run("Done Undone inverse", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		id, err := c.Insert(todo("a", 1))
		require.NoError(t, err)

		require.NoError(t, c.Done(id, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)))
		require.NoError(t, c.Undone(id))
		got, err := c.Get(id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Nil(t, got.CompletedAt)

		// Undone on a pending record still matches one row.
		require.NoError(t, c.Undone(id))

		assert.ErrorIs(t, c.Done(99, time.Now()), store.ErrRowCount)
		assert.ErrorIs(t, c.Undone(99), store.ErrRowCount)
	})

	t.Run("Ids increase and are never reused", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		var last uint64
		for i := 0; i < 5; i++ {
			id, err := c.Insert(todo("x", int32(i)))
			require.NoError(t, err)
			assert.Greater(t, id, last)
			last = id
		}
		require.NoError(t, c.Delete(last))
		id, err := c.Insert(todo("after delete", 0))
		require.NoError(t, err)
		assert.Greater(t, id, last)

		items, err := c.ListItems()
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3, 4, 6}, ids(items))
	})

	t.Run("Get and Delete", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		id, err := c.Insert(todo("keep", 1))
		require.NoError(t, err)

		got, err := c.Get(id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assertFields(t, todo("keep", 1), got.Fields)

		missing, err := c.Get(42)
		require.NoError(t, err)
		assert.Nil(t, missing)

		require.NoError(t, c.Delete(42), "deleting a missing id is a no-op")
		require.NoError(t, c.Delete(id))
		got, err = c.Get(id)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Done and undone partition all items", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		for i := 0; i < 6; i++ {
			_, err := c.Insert(todo("x", int32(i)))
			require.NoError(t, err)
		}
		base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		// Completion order differs from id order.
		require.NoError(t, c.Done(5, base))
		require.NoError(t, c.Done(2, base.Add(time.Hour)))
		require.NoError(t, c.Done(4, base.Add(-time.Hour)))

		all, err := c.ListItems()
		require.NoError(t, err)
		done, err := c.ListDone()
		require.NoError(t, err)
		undone, err := c.ListUndone()
		require.NoError(t, err)

		assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, ids(all))
		assert.Equal(t, []uint64{4, 5, 2}, ids(done), "done is ordered by completion time")
		assert.Equal(t, []uint64{1, 3, 6}, ids(undone))
		for _, r := range done {
			assert.NotNil(t, r.CompletedAt)
		}
		for _, r := range undone {
			assert.Nil(t, r.CompletedAt)
		}
		assert.ElementsMatch(t, ids(all), append(ids(done), ids(undone)...))
	})

	t.Run("GetRandom samples pending records", func(t *testing.T) {
		c := create(t, newCatalog(t), "tasks", todoSchema)
		r, err := c.GetRandom()
		require.NoError(t, err)
		assert.Nil(t, r, "empty collection")

		for i := 0; i < 5; i++ {
			_, err := c.Insert(todo("x", int32(i)))
			require.NoError(t, err)
		}
		require.NoError(t, c.Done(1, time.Now()))
		require.NoError(t, c.Done(3, time.Now()))

		seen := map[uint64]int{}
		for i := 0; i < 200; i++ {
			r, err := c.GetRandom()
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Nil(t, r.CompletedAt)
			seen[r.ID]++
		}
		assert.Len(t, seen, 3, "every pending record is eventually drawn: %v", seen)
		assert.Zero(t, seen[1])
		assert.Zero(t, seen[3])

		for _, id := range []uint64{2, 4, 5} {
			require.NoError(t, c.Done(id, time.Now()))
		}
		r, err = c.GetRandom()
		require.NoError(t, err)
		assert.Nil(t, r, "nothing pending")
	})

	t.Run("Find", func(t *testing.T) {
		s := schema.Schema{
			{Name: "title", Type: schema.Text},
			{Name: "n", Type: schema.Number},
			{Name: "note", Type: schema.Text},
		}
		c := create(t, newCatalog(t), "notes", s)
		insert := func(title, note string) {
			_, err := c.Insert([]schema.Field{
				{Name: "title", Value: schema.TextValue(title)},
				{Name: "n", Value: schema.NumberValue(0)},
				{Name: "note", Value: schema.TextValue(note)},
			})
			require.NoError(t, err)
		}
		insert("buy milk", "")
		insert("call mom", "about milkshakes")
		insert("read", "chapter 3")
		insert("100% done", "under_score")
		insert("ÉCOLE", "")

		found, err := c.Find("milk")
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, ids(found), "matches any text column")

		found, err = c.Find("MILK")
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, ids(found), "ASCII matching ignores case")

		found, err = c.Find("é")
		require.NoError(t, err)
		assert.Empty(t, found, "non-ASCII letters keep their case")

		found, err = c.Find("cole")
		require.NoError(t, err)
		assert.Equal(t, []uint64{5}, ids(found))

		found, err = c.Find("%")
		require.NoError(t, err)
		assert.Equal(t, []uint64{4}, ids(found), "wildcards match literally")

		found, err = c.Find("milk_hakes")
		require.NoError(t, err)
		assert.Empty(t, found)

		found, err = c.Find("nothing like this")
		require.NoError(t, err)
		assert.NotNil(t, found)
		assert.Empty(t, found)
	})

	t.Run("Find without text columns", func(t *testing.T) {
		c := create(t, newCatalog(t), "numbers", schema.Schema{{Name: "n", Type: schema.Number}})
		_, err := c.Insert([]schema.Field{{Name: "n", Value: schema.NumberValue(1)}})
		require.NoError(t, err)
		found, err := c.Find("1")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("Records survive reopening", func(t *testing.T) {
		db := newCatalog(t)
		c, err := db.Create("tasks", todoSchema)
		require.NoError(t, err)
		_, err = c.Insert(todo("persisted", 3))
		require.NoError(t, err)
		require.NoError(t, c.Close())

		again, err := db.Open("tasks")
		require.NoError(t, err)
		defer again.Close()
		items, err := again.ListItems()
		require.NoError(t, err)
		require.Len(t, items, 1)
		assertFields(t, todo("persisted", 3), items[0].Fields)
	})

	t.Run("Closed handle", func(t *testing.T) {
		db := newCatalog(t)
		c, err := db.Create("tasks", todoSchema)
		require.NoError(t, err)
		require.NoError(t, c.Close())

		_, err = c.Insert(todo("x", 1))
		assert.ErrorIs(t, err, store.ErrClosed)
		_, err = c.ListItems()
		assert.ErrorIs(t, err, store.ErrClosed)
		assert.ErrorIs(t, c.Done(1, time.Now()), store.ErrClosed)
		assert.ErrorIs(t, c.Close(), store.ErrClosed)
	})
}

func TestSqliteDB(t *testing.T) {
	for _, driver := range []string{store.DriverCGO, store.DriverPure} {
		t.Run(driver, func(t *testing.T) {
			runCatalogTests(t, func(t *testing.T) store.Catalog {
				return store.NewSqliteDB(t.TempDir(), store.WithDriver(driver), store.WithLogger(quiet))
			})
		})
	}
}

func TestMemoryDB(t *testing.T) {
	runCatalogTests(t, func(t *testing.T) store.Catalog {
		return store.NewMemoryDB(store.WithLogger(quiet))
	})
}

func TestHTTPDB(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Catalog{
		"memory": func(t *testing.T) store.Catalog {
			return store.NewMemoryDB(store.WithLogger(quiet))
		},
		"sqlite": func(t *testing.T) store.Catalog {
			return store.NewSqliteDB(t.TempDir(), store.WithLogger(quiet))
		},
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			runCatalogTests(t, func(t *testing.T) store.Catalog {
				ts := httptest.NewServer(handler.New(backend(t), quiet))
				t.Cleanup(ts.Close)
				db, err := store.NewHTTPDB(ts.URL, store.WithHTTPClient(ts.Client()), store.WithLogger(quiet))
				require.NoError(t, err)
				return db
			})
		})
	}
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend  string
		location string
	}{
		{"sqlite", dir},
		{"", dir},
		{"memory", ""},
		{"http", "http://localhost:8080"},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			db, err := store.New(tc.backend, tc.location)
			require.NoError(t, err)
			assert.NotNil(t, db)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := store.New("redis", dir)
		assert.Error(t, err)
	})

	t.Run("sqlite without directory", func(t *testing.T) {
		_, err := store.New("sqlite", "")
		assert.Error(t, err)
	})
}
