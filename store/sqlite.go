package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevemurr/rednext/schema"
)

// Database/sql driver names accepted by SqliteDB. The caller registers the
// driver with a blank import.
const (
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

const fileExt = ".db"

// SqliteDB stores each collection in its own SQLite file inside a directory.
//
// Layout:
//
//	dir/
//	  groceries.db   # "groceries" collection
//	  reading.db     # "reading" collection
//
// Tables inside each file:
//
//	schema(idx, name, datatype)            column list in schema order
//	items(id, <one column per field>, completed_at)
type SqliteDB struct {
	dir    string
	driver string
	logger *slog.Logger
}

// NewSqliteDB returns a catalog rooted at dir. The directory is created on
// the first Create.
func NewSqliteDB(dir string, opts ...Option) *SqliteDB {
	o := buildOptions(opts)
	return &SqliteDB{dir: dir, driver: o.driver, logger: o.logger}
}

func (s *SqliteDB) collectionPath(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *SqliteDB) List() ([]string, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, wrapError("list", s.dir, err)
	}
	if !info.IsDir() {
		return nil, wrapError("list", s.dir, errors.New("not a directory"))
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wrapError("list", s.dir, err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	return names, nil
}

func (s *SqliteDB) Create(name string, sch schema.Schema) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, wrapError("create", name, err)
	}
	if err := sch.Validate(); err != nil {
		return nil, wrapError("create", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, wrapError("create", name, fmt.Errorf("cannot create directory: %w", err))
	}

	path := s.collectionPath(name)
	// O_EXCL claims the name; SQLite initialises an empty file as a new database.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, wrapError("create", name, ErrExists)
		}
		return nil, wrapError("create", name, err)
	}
	f.Close()

	db, err := s.openDB(path)
	if err == nil {
		err = initCollection(db, sch)
		if err != nil {
			db.Close()
		}
	}
	if err != nil {
		s.removeFiles(path)
		return nil, wrapError("create", name, err)
	}

	s.logger.Debug("created collection", "name", name, "path", path, "fields", len(sch))
	return newSqliteCollection(name, db, sch.Clone()), nil
}

func (s *SqliteDB) Open(name string) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, wrapError("open", name, err)
	}
	path := s.collectionPath(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError("open", name, ErrNotExist)
		}
		return nil, wrapError("open", name, err)
	}
	db, err := s.openDB(path)
	if err != nil {
		return nil, wrapError("open", name, err)
	}
	sch, err := readSchema(db)
	if err != nil {
		db.Close()
		return nil, wrapError("open", name, err)
	}
	return newSqliteCollection(name, db, sch), nil
}

func (s *SqliteDB) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return wrapError("delete", name, err)
	}
	path := s.collectionPath(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return wrapError("delete", name, ErrNotExist)
		}
		return wrapError("delete", name, err)
	}
	s.removeFiles(path)
	s.logger.Debug("deleted collection", "name", name, "path", path)
	return nil
}

// openDB opens a single-connection pool; the handle owns it until Close.
func (s *SqliteDB) openDB(path string) (*sql.DB, error) {
	db, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// removeFiles deletes a collection file and any journal files next to it.
func (s *SqliteDB) removeFiles(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("cannot remove collection file", "path", p, "err", err)
		}
	}
}

func sqlType(t schema.FieldType) string {
	switch t {
	case schema.Text:
		return "TEXT"
	case schema.Number:
		return "INTEGER"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.DateTime:
		return "TIMESTAMP"
	}
	panic(fmt.Sprintf("store: no SQL type for %v", t))
}

// quoteIdent quotes a schema-controlled column name for use in statement text.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func initCollection(db *sql.DB, sch schema.Schema) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE schema (
		idx INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		datatype TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("cannot create schema table: %w", err)
	}
	for i, f := range sch {
		if _, err := tx.Exec(
			"INSERT INTO schema (idx, name, datatype) VALUES (?, ?, ?)",
			i, f.Name, f.Type.String(),
		); err != nil {
			return fmt.Errorf("cannot write schema: %w", err)
		}
	}

	cols := make([]string, len(sch))
	for i, f := range sch {
		cols[i] = quoteIdent(f.Name) + " " + sqlType(f.Type)
	}
	ddl := fmt.Sprintf(`CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		%s,
		completed_at TIMESTAMP
	)`, strings.Join(cols, ",\n\t\t"))
	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("cannot create items table: %w", err)
	}
	return tx.Commit()
}

func readSchema(db *sql.DB) (schema.Schema, error) {
	rows, err := db.Query("SELECT name, datatype FROM schema ORDER BY idx")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
	}
	defer rows.Close()
	var sch schema.Schema
	for rows.Next() {
		var name, datatype string
		if err := rows.Scan(&name, &datatype); err != nil {
			return nil, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
		}
		ft, err := schema.ParseFieldType(datatype)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
		}
		sch = append(sch, schema.FieldDescriptor{Name: name, Type: ft})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidSchema, err)
	}
	if err := sch.Validate(); err != nil {
		return nil, err
	}
	return sch, nil
}

type sqliteCollection struct {
	name      string
	db        *sql.DB
	schema    schema.Schema
	selectSQL string
	insertSQL string
}

func newSqliteCollection(name string, db *sql.DB, sch schema.Schema) *sqliteCollection {
	cols := make([]string, len(sch))
	marks := make([]string, len(sch))
	for i, f := range sch {
		cols[i] = quoteIdent(f.Name)
		marks[i] = "?"
	}
	list := strings.Join(cols, ", ")
	return &sqliteCollection{
		name:      name,
		db:        db,
		schema:    sch,
		selectSQL: "SELECT id, " + list + ", completed_at FROM items",
		insertSQL: "INSERT INTO items (" + list + ") VALUES (" + strings.Join(marks, ", ") + ")",
	}
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) Schema() schema.Schema { return c.schema.Clone() }

func (c *sqliteCollection) Close() error {
	if c.db == nil {
		return wrapError("close", c.name, ErrClosed)
	}
	err := c.db.Close()
	c.db = nil
	return wrapError("close", c.name, err)
}

func (c *sqliteCollection) Insert(fields []schema.Field) (uint64, error) {
	if c.db == nil {
		return 0, wrapError("insert", c.name, ErrClosed)
	}
	ordered, err := c.schema.CheckFields(fields)
	if err != nil {
		return 0, wrapError("insert", c.name, err)
	}
	args := make([]any, len(ordered))
	for i, f := range ordered {
		args[i] = bindValue(f.Value)
	}
	res, err := c.db.Exec(c.insertSQL, args...)
	if err != nil {
		return 0, wrapError("insert", c.name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapError("insert", c.name, err)
	}
	return uint64(id), nil
}

func (c *sqliteCollection) ListItems() ([]schema.Record, error) {
	return c.selectItems("list items", "", "id")
}

func (c *sqliteCollection) ListDone() ([]schema.Record, error) {
	return c.selectItems("list done", "completed_at IS NOT NULL", "completed_at, id")
}

func (c *sqliteCollection) ListUndone() ([]schema.Record, error) {
	return c.selectItems("list undone", "completed_at IS NULL", "id")
}

func (c *sqliteCollection) Find(text string) ([]schema.Record, error) {
	textCols := c.schema.TextFields()
	if len(textCols) == 0 {
		if c.db == nil {
			return nil, wrapError("find", c.name, ErrClosed)
		}
		return []schema.Record{}, nil
	}
	pattern := "%" + escapeLike(text) + "%"
	clauses := make([]string, len(textCols))
	args := make([]any, len(textCols))
	for i, col := range textCols {
		clauses[i] = quoteIdent(col) + ` LIKE ? ESCAPE '\'`
		args[i] = pattern
	}
	return c.selectItems("find", strings.Join(clauses, " OR "), "id", args...)
}

func (c *sqliteCollection) Get(id uint64) (*schema.Record, error) {
	return c.selectOne("get", itemTarget(c.name, id), c.selectSQL+" WHERE id = ?", sqlID(id))
}

func (c *sqliteCollection) GetRandom() (*schema.Record, error) {
	return c.selectOne("get random", c.name,
		c.selectSQL+" WHERE completed_at IS NULL ORDER BY random() LIMIT 1")
}

func (c *sqliteCollection) Delete(id uint64) error {
	if c.db == nil {
		return wrapError("delete item", itemTarget(c.name, id), ErrClosed)
	}
	_, err := c.db.Exec("DELETE FROM items WHERE id = ?", sqlID(id))
	return wrapError("delete item", itemTarget(c.name, id), err)
}

func (c *sqliteCollection) Done(id uint64, at time.Time) error {
	return c.updateOne("done", id, "UPDATE items SET completed_at = ? WHERE id = ?", schema.FormatTime(at), sqlID(id))
}

func (c *sqliteCollection) Undone(id uint64) error {
	return c.updateOne("undone", id, "UPDATE items SET completed_at = NULL WHERE id = ?", sqlID(id))
}

func (c *sqliteCollection) updateOne(op string, id uint64, query string, args ...any) error {
	target := itemTarget(c.name, id)
	if c.db == nil {
		return wrapError(op, target, ErrClosed)
	}
	res, err := c.db.Exec(query, args...)
	if err != nil {
		return wrapError(op, target, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, target, err)
	}
	if n != 1 {
		return wrapError(op, target, fmt.Errorf("%w: expected exactly one item, got %d", ErrRowCount, n))
	}
	return nil
}

func (c *sqliteCollection) selectItems(op, where, orderBy string, args ...any) ([]schema.Record, error) {
	if c.db == nil {
		return nil, wrapError(op, c.name, ErrClosed)
	}
	q := c.selectSQL
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY " + orderBy
	rows, err := c.db.Query(q, args...)
	if err != nil {
		return nil, wrapError(op, c.name, err)
	}
	defer rows.Close()
	records := []schema.Record{}
	for rows.Next() {
		r, err := c.scanRecord(rows)
		if err != nil {
			return nil, wrapError(op, c.name, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, c.name, err)
	}
	return records, nil
}

func (c *sqliteCollection) selectOne(op, target, query string, args ...any) (*schema.Record, error) {
	if c.db == nil {
		return nil, wrapError(op, target, ErrClosed)
	}
	r, err := c.scanRecord(c.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError(op, target, err)
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *sqliteCollection) scanRecord(row rowScanner) (schema.Record, error) {
	var id int64
	var completed nullTime
	cells := make([]cellScanner, len(c.schema))
	dest := make([]any, 0, len(c.schema)+2)
	dest = append(dest, &id)
	for i, f := range c.schema {
		cells[i] = cellScanner{field: f}
		dest = append(dest, &cells[i])
	}
	dest = append(dest, &completed)
	if err := row.Scan(dest...); err != nil {
		return schema.Record{}, err
	}

	r := schema.Record{ID: uint64(id), Fields: make([]schema.Field, len(cells))}
	for i, cell := range cells {
		r.Fields[i] = schema.Field{Name: cell.field.Name, Value: cell.value}
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return r, nil
}

func sqlID(id uint64) int64 {
	return int64(id)
}

func bindValue(v schema.Value) any {
	switch v.Type() {
	case schema.Text:
		return v.Text()
	case schema.Number:
		return int64(v.Number())
	case schema.Boolean:
		return v.Bool()
	case schema.DateTime:
		return schema.FormatTime(v.Time())
	}
	panic(fmt.Sprintf("store: cannot bind %v value", v.Type()))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// cellScanner reads one schema column. Drivers differ in what they return
// for BOOLEAN and TIMESTAMP columns, so every representation is accepted.
type cellScanner struct {
	field schema.FieldDescriptor
	value schema.Value
}

func (c *cellScanner) Scan(src any) error {
	if src == nil {
		return fmt.Errorf("column %q: unexpected NULL", c.field.Name)
	}
	mismatch := fmt.Errorf("column %q: %w: cannot read %T as %v", c.field.Name, schema.ErrTypeMismatch, src, c.field.Type)
	switch c.field.Type {
	case schema.Text:
		switch v := src.(type) {
		case string:
			c.value = schema.TextValue(v)
		case []byte:
			c.value = schema.TextValue(string(v))
		default:
			return mismatch
		}
	case schema.Number:
		n, ok := src.(int64)
		if !ok || n < -1<<31 || n > 1<<31-1 {
			return mismatch
		}
		c.value = schema.NumberValue(int32(n))
	case schema.Boolean:
		switch v := src.(type) {
		case bool:
			c.value = schema.BoolValue(v)
		case int64:
			c.value = schema.BoolValue(v != 0)
		default:
			return mismatch
		}
	case schema.DateTime:
		t, err := storedTime(src)
		if err != nil {
			return fmt.Errorf("column %q: %w", c.field.Name, err)
		}
		c.value = schema.DateTimeValue(t)
	default:
		return mismatch
	}
	return nil
}

type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	if src == nil {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	t, err := storedTime(src)
	if err != nil {
		return fmt.Errorf("completed_at: %w", err)
	}
	n.Time, n.Valid = t, true
	return nil
}

var storedLayouts = []string{
	schema.TimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// storedTime accepts a driver-parsed time.Time or the raw column text.
func storedTime(src any) (time.Time, error) {
	var s string
	switch v := src.(type) {
	case time.Time:
		return schema.NaiveTime(v), nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return time.Time{}, fmt.Errorf("%w: cannot read %T as timestamp", schema.ErrTypeMismatch, src)
	}
	for _, layout := range storedLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return schema.NaiveTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", schema.ErrTypeMismatch, s)
}
