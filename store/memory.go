package store

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stevemurr/rednext/schema"
)

// MemoryDB keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryDB struct {
	mu          sync.RWMutex
	collections map[string]*memoryData
	logger      *slog.Logger
}

type memoryData struct {
	schema  schema.Schema
	lastID  uint64
	records []schema.Record // ordered by id
}

func NewMemoryDB(opts ...Option) *MemoryDB {
	o := buildOptions(opts)
	return &MemoryDB{
		collections: make(map[string]*memoryData),
		logger:      o.logger,
	}
}

// copyRecord returns a record that shares no memory with r.
func copyRecord(r schema.Record) schema.Record {
	out := r
	out.Fields = append([]schema.Field(nil), r.Fields...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (m *MemoryDB) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryDB) Create(name string, s schema.Schema) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, wrapError("create", name, err)
	}
	if err := s.Validate(); err != nil {
		return nil, wrapError("create", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return nil, wrapError("create", name, ErrExists)
	}
	data := &memoryData{schema: s.Clone()}
	m.collections[name] = data
	m.logger.Debug("created collection", "name", name, "fields", len(s))
	return &memoryCollection{db: m, name: name, data: data}, nil
}

func (m *MemoryDB) Open(name string) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, wrapError("open", name, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.collections[name]
	if !ok {
		return nil, wrapError("open", name, ErrNotExist)
	}
	return &memoryCollection{db: m, name: name, data: data}, nil
}

func (m *MemoryDB) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return wrapError("delete", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return wrapError("delete", name, ErrNotExist)
	}
	delete(m.collections, name)
	m.logger.Debug("deleted collection", "name", name)
	return nil
}

type memoryCollection struct {
	db     *MemoryDB
	name   string
	data   *memoryData
	closed bool
}

func (c *memoryCollection) Name() string { return c.name }

func (c *memoryCollection) Schema() schema.Schema { return c.data.schema.Clone() }

func (c *memoryCollection) Close() error {
	if c.closed {
		return wrapError("close", c.name, ErrClosed)
	}
	c.closed = true
	return nil
}

func (c *memoryCollection) Insert(fields []schema.Field) (uint64, error) {
	if c.closed {
		return 0, wrapError("insert", c.name, ErrClosed)
	}
	ordered, err := c.data.schema.CheckFields(fields)
	if err != nil {
		return 0, wrapError("insert", c.name, err)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.data.lastID++
	c.data.records = append(c.data.records, schema.Record{ID: c.data.lastID, Fields: ordered})
	return c.data.lastID, nil
}

// filter returns copies of the records accepted by keep, in id order.
func (c *memoryCollection) filter(op string, keep func(schema.Record) bool) ([]schema.Record, error) {
	if c.closed {
		return nil, wrapError(op, c.name, ErrClosed)
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	out := []schema.Record{}
	for _, r := range c.data.records {
		if keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (c *memoryCollection) ListItems() ([]schema.Record, error) {
	return c.filter("list items", func(schema.Record) bool { return true })
}

func (c *memoryCollection) ListDone() ([]schema.Record, error) {
	out, err := c.filter("list done", schema.Record.Done)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	return out, nil
}

func (c *memoryCollection) ListUndone() ([]schema.Record, error) {
	return c.filter("list undone", func(r schema.Record) bool { return !r.Done() })
}

// Find matches like SQLite's LIKE: only ASCII letters ignore case.
func (c *memoryCollection) Find(text string) ([]schema.Record, error) {
	needle := asciiLower(text)
	textCols := c.data.schema.TextFields()
	return c.filter("find", func(r schema.Record) bool {
		for _, col := range textCols {
			v, _ := r.Field(col)
			if strings.Contains(asciiLower(v.Text()), needle) {
				return true
			}
		}
		return false
	})
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

func (c *memoryCollection) Get(id uint64) (*schema.Record, error) {
	if c.closed {
		return nil, wrapError("get", itemTarget(c.name, id), ErrClosed)
	}
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	i, ok := c.index(id)
	if !ok {
		return nil, nil
	}
	r := copyRecord(c.data.records[i])
	return &r, nil
}

func (c *memoryCollection) GetRandom() (*schema.Record, error) {
	pending, err := c.filter("get random", func(r schema.Record) bool { return !r.Done() })
	if err != nil || len(pending) == 0 {
		return nil, err
	}
	r := pending[rand.IntN(len(pending))]
	return &r, nil
}

func (c *memoryCollection) Delete(id uint64) error {
	if c.closed {
		return wrapError("delete item", itemTarget(c.name, id), ErrClosed)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if i, ok := c.index(id); ok {
		c.data.records = append(c.data.records[:i], c.data.records[i+1:]...)
	}
	return nil
}

func (c *memoryCollection) Done(id uint64, at time.Time) error {
	t := schema.NaiveTime(at)
	return c.update("done", id, &t)
}

func (c *memoryCollection) Undone(id uint64) error {
	return c.update("undone", id, nil)
}

func (c *memoryCollection) update(op string, id uint64, completedAt *time.Time) error {
	target := itemTarget(c.name, id)
	if c.closed {
		return wrapError(op, target, ErrClosed)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	i, ok := c.index(id)
	if !ok {
		return wrapError(op, target, ErrRowCount)
	}
	c.data.records[i].CompletedAt = completedAt
	return nil
}

// index finds id by binary search; records are kept in id order.
func (c *memoryCollection) index(id uint64) (int, bool) {
	recs := c.data.records
	i := sort.Search(len(recs), func(i int) bool { return recs[i].ID >= id })
	return i, i < len(recs) && recs[i].ID == id
}
