package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stevemurr/rednext/schema"
)

// HTTPDB is a Catalog backed by a remote rednext service.
//
// Routes, relative to the base URL:
//
//	GET    /list                       collection names
//	GET    /open/{name}                schema
//	PUT    /create/{name}              create with schema body
//	DELETE /delete/{name}              delete collection
//	GET    /{name}/items[/done|/undone|/random|/search|/{id}]
//	POST   /{name}/items               insert
//	DELETE /{name}/items/{id}          delete record
//	POST   /{name}/items/{id}/done     mark done
//	POST   /{name}/items/{id}/undone   mark pending
type HTTPDB struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

// ErrorBody is the JSON body of every non-2xx response of the service.
type ErrorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// InsertResult is the JSON body returned by a successful insert.
type InsertResult struct {
	ID uint64 `json:"id"`
}

// NewHTTPDB returns a catalog talking to the service at baseURL.
func NewHTTPDB(baseURL string, opts ...Option) (*HTTPDB, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: need http(s)://host", baseURL)
	}
	o := buildOptions(opts)
	return &HTTPDB{
		base:   strings.TrimRight(baseURL, "/"),
		client: o.client,
		logger: o.logger,
	}, nil
}

func (d *HTTPDB) url(segments ...string) string {
	var b strings.Builder
	b.WriteString(d.base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// roundTrip performs one request. A 2xx response is decoded into out when
// out is non-nil. A 404 carrying CodeNotFound reports found=false with no
// error; every other failure is returned as an *OpError.
func (d *HTTPDB) roundTrip(op, target, method, rawURL string, in, out any) (found bool, err error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return false, wrapError(op, target, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return false, wrapError(op, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, wrapError(op, target, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return true, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, wrapError(op, target, fmt.Errorf("%w: malformed response: %v", ErrTransport, err))
		}
		return true, nil
	}

	var eb ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
		return false, wrapError(op, target, fmt.Errorf("%w: status %d with malformed body: %v", ErrTransport, resp.StatusCode, err))
	}
	if resp.StatusCode == http.StatusNotFound && eb.Code == CodeNotFound {
		return false, nil
	}
	if sentinel := codeError(eb.Code); sentinel != nil {
		return false, wrapError(op, target, fmt.Errorf("%w: %s", sentinel, eb.Detail))
	}
	return false, wrapError(op, target, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, eb.Detail))
}

func (d *HTTPDB) List() ([]string, error) {
	var names []string
	if _, err := d.roundTrip("list", d.base, http.MethodGet, d.url("list"), nil, &names); err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (d *HTTPDB) Create(name string, s schema.Schema) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, wrapError("create", name, err)
	}
	if err := s.Validate(); err != nil {
		return nil, wrapError("create", name, err)
	}
	if _, err := d.roundTrip("create", name, http.MethodPut, d.url("create", name), s, nil); err != nil {
		return nil, err
	}
	d.logger.Debug("created remote collection", "name", name, "base", d.base)
	return &remoteCollection{db: d, name: name, schema: s.Clone()}, nil
}

func (d *HTTPDB) Open(name string) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, wrapError("open", name, err)
	}
	var s schema.Schema
	if _, err := d.roundTrip("open", name, http.MethodGet, d.url("open", name), nil, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, wrapError("open", name, err)
	}
	return &remoteCollection{db: d, name: name, schema: s}, nil
}

func (d *HTTPDB) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return wrapError("delete", name, err)
	}
	_, err := d.roundTrip("delete", name, http.MethodDelete, d.url("delete", name), nil, nil)
	if err == nil {
		d.logger.Debug("deleted remote collection", "name", name, "base", d.base)
	}
	return err
}

type remoteCollection struct {
	db     *HTTPDB
	name   string
	schema schema.Schema
	closed bool
}

func (c *remoteCollection) Name() string { return c.name }

func (c *remoteCollection) Schema() schema.Schema { return c.schema.Clone() }

func (c *remoteCollection) Close() error {
	if c.closed {
		return wrapError("close", c.name, ErrClosed)
	}
	c.closed = true
	return nil
}

func (c *remoteCollection) itemsURL(rest ...string) string {
	return c.db.url(append([]string{c.name, "items"}, rest...)...)
}

func idSegment(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (c *remoteCollection) Insert(fields []schema.Field) (uint64, error) {
	if c.closed {
		return 0, wrapError("insert", c.name, ErrClosed)
	}
	ordered, err := c.schema.CheckFields(fields)
	if err != nil {
		return 0, wrapError("insert", c.name, err)
	}
	var res InsertResult
	if _, err := c.db.roundTrip("insert", c.name, http.MethodPost, c.itemsURL(), ordered, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

func (c *remoteCollection) list(op, rawURL string) ([]schema.Record, error) {
	if c.closed {
		return nil, wrapError(op, c.name, ErrClosed)
	}
	var records []schema.Record
	if _, err := c.db.roundTrip(op, c.name, http.MethodGet, rawURL, nil, &records); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := c.checkRecord(r); err != nil {
			return nil, wrapError(op, c.name, err)
		}
	}
	if records == nil {
		records = []schema.Record{}
	}
	return records, nil
}

func (c *remoteCollection) one(op, target, rawURL string) (*schema.Record, error) {
	if c.closed {
		return nil, wrapError(op, target, ErrClosed)
	}
	var r schema.Record
	found, err := c.db.roundTrip(op, target, http.MethodGet, rawURL, nil, &r)
	if err != nil || !found {
		return nil, err
	}
	if err := c.checkRecord(r); err != nil {
		return nil, wrapError(op, target, err)
	}
	return &r, nil
}

// checkRecord verifies that a decoded record follows the schema order.
func (c *remoteCollection) checkRecord(r schema.Record) error {
	if len(r.Fields) != len(c.schema) {
		return fmt.Errorf("%w: record %d has %d fields, schema has %d", ErrTransport, r.ID, len(r.Fields), len(c.schema))
	}
	for i, f := range r.Fields {
		if f.Name != c.schema[i].Name || f.Value.Type() != c.schema[i].Type {
			return fmt.Errorf("%w: record %d field %d is %q (%v), want %q (%v)",
				ErrTransport, r.ID, i, f.Name, f.Value.Type(), c.schema[i].Name, c.schema[i].Type)
		}
	}
	return nil
}

func (c *remoteCollection) ListItems() ([]schema.Record, error) {
	return c.list("list items", c.itemsURL())
}

func (c *remoteCollection) ListDone() ([]schema.Record, error) {
	return c.list("list done", c.itemsURL("done"))
}

func (c *remoteCollection) ListUndone() ([]schema.Record, error) {
	return c.list("list undone", c.itemsURL("undone"))
}

func (c *remoteCollection) Find(text string) ([]schema.Record, error) {
	return c.list("find", c.itemsURL("search")+"?"+url.Values{"text": {text}}.Encode())
}

func (c *remoteCollection) Get(id uint64) (*schema.Record, error) {
	return c.one("get", itemTarget(c.name, id), c.itemsURL(idSegment(id)))
}

func (c *remoteCollection) GetRandom() (*schema.Record, error) {
	return c.one("get random", c.name, c.itemsURL("random"))
}

func (c *remoteCollection) Delete(id uint64) error {
	target := itemTarget(c.name, id)
	if c.closed {
		return wrapError("delete item", target, ErrClosed)
	}
	_, err := c.db.roundTrip("delete item", target, http.MethodDelete, c.itemsURL(idSegment(id)), nil, nil)
	return err
}

func (c *remoteCollection) Done(id uint64, at time.Time) error {
	target := itemTarget(c.name, id)
	if c.closed {
		return wrapError("done", target, ErrClosed)
	}
	_, err := c.db.roundTrip("done", target, http.MethodPost, c.itemsURL(idSegment(id), "done"), schema.FormatTime(at), nil)
	return err
}

func (c *remoteCollection) Undone(id uint64) error {
	target := itemTarget(c.name, id)
	if c.closed {
		return wrapError("undone", target, ErrClosed)
	}
	_, err := c.db.roundTrip("undone", target, http.MethodPost, c.itemsURL(idSegment(id), "undone"), nil, nil)
	return err
}
