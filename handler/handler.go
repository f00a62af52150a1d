// Package handler provides the HTTP service the remote store backend talks to.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stevemurr/rednext/schema"
	"github.com/stevemurr/rednext/store"
)

// Handler holds the server dependencies and registers routes.
type Handler struct {
	catalog store.Catalog
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New creates a Handler serving catalog and wires up all routes.
func New(catalog store.Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{catalog: catalog, logger: logger, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("GET /health", h.health)

	// --- Catalog endpoints ---
	h.mux.HandleFunc("GET /list", h.listCollections)
	h.mux.HandleFunc("PUT /create/{name}", h.createCollection)
	h.mux.HandleFunc("DELETE /delete/{name}", h.deleteCollection)
	// GET /open/{name} and GET /{name}/items overlap on /open/items, which
	// ServeMux rejects, so both are dispatched from one pattern.
	h.mux.HandleFunc("GET /{first}/{second}", h.getTwoSegments)

	// --- Collection endpoints ---
	h.mux.HandleFunc("POST /{name}/items", h.withCollection(h.insertItem))
	h.mux.HandleFunc("GET /{name}/items/done", h.withCollection(h.listDone))
	h.mux.HandleFunc("GET /{name}/items/undone", h.withCollection(h.listUndone))
	h.mux.HandleFunc("GET /{name}/items/random", h.withCollection(h.getRandom))
	h.mux.HandleFunc("GET /{name}/items/search", h.withCollection(h.search))
	h.mux.HandleFunc("GET /{name}/items/{id}", h.withCollection(h.getItem))
	h.mux.HandleFunc("DELETE /{name}/items/{id}", h.withCollection(h.deleteItem))
	h.mux.HandleFunc("POST /{name}/items/{id}/done", h.withCollection(h.markDone))
	h.mux.HandleFunc("POST /{name}/items/{id}/undone", h.withCollection(h.markUndone))
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, store.ErrorBody{Detail: msg, Code: code})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps a store error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case store.CodeNotExist, store.CodeNotFound:
		return http.StatusNotFound
	case store.CodeExists, store.CodeRowCount:
		return http.StatusConflict
	case store.CodeInvalidName, store.CodeInvalidSchema, store.CodeInvalidFields,
		store.CodeTypeMismatch, store.CodeUnknownType, store.CodeBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := store.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, store.CodeBadRequest, msg)
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, store.CodeNotFound, msg)
}

func records(rs []schema.Record) []schema.Record {
	if rs == nil {
		return []schema.Record{}
	}
	return rs
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "rednext",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- catalog ----------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.catalog.List()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) getTwoSegments(w http.ResponseWriter, r *http.Request) {
	first, second := r.PathValue("first"), r.PathValue("second")
	switch {
	case first == "open":
		h.openCollection(w, r, second)
	case second == "items":
		h.withCollection(h.listItems)(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) openCollection(w http.ResponseWriter, r *http.Request, name string) {
	c, err := h.catalog.Open(name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer c.Close()
	writeJSON(w, http.StatusOK, c.Schema())
}

func (h *Handler) createCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var s schema.Schema
	if err := readJSON(r, &s); err != nil {
		if errors.Is(err, schema.ErrUnknownType) {
			h.fail(w, r, err)
			return
		}
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	c, err := h.catalog.Create(name, s)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c.Close()
	h.logger.Info("collection created", "name", name, "fields", len(s))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.catalog.Delete(name); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("collection deleted", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

// ---------- collection ----------

type collectionFunc func(w http.ResponseWriter, r *http.Request, c store.Collection)

// withCollection opens the collection named in the path for the duration of
// one request.
func (h *Handler) withCollection(fn collectionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if name == "" {
			name = r.PathValue("first")
		}
		c, err := h.catalog.Open(name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		defer c.Close()
		fn(w, r, c)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(w, fmt.Sprintf("invalid item id %q", raw))
		return 0, false
	}
	return id, true
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request, c store.Collection) {
	rs, err := c.ListItems()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records(rs))
}

func (h *Handler) listDone(w http.ResponseWriter, r *http.Request, c store.Collection) {
	rs, err := c.ListDone()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records(rs))
}

func (h *Handler) listUndone(w http.ResponseWriter, r *http.Request, c store.Collection) {
	rs, err := c.ListUndone()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records(rs))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, c store.Collection) {
	rs, err := c.Find(r.URL.Query().Get("text"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records(rs))
}

func (h *Handler) insertItem(w http.ResponseWriter, r *http.Request, c store.Collection) {
	var fields []schema.Field
	if err := readJSON(r, &fields); err != nil {
		if errors.Is(err, schema.ErrTypeMismatch) || errors.Is(err, schema.ErrUnknownType) {
			h.fail(w, r, err)
			return
		}
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	id, err := c.Insert(fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, store.InsertResult{ID: id})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request, c store.Collection) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := c.Get(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		notFound(w, fmt.Sprintf("no item %d in %q", id, c.Name()))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) getRandom(w http.ResponseWriter, r *http.Request, c store.Collection) {
	rec, err := c.GetRandom()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		notFound(w, fmt.Sprintf("no pending items in %q", c.Name()))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request, c store.Collection) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.Delete(id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markDone(w http.ResponseWriter, r *http.Request, c store.Collection) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var raw string
	if err := readJSON(r, &raw); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return
	}
	at, err := schema.ParseTime(raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := c.Done(id, at); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markUndone(w http.ResponseWriter, r *http.Request, c store.Collection) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.Undone(id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
