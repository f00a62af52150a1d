package store

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	driver string
	client *http.Client
	logger *slog.Logger
}

func buildOptions(opts []Option) options {
	o := options{driver: DriverCGO}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.client == nil {
		o.client = http.DefaultClient
	}
	return o
}

// WithDriver selects the database/sql driver of the SQLite backend.
func WithDriver(driver string) Option {
	return func(o *options) {
		if driver != "" {
			o.driver = driver
		}
	}
}

// WithHTTPClient sets the client used by the remote backend. Timeouts are
// configured on the client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger used for catalog-level events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a Catalog based on the backend name. location is a directory
// for "sqlite", a base URL for "http" and ignored for "memory".
//
// Supported backends:
//
//	"sqlite" - one SQLite file per collection in location (default)
//	"http"   - remote service at location
//	"memory" - in-memory (ephemeral, for testing)
func New(backend, location string, opts ...Option) (Catalog, error) {
	switch backend {
	case "sqlite", "":
		if location == "" {
			return nil, fmt.Errorf("sqlite backend needs a data directory")
		}
		return NewSqliteDB(location, opts...), nil
	case "http":
		return NewHTTPDB(location, opts...)
	case "memory":
		return NewMemoryDB(opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: sqlite, http, memory)", backend)
	}
}
