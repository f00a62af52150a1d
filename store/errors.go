package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stevemurr/rednext/schema"
)

var (
	// ErrExists is returned when creating a collection whose name is taken.
	ErrExists = errors.New("collection already exists")

	// ErrNotExist is returned when a collection does not exist.
	ErrNotExist = errors.New("collection does not exist")

	// ErrRowCount is returned when an update did not affect exactly one record.
	ErrRowCount = errors.New("unexpected affected row count")

	// ErrInvalidName is returned for collection names that cannot be stored.
	ErrInvalidName = errors.New("invalid collection name")

	// ErrClosed is returned when using a closed collection handle.
	ErrClosed = errors.New("collection is closed")

	// ErrBadRequest is returned when the remote service rejects a request
	// as malformed.
	ErrBadRequest = errors.New("bad request")

	// ErrTransport is returned when the remote backend cannot complete a
	// request: connection failures, timeouts and malformed responses.
	ErrTransport = errors.New("transport failure")
)

// OpError wraps a backend failure with the operation and its target.
type OpError struct {
	Op     string // operation name, e.g. "open" or "done"
	Target string // collection name, optionally with a record id
	Err    error
}

func (e *OpError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func wrapError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Target: target, Err: err}
}

func itemTarget(collection string, id uint64) string {
	return fmt.Sprintf("%s#%d", collection, id)
}

// Error codes carried by the remote wire contract. Each maps onto one
// sentinel so that both sides of the wire agree on failure categories.
const (
	CodeExists        = "exists"
	CodeNotExist      = "not_exist"
	CodeNotFound      = "not_found"
	CodeRowCount      = "row_count"
	CodeInvalidName   = "invalid_name"
	CodeInvalidSchema = "invalid_schema"
	CodeInvalidFields = "invalid_fields"
	CodeTypeMismatch  = "type_mismatch"
	CodeUnknownType   = "unknown_type"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeExists, ErrExists},
	{CodeNotExist, ErrNotExist},
	{CodeRowCount, ErrRowCount},
	{CodeInvalidName, ErrInvalidName},
	{CodeInvalidSchema, schema.ErrInvalidSchema},
	{CodeInvalidFields, schema.ErrInvalidFields},
	{CodeTypeMismatch, schema.ErrTypeMismatch},
	{CodeUnknownType, schema.ErrUnknownType},
	{CodeBadRequest, ErrBadRequest},
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	for _, c := range codeErrors {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// codeError returns the sentinel for a wire code, or nil for unknown codes.
func codeError(code string) error {
	for _, c := range codeErrors {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

var reservedNames = map[string]bool{
	"list":   true,
	"open":   true,
	"create": true,
	"delete": true,
}

// ValidateName checks that name can be used as a file stem and as a URL
// path segment.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case reservedNames[name]:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}
