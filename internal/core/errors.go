package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind names a failure class. Kinds drive retry decisions in the fetcher,
// fallback decisions in the LLM callers, and status mapping in the HTTP layer.
type ErrorKind string

const (
	KindConfig         ErrorKind = "config"
	KindStorage        ErrorKind = "storage"
	KindSchemaMigrate  ErrorKind = "schema_migration"
	KindFetchTimeout   ErrorKind = "fetch_timeout"
	KindFetchHTTP      ErrorKind = "fetch_http"
	KindFetchNetwork   ErrorKind = "fetch_network"
	KindParseFeed      ErrorKind = "parse_feed"
	KindScrapeFailed   ErrorKind = "scrape_failed"
	KindLLMTimeout     ErrorKind = "llm_timeout"
	KindLLMHTTP        ErrorKind = "llm_http"
	KindLLMParse       ErrorKind = "llm_parse"
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindBadRequest     ErrorKind = "bad_request"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindInternal       ErrorKind = "internal"
)

// KindError wraps an error with a kind and an optional HTTP status
// (for fetch_http and llm_http kinds).
type KindError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *KindError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// NewHTTPError wraps err with a kind carrying an HTTP status code.
func NewHTTPError(kind ErrorKind, status int, err error) error {
	return &KindError{Kind: kind, StatusCode: status, Err: err}
}

// Errorf wraps a formatted error with a kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of err, or KindInternal when none is attached.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}

// StatusOf maps err to an HTTP status. A status attached via NewHTTPError
// wins; otherwise the kind decides, and unknown kinds are a 500.
func StatusOf(err error) int {
	var ke *KindError
	if errors.As(err, &ke) && ke.StatusCode != 0 {
		return ke.StatusCode
	}
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
