package article

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure. The transport layer maps kinds to status
// codes; nothing else branches on them.
type Kind string

// Failure kinds.
const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindMethod     Kind = "method"
	KindFetch      Kind = "fetch"
	KindExtraction Kind = "extraction"
	KindStore      Kind = "store"
	KindInternal   Kind = "internal"
)

// Caller-facing messages shared across the taxonomy.
const (
	MsgInvalidJSON        = "Invalid JSON body"
	MsgMissingURL         = "Missing required field: url"
	MsgMissingKey         = "Missing required field: key"
	MsgInvalidURL         = "Invalid URL format"
	MsgInvalidSecret      = "Invalid secret key"
	MsgMethodNotAllowed   = "Method not allowed"
	MsgFetchFailed        = "Failed to fetch URL"
	MsgExtractionFailed   = "Could not extract article content"
	MsgCacheUnavailable   = "Cache unavailable"
	MsgServiceUnavailable = "Service temporarily unavailable"
	MsgInternal           = "Internal server error"
)

// Error is the typed failure carried from the orchestrator and the gate to
// the response envelope.
type Error struct {
	Kind Kind
	// Message is safe to show to callers in every environment.
	Message string
	// StatusCode is the upstream status for fetch failures, zero otherwise.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a malformed or incomplete request.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Unauthorized reports an unrecognized credential.
func Unauthorized() *Error {
	return &Error{Kind: KindAuth, Message: MsgInvalidSecret}
}

// MethodNotAllowed reports a request with an unsupported HTTP method.
func MethodNotAllowed() *Error {
	return &Error{Kind: KindMethod, Message: MsgMethodNotAllowed}
}

// FetchStatus reports an origin response outside the accepted status set.
func FetchStatus(code int) *Error {
	return &Error{
		Kind:       KindFetch,
		Message:    fmt.Sprintf("%s: upstream returned status %d", MsgFetchFailed, code),
		StatusCode: code,
	}
}

// FetchFailed reports a transport failure while reaching the origin.
func FetchFailed(err error) *Error {
	return &Error{Kind: KindFetch, Message: MsgFetchFailed, Err: err}
}

// ExtractionFailed reports that no article could be derived from the page.
func ExtractionFailed() *Error {
	return &Error{Kind: KindExtraction, Message: MsgExtractionFailed}
}

// StoreFailed reports an article store read failure.
func StoreFailed(err error) *Error {
	return &Error{Kind: KindStore, Message: MsgCacheUnavailable, Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// PublicMessage renders err for a caller. Production hides store causes
// behind a generic message and drops transport causes from fetch failures.
func PublicMessage(err error, production bool) string {
	var typed *Error
	if !errors.As(err, &typed) {
		return MsgInternal
	}
	switch typed.Kind {
	case KindStore:
		if production {
			return MsgServiceUnavailable
		}
		return typed.Error()
	case KindFetch:
		if production {
			return typed.Message
		}
		return typed.Error()
	default:
		return typed.Message
	}
}
