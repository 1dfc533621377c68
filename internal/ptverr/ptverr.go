// Package ptverr defines the closed set of error kinds the proxy surfaces
// to callers (spec.md §7). Kinds are plain values, not exported types, so
// callers compare with errors.Is against the sentinel below.
package ptverr

import "errors"

// Kind is one of the closed set of error kinds from spec.md §7.
type Kind string

const (
	ConfigInvalid       Kind = "config_invalid"
	IOFailed            Kind = "io_failed"
	UpstreamTimeout     Kind = "upstream_timeout"
	UpstreamHTTP        Kind = "upstream_http"
	UpstreamClosed      Kind = "upstream_closed"
	ProviderLimitReached Kind = "provider_limit_reached"
	UserLimitReached    Kind = "user_limit_reached"
	UserExpired         Kind = "user_expired"
	UserUnknown         Kind = "user_unknown"
	TokenInvalid        Kind = "token_invalid"
	TokenExpired        Kind = "token_expired"
	RateLimited         Kind = "rate_limited"
	BadRequest          Kind = "bad_request"
	NotFound            Kind = "not_found"
	Internal            Kind = "internal"
)

// Error wraps a Kind, an optional HTTP status code for UpstreamHTTP, and an
// underlying cause.
type Error struct {
	Kind    Kind
	Status  int // only meaningful for UpstreamHTTP
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ptverr.New(Kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func UpstreamStatus(status int, message string) *Error {
	return &Error{Kind: UpstreamHTTP, Status: status, Message: message}
}

// Retriable reports whether an upstream HTTP status is retriable per
// spec.md §4.7: 400, 408, 425, 429, and any 5xx are retriable.
func Retriable(status int) bool {
	switch status {
	case 400, 408, 425, 429:
		return true
	}
	return status >= 500 && status < 600
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
