// Package apperr defines the typed error kinds the engine distinguishes
// (SPEC_FULL.md §7 / distilled spec §7), independent of where they
// surface — queue handler, HTTP control plane, or maintenance loop.
package apperr

import (
	"fmt"
	"strings"
)

// Kind classifies an error into one of the handling buckets the engine
// reacts to differently.
type Kind string

const (
	KindTransientUpstream  Kind = "transient_upstream"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindProxyError         Kind = "proxy_error"
	KindTokenRefreshFailed Kind = "token_refresh_failed"
	KindDuplicateContent   Kind = "duplicate_content"
	KindMissingTargets     Kind = "missing_targets"
	KindHandlerException   Kind = "handler_exception"
	KindLeaseLost          Kind = "lease_lost"
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
)

// Error is a classified error carrying its Kind alongside the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}

// classifyUpstreamText maps a raw upstream error string to a Kind,
// following the outcome-classification table in SPEC_FULL.md §4.3.
func ClassifyUpstreamText(text string) Kind {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "quotaExceeded"), strings.Contains(text, "dailyLimitExceeded"):
		return KindQuotaExceeded
	case strings.Contains(lower, "proxy"):
		return KindProxyError
	case strings.Contains(lower, "duplicate"), strings.Contains(lower, "spam"):
		return KindDuplicateContent
	default:
		return KindHandlerException
	}
}
