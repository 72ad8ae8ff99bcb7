// Package errs defines the error taxonomy shared by the resolver, the
// dispatcher, and the gateway (spec §7). Each kind wraps context (the
// reference, the status code, a body snippet) following the teacher's
// fmt.Errorf("...: %w", err) wrapping idiom rather than a bespoke error
// framework.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for CLI/gateway rendering.
type Kind string

const (
	KindConfigNotFound      Kind = "config_not_found"
	KindConfigIncomplete    Kind = "config_incomplete"
	KindAmbiguousReference  Kind = "ambiguous_reference"
	KindInvalidReference    Kind = "invalid_reference"
	KindNetwork             Kind = "network"
	KindTimeout             Kind = "timeout"
	KindProvider            Kind = "provider"
	KindParseError          Kind = "parse_error"
	KindStreamParseError    Kind = "stream_parse_error"
	KindBadRequest          Kind = "bad_request"
)

// Error is the common shape for every taxonomy member: a Kind plus a
// human-readable message and optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// ConfigNotFound reports a reference path with no matching tree node.
func ConfigNotFound(ref string) error {
	return newErr(KindConfigNotFound, fmt.Sprintf("no config node for reference %q", ref), nil)
}

// ConfigIncomplete reports a resolved node missing a required key.
func ConfigIncomplete(ref, key string) error {
	return newErr(KindConfigIncomplete, fmt.Sprintf("reference %q resolved but %q is unset", ref, key), nil)
}

// AmbiguousReference reports a short name matching more than one node.
func AmbiguousReference(ref string, candidates []string) error {
	return newErr(KindAmbiguousReference, fmt.Sprintf("short reference %q matches multiple nodes: %v", ref, candidates), nil)
}

// InvalidReference reports a syntactic error in a model reference string.
func InvalidReference(ref string, cause error) error {
	return newErr(KindInvalidReference, fmt.Sprintf("invalid reference %q", ref), cause)
}

// Network reports a transport-level failure (DNS, TCP, TLS).
func Network(cause error) error {
	return newErr(KindNetwork, "network error", cause)
}

// Timeout reports an overall deadline exceeded.
func Timeout(cause error) error {
	return newErr(KindTimeout, "request timed out", cause)
}

// ProviderError reports an HTTP >= 400 response from an upstream provider.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: upstream returned status %d: %s", e.Status, e.Body)
}

// Provider wraps an upstream HTTP error response.
func Provider(status int, body string) error {
	return &ProviderError{Status: status, Body: body}
}

// ParseError reports a JSON shape mismatch on a non-streaming response.
func ParseError(snippet string, cause error) error {
	return newErr(KindParseError, fmt.Sprintf("unexpected response shape: %s", snippet), cause)
}

// StreamParseError reports malformed or truncated SSE.
func StreamParseError(cause error) error {
	return newErr(KindStreamParseError, "malformed or truncated stream", cause)
}

// BadRequest reports gateway-side validation failures.
func BadRequest(msg string) error {
	return newErr(KindBadRequest, msg, nil)
}

// As is a thin re-export of errors.As for callers that don't want to
// import both packages.
func As(err error, target any) bool { return errors.As(err, target) }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error or *ProviderError produced by this package. The second return
// value is false when err doesn't carry a known kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	var p *ProviderError
	if errors.As(err, &p) {
		return KindProvider, true
	}
	return "", false
}
