// Package errs provides structured error types and helpers for the feed runtime.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies the top-level error taxonomy a failure belongs to.
type Code string

const (
	// CodeConfiguration indicates an invalid option supplied at construction.
	CodeConfiguration Code = "configuration"
	// CodeConnection indicates a transport-level failure driving the state machine.
	CodeConnection Code = "connection"
	// CodeParse indicates a per-frame decoding failure; the frame is dropped.
	CodeParse Code = "parse"
	// CodeSubscription indicates a channel subscribe/unsubscribe failure.
	CodeSubscription Code = "subscription"
	// CodeNetwork is the catch-all for transport oddities, including re-raised callback panics.
	CodeNetwork Code = "network"
	// CodeNotImplemented marks an optional capability the backend doesn't expose.
	CodeNotImplemented Code = "not_implemented"
)

// Canonical captures the sub-kind within a Code, mirroring spec §7's nested taxonomy.
type Canonical string

const (
	// CanonicalUnknown is the default when no sub-kind applies.
	CanonicalUnknown Canonical = "unknown"

	// Connection sub-kinds.
	CanonicalEstablishmentFailed  Canonical = "establishment_failed"
	CanonicalConnectionLost       Canonical = "connection_lost"
	CanonicalAuthenticationFailed Canonical = "authentication_failed"
	CanonicalConnectionTimeout    Canonical = "timeout"
	CanonicalInvalidState         Canonical = "invalid_state"

	// Parse sub-kinds.
	CanonicalInvalidJSON     Canonical = "invalid_json"
	CanonicalMissingField    Canonical = "missing_field"
	CanonicalInvalidDataType Canonical = "invalid_data_type"
	CanonicalMalformed       Canonical = "malformed"

	// Subscription sub-kinds.
	CanonicalInvalidChannel     Canonical = "invalid_channel"
	CanonicalSubscriptionFailed Canonical = "subscription_failed"
	CanonicalAlreadySubscribed  Canonical = "already_subscribed"
	CanonicalNotSubscribed      Canonical = "not_subscribed"
)

// Severity ranks how urgently an error should be surfaced to observability.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// E captures structured error information produced across the feed runtime.
type E struct {
	Code      Code
	Canonical Canonical
	Field     string
	Message   string
	Context   map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given code.
func New(code Code, opts ...Option) *E {
	e := &E{
		Code:      code,
		Canonical: CanonicalUnknown,
		Field:     "",
		Message:   "",
		Context:   nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithField records the offending configuration field (Configuration errors).
func WithField(field string) Option {
	trimmed := strings.TrimSpace(field)
	return func(e *E) {
		e.Field = trimmed
	}
}

// WithCanonical sets the nested sub-kind describing the failure.
func WithCanonical(code Canonical) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = Canonical(trimmed)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithContext merges the provided context fields into the error envelope.
func WithContext(ctx map[string]string) Option {
	return func(e *E) {
		if len(ctx) == 0 {
			return
		}
		if e.Context == nil {
			e.Context = make(map[string]string, len(ctx))
		}
		for k, v := range ctx {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Context[key] = strings.TrimSpace(v)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}
	if e.Field != "" {
		parts = append(parts, "field="+strconv.Quote(e.Field))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Context[k]))
		}
		parts = append(parts, "context="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is allows errors.Is comparisons against a Code/Canonical pair wrapped as a sentinel E.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if t.Canonical != "" && t.Canonical != CanonicalUnknown && t.Canonical != e.Canonical {
		return false
	}
	return true
}

// SeverityOf maps an error envelope to its observability severity per spec §7.
func SeverityOf(e *E) Severity {
	if e == nil {
		return SeverityLow
	}
	switch e.Code {
	case CodeConfiguration:
		return SeverityCritical
	case CodeConnection:
		if e.Canonical == CanonicalAuthenticationFailed {
			return SeverityCritical
		}
		return SeverityHigh
	case CodeSubscription, CodeNetwork:
		return SeverityMedium
	case CodeParse, CodeNotImplemented:
		return SeverityLow
	default:
		return SeverityLow
	}
}

// NotImplemented returns a standardized error for unsupported capabilities.
func NotImplemented(msg string) *E {
	return New(CodeNotImplemented, WithMessage(strings.TrimSpace(msg)))
}
