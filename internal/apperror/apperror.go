// Package apperror defines the error kinds used across the search-and-playback
// pipeline so that HTTP handlers can translate them into status codes without
// every package needing to know about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

// Kind identifies one of the documented error kinds. It is not a Go type name,
// just a classification carried alongside the error chain.
type Kind string

const (
	InvalidRequest      Kind = "InvalidRequest"
	Unauthorized        Kind = "Unauthorized"
	ServiceBusy         Kind = "ServiceBusy"
	ProviderTransient   Kind = "ProviderTransient"
	ProviderClientError Kind = "ProviderClientError"
	NoFileInTorrent     Kind = "NoFileInTorrent"
	Timeout             Kind = "Timeout"
	Internal            Kind = "Internal"
)

// appError wraps an underlying cause with a Kind, so callers can use errors.Is
// on the sentinel kind markers below, or KindOf to dispatch.
type appError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *appError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *appError) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &appError{kind: kind, msg: msg}
}

// Wrap creates an error of the given kind, preserving cause for errors.Is/As.
func Wrap(kind Kind, msg string, cause error) error {
	return &appError{kind: kind, msg: msg, cause: cause}
}

// KindOf returns the Kind carried by err, or Internal if err doesn't carry one.
func KindOf(err error) Kind {
	var ae *appError
	if errors.As(err, &ae) {
		return ae.kind
	}
	return Internal
}

// Is reports whether err (or something it wraps) is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
