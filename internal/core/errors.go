// Package core implements the functionality for mcpbridge that is shared across all components.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a bridge failure. Startup kinds are fatal, query kinds are
// recovered at the HTTP boundary.
type Kind string

const (
	KindConfig            Kind = "config"
	KindConfigNotFound    Kind = "config_not_found"
	KindClone             Kind = "clone"
	KindBuild             Kind = "build"
	KindSpawn             Kind = "spawn"
	KindIO                Kind = "io"
	KindProtocolViolation Kind = "protocol_violation"
	KindEOF               Kind = "eof"
	KindTimeout           Kind = "timeout"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrConfig            = &Error{Kind: KindConfig}
	ErrConfigNotFound    = &Error{Kind: KindConfigNotFound}
	ErrClone             = &Error{Kind: KindClone}
	ErrBuild             = &Error{Kind: KindBuild}
	ErrSpawn             = &Error{Kind: KindSpawn}
	ErrIO                = &Error{Kind: KindIO}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrEOF               = &Error{Kind: KindEOF}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// Error is a classified bridge failure.
type Error struct {
	Kind   Kind   // failure class
	Op     string // the operation that failed, e.g. "write request"
	Output string // captured output of an external command, if any
	Err    error  // underlying cause
}

// NewError creates a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithOutput attaches captured command output to the error.
func (e *Error) WithOutput(output string) *Error {
	e.Output = strings.TrimSpace(output)
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Output != "" {
		fmt.Fprintf(&b, ", output: %s", e.Output)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsQueryFailure reports whether err belongs to the per-query failure classes.
func IsQueryFailure(err error) bool {
	switch KindOf(err) {
	case KindIO, KindProtocolViolation, KindEOF, KindTimeout:
		return true
	}
	return false
}
