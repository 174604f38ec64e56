// Package errs classifies errors crossing subsystem boundaries. Kinds are
// attached where an error leaves a component, not on every frame; plain
// fmt.Errorf wrapping is used in between.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	IO
	Parse
	NotFound
	Conflict
	Cancelled
	Invariant
)

var kindNames = map[Kind]string{
	Unknown:   "unknown",
	IO:        "io",
	Parse:     "parse",
	NotFound:  "not_found",
	Conflict:  "conflict",
	Cancelled: "cancelled",
	Invariant: "invariant",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// E is a classified error. Op names the failing operation in
// package.Function form for log correlation.
type E struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *E) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *E) Unwrap() error { return e.Err }

// New builds a classified error from a message.
func New(kind Kind, op, msg string) error {
	return &E{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return &E{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and op to an existing error. Returns nil when err is
// nil so call sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{Kind: kind, Op: op, Err: err}
}

// KindOf walks the error chain and returns the first Kind found, or Unknown.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Kind
		}
		err = errors.Unwrap(err)
	}
	return Unknown
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
