// Package task defines the execution-unit boundary: each framework
// under test is an opaque adapter behind the Unit interface. The
// orchestrator depends only on this interface, never on any
// framework-specific library.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/crucible-bench/crucible/internal/cost"
)

// ErrorKind classifies a unit failure for the retry policy.
type ErrorKind string

const (
	// KindTransient failures (recoverable network errors and the like)
	// may be retried within the cell's retry budget.
	KindTransient ErrorKind = "transient"
	// KindValidation failures mean malformed input or output; never
	// retried.
	KindValidation ErrorKind = "validation"
	// KindFatal failures mean the unit itself is broken; never retried.
	KindFatal ErrorKind = "fatal"
)

// Error is a classified unit failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a classified error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err. Unclassified errors and
// context cancellation default to fatal; callers handle timeouts before
// consulting the kind.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindFatal
}

// Result is what a unit returns from one execution: the produced
// output, the documents it retrieved, the sources it cited, and the
// usage events it consumed along the way.
type Result struct {
	Output      string            `json:"output"`
	Docs        []string          `json:"docs,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	UsageEvents []cost.UsageEvent `json:"usage_events,omitempty"`
}

// Unit executes one framework's implementation of one use case.
// Execute must honor ctx cancellation by returning promptly; any
// resources the unit owns (subprocesses, connections) are its own
// responsibility to release.
type Unit interface {
	Execute(ctx context.Context, input string) (*Result, error)
}

// Func adapts a plain function to the Unit interface.
type Func func(ctx context.Context, input string) (*Result, error)

func (f Func) Execute(ctx context.Context, input string) (*Result, error) {
	return f(ctx, input)
}
