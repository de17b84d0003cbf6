package bridge

import (
	"errors"
	"fmt"

	"github.com/saworbit/diffrelay/pkg/engine"
)

// Kind classifies request failures.
type Kind int

const (
	// KindInvalidArgument marks a request rejected before any background
	// work was scheduled: missing buffers, nil callback, or inputs beyond
	// the 32-bit protocol limit.
	KindInvalidArgument Kind = iota

	// KindMalformedStream marks a control stream whose length is not a
	// whole number of triples, detected synchronously.
	KindMalformedStream

	// KindCorruptData marks input the engine rejected as inconsistent
	// during background execution.
	KindCorruptData

	// KindInternal marks any other engine failure.
	KindInternal
)

// String returns the kind's canonical name.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindMalformedStream:
		return "malformed stream"
	case KindCorruptData:
		return "corrupt data"
	case KindInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// Error is the typed failure delivered for a request, synchronously for
// argument and stream validation, through the completion callback otherwise.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error returned by this package.
// Errors of unknown provenance report KindInternal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

func invalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Err: fmt.Errorf(format, args...)}
}

func malformedStream(err error) *Error {
	return &Error{Kind: KindMalformedStream, Err: err}
}

// classify maps an engine failure onto the error taxonomy: input the
// algorithm flagged as corrupt keeps that identity, everything else is an
// internal fault.
func classify(err error) *Error {
	if errors.Is(err, engine.ErrCorrupt) {
		return &Error{Kind: KindCorruptData, Err: err}
	}
	return &Error{Kind: KindInternal, Err: err}
}
