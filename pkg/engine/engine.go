// Package engine wraps the delta algorithms behind a uniform
// request/response contract. An Engine either produces all three output
// streams of a diff, or fails; no partial results are surfaced. Failures
// the algorithm attributes to bad input are wrapped with ErrCorrupt, the
// equivalent of the classic bsdiff -1 status; everything else is an
// internal engine fault.
package engine

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks algorithm failures caused by malformed or inconsistent
// input data, as opposed to internal faults.
var ErrCorrupt = errors.New("corrupt data")

// DiffResult carries the three streams a diff produces. Control is already
// encoded to wire form (little-endian triples).
type DiffResult struct {
	Control []byte
	Diff    []byte
	Extra   []byte
}

// Engine computes and applies binary deltas over in-memory buffers.
type Engine interface {
	// Name returns the engine identifier used in configs and containers.
	Name() string

	// Diff computes a delta transforming reference into current.
	Diff(current, reference []byte) (*DiffResult, error)

	// Patch reconstructs a buffer of currentLen bytes from reference and
	// the three delta streams. The control stream is wire-form and is
	// decoded by the engine before replay.
	Patch(currentLen uint32, reference, controlStream, diff, extra []byte) ([]byte, error)
}

// New creates an engine by name. Supported names are "raw" (triple-stream
// bsdiff, the wire format diffrelay serves) and "bsdiff4" (packed bsdiff4
// patches via go-bsdiff).
func New(name string) (Engine, error) {
	switch name {
	case "raw":
		return NewRawEngine(), nil
	case "bsdiff4":
		return NewBsdiff4Engine(), nil
	default:
		return nil, fmt.Errorf("unsupported engine: %s (must be 'raw' or 'bsdiff4')", name)
	}
}
