package engine

import (
	"errors"
	"fmt"

	"github.com/saworbit/diffrelay/pkg/bsraw"
	"github.com/saworbit/diffrelay/pkg/control"
)

var _ Engine = (*RawEngine)(nil)

// RawEngine produces and consumes the raw triple-stream delta format.
type RawEngine struct{}

// NewRawEngine creates the raw triple-stream engine.
func NewRawEngine() *RawEngine {
	return &RawEngine{}
}

// Name returns the engine identifier.
func (e *RawEngine) Name() string {
	return "raw"
}

// Diff computes a raw delta and encodes its control stream to wire form.
func (e *RawEngine) Diff(current, reference []byte) (*DiffResult, error) {
	delta, err := bsraw.Diff(current, reference)
	if err != nil {
		return nil, fmt.Errorf("raw diff failed: %w", err)
	}

	return &DiffResult{
		Control: control.Encode(delta.Control),
		Diff:    delta.Diff,
		Extra:   delta.Extra,
	}, nil
}

// Patch decodes the control stream and replays it against reference.
func (e *RawEngine) Patch(currentLen uint32, reference, controlStream, diff, extra []byte) ([]byte, error) {
	triples, err := control.Decode(controlStream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out, err := bsraw.Patch(currentLen, reference, triples, diff, extra)
	if err != nil {
		if errors.Is(err, bsraw.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("raw patch failed: %w", err)
	}
	return out, nil
}
