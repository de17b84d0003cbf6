package engine

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

var _ Engine = (*Bsdiff4Engine)(nil)

// Bsdiff4Engine produces packed bsdiff4 patches via go-bsdiff. The whole
// patch file travels in the diff-payload slot; the control and extra
// streams are empty because bsdiff4 frames all three sections internally.
type Bsdiff4Engine struct{}

// NewBsdiff4Engine creates the packed bsdiff4 engine.
func NewBsdiff4Engine() *Bsdiff4Engine {
	return &Bsdiff4Engine{}
}

// Name returns the engine identifier.
func (e *Bsdiff4Engine) Name() string {
	return "bsdiff4"
}

// Diff computes a packed bsdiff4 patch.
func (e *Bsdiff4Engine) Diff(current, reference []byte) (*DiffResult, error) {
	patch, err := bsdiff.Bytes(reference, current)
	if err != nil {
		return nil, fmt.Errorf("bsdiff4 diff failed: %w", err)
	}

	return &DiffResult{
		Control: []byte{},
		Diff:    patch,
		Extra:   []byte{},
	}, nil
}

// Patch applies a packed bsdiff4 patch. Non-empty control or extra streams
// mean the caller handed this engine a raw-format delta, which it treats as
// corrupt rather than guessing.
func (e *Bsdiff4Engine) Patch(currentLen uint32, reference, controlStream, diff, extra []byte) ([]byte, error) {
	if len(controlStream) != 0 || len(extra) != 0 {
		return nil, fmt.Errorf("%w: bsdiff4 patches carry no separate control/extra streams", ErrCorrupt)
	}

	out, err := bspatch.Bytes(reference, diff)
	if err != nil {
		// go-bsdiff rejects anything it cannot parse or replay; both
		// correspond to the algorithm's corrupt-data status.
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if uint32(len(out)) != currentLen {
		return nil, fmt.Errorf("%w: patch produced %d bytes, want %d", ErrCorrupt, len(out), currentLen)
	}
	return out, nil
}
