package bridge

import (
	"sync/atomic"
	"time"

	"github.com/saworbit/diffrelay/internal/metrics"
	"github.com/saworbit/diffrelay/pkg/engine"
)

// Work item states. A request moves Pending -> Running -> {Completed,
// Failed}; the transition out of Running is the single handoff point
// between the background worker and completion delivery, and no request
// re-enters Running.
const (
	statePending int32 = iota
	stateRunning
	stateCompleted
	stateFailed
)

type opKind string

const (
	opDiff  opKind = "diff"
	opPatch opKind = "patch"
)

// workItem is the unit of work in flight for one request. It owns retained
// references to every input buffer, the outcome slot, and the completion
// callback. The background worker writes the outcome; the delivery loop
// reads it, invokes the callback once, and releases the retained inputs.
type workItem struct {
	op    opKind
	seq   uint64
	start time.Time
	state atomic.Int32

	// Retained inputs. Held alive and treated as read-only until release.
	current      []byte
	reference    []byte
	controlIn    []byte
	diffIn       []byte
	extraIn      []byte
	currentLen   uint32
	retainedSize int64

	diffCB  DiffCallback
	patchCB PatchCallback

	// Outcome: exactly one of failure / diffOut / patched is populated
	// when the item leaves Running.
	failure *Error
	diffOut *engine.DiffResult
	patched []byte
}

// retain records the input buffers held for the duration of the request and
// accounts for them on the retained-bytes gauge.
func (w *workItem) retain() {
	w.retainedSize = int64(len(w.current) + len(w.reference) +
		len(w.controlIn) + len(w.diffIn) + len(w.extraIn))
	metrics.AddRetained(w.retainedSize)
	metrics.InFlight.Inc()
}

// release drops every retained input reference. It runs exactly once, after
// completion delivery, on success and failure alike.
func (w *workItem) release() {
	w.current = nil
	w.reference = nil
	w.controlIn = nil
	w.diffIn = nil
	w.extraIn = nil
	metrics.AddRetained(-w.retainedSize)
	metrics.InFlight.Dec()
	w.retainedSize = 0
}

// transition moves the item between states, returning false if another
// actor already moved it.
func (w *workItem) transition(from, to int32) bool {
	return w.state.CompareAndSwap(from, to)
}

// outcome returns the metrics label for the item's terminal state.
func (w *workItem) outcome() string {
	if w.failure == nil {
		return "ok"
	}
	if w.failure.Kind == KindCorruptData {
		return "corrupt"
	}
	return "internal"
}
