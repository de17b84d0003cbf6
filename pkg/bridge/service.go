// Package bridge offloads binary diff and patch computation to background
// workers and reports results asynchronously. Submission never blocks the
// caller; the engine runs on a bounded worker pool; every request gets
// exactly one completion callback, invoked serially on a dedicated delivery
// goroutine, never on a worker.
//
// Input buffers are retained by the service and must not be mutated by the
// caller until the callback has run. Output buffers are freshly allocated
// and owned exclusively by the caller after delivery.
package bridge

import (
	"errors"
	"log"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saworbit/diffrelay/internal/metrics"
	"github.com/saworbit/diffrelay/pkg/control"
	"github.com/saworbit/diffrelay/pkg/engine"
)

// ErrClosed reports a submission to a service that has been closed.
var ErrClosed = errors.New("bridge: service closed")

// DiffCallback receives the outcome of a diff request: either a non-nil
// error and nil buffers, or a nil error and the three delta streams.
type DiffCallback func(err error, controlStream, diffPayload, extraPayload []byte)

// PatchCallback receives the outcome of a patch request.
type PatchCallback func(err error, patched []byte)

// Options configures a Service.
type Options struct {
	// Engine runs the delta algorithm. Defaults to the raw triple-stream
	// engine.
	Engine engine.Engine

	// Workers bounds concurrent engine invocations. Defaults to
	// runtime.NumCPU().
	Workers int

	// Logger receives delivery-loop diagnostics. Defaults to log.Default().
	Logger *log.Logger
}

// Service dispatches diff/patch requests to background workers and delivers
// completions.
type Service struct {
	engine engine.Engine
	logger *log.Logger

	sem         chan struct{}
	completions chan *workItem

	// mu guards the closed flag against submissions racing Close.
	mu           sync.RWMutex
	closed       bool
	wg           sync.WaitGroup
	deliveryDone chan struct{}
	seq          atomic.Uint64
}

// New creates a Service and starts its delivery loop. Call Close to drain
// in-flight requests and stop it.
func New(opts Options) *Service {
	if opts.Engine == nil {
		opts.Engine = engine.NewRawEngine()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Service{
		engine:       opts.Engine,
		logger:       opts.Logger,
		sem:          make(chan struct{}, opts.Workers),
		completions:  make(chan *workItem, opts.Workers),
		deliveryDone: make(chan struct{}),
	}
	go s.deliveryLoop()
	return s
}

// Engine returns the engine this service dispatches to.
func (s *Service) Engine() engine.Engine {
	return s.engine
}

// Diff submits an asynchronous diff of current against reference. Argument
// problems are reported synchronously; everything else arrives through cb,
// which is invoked exactly once. Neither buffer may be mutated until then.
func (s *Service) Diff(current, reference []byte, cb DiffCallback) error {
	if cb == nil {
		metrics.ObserveRejected(string(opDiff))
		return invalidArgument("diff: callback must not be nil")
	}
	if len(current) == 0 || len(reference) == 0 {
		metrics.ObserveRejected(string(opDiff))
		return invalidArgument("diff: current and reference must be non-empty")
	}
	if len(current) > math.MaxInt32 || len(reference) > math.MaxInt32 {
		// Control fields are 32-bit on the wire; wider inputs are
		// outside the protocol, not a transient condition.
		metrics.ObserveRejected(string(opDiff))
		return invalidArgument("diff: buffers larger than 2^31-1 bytes are unsupported")
	}
	w := &workItem{
		op:        opDiff,
		seq:       s.seq.Add(1),
		start:     time.Now(),
		current:   current,
		reference: reference,
		diffCB:    cb,
	}
	return s.submit(w)
}

// Patch submits an asynchronous patch reconstruction of currentLen bytes
// from reference and the three delta streams. A control stream whose length
// is not a multiple of the triple size is rejected synchronously with a
// malformed-stream error; corrupt payloads are only detectable in the
// background and arrive through cb.
func (s *Service) Patch(currentLen uint32, reference, controlStream, diffPayload, extraPayload []byte, cb PatchCallback) error {
	if cb == nil {
		metrics.ObserveRejected(string(opPatch))
		return invalidArgument("patch: callback must not be nil")
	}
	if reference == nil || controlStream == nil || diffPayload == nil || extraPayload == nil {
		metrics.ObserveRejected(string(opPatch))
		return invalidArgument("patch: all stream arguments must be valid byte buffers")
	}
	if currentLen > math.MaxInt32 {
		metrics.ObserveRejected(string(opPatch))
		return invalidArgument("patch: target length %d exceeds the 2^31-1 protocol limit", currentLen)
	}
	if _, err := control.Count(controlStream); err != nil {
		metrics.ObserveRejected(string(opPatch))
		return malformedStream(err)
	}

	w := &workItem{
		op:         opPatch,
		seq:        s.seq.Add(1),
		start:      time.Now(),
		currentLen: currentLen,
		reference:  reference,
		controlIn:  controlStream,
		diffIn:     diffPayload,
		extraIn:    extraPayload,
		patchCB:    cb,
	}
	return s.submit(w)
}

// Close stops accepting new requests, waits for in-flight requests to be
// delivered, and stops the delivery loop.
func (s *Service) Close() {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if alreadyClosed {
		<-s.deliveryDone
		return
	}
	s.wg.Wait()
	close(s.completions)
	<-s.deliveryDone
}

// submit hands the work item to a background goroutine. The caller's
// goroutine never blocks here: concurrency is bounded by the worker
// semaphore inside the spawned goroutine, not at submission.
func (s *Service) submit(w *workItem) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	w.retain()
	s.wg.Add(1)
	go s.run(w)
	return nil
}

// run executes the engine for one work item on a background worker and
// queues the outcome for delivery.
func (s *Service) run(w *workItem) {
	defer s.wg.Done()

	s.sem <- struct{}{}
	w.transition(statePending, stateRunning)

	switch w.op {
	case opDiff:
		res, err := s.engine.Diff(w.current, w.reference)
		if err != nil {
			w.failure = classify(err)
		} else {
			w.diffOut = res
		}
	case opPatch:
		out, err := s.engine.Patch(w.currentLen, w.reference, w.controlIn, w.diffIn, w.extraIn)
		if err != nil {
			w.failure = classify(err)
		} else {
			w.patched = out
		}
	}

	if w.failure != nil {
		w.transition(stateRunning, stateFailed)
	} else {
		w.transition(stateRunning, stateCompleted)
	}
	<-s.sem

	s.completions <- w
}

// deliveryLoop drains completed work items and invokes each callback
// exactly once. Callbacks run serially on this goroutine. A panic raised by
// a callback is deliberately not recovered: a defect in a completion
// handler is fatal to the process, not something this layer can repair.
func (s *Service) deliveryLoop() {
	defer close(s.deliveryDone)

	for w := range s.completions {
		metrics.ObserveRequest(w.start, string(w.op), w.outcome())
		if w.failure != nil && w.failure.Kind == KindInternal {
			s.logger.Printf("[delivery] %s request %d failed: %v", w.op, w.seq, w.failure)
		}

		switch w.op {
		case opDiff:
			if w.failure != nil {
				w.diffCB(w.failure, nil, nil, nil)
			} else {
				out := w.diffOut
				metrics.AddOutput(string(w.op), len(out.Control)+len(out.Diff)+len(out.Extra))
				w.diffCB(nil, out.Control, out.Diff, out.Extra)
			}
		case opPatch:
			if w.failure != nil {
				w.patchCB(w.failure, nil)
			} else {
				metrics.AddOutput(string(w.op), len(w.patched))
				w.patchCB(nil, w.patched)
			}
		}

		// Output ownership has moved to the caller; drop our references
		// along with the retained inputs.
		w.diffOut = nil
		w.patched = nil
		w.release()
	}
}
