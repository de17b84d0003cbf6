package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/saworbit/diffrelay/pkg/engine"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Options{Workers: 4})
	t.Cleanup(s.Close)
	return s
}

// diffOnce runs one diff through the service and waits for delivery.
func diffOnce(t *testing.T, s *Service, current, reference []byte) (ctrl, diff, extra []byte) {
	t.Helper()

	done := make(chan struct{})
	err := s.Diff(current, reference, func(cbErr error, c, d, e []byte) {
		defer close(done)
		if cbErr != nil {
			t.Errorf("diff callback error = %v", cbErr)
			return
		}
		ctrl, diff, extra = c, d, e
	})
	if err != nil {
		t.Fatalf("Diff() submission error = %v", err)
	}
	<-done
	return ctrl, diff, extra
}

// patchOnce runs one patch through the service and waits for delivery.
func patchOnce(t *testing.T, s *Service, currentLen uint32, reference, ctrl, diff, extra []byte) ([]byte, error) {
	t.Helper()

	var patched []byte
	var cbErr error
	done := make(chan struct{})
	err := s.Patch(currentLen, reference, ctrl, diff, extra, func(e error, out []byte) {
		defer close(done)
		cbErr = e
		patched = out
	})
	if err != nil {
		t.Fatalf("Patch() submission error = %v", err)
	}
	<-done
	return patched, cbErr
}

func TestDiffPatchRoundTrip(t *testing.T) {
	s := newTestService(t)

	current := []byte("hello world")
	reference := []byte("hello there")

	ctrl, diff, extra := diffOnce(t, s, current, reference)
	if len(ctrl) == 0 {
		t.Fatal("diff produced an empty control stream")
	}

	patched, err := patchOnce(t, s, 11, reference, ctrl, diff, extra)
	if err != nil {
		t.Fatalf("patch callback error = %v", err)
	}
	if string(patched) != "hello world" {
		t.Errorf("patched = %q, want %q", patched, "hello world")
	}
}

func TestDiffInvalidArguments(t *testing.T) {
	s := newTestService(t)
	noop := func(error, []byte, []byte, []byte) {}

	tests := []struct {
		name      string
		current   []byte
		reference []byte
		cb        DiffCallback
	}{
		{"nil callback", []byte("a"), []byte("b"), nil},
		{"empty current", []byte{}, []byte("b"), noop},
		{"nil current", nil, []byte("b"), noop},
		{"empty reference", []byte("a"), []byte{}, noop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Diff(tt.current, tt.reference, tt.cb)
			if err == nil {
				t.Fatal("Diff() accepted invalid arguments")
			}
			if KindOf(err) != KindInvalidArgument {
				t.Errorf("KindOf(err) = %v, want KindInvalidArgument", KindOf(err))
			}
		})
	}
}

func TestPatchInvalidArguments(t *testing.T) {
	s := newTestService(t)
	noop := func(error, []byte) {}
	buf := []byte("x")

	tests := []struct {
		name                        string
		reference, ctrl, diff, extr []byte
		cb                          PatchCallback
	}{
		{"nil callback", buf, []byte{}, buf, buf, nil},
		{"nil reference", nil, []byte{}, buf, buf, noop},
		{"nil control", buf, nil, buf, buf, noop},
		{"nil diff", buf, []byte{}, nil, buf, noop},
		{"nil extra", buf, []byte{}, buf, nil, noop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Patch(1, tt.reference, tt.ctrl, tt.diff, tt.extr, tt.cb)
			if err == nil {
				t.Fatal("Patch() accepted invalid arguments")
			}
			if KindOf(err) != KindInvalidArgument {
				t.Errorf("KindOf(err) = %v, want KindInvalidArgument", KindOf(err))
			}
		})
	}
}

func TestPatchMalformedStreamSynchronous(t *testing.T) {
	s := newTestService(t)

	invoked := false
	err := s.Patch(4, []byte("ref"), make([]byte, 13), []byte{}, []byte{},
		func(error, []byte) { invoked = true })

	if err == nil {
		t.Fatal("Patch() accepted a malformed control stream")
	}
	if KindOf(err) != KindMalformedStream {
		t.Errorf("KindOf(err) = %v, want KindMalformedStream", KindOf(err))
	}
	if invoked {
		t.Error("callback ran for a synchronously rejected request")
	}
}

func TestPatchCorruptDeliveredThroughCallback(t *testing.T) {
	s := newTestService(t)

	// One triple wanting 64 copy bytes from a 4-byte diff payload.
	ctrl := make([]byte, 12)
	ctrl[0] = 64

	submitErr := s.Patch(64, []byte("reference"), ctrl, make([]byte, 4), []byte{},
		func(err error, out []byte) {})

	done := make(chan error, 1)
	err := s.Patch(64, []byte("reference"), ctrl, make([]byte, 4), []byte{},
		func(cbErr error, out []byte) {
			if out != nil {
				t.Error("corrupt patch delivered a buffer alongside the error")
			}
			done <- cbErr
		})
	if submitErr != nil || err != nil {
		t.Fatalf("submission errors = %v, %v; corrupt payloads must fail asynchronously", submitErr, err)
	}

	cbErr := <-done
	if cbErr == nil {
		t.Fatal("corrupt patch completed without error")
	}
	if KindOf(cbErr) != KindCorruptData {
		t.Errorf("KindOf(cbErr) = %v, want KindCorruptData", KindOf(cbErr))
	}
}

func TestConcurrentRequestsAreIndependent(t *testing.T) {
	s := newTestService(t)
	eng := engine.NewRawEngine()

	type pair struct{ current, reference []byte }
	pairs := make([]pair, 16)
	for i := range pairs {
		pairs[i] = pair{
			current:   bytes.Repeat([]byte{byte('a' + i)}, 512+i*17),
			reference: bytes.Repeat([]byte{byte('A' + i)}, 400+i*13),
		}
	}

	// Sequential ground truth via a direct engine call.
	want := make([]*engine.DiffResult, len(pairs))
	for i, p := range pairs {
		res, err := eng.Diff(p.current, p.reference)
		if err != nil {
			t.Fatal(err)
		}
		want[i] = res
	}

	got := make([]*engine.DiffResult, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		err := s.Diff(p.current, p.reference, func(cbErr error, ctrl, diff, extra []byte) {
			defer wg.Done()
			if cbErr != nil {
				t.Errorf("request %d failed: %v", i, cbErr)
				return
			}
			got[i] = &engine.DiffResult{Control: ctrl, Diff: diff, Extra: extra}
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	for i := range pairs {
		if got[i] == nil {
			t.Fatalf("request %d never completed", i)
		}
		if !bytes.Equal(got[i].Control, want[i].Control) ||
			!bytes.Equal(got[i].Diff, want[i].Diff) ||
			!bytes.Equal(got[i].Extra, want[i].Extra) {
			t.Errorf("request %d: concurrent result differs from sequential", i)
		}
	}
}

func TestCallbackInvokedExactlyOnce(t *testing.T) {
	s := newTestService(t)

	const n = 32
	var calls atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		current := []byte(fmt.Sprintf("current payload %d", i))
		reference := []byte(fmt.Sprintf("reference payload %d", i))
		err := s.Diff(current, reference, func(error, []byte, []byte, []byte) {
			calls.Add(1)
			wg.Done()
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	s.Close()

	if calls.Load() != n {
		t.Errorf("callbacks invoked %d times, want %d", calls.Load(), n)
	}
}

func TestCallbacksNeverRunConcurrently(t *testing.T) {
	s := newTestService(t)

	var inCallback atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 24; i++ {
		wg.Add(1)
		err := s.Diff([]byte("current"), []byte("reference"), func(error, []byte, []byte, []byte) {
			defer wg.Done()
			if inCallback.Add(1) != 1 {
				t.Error("two callbacks ran concurrently")
			}
			inCallback.Add(-1)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestClosedServiceRejectsSubmissions(t *testing.T) {
	s := New(Options{Workers: 1})
	s.Close()

	err := s.Diff([]byte("a"), []byte("b"), func(error, []byte, []byte, []byte) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Diff() after Close error = %v, want ErrClosed", err)
	}

	err = s.Patch(1, []byte("a"), []byte{}, []byte{}, []byte{}, func(error, []byte) {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Patch() after Close error = %v, want ErrClosed", err)
	}
}

func TestOversizedInputRejected(t *testing.T) {
	s := newTestService(t)

	err := s.Patch(1<<31+5, []byte("ref"), []byte{}, []byte{}, []byte{}, func(error, []byte) {})
	if err == nil {
		t.Fatal("Patch() accepted a target length beyond the protocol limit")
	}
	if KindOf(err) != KindInvalidArgument {
		t.Errorf("KindOf(err) = %v, want KindInvalidArgument", KindOf(err))
	}
}
