package bsraw

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/saworbit/diffrelay/pkg/control"
)

func TestDiffPatchRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	random := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}
	base := random(4096)
	mutated := append([]byte(nil), base...)
	for i := 100; i < 200; i++ {
		mutated[i] ^= 0x5a
	}

	tests := []struct {
		name      string
		current   []byte
		reference []byte
	}{
		{"identical", []byte("hello world"), []byte("hello world")},
		{"simple change", []byte("hello world"), []byte("hello there")},
		{"insertion", []byte("hello brave new world"), []byte("hello world")},
		{"deletion", []byte("held"), []byte("hello world")},
		{"disjoint", []byte("abcdefgh"), []byte("12345678")},
		{"reordered blocks", []byte("BBBBBBBBAAAAAAAA"), []byte("AAAAAAAABBBBBBBB")},
		{"empty reference", []byte("fresh content"), []byte{}},
		{"empty current", []byte{}, []byte("old content")},
		{"random mutation", mutated, base},
		{"random unrelated", random(2048), random(1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, err := Diff(tt.current, tt.reference)
			if err != nil {
				t.Fatalf("Diff() error = %v", err)
			}

			got, err := Patch(uint32(len(tt.current)), tt.reference, delta.Control, delta.Diff, delta.Extra)
			if err != nil {
				t.Fatalf("Patch() error = %v", err)
			}
			if !bytes.Equal(got, tt.current) {
				t.Errorf("round trip mismatch: got %q, want %q", got, tt.current)
			}
		})
	}
}

func TestDiffHelloScenario(t *testing.T) {
	current := []byte("hello world")
	reference := []byte("hello there")

	delta, err := Diff(current, reference)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if len(delta.Control) == 0 {
		t.Fatal("Diff() produced an empty control stream")
	}

	var total int64
	for _, c := range delta.Control {
		total += int64(c.CopyLen) + int64(c.ExtraLen)
	}
	if total != int64(len(current)) {
		t.Errorf("control triples sum to %d bytes, want %d", total, len(current))
	}

	got, err := Patch(11, reference, delta.Control, delta.Diff, delta.Extra)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("Patch() = %q, want %q", got, "hello world")
	}
}

func TestPatchNegativeSeek(t *testing.T) {
	// Reconstruct "BBBBAAAA" from "AAAABBBB" by seeking forward, copying
	// the tail, seeking back past the start of the copy, and copying the
	// head. The backward move only works if the seek is honored as signed.
	reference := []byte("AAAABBBB")
	triples := []control.Triple{
		{CopyLen: 0, ExtraLen: 0, Seek: 4},
		{CopyLen: 4, ExtraLen: 0, Seek: -8},
		{CopyLen: 4, ExtraLen: 0, Seek: 0},
	}
	diff := make([]byte, 8)

	got, err := Patch(8, reference, triples, diff, nil)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if string(got) != "BBBBAAAA" {
		t.Errorf("Patch() = %q, want %q", got, "BBBBAAAA")
	}
}

func TestPatchOutOfRangeReferenceReadsAsZero(t *testing.T) {
	// A seek before the start of the reference makes the copy window fall
	// outside the buffer; those positions contribute nothing, so the diff
	// payload passes through unchanged.
	triples := []control.Triple{
		{CopyLen: 0, ExtraLen: 0, Seek: -4},
		{CopyLen: 4, ExtraLen: 0, Seek: 0},
	}

	got, err := Patch(4, []byte("ref"), triples, []byte("WXYZ"), nil)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if string(got) != "WXYZ" {
		t.Errorf("Patch() = %q, want %q", got, "WXYZ")
	}
}

func TestPatchCorrupt(t *testing.T) {
	reference := []byte("hello there")

	tests := []struct {
		name       string
		currentLen uint32
		triples    []control.Triple
		diff       []byte
		extra      []byte
	}{
		{
			name:       "copy overruns diff payload",
			currentLen: 8,
			triples:    []control.Triple{{CopyLen: 8, ExtraLen: 0, Seek: 0}},
			diff:       make([]byte, 4),
		},
		{
			name:       "copy overruns output",
			currentLen: 4,
			triples:    []control.Triple{{CopyLen: 8, ExtraLen: 0, Seek: 0}},
			diff:       make([]byte, 8),
		},
		{
			name:       "extra overruns payload",
			currentLen: 8,
			triples:    []control.Triple{{CopyLen: 0, ExtraLen: 8, Seek: 0}},
			extra:      make([]byte, 2),
		},
		{
			name:       "negative copy length",
			currentLen: 4,
			triples:    []control.Triple{{CopyLen: -1, ExtraLen: 0, Seek: 0}},
		},
		{
			name:       "short reconstruction",
			currentLen: 16,
			triples:    []control.Triple{{CopyLen: 0, ExtraLen: 4, Seek: 0}},
			extra:      make([]byte, 4),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Patch(tt.currentLen, reference, tt.triples, tt.diff, tt.extra)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Patch() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func BenchmarkDiff(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	reference := make([]byte, 256*1024)
	rng.Read(reference)
	current := append([]byte(nil), reference...)
	for i := 0; i < len(current); i += 4096 {
		current[i] ^= 0xff
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Diff(current, reference); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPatch(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	reference := make([]byte, 256*1024)
	rng.Read(reference)
	current := append([]byte(nil), reference...)
	for i := 0; i < len(current); i += 4096 {
		current[i] ^= 0xff
	}

	delta, err := Diff(current, reference)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Patch(uint32(len(current)), reference, delta.Control, delta.Diff, delta.Extra); err != nil {
			b.Fatal(err)
		}
	}
}
