// Package control implements the wire codec for patch control streams.
//
// A control stream is a concatenation of 12-byte triples, each holding three
// signed 32-bit integers in little-endian byte order: the number of bytes to
// copy from the diff-applied stream, the number of literal bytes to take from
// the extra stream, and a signed seek applied to the reference cursor. The
// 32-bit field width is a protocol constant; streams describing buffers of
// 2^31 bytes or more cannot be represented.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TripleSize is the encoded size of one control triple in bytes.
const TripleSize = 12

// ErrMalformedStream reports a control stream whose length is not a whole
// number of triples.
var ErrMalformedStream = errors.New("malformed control stream")

// Triple describes one step of patch reconstruction.
type Triple struct {
	// CopyLen is the number of bytes copied from the diff-applied stream.
	CopyLen int32

	// ExtraLen is the number of literal bytes taken from the extra stream.
	ExtraLen int32

	// Seek advances the reference cursor after the copy. Negative values
	// move the cursor backward.
	Seek int32
}

// Decode parses a control stream into triples. The stream length must be a
// multiple of TripleSize; anything else fails with ErrMalformedStream. All
// fields are read little-endian regardless of the host's native byte order.
func Decode(stream []byte) ([]Triple, error) {
	if len(stream)%TripleSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d",
			ErrMalformedStream, len(stream), TripleSize)
	}

	triples := make([]Triple, len(stream)/TripleSize)
	for i := range triples {
		off := i * TripleSize
		triples[i] = Triple{
			CopyLen:  int32(binary.LittleEndian.Uint32(stream[off:])),
			ExtraLen: int32(binary.LittleEndian.Uint32(stream[off+4:])),
			Seek:     int32(binary.LittleEndian.Uint32(stream[off+8:])),
		}
	}

	return triples, nil
}

// Encode serializes triples into wire form, little-endian.
func Encode(triples []Triple) []byte {
	stream := make([]byte, len(triples)*TripleSize)
	for i, t := range triples {
		off := i * TripleSize
		binary.LittleEndian.PutUint32(stream[off:], uint32(t.CopyLen))
		binary.LittleEndian.PutUint32(stream[off+4:], uint32(t.ExtraLen))
		binary.LittleEndian.PutUint32(stream[off+8:], uint32(t.Seek))
	}
	return stream
}

// Count returns the number of triples a stream encodes without decoding it,
// or an error if the stream is malformed.
func Count(stream []byte) (int, error) {
	if len(stream)%TripleSize != 0 {
		return 0, fmt.Errorf("%w: length %d is not a multiple of %d",
			ErrMalformedStream, len(stream), TripleSize)
	}
	return len(stream) / TripleSize, nil
}
