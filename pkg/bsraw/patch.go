package bsraw

import (
	"fmt"

	"github.com/saworbit/diffrelay/pkg/control"
)

// Patch reconstructs a buffer of exactly currentLen bytes by replaying the
// control triples against reference. Each triple copies CopyLen diff bytes
// added byte-wise to the reference window, appends ExtraLen literal bytes,
// then seeks the reference cursor by Seek (negative seeks move backward).
// Reference reads outside [0, len(reference)) contribute zero, matching the
// classic bspatch convention. Any triple that would overrun an output or
// payload bound fails with ErrCorrupt, as does a replay that does not land
// exactly on currentLen.
func Patch(currentLen uint32, reference []byte, triples []control.Triple, diff, extra []byte) ([]byte, error) {
	out := make([]byte, currentLen)

	var refpos, outpos int
	var diffpos, extrapos int

	for i, t := range triples {
		if t.CopyLen < 0 || t.ExtraLen < 0 {
			return nil, fmt.Errorf("%w: negative length in triple %d", ErrCorrupt, i)
		}

		copyLen := int(t.CopyLen)
		extraLen := int(t.ExtraLen)

		if outpos+copyLen > len(out) || diffpos+copyLen > len(diff) {
			return nil, fmt.Errorf("%w: copy of %d bytes overruns at triple %d", ErrCorrupt, copyLen, i)
		}
		for j := 0; j < copyLen; j++ {
			b := diff[diffpos+j]
			if p := refpos + j; p >= 0 && p < len(reference) {
				b += reference[p]
			}
			out[outpos+j] = b
		}
		outpos += copyLen
		refpos += copyLen
		diffpos += copyLen

		if outpos+extraLen > len(out) || extrapos+extraLen > len(extra) {
			return nil, fmt.Errorf("%w: insert of %d bytes overruns at triple %d", ErrCorrupt, extraLen, i)
		}
		copy(out[outpos:], extra[extrapos:extrapos+extraLen])
		outpos += extraLen
		extrapos += extraLen

		refpos += int(t.Seek)
	}

	if outpos != len(out) {
		return nil, fmt.Errorf("%w: reconstructed %d bytes, want %d", ErrCorrupt, outpos, len(out))
	}

	return out, nil
}
