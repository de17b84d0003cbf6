// Package bsraw implements the raw bsdiff delta algorithm: a suffix-sorted
// greedy match over the reference buffer producing a control stream of
// (copy, extra, seek) triples plus separate diff and extra payloads, and the
// inverse reconstruction. Unlike the bsdiff4 file format there is no
// compression framing here; callers own the three streams directly.
package bsraw

import (
	"errors"
	"fmt"
	"math"

	"github.com/saworbit/diffrelay/pkg/control"
)

// ErrCorrupt reports input the algorithm rejected as inconsistent: control
// triples that run past the end of a payload, or a reconstruction that does
// not add up to the declared length.
var ErrCorrupt = errors.New("corrupt patch input")

// ErrTooLarge reports an input buffer that cannot be described by the
// 32-bit control fields.
var ErrTooLarge = errors.New("input exceeds 2^31-1 bytes")

// Delta is the product of Diff: a decoded control stream and the two
// payloads it indexes into.
type Delta struct {
	Control []control.Triple
	Diff    []byte
	Extra   []byte
}

// Diff computes a delta transforming reference into current. Replaying the
// returned control triples against reference reproduces current exactly.
func Diff(current, reference []byte) (*Delta, error) {
	if len(current) > math.MaxInt32 || len(reference) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: current %d bytes, reference %d bytes",
			ErrTooLarge, len(current), len(reference))
	}

	I := qsufsort(reference)

	db := make([]byte, 0, len(current)/4)
	eb := make([]byte, 0, len(current)/4)
	var triples []control.Triple

	var scan, pos, length int
	var lastscan, lastpos, lastoffset int

	for scan < len(current) {
		var oldscore int
		scan += length

		for scsc := scan; scan < len(current); scan++ {
			pos, length = search(I, reference, current[scan:], 0, len(reference))

			for ; scsc < scan+length; scsc++ {
				if scsc+lastoffset < len(reference) &&
					reference[scsc+lastoffset] == current[scsc] {
					oldscore++
				}
			}

			if (length == oldscore && length != 0) || length > oldscore+8 {
				break
			}

			if scan+lastoffset < len(reference) &&
				reference[scan+lastoffset] == current[scan] {
				oldscore--
			}
		}

		if length != oldscore || scan == len(current) {
			// Extend the previous match forward as long as at least
			// half the bytes still agree.
			var s, lenf int
			sf := 0
			for i := 0; lastscan+i < scan && lastpos+i < len(reference); {
				if reference[lastpos+i] == current[lastscan+i] {
					s++
				}
				i++
				if s*2-i > sf*2-lenf {
					sf = s
					lenf = i
				}
			}

			// Extend the new match backward the same way.
			lenb := 0
			if scan < len(current) {
				s := 0
				sb := 0
				for i := 1; scan >= lastscan+i && pos >= i; i++ {
					if reference[pos-i] == current[scan-i] {
						s++
					}
					if s*2-i > sb*2-lenb {
						sb = s
						lenb = i
					}
				}
			}

			// Resolve overlap between the two extensions at the point
			// that maximizes matching bytes.
			if lastscan+lenf > scan-lenb {
				overlap := (lastscan + lenf) - (scan - lenb)
				s := 0
				ss := 0
				lens := 0
				for i := 0; i < overlap; i++ {
					if current[lastscan+lenf-overlap+i] ==
						reference[lastpos+lenf-overlap+i] {
						s++
					}
					if current[scan-lenb+i] == reference[pos-lenb+i] {
						s--
					}
					if s > ss {
						ss = s
						lens = i + 1
					}
				}
				lenf += lens - overlap
				lenb -= lens
			}

			for i := 0; i < lenf; i++ {
				db = append(db, current[lastscan+i]-reference[lastpos+i])
			}
			eb = append(eb, current[lastscan+lenf:scan-lenb]...)

			triples = append(triples, control.Triple{
				CopyLen:  int32(lenf),
				ExtraLen: int32((scan - lenb) - (lastscan + lenf)),
				Seek:     int32((pos - lenb) - (lastpos + lenf)),
			})

			lastscan = scan - lenb
			lastpos = pos - lenb
			lastoffset = pos - scan
		}
	}

	return &Delta{Control: triples, Diff: db, Extra: eb}, nil
}
