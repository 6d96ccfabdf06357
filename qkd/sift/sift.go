// Package sift turns raw detection records into matched key bits. A record
// survives sifting only if both sides measured in the same basis and the
// pulse was a signal pulse; decoy pulses feed the decoy-state analysis, not
// the key.
package sift

import (
	"github.com/qkdlab/cascade/qkd/bitmap"
)

// A Record is one detection event as logged by the hardware: the state the
// verifier prepared, the state the corrector measured, whether the bases
// matched, and which intensity level the pulse used.
type Record struct {
	QubitID       uint64
	MatchingBasis bool
	TxState       byte
	RxState       byte

	// DecoyLevel is 0 for signal pulses. Non-zero levels are decoy
	// intensities and never contribute key bits.
	DecoyLevel int
}

// Sift extracts the verifier's and corrector's sifted bit strings from a
// run of detection records. The two outputs are the same length and
// position-aligned; positions where the strings differ are channel errors.
func Sift(records []Record) (verifier, corrector bitmap.Dense) {
	for _, r := range records {
		if r.DecoyLevel != 0 || !r.MatchingBasis {
			continue
		}
		verifier.AppendBit(r.TxState != 0)
		corrector.AppendBit(r.RxState != 0)
	}
	return verifier, corrector
}
