package qkd

import (
	"context"
	"fmt"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

// A Block identifies a contiguous run [Start, End) of the key in shuffled
// order. ShuffleID names the permutation under which the run is taken; both
// roles reconstruct it independently with PermutationFor.
type Block struct {
	ShuffleID uint64
	Start     int
	End       int
}

// A ParityOracle is the corrector's view of the classical channel: a
// capability to ask the verifier for block parities over its key. The
// in-process KeyOracle and the remote wire.Client implement it
// interchangeably.
//
// Every successfully answered block reveals one bit of the key to the public
// channel, and the oracle's leakage ledger advances by exactly that count.
type ParityOracle interface {
	// Start opens a reconciliation session, resetting the leakage ledger.
	Start(ctx context.Context, algorithm string) error

	// AskParities answers one parity bit per requested block, in request
	// order. Malformed ranges fail with ErrInvalidRange before anything is
	// revealed.
	AskParities(ctx context.Context, blocks []Block) (bitmap.Dense, error)

	// End closes the session. Further queries require a new Start.
	End(ctx context.Context, algorithm string) error
}

// A KeyOracle answers parity queries directly against the verifier's key,
// for single-process simulations and for the server side of the wire
// protocol. It is session-scoped: the leakage ledger and shuffle cache
// belong to one reconciliation session only.
type KeyOracle struct {
	key     bitmap.Dense
	leaked  int
	started bool
	perms   map[uint64][]int
}

// NewKeyOracle returns a parity oracle over the verifier's key.
func NewKeyOracle(key bitmap.Dense) *KeyOracle {
	return &KeyOracle{key: key}
}

// Start implements ParityOracle.
func (o *KeyOracle) Start(ctx context.Context, algorithm string) error {
	if !KnownAlgorithm(algorithm) {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	o.leaked = 0
	o.started = true
	o.perms = make(map[uint64][]int)
	return nil
}

// AskParities implements ParityOracle.
func (o *KeyOracle) AskParities(ctx context.Context, blocks []Block) (bitmap.Dense, error) {
	if !o.started {
		return bitmap.Empty(), ErrSessionClosed
	}
	// Validate every range before revealing anything, so a bad batch
	// leaves the ledger untouched.
	for _, b := range blocks {
		if b.Start < 0 || b.End <= b.Start || b.End > o.key.Size() {
			return bitmap.Empty(), fmt.Errorf("%w: [%d, %d) over %d bits",
				ErrInvalidRange, b.Start, b.End, o.key.Size())
		}
	}
	parities := bitmap.Empty()
	for _, b := range blocks {
		parities.AppendBit(ShuffledParity(o.key, o.permFor(b.ShuffleID), b.Start, b.End))
		o.leaked++
	}
	return parities, nil
}

// End implements ParityOracle.
func (o *KeyOracle) End(ctx context.Context, algorithm string) error {
	o.started = false
	o.perms = nil
	return nil
}

// Leaked returns the number of parity bits revealed so far in this session.
// The ledger only ever grows.
func (o *KeyOracle) Leaked() int {
	return o.leaked
}

func (o *KeyOracle) permFor(id uint64) []int {
	if id == IdentityShuffle {
		return nil
	}
	if p, ok := o.perms[id]; ok {
		return p
	}
	p := PermutationFor(id, o.key.Size())
	o.perms[id] = p
	return p
}
