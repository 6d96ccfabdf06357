package qkd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

// An Algorithm is a named reconciliation preset: a pass budget and a
// block-size schedule.
type Algorithm struct {
	Name string

	// Passes is the maximum number of reconciliation passes.
	Passes int

	// BlockCoef scales the first pass's block size: the base block is
	// max(4, round(BlockCoef/qber)).
	BlockCoef float64

	// Growth multiplies the block size between passes.
	Growth int
}

var algorithms = map[string]Algorithm{
	"original": {Name: "original", Passes: 4, BlockCoef: 0.73, Growth: 2},
	"yanetal":  {Name: "yanetal", Passes: 10, BlockCoef: 0.80, Growth: 2},
	"option7":  {Name: "option7", Passes: 14, BlockCoef: 1.00, Growth: 2},
	"option8":  {Name: "option8", Passes: 14, BlockCoef: 1.00, Growth: 4},
}

// AlgorithmByName resolves a reconciliation preset, or fails with
// ErrUnknownAlgorithm.
func AlgorithmByName(name string) (Algorithm, error) {
	a, ok := algorithms[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return a, nil
}

// KnownAlgorithm reports whether name is a recognized reconciliation preset.
func KnownAlgorithm(name string) bool {
	_, ok := algorithms[name]
	return ok
}

// qberFloor keeps the base block size finite when the estimated error rate
// is zero or vanishingly small.
const qberFloor = 1e-5

// blockSize returns the block size for the given pass over an n-bit key.
func (a Algorithm) blockSize(pass, n int, qber float64) int {
	base := int(math.Round(a.BlockCoef / math.Max(qber, qberFloor)))
	if base < 4 {
		base = 4
	}
	size := base
	for k := 0; k < pass; k++ {
		size *= a.Growth
		if size >= n {
			break
		}
	}
	if size > n {
		size = n
	}
	return size
}

// Outcome names the terminal state of a reconciliation session.
type Outcome int

const (
	// Converged means the tracked residual error count reached zero
	// before the pass budget ran out.
	Converged Outcome = iota

	// Exhausted means the full pass budget ran. Not itself an error, but
	// callers must not hash a key whose residual error count is unknown
	// or nonzero.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// PassStats records what a single reconciliation pass did.
type PassStats struct {
	Pass      int
	BlockSize int

	// Leaked counts parity queries in this pass, bisection included.
	Leaked int

	// Corrected counts bit flips applied in this pass.
	Corrected int

	// Residual is the error count against the reference key after this
	// pass, or -1 when no reference is available.
	Residual int
}

// A Result summarizes a reconciliation session.
type Result struct {
	// Key is the corrected corrector-side key.
	Key bitmap.Dense

	Leaked    int
	Corrected int

	// Residual is the final error count against the reference key, or -1
	// when no reference is available.
	Residual int

	Outcome Outcome
	Passes  []PassStats

	// Efficiency is leaked bits over the Shannon bound n·h(qber). Zero
	// when the bound is degenerate.
	Efficiency float64

	Elapsed time.Duration
}

// A Reconciler drives the corrector side of Cascade: it owns the pass state
// machine and consults a ParityOracle for the verifier's block parities.
type Reconciler struct {
	// Oracle answers the verifier's parities. Must be non-nil.
	Oracle ParityOracle

	// Algorithm names the preset to run.
	Algorithm string

	// Rand draws shuffle identifiers for passes after the first. Shuffle
	// identifiers are public, so this needs to be seedable, not secret.
	// Must be non-nil.
	Rand *rand.Rand

	// Reference, when set, is the verifier's key, available only in
	// closed-loop runs (simulation, tests). It enables residual-error
	// tracking and early termination. When nil the engine runs the full
	// pass budget and reports Exhausted.
	Reference *bitmap.Dense
}

// Reconcile corrects noisy toward the verifier's key, one pass at a time,
// and reports the corrected key together with the session's leakage
// accounting. The input key is not modified. A channel failure aborts the
// whole session: after a lost query the leakage ledger can no longer be
// trusted, so there is no partial recovery.
func (r *Reconciler) Reconcile(ctx context.Context, noisy bitmap.Dense, qber float64) (Result, error) {
	algo, err := AlgorithmByName(r.Algorithm)
	if err != nil {
		return Result{}, err
	}
	if r.Oracle == nil {
		return Result{}, errors.New("cascade: must provide Oracle")
	}
	if r.Rand == nil {
		return Result{}, errors.New("cascade: must provide Rand")
	}

	start := time.Now()
	key := noisy.Clone()
	n := key.Size()
	res := Result{Residual: -1, Outcome: Exhausted}

	if err := r.Oracle.Start(ctx, algo.Name); err != nil {
		return Result{}, fmt.Errorf("starting reconciliation: %w", err)
	}
	for pass := 0; pass < algo.Passes; pass++ {
		ps, err := r.runPass(ctx, key, algo, pass, qber)
		if err != nil {
			r.Oracle.End(ctx, algo.Name)
			return Result{}, fmt.Errorf("pass %d: %w", pass, err)
		}
		ps.Residual = -1
		if r.Reference != nil {
			ps.Residual = bitmap.Diff(*r.Reference, key)
			res.Residual = ps.Residual
		}
		res.Passes = append(res.Passes, ps)
		res.Leaked += ps.Leaked
		res.Corrected += ps.Corrected
		if ps.Residual == 0 && r.Reference != nil {
			res.Outcome = Converged
			break
		}
	}
	if err := r.Oracle.End(ctx, algo.Name); err != nil {
		return Result{}, fmt.Errorf("ending reconciliation: %w", err)
	}

	res.Key = key
	res.Elapsed = time.Since(start)
	if h := BinaryEntropy(qber); h > 0 {
		res.Efficiency = float64(res.Leaked) / (float64(n) * h)
	}
	return res, nil
}

// runPass partitions the shuffled key into blocks, compares parities with
// the verifier in one batched query, and bisects every mismatching block
// down to a single bit, which it flips in place.
func (r *Reconciler) runPass(ctx context.Context, key bitmap.Dense, algo Algorithm, pass int, qber float64) (PassStats, error) {
	n := key.Size()
	size := algo.blockSize(pass, n, qber)
	ps := PassStats{Pass: pass, BlockSize: size}

	shuffleID := IdentityShuffle
	if pass > 0 {
		for shuffleID == IdentityShuffle {
			shuffleID = r.Rand.Uint64()
		}
	}
	perm := PermutationFor(shuffleID, n)

	// Trailing blocks shorter than 2 bits cannot localize an error.
	var blocks []Block
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		if end-i < 2 {
			continue
		}
		blocks = append(blocks, Block{ShuffleID: shuffleID, Start: i, End: end})
	}
	if len(blocks) == 0 {
		return ps, nil
	}

	theirs, err := r.askParities(ctx, blocks)
	if err != nil {
		return PassStats{}, err
	}
	ps.Leaked += len(blocks)

	// An even number of errors leaves a block's parity unchanged; those
	// escape this pass and wait for a later shuffle to split them up.
	type span struct{ lo, hi int }
	var active []span
	for i, b := range blocks {
		if ShuffledParity(key, perm, b.Start, b.End) != theirs.Get(i) {
			active = append(active, span{b.Start, b.End})
		}
	}

	// Bisect all mismatching blocks in lockstep, one channel round per
	// halving level.
	for len(active) > 0 {
		queries := make([]Block, len(active))
		for i, s := range active {
			queries[i] = Block{ShuffleID: shuffleID, Start: s.lo, End: (s.lo + s.hi) / 2}
		}
		theirs, err := r.askParities(ctx, queries)
		if err != nil {
			return PassStats{}, err
		}
		ps.Leaked += len(queries)

		next := active[:0]
		for i, s := range active {
			mid := (s.lo + s.hi) / 2
			if ShuffledParity(key, perm, s.lo, mid) != theirs.Get(i) {
				s.hi = mid
			} else {
				s.lo = mid
			}
			if s.hi-s.lo > 1 {
				next = append(next, s)
				continue
			}
			idx := s.lo
			if perm != nil {
				idx = perm[idx]
			}
			key.Flip(idx)
			ps.Corrected++
		}
		active = next
	}
	return ps, nil
}

func (r *Reconciler) askParities(ctx context.Context, blocks []Block) (bitmap.Dense, error) {
	parities, err := r.Oracle.AskParities(ctx, blocks)
	if err != nil {
		return bitmap.Empty(), err
	}
	if parities.Size() != len(blocks) {
		return bitmap.Empty(), fmt.Errorf("%w: %d parities for %d blocks",
			ErrChannelUnavailable, parities.Size(), len(blocks))
	}
	return parities, nil
}
