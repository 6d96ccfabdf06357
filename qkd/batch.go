package qkd

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

var tracer = otel.Tracer("github.com/qkdlab/cascade/qkd")

// DefaultBatchBits is the sifted-bit threshold at which the streaming
// pipeline processes its buffer.
const DefaultBatchBits = 50000

// DefaultQBERThreshold is the abort bound on the QBER upper confidence
// limit.
const DefaultQBERThreshold = 0.11

// BatchOutcome names how a batch ended. Only OK produces a key; the other
// outcomes are normal protocol decisions, not faults, and streaming
// continues with the next batch.
type BatchOutcome int

const (
	BatchOK BatchOutcome = iota

	// BatchQBERTooHigh: the QBER upper bound exceeded the abort
	// threshold; reconciliation never started and nothing leaked.
	BatchQBERTooHigh

	// BatchResidualErrors: the pass budget ran out with errors left, so
	// the key was not hashed.
	BatchResidualErrors

	// BatchInsufficientKey: the secure-length formula hit zero.
	BatchInsufficientKey

	// BatchKeyMismatch: the two roles' hashed keys differ.
	BatchKeyMismatch
)

func (o BatchOutcome) String() string {
	switch o {
	case BatchOK:
		return "ok"
	case BatchQBERTooHigh:
		return "qber too high"
	case BatchResidualErrors:
		return "residual errors"
	case BatchInsufficientKey:
		return "insufficient key material"
	case BatchKeyMismatch:
		return "key mismatch"
	default:
		return "unknown"
	}
}

// Err maps a policy outcome to its sentinel error, or nil for BatchOK.
func (o BatchOutcome) Err() error {
	switch o {
	case BatchQBERTooHigh:
		return ErrQBERTooHigh
	case BatchResidualErrors:
		return ErrResidualErrors
	case BatchInsufficientKey:
		return ErrInsufficientKey
	case BatchKeyMismatch:
		return ErrResidualErrors
	default:
		return nil
	}
}

// A BatchResult reports one processed batch.
type BatchResult struct {
	Batch      int
	SiftedBits int
	Estimate   Estimate

	// Cascade is zero-valued when the batch aborted before
	// reconciliation.
	Cascade Result

	// FinalKey is the amplified key, empty unless Outcome is BatchOK.
	FinalKey bitmap.Dense

	Outcome BatchOutcome
}

// PipelineOpts configures a streaming post-processing pipeline.
type PipelineOpts struct {
	// Algorithm names the reconciliation preset. Defaults to "original".
	Algorithm string

	// SampleRatio and Confidence parameterize estimation; see
	// EstimateOpts.
	SampleRatio float64
	Confidence  float64

	// QBERThreshold aborts a batch whose estimated upper-bound QBER
	// exceeds it. Defaults to DefaultQBERThreshold.
	QBERThreshold float64

	// BatchBits is the buffered sifted-bit count that triggers
	// processing. Defaults to DefaultBatchBits.
	BatchBits int

	// SafetyMargin for the secure-length formula. Defaults to
	// DefaultSafetyMargin.
	SafetyMargin int

	// Rand drives sampling, shuffle identifiers, and the Toeplitz seed.
	// Must be non-nil.
	Rand *rand.Rand
}

// A Pipeline accumulates sifted bit pairs across ingestion chunks and runs
// estimation, reconciliation, and amplification on each full batch. Each
// batch is an independent session with its own leakage ledger; peak memory
// stays bounded by the batch size at the cost of estimating each batch on
// its own sample.
//
// A Pipeline runs both roles in one process and therefore holds both keys;
// it is the single-process simulation shape of the system.
type Pipeline struct {
	opts    PipelineOpts
	bufA    bitmap.Dense
	bufB    bitmap.Dense
	batches int
}

// NewPipeline validates opts, fills in defaults, and returns a fresh
// pipeline.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = "original"
	}
	if !KnownAlgorithm(opts.Algorithm) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, opts.Algorithm)
	}
	if opts.Rand == nil {
		return nil, errors.New("pipeline: must provide Rand")
	}
	if opts.QBERThreshold == 0 {
		opts.QBERThreshold = DefaultQBERThreshold
	}
	if opts.BatchBits == 0 {
		opts.BatchBits = DefaultBatchBits
	}
	if opts.SafetyMargin == 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	return &Pipeline{opts: opts}, nil
}

// Push appends one ingestion chunk's sifted bit pairs to the buffer and, if
// the buffer has reached the batch threshold, processes and clears it. The
// returned slice holds the batches completed by this push, if any.
func (p *Pipeline) Push(ctx context.Context, verifier, corrector bitmap.Dense) ([]BatchResult, error) {
	if verifier.Size() != corrector.Size() {
		return nil, fmt.Errorf("pushing sifted chunks of different sizes: %d != %d", verifier.Size(), corrector.Size())
	}
	p.bufA.Append(verifier)
	p.bufB.Append(corrector)
	if p.bufA.Size() < p.opts.BatchBits {
		return nil, nil
	}
	res, err := p.processBatch(ctx)
	if err != nil {
		return nil, err
	}
	return []BatchResult{res}, nil
}

// Buffered returns the number of sifted bits waiting for the next batch.
func (p *Pipeline) Buffered() int {
	return p.bufA.Size()
}

// Flush processes whatever is buffered, regardless of the batch threshold.
// It returns nil when the buffer is empty.
func (p *Pipeline) Flush(ctx context.Context) (*BatchResult, error) {
	if p.bufA.Size() == 0 {
		return nil, nil
	}
	res, err := p.processBatch(ctx)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (p *Pipeline) processBatch(ctx context.Context) (_ BatchResult, err error) {
	p.batches++
	verifier, corrector := p.bufA, p.bufB
	p.bufA, p.bufB = bitmap.Empty(), bitmap.Empty()

	ctx, span := tracer.Start(ctx, "qkd.ProcessBatch", trace.WithAttributes(
		attribute.Int("batch", p.batches),
		attribute.Int("sifted_bits", verifier.Size()),
		attribute.String("algorithm", p.opts.Algorithm),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res := BatchResult{Batch: p.batches, SiftedBits: verifier.Size()}
	est, keyA, keyB, err := EstimateQBER(verifier, corrector, EstimateOpts{
		SampleRatio: p.opts.SampleRatio,
		Confidence:  p.opts.Confidence,
		Rand:        p.opts.Rand,
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch %d: %w", p.batches, err)
	}
	res.Estimate = est
	span.SetAttributes(attribute.Float64("qber", est.QBER))

	if est.High > p.opts.QBERThreshold {
		res.Outcome = BatchQBERTooHigh
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
		return res, nil
	}

	rec := &Reconciler{
		Oracle:    NewKeyOracle(keyA),
		Algorithm: p.opts.Algorithm,
		Rand:      p.opts.Rand,
		Reference: &keyA,
	}
	cres, err := rec.Reconcile(ctx, keyB, est.QBER)
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch %d: %w", p.batches, err)
	}
	res.Cascade = cres

	if cres.Residual != 0 {
		res.Outcome = BatchResidualErrors
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
		return res, nil
	}

	// The sampled bits were excised rather than hashed, so only the
	// reconciliation parities count against the residual key.
	n := keyA.Size()
	m := FinalLength(n, cres.Leaked, est.High, p.opts.SafetyMargin)
	if m == 0 {
		res.Outcome = BatchInsufficientKey
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
		return res, nil
	}

	seed := NewSeed(n, m, p.opts.Rand)
	secA, err := ToeplitzHash(keyA, m, seed)
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch %d: hashing verifier key: %w", p.batches, err)
	}
	secB, err := ToeplitzHash(cres.Key, m, seed)
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch %d: hashing corrector key: %w", p.batches, err)
	}
	if !bitmap.Equal(secA, secB) {
		res.Outcome = BatchKeyMismatch
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
		return res, nil
	}

	res.FinalKey = secB
	res.Outcome = BatchOK
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()),
		attribute.Int("final_bits", m))
	return res, nil
}
