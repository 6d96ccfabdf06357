package qkd

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	rand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

var (
	// DefaultSampleRatio is the proportion of sifted bits sacrificed to
	// error-rate estimation.
	DefaultSampleRatio = 0.1

	// DefaultConfidence is the two-sided confidence level for the QBER
	// interval. The default corresponds to a normal multiplier of z = 3.
	DefaultConfidence = 0.9973002039367398
)

// An Estimate is the outcome of QBER parameter estimation over one sample.
type Estimate struct {
	// QBER is the point estimate: sample mismatches over sample size.
	QBER float64

	// Low and High bound QBER at the configured confidence, clamped to
	// [0, 1].
	Low, High float64

	// SampleSize is the number of bit pairs revealed and excised.
	SampleSize int
}

// EstimateOpts configures parameter estimation.
type EstimateOpts struct {
	// SampleRatio in (0, 1]. Defaults to DefaultSampleRatio.
	SampleRatio float64

	// Confidence in (0, 1). Defaults to DefaultConfidence.
	Confidence float64

	// Rand draws the sample indices. Both roles must use an identically
	// seeded source so they excise the same positions. Must be non-nil.
	Rand *rand.Rand
}

// EstimateQBER samples ⌊N·ratio⌋ index pairs without replacement from two
// equal-length keys, estimates the quantum bit error rate with its
// confidence interval, and returns copies of both keys with the sampled
// positions excised. The inputs are never modified, and the sampled
// positions never reappear in the residual keys.
func EstimateQBER(verifier, corrector bitmap.Dense, opts EstimateOpts) (Estimate, bitmap.Dense, bitmap.Dense, error) {
	if verifier.Size() != corrector.Size() {
		return Estimate{}, bitmap.Empty(), bitmap.Empty(),
			fmt.Errorf("estimating QBER over keys of different sizes: %d != %d", verifier.Size(), corrector.Size())
	}
	if opts.Rand == nil {
		return Estimate{}, bitmap.Empty(), bitmap.Empty(), errors.New("estimate: must provide Rand")
	}
	ratio := opts.SampleRatio
	if ratio == 0 {
		ratio = DefaultSampleRatio
	}
	if ratio < 0 || ratio > 1 {
		return Estimate{}, bitmap.Empty(), bitmap.Empty(), fmt.Errorf("estimate: sample ratio %v outside (0, 1]", ratio)
	}
	confidence := opts.Confidence
	if confidence == 0 {
		confidence = DefaultConfidence
	}

	n := verifier.Size()
	k := int(float64(n) * ratio)
	if k == 0 {
		return Estimate{}, verifier.Clone(), corrector.Clone(), nil
	}

	idxs := make([]int, k)
	sampleuv.WithoutReplacement(idxs, n, opts.Rand)

	mismatches := 0
	for _, i := range idxs {
		if verifier.Get(i) != corrector.Get(i) {
			mismatches++
		}
	}
	qber := float64(mismatches) / float64(k)
	low, high := qberInterval(qber, k, confidence)

	keep := bitmap.NewDense(bytes.Repeat([]byte{0xFF}, bitmap.BytesFor(n)), n)
	for _, i := range idxs {
		keep.Set(i, false)
	}
	est := Estimate{QBER: qber, Low: low, High: high, SampleSize: k}
	return est, bitmap.Select(verifier, keep), bitmap.Select(corrector, keep), nil
}

// qberInterval computes a normal-approximation confidence interval for a
// sampled error rate, clamped to [0, 1].
func qberInterval(qber float64, sampleSize int, confidence float64) (low, high float64) {
	if sampleSize == 0 {
		return 0, 0
	}
	z := distuv.UnitNormal.Quantile(0.5 + confidence/2)
	delta := z * math.Sqrt(qber*(1-qber)/float64(sampleSize))
	return math.Max(0, qber-delta), math.Min(1, qber+delta)
}
