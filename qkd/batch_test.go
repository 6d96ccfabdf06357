package qkd

import (
	"context"
	"errors"
	"testing"

	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd/bitmap"
)

func TestPipelineEndToEnd(t *testing.T) {
	rnd := rand.New(rand.NewSource(91))
	a, b := randomKeyPair(10000, 300, rnd) // 3% planted errors

	p, err := NewPipeline(PipelineOpts{
		Algorithm:   "yanetal",
		SampleRatio: 0.1,
		BatchBits:   10000,
		Rand:        rand.New(rand.NewSource(92)),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	results, err := p.Push(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d batches, want 1", len(results))
	}
	res := results[0]
	if res.Outcome != BatchOK {
		t.Fatalf("Outcome == %v, want ok", res.Outcome)
	}
	if res.SiftedBits != 10000 {
		t.Errorf("SiftedBits == %d, want 10000", res.SiftedBits)
	}
	if res.Estimate.SampleSize != 1000 {
		t.Errorf("SampleSize == %d, want 1000", res.Estimate.SampleSize)
	}
	if res.Cascade.Key.Size() != 9000 {
		t.Errorf("reconciled key size == %d, want 9000", res.Cascade.Key.Size())
	}
	if res.Cascade.Residual != 0 {
		t.Errorf("Residual == %d, want 0", res.Cascade.Residual)
	}
	want := FinalLength(9000, res.Cascade.Leaked, res.Estimate.High, DefaultSafetyMargin)
	if res.FinalKey.Size() != want {
		t.Errorf("final key size == %d, want %d", res.FinalKey.Size(), want)
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered == %d after processing, want 0", p.Buffered())
	}
}

func TestPipelineAbortsNoisyBatch(t *testing.T) {
	rnd := rand.New(rand.NewSource(93))
	a, b := randomKeyPair(10000, 1500, rnd) // 15% planted errors

	p, err := NewPipeline(PipelineOpts{
		Algorithm: "yanetal",
		BatchBits: 10000,
		Rand:      rand.New(rand.NewSource(94)),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	results, err := p.Push(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d batches, want 1", len(results))
	}
	res := results[0]
	if res.Outcome != BatchQBERTooHigh {
		t.Fatalf("Outcome == %v, want qber too high", res.Outcome)
	}
	// Reconciliation never started, so nothing leaked and no key came out.
	if res.Cascade.Leaked != 0 {
		t.Errorf("Cascade.Leaked == %d for an aborted batch, want 0", res.Cascade.Leaked)
	}
	if res.FinalKey.Size() != 0 {
		t.Errorf("FinalKey.Size == %d for an aborted batch, want 0", res.FinalKey.Size())
	}
	if !errors.Is(res.Outcome.Err(), ErrQBERTooHigh) {
		t.Errorf("Outcome.Err() == %v, want ErrQBERTooHigh", res.Outcome.Err())
	}
}

func TestPipelineBuffersBelowThreshold(t *testing.T) {
	rnd := rand.New(rand.NewSource(95))
	p, err := NewPipeline(PipelineOpts{
		BatchBits: 5000,
		Rand:      rand.New(rand.NewSource(96)),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	ctx := context.Background()
	for push := 1; push <= 2; push++ {
		a, b := randomKeyPair(2000, 20, rnd)
		results, err := p.Push(ctx, a, b)
		if err != nil {
			t.Fatalf("Push %d: %v", push, err)
		}
		if len(results) != 0 {
			t.Fatalf("Push %d processed %d batches below the threshold", push, len(results))
		}
		if p.Buffered() != 2000*push {
			t.Errorf("Buffered == %d after push %d, want %d", p.Buffered(), push, 2000*push)
		}
	}

	a, b := randomKeyPair(2000, 20, rnd)
	results, err := p.Push(ctx, a, b)
	if err != nil {
		t.Fatalf("Push 3: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Push 3 processed %d batches, want 1", len(results))
	}
	if results[0].SiftedBits != 6000 {
		t.Errorf("batch covered %d sifted bits, want 6000", results[0].SiftedBits)
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered == %d after the batch, want 0", p.Buffered())
	}
}

func TestPipelineFlush(t *testing.T) {
	rnd := rand.New(rand.NewSource(97))
	p, err := NewPipeline(PipelineOpts{Rand: rand.New(rand.NewSource(98))})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ctx := context.Background()

	if res, err := p.Flush(ctx); err != nil || res != nil {
		t.Fatalf("Flush of empty pipeline == %v, %v, want nil, nil", res, err)
	}

	a, b := randomKeyPair(3000, 30, rnd)
	if _, err := p.Push(ctx, a, b); err != nil {
		t.Fatalf("Push: %v", err)
	}
	res, err := p.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if res == nil || res.SiftedBits != 3000 {
		t.Fatalf("Flush == %+v, want a 3000-bit batch", res)
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered == %d after Flush, want 0", p.Buffered())
	}
}

func TestPipelineBatchesAreIndependentSessions(t *testing.T) {
	rnd := rand.New(rand.NewSource(99))
	p, err := NewPipeline(PipelineOpts{
		Algorithm: "yanetal",
		BatchBits: 4000,
		Rand:      rand.New(rand.NewSource(100)),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ctx := context.Background()
	var results []BatchResult
	for i := 0; i < 3; i++ {
		a, b := randomKeyPair(4000, 80, rnd)
		batch, err := p.Push(ctx, a, b)
		if err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		results = append(results, batch...)
	}
	if len(results) != 3 {
		t.Fatalf("got %d batches, want 3", len(results))
	}
	for i, res := range results {
		if res.Batch != i+1 {
			t.Errorf("batch %d numbered %d", i, res.Batch)
		}
		if res.Outcome != BatchOK {
			t.Errorf("batch %d outcome == %v, want ok", i, res.Outcome)
		}
		// Each batch's leakage belongs to its own session, far below one
		// batch's worth of bits.
		if res.Cascade.Leaked <= 0 || res.Cascade.Leaked >= 4000 {
			t.Errorf("batch %d leaked %d bits", i, res.Cascade.Leaked)
		}
	}
}

func TestNewPipelineValidation(t *testing.T) {
	if _, err := NewPipeline(PipelineOpts{Algorithm: "winnow", Rand: rand.New(rand.NewSource(1))}); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("NewPipeline(winnow) == %v, want ErrUnknownAlgorithm", err)
	}
	if _, err := NewPipeline(PipelineOpts{}); err == nil {
		t.Error("NewPipeline accepted a nil Rand")
	}
}

func TestPipelineRejectsMismatchedChunks(t *testing.T) {
	p, err := NewPipeline(PipelineOpts{Rand: rand.New(rand.NewSource(2))})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	a := bitmap.NewDense(nil, 100)
	b := bitmap.NewDense(nil, 99)
	if _, err := p.Push(context.Background(), a, b); err == nil {
		t.Error("Push accepted chunks of different sizes")
	}
}
