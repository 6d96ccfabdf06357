// stream runs the whole post-processing pipeline in one process over a CSV
// measurement log too large to fit in memory: it sifts the log chunk by
// chunk, batches the sifted bits, and runs estimation, reconciliation and
// amplification on each full batch.
package main

import (
	"context"
	"io"
	"log"
	"os"

	flag "github.com/spf13/pflag"
	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/sift"
)

var (
	data          = flag.String("data", "", "The CSV measurement log to process.")
	algorithm     = flag.String("algorithm", "original", "The reconciliation preset: original, yanetal, option7 or option8.")
	batchBits     = flag.Int("batch-bits", qkd.DefaultBatchBits, "The sifted-bit count that triggers processing a batch.")
	chunkRows     = flag.Int("chunk-rows", 1<<16, "The number of CSV rows to read per ingestion chunk.")
	sampleRatio   = flag.Float64("sample-ratio", qkd.DefaultSampleRatio, "The proportion of each batch to sacrifice to QBER estimation.")
	qberThreshold = flag.Float64("qber-threshold", qkd.DefaultQBERThreshold, "Abort a batch when its QBER upper bound exceeds this.")
	margin        = flag.Int("margin", qkd.DefaultSafetyMargin, "The safety margin subtracted from each batch's secure key length.")
	seed          = flag.Uint64("seed", 42, "The seed driving sampling, shuffles and Toeplitz seeds.")
)

func main() {
	flag.Parse()
	if *data == "" {
		log.Fatal("must provide --data")
	}
	f, err := os.Open(*data)
	if err != nil {
		log.Fatalf("Opening %s: %v", *data, err)
	}
	defer f.Close()
	r, err := sift.NewReader(f)
	if err != nil {
		log.Fatalf("Reading %s: %v", *data, err)
	}
	pipeline, err := qkd.NewPipeline(qkd.PipelineOpts{
		Algorithm:     *algorithm,
		SampleRatio:   *sampleRatio,
		QBERThreshold: *qberThreshold,
		BatchBits:     *batchBits,
		SafetyMargin:  *margin,
		Rand:          rand.New(rand.NewSource(*seed)),
	})
	if err != nil {
		log.Fatalf("Building pipeline: %v", err)
	}

	ctx := context.Background()
	var results []qkd.BatchResult
	var rows, sifted int
	for {
		records, rerr := r.ReadChunk(*chunkRows)
		if rerr != nil && rerr != io.EOF {
			log.Fatalf("Reading %s: %v", *data, rerr)
		}
		rows += len(records)
		v, c := sift.Sift(records)
		sifted += v.Size()
		batches, err := pipeline.Push(ctx, v, c)
		if err != nil {
			log.Fatalf("Processing: %v", err)
		}
		results = append(results, batches...)
		if rerr == io.EOF {
			break
		}
	}
	if last, err := pipeline.Flush(ctx); err != nil {
		log.Fatalf("Flushing: %v", err)
	} else if last != nil {
		results = append(results, *last)
	}

	var ok, finalBits, leaked int
	for _, res := range results {
		switch res.Outcome {
		case qkd.BatchOK:
			log.Printf("Batch %d: %d sifted bits, QBER %.4f, leaked %d, final key %d bits",
				res.Batch, res.SiftedBits, res.Estimate.QBER, res.Cascade.Leaked, res.FinalKey.Size())
			ok++
			finalBits += res.FinalKey.Size()
			leaked += res.Cascade.Leaked
		default:
			log.Printf("Batch %d: %d sifted bits, QBER %.4f, discarded: %s",
				res.Batch, res.SiftedBits, res.Estimate.QBER, res.Outcome)
		}
	}
	log.Printf("Done: %d rows read, %d bits sifted, %d/%d batches produced keys, %d final bits, %d bits leaked",
		rows, sifted, ok, len(results), finalBits, leaked)
}
