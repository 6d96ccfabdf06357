// verifier runs the verifier role of post-processing: it sifts a CSV
// measurement log, excises the shared estimation sample, and answers parity
// queries from remote correctors over TCP.
//
// Both roles must read the same measurement log and pass the same
// --sample-seed, or they will excise different positions and reconciliation
// can never converge.
package main

import (
	"io"
	"log"
	"os"

	flag "github.com/spf13/pflag"
	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/bitmap"
	"github.com/qkdlab/cascade/qkd/sift"
	"github.com/qkdlab/cascade/qkd/wire"
)

var (
	listen      = flag.String("listen", ":9000", "The address to serve parity queries on.")
	data        = flag.String("data", "", "The CSV measurement log to sift.")
	sampleRatio = flag.Float64("sample-ratio", qkd.DefaultSampleRatio, "The proportion of sifted bits to sacrifice to QBER estimation.")
	sampleSeed  = flag.Uint64("sample-seed", 42, "The shared seed for drawing the estimation sample.")
	maxConns    = flag.Int("max-conns", wire.DefaultMaxConns, "The maximum number of concurrent reconciliation sessions.")
	timeout     = flag.Duration("timeout", wire.DefaultTimeout, "How long to wait for the next request on an idle connection.")
)

func main() {
	flag.Parse()
	if *data == "" {
		log.Fatal("must provide --data")
	}
	verifier, corrector, err := loadSifted(*data)
	if err != nil {
		log.Fatalf("Loading %s: %v", *data, err)
	}
	est, residual, _, err := qkd.EstimateQBER(verifier, corrector, qkd.EstimateOpts{
		SampleRatio: *sampleRatio,
		Rand:        rand.New(rand.NewSource(*sampleSeed)),
	})
	if err != nil {
		log.Fatalf("Estimating QBER: %v", err)
	}
	log.Printf("Sifted %d bits, QBER %.4f in [%.4f, %.4f], serving %d residual bits",
		verifier.Size(), est.QBER, est.Low, est.High, residual.Size())

	srv, err := wire.NewServer(wire.ServerOpts{
		Key:         residual,
		MaxConns:    *maxConns,
		IdleTimeout: *timeout,
		Logf:        log.Printf,
	})
	if err != nil {
		log.Fatalf("Building server: %v", err)
	}
	log.Printf("Listening on %s", *listen)
	if err := srv.ListenAndServe(*listen); err != nil {
		log.Fatalf("Serving: %v", err)
	}
}

func loadSifted(path string) (bitmap.Dense, bitmap.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return bitmap.Empty(), bitmap.Empty(), err
	}
	defer f.Close()
	r, err := sift.NewReader(f)
	if err != nil {
		return bitmap.Empty(), bitmap.Empty(), err
	}
	var verifier, corrector bitmap.Dense
	for {
		records, err := r.ReadChunk(1 << 16)
		v, c := sift.Sift(records)
		verifier.Append(v)
		corrector.Append(c)
		if err == io.EOF {
			return verifier, corrector, nil
		}
		if err != nil {
			return bitmap.Empty(), bitmap.Empty(), err
		}
	}
}
