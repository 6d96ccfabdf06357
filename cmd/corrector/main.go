// corrector runs the corrector role of post-processing: it sifts the same
// CSV measurement log as the verifier, excises the shared estimation sample,
// reconciles its residual key against a remote verifier, and amplifies the
// result down to the secure length.
//
// The final key never leaves locked memory except through --out; by default
// only its SHA-256 fingerprint is printed, which both operators can compare
// out of band.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/awnumar/memguard"
	flag "github.com/spf13/pflag"
	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/bitmap"
	"github.com/qkdlab/cascade/qkd/sift"
	"github.com/qkdlab/cascade/qkd/wire"
)

var (
	server        = flag.String("server", "localhost:9000", "The verifier's parity server address.")
	data          = flag.String("data", "", "The CSV measurement log to sift.")
	algorithm     = flag.String("algorithm", "yanetal", "The reconciliation preset: original, yanetal, option7 or option8.")
	sampleRatio   = flag.Float64("sample-ratio", qkd.DefaultSampleRatio, "The proportion of sifted bits to sacrifice to QBER estimation.")
	sampleSeed    = flag.Uint64("sample-seed", 42, "The shared seed for drawing the estimation sample.")
	qberThreshold = flag.Float64("qber-threshold", qkd.DefaultQBERThreshold, "Abort when the QBER upper bound exceeds this.")
	paNonce       = flag.String("pa-nonce", "", "The shared public nonce the Toeplitz seed is derived from.")
	margin        = flag.Int("margin", qkd.DefaultSafetyMargin, "The safety margin subtracted from the secure key length.")
	timeout       = flag.Duration("timeout", wire.DefaultTimeout, "How long to wait on each channel round trip.")
	out           = flag.String("out", "", "Write the final key to this file instead of holding it only in locked memory.")
)

func main() {
	flag.Parse()
	if *data == "" {
		log.Fatal("must provide --data")
	}
	if *paNonce == "" {
		log.Fatal("must provide --pa-nonce, shared with the verifier")
	}
	memguard.CatchInterrupt()
	defer memguard.Purge()

	verifier, corrector, err := loadSifted(*data)
	if err != nil {
		log.Fatalf("Loading %s: %v", *data, err)
	}
	est, _, residual, err := qkd.EstimateQBER(verifier, corrector, qkd.EstimateOpts{
		SampleRatio: *sampleRatio,
		Rand:        rand.New(rand.NewSource(*sampleSeed)),
	})
	if err != nil {
		log.Fatalf("Estimating QBER: %v", err)
	}
	log.Printf("Sifted %d bits, QBER %.4f in [%.4f, %.4f]",
		corrector.Size(), est.QBER, est.Low, est.High)
	if est.High > *qberThreshold {
		log.Fatalf("Aborting: %v: upper bound %.4f exceeds %.4f",
			qkd.ErrQBERTooHigh, est.High, *qberThreshold)
	}

	client, err := wire.Dial(*server, *timeout)
	if err != nil {
		log.Fatalf("Dialing %s: %v", *server, err)
	}
	defer client.Close()

	rec := &qkd.Reconciler{
		Oracle:    client,
		Algorithm: *algorithm,
		Rand:      rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
	}
	res, err := rec.Reconcile(context.Background(), residual, est.QBER)
	if err != nil {
		log.Fatalf("Reconciling: %v", err)
	}
	log.Printf("Reconciled in %d passes: corrected %d bits, leaked %d bits, efficiency %.2f, %v",
		len(res.Passes), res.Corrected, res.Leaked, res.Efficiency, res.Elapsed)

	n := res.Key.Size()
	m := qkd.FinalLength(n, res.Leaked, est.High, *margin)
	if m == 0 {
		log.Fatalf("Aborting: %v: %d bits leaked from %d", qkd.ErrInsufficientKey, res.Leaked, n)
	}
	seed, err := qkd.SeedFromNonce([]byte(*paNonce), n, m)
	if err != nil {
		log.Fatalf("Deriving Toeplitz seed: %v", err)
	}
	final, err := qkd.ToeplitzHash(res.Key, m, seed)
	if err != nil {
		log.Fatalf("Amplifying: %v", err)
	}

	sealed := memguard.NewBufferFromBytes(final.Data())
	defer sealed.Destroy()
	fp := sha256.Sum256(sealed.Bytes())
	log.Printf("Final key: %d bits, fingerprint %x", m, fp[:8])
	if *out != "" {
		if err := os.WriteFile(*out, sealed.Bytes(), 0o600); err != nil {
			log.Fatalf("Writing %s: %v", *out, err)
		}
		log.Printf("Wrote final key to %s", *out)
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
		if errors.Is(err, io.EOF) {
			return verifier, corrector, nil
		}
		if err != nil {
			return bitmap.Empty(), bitmap.Empty(), err
		}
	}
}
