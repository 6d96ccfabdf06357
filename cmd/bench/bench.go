// bench.go runs a closed-loop round of post-processing for each entry in the
// cartesian product of a collection of tuning parameters, e.g. planted error
// rate and reconciliation preset, and outputs a CSV of relevant statistics
// for each combination, e.g. bits leaked and final key length.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"text/template"

	flag "github.com/spf13/pflag"
	rand "golang.org/x/exp/rand"

	"github.com/qkdlab/cascade/qkd"
	"github.com/qkdlab/cascade/qkd/bitmap"
)

var (
	bits      = flag.IntSlice("bits", []int{int(1e4)}, "The number of sifted bits to post-process per round.")
	qber      = flag.Float64Slice("qber", []float64{0.03}, "The error rates to plant in the corrector's key.")
	ratio     = flag.Float64Slice("ratio", []float64{qkd.DefaultSampleRatio}, "The proportions of bits to sacrifice to estimation.")
	algorithm = flag.StringSlice("algorithm", []string{"original", "yanetal", "option7", "option8"},
		"The reconciliation presets to run.")
	margin = flag.IntSlice("margin", []int{qkd.DefaultSafetyMargin}, "The safety margins for the secure-length formula.")
	seed   = flag.Uint64("seed", 99, "The seed for key generation, error planting, sampling and shuffles.")
)

var (
	inputs  = []string{"bits", "qber", "ratio", "algorithm", "margin"}
	columns = []string{"Bits", "QBER", "Ratio", "Algorithm", "Margin", "EmpiricalQBER",
		"SampleBits", "Passes", "CorrectedBits", "LeakedBits", "Residual", "KeyBits",
		"Efficiency", "Succeeded"}
)

// An Experiment packages together the result of benchmarking a single
// parameterization for easy formatting.
type Experiment struct {
	// Fields corresponding to experiment parameters
	Bits      int
	QBER      float64
	Ratio     float64
	Algorithm string
	Margin    int

	// Fields corresponding to experiment results
	EmpiricalQBER float64
	SampleBits    int
	Passes        int
	CorrectedBits int
	LeakedBits    int
	Residual      int
	KeyBits       int
	Efficiency    float64
	Succeeded     bool
}

func main() {
	flag.Parse()
	fmt.Println(header())
	tmpl := template.Must(template.New("line").Parse(lineTmpl()))
	var args [][]interface{}
	for _, inp := range inputs {
		args = append(args, lookupInput(inp))
	}
	applyCartesian(func(args []interface{}) {
		exp := &Experiment{
			Bits:      args[inpIndex("bits")].(int),
			QBER:      args[inpIndex("qber")].(float64),
			Ratio:     args[inpIndex("ratio")].(float64),
			Algorithm: args[inpIndex("algorithm")].(string),
			Margin:    args[inpIndex("margin")].(int),
		}
		if err := bench(exp); err != nil {
			log.Printf("Benching %v: %v", exp, err)
		}
		if err := tmpl.Execute(os.Stdout, exp); err != nil {
			log.Fatalf("BUG: could not fill in line template: %v", err)
		}
	}, args)
}

func inpIndex(v string) int {
	for i, inp := range inputs {
		if inp == v {
			return i
		}
	}
	return -1
}

func bench(exp *Experiment) error {
	rnd := rand.New(rand.NewSource(*seed))
	raw := make([]byte, bitmap.BytesFor(exp.Bits))
	rnd.Read(raw)
	verifier := bitmap.NewDense(raw, exp.Bits)
	corrector := verifier.Clone()
	for _, i := range rnd.Perm(exp.Bits)[:int(float64(exp.Bits)*exp.QBER)] {
		corrector.Flip(i)
	}

	est, keyA, keyB, err := qkd.EstimateQBER(verifier, corrector, qkd.EstimateOpts{
		SampleRatio: exp.Ratio,
		Rand:        rnd,
	})
	if err != nil {
		return err
	}
	exp.EmpiricalQBER = est.QBER
	exp.SampleBits = est.SampleSize

	oracle := qkd.NewKeyOracle(keyA)
	rec := &qkd.Reconciler{
		Oracle:    oracle,
		Algorithm: exp.Algorithm,
		Rand:      rnd,
		Reference: &keyA,
	}
	res, err := rec.Reconcile(context.Background(), keyB, est.QBER)
	if err != nil {
		return err
	}
	exp.Passes = len(res.Passes)
	exp.CorrectedBits = res.Corrected
	exp.LeakedBits = res.Leaked
	exp.Residual = res.Residual
	exp.Efficiency = res.Efficiency
	exp.KeyBits = qkd.FinalLength(keyA.Size(), res.Leaked, est.High, exp.Margin)
	exp.Succeeded = res.Residual == 0 && exp.KeyBits > 0
	return nil
}

func header() string {
	return strings.Join(columns, ", ")
}

func lineTmpl() string {
	var els []string
	for _, c := range columns {
		els = append(els, "{{."+c+"}}")
	}
	return strings.Join(els, ", ") + "\n"
}

func lookupInput(name string) []interface{} {
	var r []interface{}
	if v, err := flag.CommandLine.GetIntSlice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else if v, err := flag.CommandLine.GetFloat64Slice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else if v, err := flag.CommandLine.GetStringSlice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else {
		log.Fatalf("Unknown type for input %s", name)
	}
	return r
}

func applyCartesian(f func([]interface{}), args [][]interface{}) {
	for i := range args {
		if len(args[i]) == 1 {
			continue
		}
		l := make([][]interface{}, len(args))
		r := make([][]interface{}, len(args))
		copy(l, args)
		copy(r, args)
		l[i] = args[i][:1]
		r[i] = args[i][1:]
		applyCartesian(f, l)
		applyCartesian(f, r)
		return
	}
	x := make([]interface{}, 0, len(args))
	for _, a := range args {
		x = append(x, a[0])
	}
	f(x)
}
