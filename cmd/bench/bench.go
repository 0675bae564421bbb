// bench.go runs a full onboarding session for each entry in the cartesian
// product of a collection of tuning parameters, e.g. target key length and
// QBER abort threshold, under each requested attack model, and outputs a CSV
// of relevant statistics for each combination, e.g. observed QBER and final
// key length.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"text/template"

	flag "github.com/spf13/pflag"

	"github.com/qnative/qniot/auth"
	"github.com/qnative/qniot/entangle"
	"github.com/qnative/qniot/identity"
	"github.com/qnative/qniot/protocol"
	"github.com/qnative/qniot/qkd"
	"github.com/qnative/qniot/quantum"
)

var (
	keyLengths = flag.IntSlice("keyLengths", []int{128, 256},
		"The target key lengths, in bits, to negotiate per session.")
	qberThresholds = flag.Float64Slice("qberThresholds", []float64{0.11},
		"The QBER abort thresholds to test.")
	attacks = flag.StringSlice("attacks", []string{"none", "eavesdrop", "tamper"},
		"The attack models to inject: none, eavesdrop, tamper.")
	seed = flag.Int64("seed", 42, "The base randomness seed.")
)

const (
	header   = "KeyLength, QBERThreshold, Attack, State, QBER, FinalBits, AuthDeviation, AvgFidelity, CHSH, ElapsedMs"
	lineTmpl = "{{.KeyLength}}, {{.QBERThreshold}}, {{.Attack}}, {{.State}}, {{printf \"%.4f\" .QBER}}, {{.FinalBits}}, {{printf \"%.4f\" .AuthDeviation}}, {{printf \"%.4f\" .AvgFidelity}}, {{printf \"%.3f\" .CHSH}}, {{.ElapsedMs}}\n"
)

// A Result packages together the result of benchmarking a single
// parameterization for easy formatting.
type Result struct {
	KeyLength     int
	QBERThreshold float64
	Attack        string
	State         string
	QBER          float64
	FinalBits     int
	AuthDeviation float64
	AvgFidelity   float64
	CHSH          float64
	ElapsedMs     int64
}

func main() {
	flag.Parse()
	fmt.Println(header)
	tmpl := template.Must(template.New("line").Parse(lineTmpl))
	run := 0
	for _, kl := range *keyLengths {
		for _, qt := range *qberThresholds {
			for _, atk := range *attacks {
				run++
				r, err := bench(kl, qt, atk, *seed+int64(run))
				if err != nil {
					log.Fatalf("Benching (keyLength: %d, qberThreshold: %f, attack: %s): %v", kl, qt, atk, err)
				}
				if err := tmpl.Execute(os.Stdout, r); err != nil {
					log.Fatalf("BUG: could not fill in line template: %v", err)
				}
			}
		}
	}
}

func bench(keyLength int, qberThreshold float64, attackName string, seed int64) (Result, error) {
	attack, err := protocol.ParseAttack(attackName)
	if err != nil {
		return Result{}, err
	}
	registry := identity.NewRegistry()
	registry.Register("bench-device", "SN-BENCH", identity.DefaultSecret)

	qkdCfg := qkd.DefaultConfig()
	qkdCfg.KeyLength = keyLength
	qkdCfg.QBERThreshold = qberThreshold
	qkdCfg.Rand = rand.New(rand.NewSource(seed))
	entCfg := entangle.DefaultConfig()
	entCfg.Trials = 10
	entCfg.Shots = 1024

	o, err := protocol.New(protocol.Config{
		Registry: registry,
		Auth:     auth.DefaultConfig(),
		QKD:      qkdCfg,
		Entangle: entCfg,
		Attack:   attack,
	})
	if err != nil {
		return Result{}, err
	}

	sim := quantum.NewSimulator(rand.New(rand.NewSource(seed + 1)))
	s, err := o.Run("bench-device", sim)
	if err != nil {
		return Result{}, err
	}
	defer s.Zero()

	r := Result{
		KeyLength:     keyLength,
		QBERThreshold: qberThreshold,
		Attack:        attack.String(),
		State:         s.State.String(),
		ElapsedMs:     s.Timing.Total.Milliseconds(),
	}
	if s.Auth != nil {
		r.AuthDeviation = s.Auth.MaxDeviation
	}
	if s.QKD != nil {
		r.QBER = s.QKD.QBER
		r.FinalBits = s.QKD.FinalBits
	}
	if s.Entangle != nil {
		r.AvgFidelity = s.Entangle.AverageFidelity
		r.CHSH = s.Entangle.CHSH.Value
	}
	return r, nil
}
