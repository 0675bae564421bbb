// Package entangle implements entanglement-based channel tamper detection.
//
// It prepares maximally-entangled Bell pairs and watches for degradation in
// their measured correlations: per-basis correlation fidelity against a
// threshold, and a CHSH test certifying that the correlations are genuinely
// quantum. Either signal failing marks the channel as tampered.
package entangle

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/qnative/qniot/quantum"
)

// Defaults for Config fields left zero-initialized.
const (
	DefaultTrials            = 50
	DefaultShots             = 4096
	DefaultFidelityThreshold = 0.85
	DefaultCHSHThreshold     = 2.0
)

// ClassicalBound is the largest CHSH magnitude achievable by any classical
// (local hidden variable) model; TsirelsonBound the largest achievable by
// quantum mechanics.
const (
	ClassicalBound = 2.0
	TsirelsonBound = 2 * math.Sqrt2
)

// FidelityBases are the measurement bases exercised by fidelity estimation:
// same-basis ZZ, cross-basis XX, and the mixed ZX control.
var FidelityBases = []string{"ZZ", "XX", "ZX"}

// A Config parameterizes entanglement verification.
type Config struct {
	// Trials is the number of independent shot batches per fidelity basis.
	// Defaults to DefaultTrials.
	Trials int

	// Shots is the number of measurement shots per batch. Defaults to
	// DefaultShots.
	Shots int

	// FidelityThreshold is the minimum acceptable average correlation
	// fidelity. A zero value is promoted to DefaultFidelityThreshold, unlike
	// auth.Config.Threshold where zero is meaningful; callers that want the
	// fidelity check to never fire can set an arbitrarily small positive
	// threshold.
	FidelityThreshold float64

	// CHSHThreshold is the minimum CHSH magnitude certifying genuine
	// entanglement. Defaults to DefaultCHSHThreshold, which coincides with
	// the classical bound, so by default certification and classical-bound
	// violation are the same test. Zero is promoted to the default, not
	// treated as a disabled check.
	CHSHThreshold float64

	// Workers bounds the number of concurrent backend calls used for
	// fidelity trials. Defaults to 1. Values above 1 require a backend that
	// is safe for concurrent use or implements quantum.Splitter.
	Workers int
}

// DefaultConfig returns the standard verification parameters.
func DefaultConfig() Config {
	return Config{
		Trials:            DefaultTrials,
		Shots:             DefaultShots,
		FidelityThreshold: DefaultFidelityThreshold,
		CHSHThreshold:     DefaultCHSHThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.Trials == 0 {
		c.Trials = DefaultTrials
	}
	if c.Shots == 0 {
		c.Shots = DefaultShots
	}
	if c.FidelityThreshold == 0 {
		c.FidelityThreshold = DefaultFidelityThreshold
	}
	if c.CHSHThreshold == 0 {
		c.CHSHThreshold = DefaultCHSHThreshold
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	return c
}

func (c Config) validate() error {
	if c.Trials < 0 || c.Shots < 0 || c.Workers < 0 {
		return errors.New("entangle config fields must be non-negative")
	}
	if c.FidelityThreshold < 0 || c.FidelityThreshold > 1 {
		return fmt.Errorf("fidelity threshold must be in [0,1], got %g", c.FidelityThreshold)
	}
	if c.CHSHThreshold < 0 || c.CHSHThreshold > 4 {
		return fmt.Errorf("chsh threshold must be in [0,4], got %g", c.CHSHThreshold)
	}
	return nil
}

// A CHSHResult reports one CHSH inequality measurement.
type CHSHResult struct {
	Value               float64            `json:"chsh_value"`
	Correlations        map[string]float64 `json:"correlations"`
	ViolatesClassical   bool               `json:"violates_classical"`
	GenuineEntanglement bool               `json:"genuine_entanglement"`
}

// A Result reports one complete entanglement verification.
type Result struct {
	Fidelities        map[string]float64 `json:"fidelities"`
	AverageFidelity   float64            `json:"average_fidelity"`
	CHSH              CHSHResult         `json:"chsh_results"`
	TamperingDetected bool               `json:"tampering_detected"`
}

// A Verifier runs Bell-correlation and CHSH measurements against a backend.
// It holds no cross-call state.
type Verifier struct {
	cfg Config
}

// New returns a Verifier, or an error if the configuration is nonsensical.
func New(cfg Config) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg.withDefaults()}, nil
}

// Config returns the effective (defaulted) configuration.
func (v *Verifier) Config() Config {
	return v.cfg
}

// BellCircuit prepares the |Phi+> = (|00> + |11>)/sqrt(2) reference state.
func BellCircuit() *quantum.Circuit {
	return quantum.NewCircuit(2).H(0).CX(0, 1)
}

// FidelityCircuit prepares |Phi+> and applies the local transformation for a
// measurement basis label: an H on each qubit whose label letter is X.
func FidelityCircuit(basis string) (*quantum.Circuit, error) {
	if len(basis) != 2 {
		return nil, fmt.Errorf("basis label must name two qubits, got %q", basis)
	}
	c := BellCircuit()
	for q := 0; q < 2; q++ {
		switch basis[q] {
		case 'X':
			c.H(q)
		case 'Z':
		default:
			return nil, fmt.Errorf("basis label %q: unsupported basis %q", basis, basis[q])
		}
	}
	return c, nil
}

// chshSettings are the four measurement settings of the CHSH test, with the
// local rotation angles used by each side.
var chshSettings = []struct {
	label  string
	thetaA float64
	thetaB float64
}{
	{"A1B1", 0, math.Pi / 8},
	{"A1B2", 0, -math.Pi / 8},
	{"A2B1", math.Pi / 4, math.Pi / 8},
	{"A2B2", math.Pi / 4, -math.Pi / 8},
}

// CHSHCircuit prepares |Phi+> and applies the local RY rotations of one
// measurement setting.
func CHSHCircuit(thetaA, thetaB float64) *quantum.Circuit {
	return BellCircuit().RY(0, thetaA).RY(1, thetaB)
}

// Verify measures per-basis correlation fidelity and the CHSH value, and
// decides whether the channel shows signs of tampering. Channel-noise
// emulation is purely a property of the supplied backend.
func (v *Verifier) Verify(backend quantum.Backend) (Result, error) {
	logrus.WithFields(logrus.Fields{
		"trials": v.cfg.Trials,
		"shots":  v.cfg.Shots,
	}).Info("Verifying entanglement quality")

	fidelities := make(map[string]float64, len(FidelityBases))
	for _, basis := range FidelityBases {
		f, err := v.measureFidelity(basis, backend)
		if err != nil {
			return Result{}, fmt.Errorf("measuring %s fidelity: %w", basis, err)
		}
		fidelities[basis] = f
		logrus.WithFields(logrus.Fields{"basis": basis, "fidelity": f}).Debug("Basis fidelity measured")
	}

	chsh, err := v.measureCHSH(backend)
	if err != nil {
		return Result{}, err
	}

	avg := stat.Mean(values(fidelities), nil)
	res := Result{
		Fidelities:        fidelities,
		AverageFidelity:   avg,
		CHSH:              chsh,
		TamperingDetected: avg < v.cfg.FidelityThreshold || !chsh.GenuineEntanglement,
	}
	if res.TamperingDetected {
		logrus.WithFields(logrus.Fields{
			"average_fidelity": avg,
			"chsh_value":       chsh.Value,
		}).Warn("Tampering detected")
	} else {
		logrus.WithFields(logrus.Fields{
			"average_fidelity": avg,
			"chsh_value":       chsh.Value,
		}).Info("Channel verified secure")
	}
	return res, nil
}

// measureFidelity runs the configured number of independent trials in one
// basis and averages the per-trial correlation fidelities. Trials are
// independent, so they fan out across workers; per-trial values are combined
// by averaging, which is order-independent.
func (v *Verifier) measureFidelity(basis string, backend quantum.Backend) (float64, error) {
	c, err := FidelityCircuit(basis)
	if err != nil {
		return 0, err
	}

	trials := make([]float64, v.cfg.Trials)
	workers := v.cfg.Workers
	if workers > v.cfg.Trials {
		workers = v.cfg.Trials
	}
	if workers <= 1 {
		for i := range trials {
			f, err := v.fidelityTrial(c, basis, backend)
			if err != nil {
				return 0, err
			}
			trials[i] = f
		}
		return stat.Mean(trials, nil), nil
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	chunk := (v.cfg.Trials + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > v.cfg.Trials {
			hi = v.cfg.Trials
		}
		b := backend
		if s, ok := backend.(quantum.Splitter); ok {
			b = s.Split()
		}
		wg.Add(1)
		go func(w, lo, hi int, b quantum.Backend) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f, err := v.fidelityTrial(c, basis, b)
				if err != nil {
					errs[w] = err
					return
				}
				trials[i] = f
			}
		}(w, lo, hi, b)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}
	return stat.Mean(trials, nil), nil
}

func (v *Verifier) fidelityTrial(c *quantum.Circuit, basis string, backend quantum.Backend) (float64, error) {
	hist, err := backend.Execute(c, v.cfg.Shots)
	if err != nil {
		return 0, err
	}
	return CorrelationFidelity(hist, basis), nil
}

// CorrelationFidelity computes the fraction of outcomes matching the
// correlated pattern expected of |Phi+> in the given basis. In ZZ and XX the
// state is perfectly correlated (outcomes 00 and 11); mixed bases carry no
// expected correlation, so every outcome counts as consistent.
func CorrelationFidelity(hist quantum.Histogram, basis string) float64 {
	total := hist.Total()
	if total == 0 {
		return 0
	}
	switch basis {
	case "ZZ", "XX":
		return float64(hist["00"]+hist["11"]) / float64(total)
	default:
		return 1
	}
}

// measureCHSH measures the four CHSH correlations and combines them into
// S = E(A1B1) + E(A1B2) + E(A2B1) - E(A2B2).
func (v *Verifier) measureCHSH(backend quantum.Backend) (CHSHResult, error) {
	correlations := make(map[string]float64, len(chshSettings))
	for _, s := range chshSettings {
		hist, err := backend.Execute(CHSHCircuit(s.thetaA, s.thetaB), v.cfg.Shots)
		if err != nil {
			return CHSHResult{}, fmt.Errorf("measuring %s correlation: %w", s.label, err)
		}
		correlations[s.label] = Correlation(hist)
	}
	s := correlations["A1B1"] + correlations["A1B2"] + correlations["A2B1"] - correlations["A2B2"]
	return CHSHResult{
		Value:               s,
		Correlations:        correlations,
		ViolatesClassical:   math.Abs(s) > ClassicalBound,
		GenuineEntanglement: math.Abs(s) > v.cfg.CHSHThreshold,
	}, nil
}

// Correlation computes E = P(agree) - P(disagree) from a two-qubit outcome
// histogram.
func Correlation(hist quantum.Histogram) float64 {
	same := hist["00"] + hist["11"]
	diff := hist["01"] + hist["10"]
	total := same + diff
	if total == 0 {
		return 0
	}
	return float64(same-diff) / float64(total)
}

func values(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, basis := range FidelityBases {
		out = append(out, m[basis])
	}
	return out
}
