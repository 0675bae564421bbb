// Package auth implements quantum identity-based device authentication.
//
// A device proves its identity by preparing its registered identity state and
// measuring it repeatedly; the verifier accepts iff the observed outcome
// frequencies stay within a concentration-bound threshold of the expected
// probabilities. Each authentication attempt is an independent statistical
// trial: the same device can legitimately produce different outcomes on
// different attempts.
package auth

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qnative/qniot/identity"
	"github.com/qnative/qniot/quantum"
)

// Defaults for Config fields left zero-initialized.
const (
	DefaultRounds    = 100
	DefaultThreshold = 0.05
	DefaultShots     = 1024
)

// A Config parameterizes the authentication test.
type Config struct {
	// Rounds is the number of independent circuit executions per attempt.
	// Defaults to DefaultRounds.
	Rounds int

	// Threshold is the maximum tolerated deviation between observed and
	// expected outcome probabilities. It should be chosen relative to
	// Rounds*Shots to bound the false-reject probability; see
	// HoeffdingThreshold. A zero threshold accepts only an exact frequency
	// match; DefaultConfig supplies the standard DefaultThreshold.
	Threshold float64

	// Shots is the number of measurement shots per round. Defaults to
	// DefaultShots.
	Shots int

	// Workers bounds the number of concurrent backend calls used to execute
	// rounds. Defaults to 1 (sequential). Values above 1 require a backend
	// that is safe for concurrent use or implements quantum.Splitter.
	Workers int
}

// DefaultConfig returns the standard authentication parameters.
func DefaultConfig() Config {
	return Config{Rounds: DefaultRounds, Threshold: DefaultThreshold, Shots: DefaultShots}
}

func (c Config) withDefaults() Config {
	if c.Rounds == 0 {
		c.Rounds = DefaultRounds
	}
	if c.Shots == 0 {
		c.Shots = DefaultShots
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	return c
}

func (c Config) validate() error {
	if c.Rounds < 0 || c.Shots < 0 || c.Workers < 0 {
		return errors.New("auth config fields must be non-negative")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("auth threshold must be in [0,1], got %g", c.Threshold)
	}
	return nil
}

// A Result reports the outcome of one authentication attempt. A false Success
// is a security rejection, not an error.
type Result struct {
	DeviceID     string  `json:"device_id"`
	Success      bool    `json:"success"`
	ObservedP0   float64 `json:"observed_p0"`
	ObservedP1   float64 `json:"observed_p1"`
	ExpectedP0   float64 `json:"expected_p0"`
	ExpectedP1   float64 `json:"expected_p1"`
	DeviationP0  float64 `json:"deviation_p0"`
	DeviationP1  float64 `json:"deviation_p1"`
	MaxDeviation float64 `json:"max_deviation"`
	Threshold    float64 `json:"threshold"`
	Rounds       int     `json:"rounds"`
	TotalShots   int     `json:"total_shots"`
}

// An Authenticator runs the identity test against a registry of device
// identities. It holds no per-attempt state and is safe to invoke
// concurrently for distinct devices.
type Authenticator struct {
	registry *identity.Registry
	cfg      Config
}

// New returns an Authenticator reading identities from registry, or an error
// if the configuration is nonsensical.
func New(registry *identity.Registry, cfg Config) (*Authenticator, error) {
	if registry == nil {
		return nil, errors.New("must provide identity registry")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Authenticator{registry: registry, cfg: cfg.withDefaults()}, nil
}

// Config returns the effective (defaulted) configuration.
func (a *Authenticator) Config() Config {
	return a.cfg
}

// Circuit builds the single-qubit preparation-and-measurement circuit for a
// device identity: RY(theta) followed by RZ(phi) when the relative phase is
// significant, with theta and phi recovered from the registered amplitudes.
func Circuit(d identity.DeviceIdentity) *quantum.Circuit {
	theta := 2 * math.Atan2(d.Beta.Abs(), d.Alpha.Abs())
	phi := d.Alpha.Angle() - d.Beta.Angle()

	c := quantum.NewCircuit(1).RY(0, theta)
	if math.Abs(phi) > 1e-10 {
		c.RZ(0, phi)
	}
	return c
}

// Authenticate runs the statistical identity test for the given device.
// An unregistered id yields identity.ErrUnknownDevice; backend failures
// propagate; a deviation beyond the threshold is returned as an unsuccessful
// Result.
func (a *Authenticator) Authenticate(id string, backend quantum.Backend) (Result, error) {
	dev, err := a.registry.Lookup(id)
	if err != nil {
		return Result{}, err
	}
	circuit := Circuit(dev)
	totalShots := a.cfg.Rounds * a.cfg.Shots

	log := logrus.WithFields(logrus.Fields{
		"device_id": id,
		"rounds":    a.cfg.Rounds,
		"shots":     a.cfg.Shots,
	})
	log.Info("Starting quantum authentication")

	zeros, ones, err := a.countOutcomes(circuit, backend)
	if err != nil {
		return Result{}, fmt.Errorf("authenticating %q: %w", id, err)
	}

	observedP0 := float64(zeros) / float64(totalShots)
	observedP1 := float64(ones) / float64(totalShots)
	dev0 := math.Abs(observedP0 - dev.P0)
	dev1 := math.Abs(observedP1 - dev.P1)

	r := Result{
		DeviceID:     id,
		Success:      math.Max(dev0, dev1) <= a.cfg.Threshold,
		ObservedP0:   observedP0,
		ObservedP1:   observedP1,
		ExpectedP0:   dev.P0,
		ExpectedP1:   dev.P1,
		DeviationP0:  dev0,
		DeviationP1:  dev1,
		MaxDeviation: math.Max(dev0, dev1),
		Threshold:    a.cfg.Threshold,
		Rounds:       a.cfg.Rounds,
		TotalShots:   totalShots,
	}

	if r.Success {
		log.WithField("max_deviation", r.MaxDeviation).Info("Authentication accepted")
	} else {
		log.WithFields(logrus.Fields{
			"max_deviation": r.MaxDeviation,
			"threshold":     r.Threshold,
		}).Warn("Authentication rejected")
	}
	return r, nil
}

// countOutcomes executes the circuit for every round and accumulates the
// outcome-0 and outcome-1 counts. Rounds have no data dependency on each
// other, so they fan out across workers; partial counts are combined by
// summation only.
func (a *Authenticator) countOutcomes(c *quantum.Circuit, backend quantum.Backend) (zeros, ones int, err error) {
	workers := a.cfg.Workers
	if workers > a.cfg.Rounds {
		workers = a.cfg.Rounds
	}
	if workers <= 1 {
		return runRounds(c, backend, a.cfg.Rounds, a.cfg.Shots)
	}

	type partial struct {
		zeros, ones int
		err         error
	}
	rounds := splitRounds(a.cfg.Rounds, workers)
	partials := make([]partial, len(rounds))
	var wg sync.WaitGroup
	for i, n := range rounds {
		b := backend
		if s, ok := backend.(quantum.Splitter); ok {
			b = s.Split()
		}
		wg.Add(1)
		go func(i, n int, b quantum.Backend) {
			defer wg.Done()
			z, o, err := runRounds(c, b, n, a.cfg.Shots)
			partials[i] = partial{z, o, err}
		}(i, n, b)
	}
	wg.Wait()

	for _, p := range partials {
		if p.err != nil {
			return 0, 0, p.err
		}
		zeros += p.zeros
		ones += p.ones
	}
	return zeros, ones, nil
}

func runRounds(c *quantum.Circuit, backend quantum.Backend, rounds, shots int) (zeros, ones int, err error) {
	for i := 0; i < rounds; i++ {
		hist, err := backend.Execute(c, shots)
		if err != nil {
			return 0, 0, err
		}
		zeros += hist["0"]
		ones += hist["1"]
	}
	return zeros, ones, nil
}

// splitRounds divides n rounds as evenly as possible across k workers.
func splitRounds(n, k int) []int {
	out := make([]int, k)
	for i := range out {
		out[i] = n / k
	}
	for i := 0; i < n%k; i++ {
		out[i]++
	}
	return out
}

// HoeffdingThreshold returns the deviation threshold epsilon such that an
// honest device is rejected with probability at most delta over n total
// shots: epsilon = sqrt(ln(2/delta) / (2n)).
func HoeffdingThreshold(totalShots int, delta float64) float64 {
	if totalShots <= 0 || delta <= 0 || delta >= 1 {
		return 0
	}
	return math.Sqrt(math.Log(2/delta) / (2 * float64(totalShots)))
}
