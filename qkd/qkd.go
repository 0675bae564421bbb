// Package qkd implements BB84 key establishment with eavesdropping detection.
//
// A run proceeds through strictly sequential stages: quantum transmission,
// basis sifting, QBER estimation, simplified error correction, and privacy
// amplification. QBER beyond the configured threshold is a security abort: it
// is reported as an unsuccessful Result with a reason, never as an error, and
// no key material survives it.
//
// The error-correction stage discards the QBER test bits instead of running
// genuine information reconciliation, and privacy amplification keeps every
// second bit instead of applying universal hashing. Both are deliberate,
// non-production placeholders; residual errors in untested positions are not
// corrected.
package qkd

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/qnative/qniot/bitarray"
	"github.com/qnative/qniot/quantum"
)

// Defaults for Config fields left zero-initialized.
const (
	DefaultKeyLength     = 256
	DefaultQBERThreshold = 0.11
	DefaultTestFraction  = 0.5
	DefaultShots         = 1024
)

// Abort reasons reported on unsuccessful runs.
const (
	AbortQBERExceeded       = "QBER threshold exceeded - possible eavesdropping"
	AbortTransmissionFailed = "insufficient sifted bits - transmission failure"
)

// A Config parameterizes one BB84 run.
type Config struct {
	// KeyLength is the target final key length in bits. Defaults to
	// DefaultKeyLength.
	KeyLength int

	// QBERThreshold is the maximum tolerated quantum bit error rate.
	// Defaults to DefaultQBERThreshold.
	QBERThreshold float64

	// TestFraction is the proportion of sifted bits sacrificed to QBER
	// estimation. Defaults to DefaultTestFraction.
	TestFraction float64

	// Shots is the number of measurement shots per transmitted position; the
	// receiver records the most frequent outcome. Defaults to DefaultShots.
	Shots int

	// Rand provides bit and basis randomness for both participants. Must be
	// non-nil. This may use pRNG for experiments and tests; for real
	// deployments it must be truly random.
	Rand *rand.Rand

	// Workers bounds the number of concurrent backend calls during
	// transmission. Defaults to 1. Values above 1 require a backend that is
	// safe for concurrent use or implements quantum.Splitter.
	Workers int
}

// DefaultConfig returns the standard key-distribution parameters, minus the
// required randomness source.
func DefaultConfig() Config {
	return Config{
		KeyLength:     DefaultKeyLength,
		QBERThreshold: DefaultQBERThreshold,
		TestFraction:  DefaultTestFraction,
		Shots:         DefaultShots,
	}
}

func (c Config) withDefaults() Config {
	if c.KeyLength == 0 {
		c.KeyLength = DefaultKeyLength
	}
	if c.QBERThreshold == 0 {
		c.QBERThreshold = DefaultQBERThreshold
	}
	if c.TestFraction == 0 {
		c.TestFraction = DefaultTestFraction
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
	if c.KeyLength < 0 || c.Shots < 0 || c.Workers < 0 {
		return errors.New("qkd config fields must be non-negative")
	}
	if c.QBERThreshold < 0 || c.QBERThreshold > 1 {
		return fmt.Errorf("qber threshold must be in [0,1], got %g", c.QBERThreshold)
	}
	if c.TestFraction < 0 || c.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in [0,1), got %g", c.TestFraction)
	}
	return nil
}

// A Result reports one key-distribution run. FinalKey is non-empty iff
// Success; on abort AbortReason states why and all key material has been
// discarded.
type Result struct {
	Success     bool    `json:"success"`
	AbortReason string  `json:"abort_reason,omitempty"`
	QBER        float64 `json:"qber"`

	InitialBits   int `json:"initial_bits"`
	SiftedBits    int `json:"sifted_bits"`
	TestBits      int `json:"test_bits"`
	CorrectedBits int `json:"corrected_bits"`
	FinalBits     int `json:"final_bits"`

	SiftingEfficiency float64 `json:"sifting_efficiency"`
	TotalEfficiency   float64 `json:"total_efficiency"`

	FinalKey bitarray.Dense `json:"-"`
}

// Zeroize erases any key material held by r.
func (r *Result) Zeroize() {
	r.FinalKey.Zero()
	r.FinalKey = bitarray.Empty()
}

// A Protocol runs BB84 key establishment against an execution backend.
type Protocol struct {
	cfg Config

	// Overrides for the randomness draws; nil outside tests.
	bitsFunc          func(n int) bitarray.Dense
	senderBasisFunc   func(n int) bitarray.Dense
	receiverBasisFunc func(n int) bitarray.Dense
}

// New returns a Protocol configured per cfg, or an error if the options are
// nonsensical.
func New(cfg Config) (*Protocol, error) {
	if cfg.Rand == nil {
		return nil, errors.New("must provide Rand")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Protocol{cfg: cfg.withDefaults()}, nil
}

// Config returns the effective (defaulted) configuration.
func (p *Protocol) Config() Config {
	return p.cfg
}

// InitialBits returns the number of positions transmitted to reach the target
// key length, accounting for the expected 50% sifting loss, test-bit
// consumption, the 2x privacy-amplification compression, and a 1.2x overhead
// margin.
func (p *Protocol) InitialBits() int {
	overhead := 1 / (0.5 * (1 - p.cfg.TestFraction) * 0.5)
	return int(float64(p.cfg.KeyLength) * overhead * 1.2)
}

// Run executes one complete BB84 key distribution. Eavesdropping emulation is
// purely a property of the supplied backend (e.g. a simulator configured with
// bit-flip noise); Run never branches on it.
func (p *Protocol) Run(backend quantum.Backend) (Result, error) {
	n := p.InitialBits()
	log := logrus.WithFields(logrus.Fields{
		"key_length":   p.cfg.KeyLength,
		"initial_bits": n,
	})
	log.Info("Starting BB84 key distribution")

	res := Result{InitialBits: n}

	// Stage 1: quantum transmission.
	aliceBits := p.draw(p.bitsFunc, n)
	aliceBases := p.draw(p.senderBasisFunc, n)
	bobBases := p.draw(p.receiverBasisFunc, n)
	bobBits, err := p.transmit(aliceBits, aliceBases, bobBases, backend)
	if err != nil {
		return Result{}, fmt.Errorf("quantum transmission: %w", err)
	}

	// Stage 2: basis sifting.
	siftMask := aliceBases.XNor(bobBases)
	siftedAlice := aliceBits.Select(siftMask)
	siftedBob := bobBits.Select(siftMask)
	res.SiftedBits = siftedAlice.Size()
	res.SiftingEfficiency = float64(res.SiftedBits) / float64(n)
	log.WithFields(logrus.Fields{
		"sifted_bits": res.SiftedBits,
		"efficiency":  res.SiftingEfficiency,
	}).Info("Basis sifting complete")

	// Stage 3: QBER estimation over a random test subset.
	testCount := int(float64(res.SiftedBits) * p.cfg.TestFraction)
	if res.SiftedBits == 0 || testCount == 0 {
		log.Warn("Aborting: too few sifted bits to estimate QBER")
		res.AbortReason = AbortTransmissionFailed
		return res, nil
	}
	testMask := p.sampleMask(res.SiftedBits, testCount)
	mismatches := siftedAlice.XOr(siftedBob).And(testMask).CountOnes()
	res.TestBits = testCount
	res.QBER = float64(mismatches) / float64(testCount)
	log.WithFields(logrus.Fields{
		"test_bits":  testCount,
		"mismatches": mismatches,
		"qber":       res.QBER,
	}).Info("QBER estimated")

	if res.QBER > p.cfg.QBERThreshold {
		log.WithFields(logrus.Fields{
			"qber":      res.QBER,
			"threshold": p.cfg.QBERThreshold,
		}).Warn("Aborting: QBER above threshold")
		res.AbortReason = AbortQBERExceeded
		return res, nil
	}

	// Stage 4: simplified error correction drops the disclosed test bits.
	keep := testMask.Not()
	correctedAlice := siftedAlice.Select(keep)
	res.CorrectedBits = correctedAlice.Size()

	// Stage 5: privacy amplification keeps every second bit, truncated to
	// the target length.
	key := correctedAlice.EveryNth(2)
	if key.Size() > p.cfg.KeyLength {
		key, err = key.Slice(0, p.cfg.KeyLength)
		if err != nil {
			return Result{}, fmt.Errorf("truncating final key: %w", err)
		}
	}
	res.FinalKey = key
	res.FinalBits = key.Size()
	res.TotalEfficiency = float64(res.FinalBits) / float64(n)
	res.Success = true

	log.WithFields(logrus.Fields{
		"final_bits": res.FinalBits,
		"qber":       res.QBER,
	}).Info("Key distribution successful")
	return res, nil
}

// transmit submits one encode-and-measure circuit per position and records
// the receiver's most frequent outcome. Positions are independent, so they
// fan out across workers when configured; results are recombined by index.
func (p *Protocol) transmit(aliceBits, aliceBases, bobBases bitarray.Dense, backend quantum.Backend) (bitarray.Dense, error) {
	n := aliceBits.Size()
	outcomes := make([]bool, n)

	workers := p.cfg.Workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if err := p.transmitRange(aliceBits, aliceBases, bobBases, backend, 0, n, outcomes); err != nil {
			return bitarray.Empty(), err
		}
		return fromBools(outcomes), nil
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, (w+1)*chunk
		if hi > n {
			hi = n
		}
		b := backend
		if s, ok := backend.(quantum.Splitter); ok {
			b = s.Split()
		}
		wg.Add(1)
		go func(w, lo, hi int, b quantum.Backend) {
			defer wg.Done()
			errs[w] = p.transmitRange(aliceBits, aliceBases, bobBases, b, lo, hi, outcomes)
		}(w, lo, hi, b)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return bitarray.Empty(), err
		}
	}
	return fromBools(outcomes), nil
}

func (p *Protocol) transmitRange(aliceBits, aliceBases, bobBases bitarray.Dense, backend quantum.Backend, lo, hi int, outcomes []bool) error {
	for i := lo; i < hi; i++ {
		c := TransmissionCircuit(aliceBits.Get(i), aliceBases.Get(i), bobBases.Get(i))
		hist, err := backend.Execute(c, p.cfg.Shots)
		if err != nil {
			return fmt.Errorf("position %d: %w", i, err)
		}
		outcomes[i] = hist.MostFrequent() == "1"
	}
	return nil
}

// TransmissionCircuit encodes the sender's bit in the sender's basis and
// measures in the receiver's basis. Basis false is computational (Z), true is
// Hadamard (X).
func TransmissionCircuit(bit, senderBasis, receiverBasis bool) *quantum.Circuit {
	c := quantum.NewCircuit(1)
	if bit {
		c.X(0)
	}
	if senderBasis {
		c.H(0)
	}
	if receiverBasis {
		c.H(0)
	}
	return c
}

func (p *Protocol) draw(override func(n int) bitarray.Dense, n int) bitarray.Dense {
	if override != nil {
		return override(n)
	}
	return bitarray.Random(p.cfg.Rand, n)
}

// sampleMask selects k of n positions uniformly at random without
// replacement.
func (p *Protocol) sampleMask(n, k int) bitarray.Dense {
	mask := bitarray.NewDense(nil, n)
	for _, idx := range p.cfg.Rand.Perm(n)[:k] {
		mask.Set(idx, true)
	}
	return mask
}

func fromBools(bits []bool) bitarray.Dense {
	var d bitarray.Dense
	for _, b := range bits {
		d.AppendBit(b)
	}
	return d
}
