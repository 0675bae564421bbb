package qkd

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnative/qniot/bitarray"
	"github.com/qnative/qniot/quantum"
)

// idealBackend resolves each one-qubit transmission circuit classically: the
// outcome is the sender's bit when the bases agree and a coin flip otherwise.
// flipProb flips the delivered outcome, emulating an intercept-resend
// eavesdropper per transmitted position.
type idealBackend struct {
	rand     *rand.Rand
	flipProb float64
}

func (b *idealBackend) Execute(c *quantum.Circuit, shots int) (quantum.Histogram, error) {
	bit, hadamards := false, 0
	for _, g := range c.Gates {
		switch g.Kind {
		case quantum.GateX:
			bit = !bit
		case quantum.GateH:
			hadamards++
		}
	}
	// An odd Hadamard count means mismatched bases: the measurement is
	// uniform. An even count cancels out and yields the encoded bit.
	if hadamards%2 == 1 {
		bit = b.rand.Intn(2) == 1
	}
	if b.rand.Float64() < b.flipProb {
		bit = !bit
	}
	outcome := "0"
	if bit {
		outcome = "1"
	}
	return quantum.Histogram{outcome: shots}, nil
}

func (b *idealBackend) Split() quantum.Backend {
	return &idealBackend{rand: rand.New(rand.NewSource(b.rand.Int63())), flipProb: b.flipProb}
}

func newProtocol(t *testing.T, cfg Config) *Protocol {
	t.Helper()
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(42))
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestRunProducesKey(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 128, Shots: 16})
	res, err := p.Run(&idealBackend{rand: rand.New(rand.NewSource(7))})
	require.NoError(t, err)

	require.True(t, res.Success, "clean channel should yield a key, abort: %s", res.AbortReason)
	assert.LessOrEqual(t, res.SiftedBits, res.InitialBits)
	assert.LessOrEqual(t, res.FinalBits, res.SiftedBits/2)
	assert.LessOrEqual(t, res.FinalBits, 128)
	assert.Equal(t, res.FinalBits, res.FinalKey.Size())
	assert.Zero(t, res.QBER)
	assert.Positive(t, res.FinalBits)
}

func TestSiftingConvergesToHalf(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 256, Shots: 8})
	res, err := p.Run(&idealBackend{rand: rand.New(rand.NewSource(3))})
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.InitialBits, 1000)
	assert.InDelta(t, 0.5, res.SiftingEfficiency, 0.05,
		"sifting should retain about half of %d transmitted bits", res.InitialBits)
}

func TestEavesdropperRaisesQBERAndAborts(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 256, QBERThreshold: 0.11, Shots: 8})
	res, err := p.Run(&idealBackend{rand: rand.New(rand.NewSource(11)), flipProb: 0.25})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, AbortQBERExceeded, res.AbortReason)
	assert.InDelta(t, 0.25, res.QBER, 0.05)
	assert.Zero(t, res.FinalKey.Size(), "no key material may survive an abort")
	assert.Zero(t, res.FinalBits)
}

func TestForcedBasisMismatchAborts(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 64, Shots: 8})
	p.senderBasisFunc = func(n int) bitarray.Dense {
		return bitarray.NewDense(nil, n) // all Z
	}
	p.receiverBasisFunc = func(n int) bitarray.Dense {
		return bitarray.NewDense(nil, n).Not() // all X
	}

	res, err := p.Run(&idealBackend{rand: rand.New(rand.NewSource(5))})
	require.NoError(t, err, "total basis mismatch must not crash")
	assert.False(t, res.Success)
	assert.Equal(t, AbortTransmissionFailed, res.AbortReason)
	assert.Zero(t, res.SiftedBits)
	assert.Zero(t, res.FinalKey.Size())
}

func TestRunAgainstSimulator(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 32, Shots: 32, TestFraction: 0.5})
	sim := quantum.NewSimulator(rand.New(rand.NewSource(21)))
	res, err := p.Run(sim)
	require.NoError(t, err)
	require.True(t, res.Success, "noiseless simulator should yield a key, abort: %s", res.AbortReason)
	assert.Zero(t, res.QBER, "noiseless matched-basis transmissions are error free")
	assert.Positive(t, res.FinalBits)
	assert.LessOrEqual(t, res.FinalBits, 32)
}

func TestRunWithNoisySimulatorAborts(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 64, QBERThreshold: 0.11, Shots: 16})
	sim := quantum.NewSimulator(rand.New(rand.NewSource(23))).
		WithNoise(quantum.NoiseModel{BitFlip: 0.25})
	res, err := p.Run(sim)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, AbortQBERExceeded, res.AbortReason)
}

func TestParallelTransmissionMatchesScalar(t *testing.T) {
	cfg := Config{KeyLength: 64, Shots: 8, Workers: 4}
	p := newProtocol(t, cfg)
	res, err := p.Run(&idealBackend{rand: rand.New(rand.NewSource(9))})
	require.NoError(t, err)
	assert.True(t, res.Success, "abort: %s", res.AbortReason)
	assert.LessOrEqual(t, res.FinalBits, 64)
}

func TestTransmissionErrorPropagates(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 16, Shots: 4})
	boom := errors.New("backend offline")
	_, err := p.Run(backendFunc(func(*quantum.Circuit, int) (quantum.Histogram, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
}

type backendFunc func(*quantum.Circuit, int) (quantum.Histogram, error)

func (f backendFunc) Execute(c *quantum.Circuit, shots int) (quantum.Histogram, error) {
	return f(c, shots)
}

func TestZeroize(t *testing.T) {
	r := Result{FinalKey: bitarray.Random(rand.New(rand.NewSource(1)), 64), FinalBits: 64}
	r.Zeroize()
	assert.Zero(t, r.FinalKey.Size())
}

func TestInitialBitsOverhead(t *testing.T) {
	p := newProtocol(t, Config{KeyLength: 256, TestFraction: 0.5})
	// 256 / (0.5 * 0.5 * 0.5) * 1.2 = 2457.6
	assert.Equal(t, 2457, p.InitialBits())
}

func TestConfigValidation(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	_, err := New(Config{})
	assert.Error(t, err, "missing Rand must be rejected")
	_, err = New(Config{Rand: r, QBERThreshold: 2})
	assert.Error(t, err)
	_, err = New(Config{Rand: r, TestFraction: 1})
	assert.Error(t, err)
	_, err = New(Config{Rand: r, KeyLength: -5})
	assert.Error(t, err)
}
