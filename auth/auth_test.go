package auth

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnative/qniot/identity"
	"github.com/qnative/qniot/quantum"
)

// A scriptedBackend returns histograms computed by a fixed function and
// counts its invocations. Safe for concurrent use.
type scriptedBackend struct {
	mu    sync.Mutex
	calls int
	fn    func(c *quantum.Circuit, shots int) (quantum.Histogram, error)
}

func (s *scriptedBackend) Execute(c *quantum.Circuit, shots int) (quantum.Histogram, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(c, shots)
}

// proportionalBackend returns counts matching the device's expected
// probabilities as closely as integer counts allow.
func proportionalBackend(p0 float64) *scriptedBackend {
	return &scriptedBackend{fn: func(_ *quantum.Circuit, shots int) (quantum.Histogram, error) {
		zeros := int(math.Round(p0 * float64(shots)))
		return quantum.Histogram{"0": zeros, "1": shots - zeros}, nil
	}}
}

func registryWithD1(t *testing.T) (*identity.Registry, identity.DeviceIdentity) {
	t.Helper()
	reg := identity.NewRegistry()
	dev := reg.Register("D1", "S-1", "K")
	return reg, dev
}

func TestAuthenticateMatchingBackend(t *testing.T) {
	reg, dev := registryWithD1(t)
	a, err := New(reg, Config{Rounds: 10, Shots: 100, Threshold: 0.05})
	require.NoError(t, err)

	res, err := a.Authenticate("D1", proportionalBackend(dev.P0))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Less(t, res.MaxDeviation, 0.01, "quantized counts stay within one part in shots")
	assert.Equal(t, 10, res.Rounds)
	assert.Equal(t, 1000, res.TotalShots)
	assert.Equal(t, dev.P0, res.ExpectedP0)
}

func TestAuthenticateExactMatchZeroDeviation(t *testing.T) {
	// A balanced identity with p0 stored as exactly 0.5, so integer counts
	// can match the expectation with zero deviation.
	payload := `{"D1": {"serial": "S-1",
		"alpha_real": 0.7071067811865476, "alpha_imag": 0,
		"beta_real": 0.7071067811865476, "beta_imag": 0,
		"p0": 0.5, "p1": 0.5}}`
	reg := identity.NewRegistry()
	require.NoError(t, reg.Load(strings.NewReader(payload)))

	a, err := New(reg, Config{Rounds: 10, Shots: 100, Threshold: 0.05})
	require.NoError(t, err)
	res, err := a.Authenticate("D1", proportionalBackend(0.5))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.MaxDeviation)
}

func TestThresholdMonotonicity(t *testing.T) {
	reg, dev := registryWithD1(t)

	// A degenerate threshold of 1.0 accepts anything, including a backend
	// that always answers 0.
	permissive, err := New(reg, Config{Rounds: 5, Shots: 64, Threshold: 1.0})
	require.NoError(t, err)
	res, err := permissive.Authenticate("D1", proportionalBackend(1.0))
	require.NoError(t, err)
	assert.True(t, res.Success)

	// A zero threshold accepts only an exact frequency match, which integer
	// rounding of an irrational p0 cannot produce.
	strict, err := New(reg, Config{Rounds: 5, Shots: 64, Threshold: 0})
	require.NoError(t, err)
	res, err = strict.Authenticate("D1", proportionalBackend(dev.P0))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Positive(t, res.MaxDeviation)
}

func TestAuthenticateUnknownDevice(t *testing.T) {
	reg := identity.NewRegistry()
	a, err := New(reg, DefaultConfig())
	require.NoError(t, err)
	_, err = a.Authenticate("ghost", proportionalBackend(0.5))
	assert.ErrorIs(t, err, identity.ErrUnknownDevice)
}

func TestAuthenticateBackendError(t *testing.T) {
	reg, _ := registryWithD1(t)
	a, err := New(reg, Config{Rounds: 3, Shots: 16, Threshold: 0.05})
	require.NoError(t, err)

	boom := errors.New("backend unavailable")
	backend := &scriptedBackend{fn: func(*quantum.Circuit, int) (quantum.Histogram, error) {
		return nil, boom
	}}
	_, err = a.Authenticate("D1", backend)
	assert.ErrorIs(t, err, boom)
}

func TestAuthenticateParallelRounds(t *testing.T) {
	reg, dev := registryWithD1(t)
	a, err := New(reg, Config{Rounds: 16, Shots: 128, Threshold: 0.05, Workers: 4})
	require.NoError(t, err)

	backend := proportionalBackend(dev.P0)
	res, err := a.Authenticate("D1", backend)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 16, backend.calls, "every round must execute exactly once")
	assert.Equal(t, 16*128, res.TotalShots)
}

func TestAuthenticateAgainstSimulator(t *testing.T) {
	reg, _ := registryWithD1(t)
	a, err := New(reg, Config{Rounds: 20, Shots: 512, Threshold: 0.05})
	require.NoError(t, err)

	sim := quantum.NewSimulator(rand.New(rand.NewSource(1234)))
	res, err := a.Authenticate("D1", sim)
	require.NoError(t, err)
	assert.True(t, res.Success, "ideal simulation should stay within a 0.05 threshold: deviation %g", res.MaxDeviation)
}

func TestCircuitShape(t *testing.T) {
	_, dev := registryWithD1(t)
	c := Circuit(dev)
	assert.Equal(t, 1, c.Qubits)
	require.NotEmpty(t, c.Gates)
	assert.Equal(t, quantum.GateRY, c.Gates[0].Kind)
}

func TestHoeffdingThreshold(t *testing.T) {
	// More shots tighten the bound.
	loose := HoeffdingThreshold(1000, 1e-6)
	tight := HoeffdingThreshold(100000, 1e-6)
	assert.Greater(t, loose, tight)
	assert.Positive(t, tight)
	assert.Zero(t, HoeffdingThreshold(0, 1e-6))
}

func TestConfigValidation(t *testing.T) {
	reg := identity.NewRegistry()
	_, err := New(reg, Config{Threshold: 1.5})
	assert.Error(t, err)
	_, err = New(reg, Config{Rounds: -1})
	assert.Error(t, err)
	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)
}
