package identity

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveNormalized(t *testing.T) {
	for i := 0; i < 50; i++ {
		serial := fmt.Sprintf("IIoT-SN-%d", 1000+i)
		alpha, beta := Derive(serial, DefaultSecret)
		norm := alpha.Abs2() + beta.Abs2()
		assert.InDelta(t, 1.0, norm, NormTolerance, "serial %s", serial)
	}
}

func TestDeriveReproducible(t *testing.T) {
	a1, b1 := Derive("S-1", "K")
	a2, b2 := Derive("S-1", "K")
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)

	a3, _ := Derive("S-2", "K")
	assert.NotEqual(t, a1, a3, "distinct serials should derive distinct identities")
}

func TestDeriveBetaReal(t *testing.T) {
	_, beta := Derive("S-1", "K")
	assert.Zero(t, beta.Im)
	assert.GreaterOrEqual(t, beta.Re, 0.0, "beta = sin(theta/2) with theta in [0,2pi) is non-negative for theta in [0,pi]")
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	d := r.Register("D1", "S-1", "K")
	require.NoError(t, d.Validate())
	assert.InDelta(t, 1.0, d.P0+d.P1, NormTolerance)

	got, err := r.Lookup("D1")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = r.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	first := r.Register("D1", "S-1", "K")
	second := r.Register("D1", "S-2", "K")
	got, err := r.Lookup("D1")
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.NotEqual(t, first.Serial, got.Serial)
	assert.Equal(t, 1, r.Len())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 5; i++ {
		r.Register(fmt.Sprintf("Device%02d", i), fmt.Sprintf("IIoT-SN-%d", 1000+i), DefaultSecret)
	}

	var buf bytes.Buffer
	require.NoError(t, r.Save(&buf))

	loaded := NewRegistry()
	require.NoError(t, loaded.Load(&buf))
	require.Equal(t, r.Len(), loaded.Len())

	for _, id := range r.IDs() {
		want, err := r.Lookup(id)
		require.NoError(t, err)
		got, err := loaded.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "loaded identity must reconstruct exact amplitudes")
	}
}

func TestLoadRejectsUnnormalized(t *testing.T) {
	payload := `{"Bad": {"serial": "S", "alpha_real": 1, "alpha_imag": 0, "beta_real": 1, "beta_imag": 0, "p0": 1, "p1": 1}}`
	r := NewRegistry()
	err := r.Load(bytes.NewReader([]byte(payload)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not normalized")
}

func TestLoadRejectsInconsistentProbabilities(t *testing.T) {
	// Amplitudes are normalized, but the stored p0/p1 disagree with them:
	// authenticating against such a record would test the wrong expectations.
	payload := `{"Bad": {"serial": "S", "alpha_real": 0.7071067811865476, "alpha_imag": 0, "beta_real": 0.7071067811865476, "beta_imag": 0, "p0": 0.6, "p1": 0.4}}`
	r := NewRegistry()
	err := r.Load(bytes.NewReader([]byte(payload)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent")
}

func TestAmplitudeAngle(t *testing.T) {
	a := Amplitude{Re: 0, Im: 1}
	assert.InDelta(t, math.Pi/2, a.Angle(), 1e-12)
	assert.InDelta(t, 1.0, a.Abs(), 1e-12)
}
