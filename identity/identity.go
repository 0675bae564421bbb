// Package identity derives and stores per-device quantum identity parameters.
//
// Each device is assigned a quantum identity state |psi> = alpha|0> + beta|1>
// whose amplitudes are derived deterministically from the device serial and a
// manufacturer secret. The registry is an explicit store object: components
// that need lookups hold a reference to it, never ambient global state.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// NormTolerance is the floating-point tolerance within which the
// normalization invariant |alpha|^2 + |beta|^2 = 1 must hold.
const NormTolerance = 1e-6

// DefaultSecret is the manufacturer secret used when none is supplied.
const DefaultSecret = "DEFAULT_SECRET"

// An Amplitude is one complex amplitude of a qubit state, represented as an
// explicit (real, imaginary) pair so that it round-trips exactly through
// serialization.
type Amplitude struct {
	Re float64
	Im float64
}

// Abs2 returns |a|^2.
func (a Amplitude) Abs2() float64 {
	return a.Re*a.Re + a.Im*a.Im
}

// Angle returns the phase of a in radians.
func (a Amplitude) Angle() float64 {
	return math.Atan2(a.Im, a.Re)
}

// Abs returns |a|.
func (a Amplitude) Abs() float64 {
	return math.Sqrt(a.Abs2())
}

// A DeviceIdentity holds the immutable quantum identity parameters of one
// registered device, including the expected measurement probabilities
// P0 = |alpha|^2 and P1 = |beta|^2.
type DeviceIdentity struct {
	ID     string
	Serial string
	Alpha  Amplitude
	Beta   Amplitude
	P0     float64
	P1     float64
}

// Validate checks the normalization invariant and that the stored
// measurement probabilities agree with the amplitudes.
func (d DeviceIdentity) Validate() error {
	norm := d.Alpha.Abs2() + d.Beta.Abs2()
	if math.Abs(norm-1) > NormTolerance {
		return fmt.Errorf("identity %q amplitudes not normalized: |a|^2+|b|^2 = %g", d.ID, norm)
	}
	if math.Abs(d.P0-d.Alpha.Abs2()) > NormTolerance || math.Abs(d.P1-d.Beta.Abs2()) > NormTolerance {
		return fmt.Errorf("identity %q probabilities inconsistent with amplitudes: p0 = %g vs |a|^2 = %g, p1 = %g vs |b|^2 = %g",
			d.ID, d.P0, d.Alpha.Abs2(), d.P1, d.Beta.Abs2())
	}
	return nil
}

// Derive maps classical identifiers onto quantum identity amplitudes:
//
//	(alpha, beta) = QID-Hash(serial, secret)
//
// The SHA-256 digest of "serial:secret" is partitioned into two 64-bit
// integers mapped onto angles theta, phi in [0, 2pi), giving
// alpha = cos(theta/2)*e^(i*phi) and beta = sin(theta/2). The mapping is
// bit-reproducible across runs and platforms for identical inputs.
func Derive(serial, secret string) (alpha, beta Amplitude) {
	digest := sha256.Sum256([]byte(serial + ":" + secret))
	theta := angleFromBytes(digest[0:8])
	phi := angleFromBytes(digest[8:16])

	mag := math.Cos(theta / 2)
	alpha = Amplitude{Re: mag * math.Cos(phi), Im: mag * math.Sin(phi)}
	beta = Amplitude{Re: math.Sin(theta / 2)}
	return alpha, beta
}

// angleFromBytes maps 8 big-endian bytes onto [0, 2pi).
func angleFromBytes(b []byte) float64 {
	const twoPow64 = 1 << 63 * 2.0
	return float64(binary.BigEndian.Uint64(b)) / twoPow64 * 2 * math.Pi
}
