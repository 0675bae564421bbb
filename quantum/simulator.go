package quantum

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
)

// MaxSimulatedQubits bounds the register size the statevector simulator will
// accept. The protocol only ever builds one- and two-qubit circuits, so the
// bound is generous.
const MaxSimulatedQubits = 8

// A NoiseModel describes error channels injected by a simulated backend.
// Noise is purely a backend configuration: callers use it to emulate
// eavesdropping or channel tampering, and protocol logic never branches on
// whether noise is present.
type NoiseModel struct {
	// BitFlip is the probability, per execution and per qubit, that every
	// measured outcome of that execution has the qubit's bit flipped.
	// Emulates an intercept-resend eavesdropper disturbing the transmitted
	// qubit: the disturbance persists across all shots of one transmission,
	// so it survives majority voting.
	BitFlip float64

	// Depolarizing is the probability, per gate and per involved qubit, that
	// a uniformly random Pauli error is applied after the gate. Emulates
	// channel tampering.
	Depolarizing float64
}

func (n NoiseModel) isZero() bool {
	return n.BitFlip == 0 && n.Depolarizing == 0
}

// A Simulator is a small statevector simulator implementing Backend. It is
// deterministic for a fixed seed and circuit sequence, which is what makes
// repeatable protocol tests possible.
//
// A Simulator is not safe for concurrent use; callers that parallelize
// backend calls must give each worker its own Simulator (see Fork).
type Simulator struct {
	rand  *rand.Rand
	noise NoiseModel
}

// NewSimulator returns a noiseless simulator drawing measurement randomness
// from r.
func NewSimulator(r *rand.Rand) *Simulator {
	return &Simulator{rand: r}
}

// WithNoise returns a copy of s configured with the given noise model. The
// randomness source is shared with s.
func (s *Simulator) WithNoise(n NoiseModel) *Simulator {
	return &Simulator{rand: s.rand, noise: n}
}

// Fork returns an independent simulator with the same noise model, seeded
// from s's randomness source. Each fork may be used by a separate worker.
func (s *Simulator) Fork() *Simulator {
	return &Simulator{
		rand:  rand.New(rand.NewSource(s.rand.Int63())),
		noise: s.noise,
	}
}

// Split implements the Splitter interface.
func (s *Simulator) Split() Backend {
	return s.Fork()
}

// Execute implements the Backend interface.
func (s *Simulator) Execute(c *Circuit, shots int) (Histogram, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Qubits > MaxSimulatedQubits {
		return nil, fmt.Errorf("%w: %d qubits exceeds simulator limit %d", ErrMalformedCircuit, c.Qubits, MaxSimulatedQubits)
	}
	if shots < 1 {
		return nil, fmt.Errorf("executing circuit with %d shots", shots)
	}

	hist := make(Histogram)
	flips := s.flipMask(c.Qubits)
	if s.noise.Depolarizing == 0 {
		// The evolution is deterministic, so run the gates once and draw all
		// shots from the final distribution.
		state := s.run(c, false)
		for i := 0; i < shots; i++ {
			hist[s.measure(state, c.Qubits, flips)]++
		}
		return hist, nil
	}
	// Pauli errors land at random points per shot, so each shot evolves its
	// own state.
	for i := 0; i < shots; i++ {
		state := s.run(c, true)
		hist[s.measure(state, c.Qubits, flips)]++
	}
	return hist, nil
}

// flipMask draws the per-execution bit-flip pattern.
func (s *Simulator) flipMask(qubits int) int {
	if s.noise.BitFlip == 0 {
		return 0
	}
	var mask int
	for q := 0; q < qubits; q++ {
		if s.rand.Float64() < s.noise.BitFlip {
			mask |= 1 << q
		}
	}
	return mask
}

func (s *Simulator) run(c *Circuit, noisy bool) []complex128 {
	state := make([]complex128, 1<<c.Qubits)
	state[0] = 1
	for _, g := range c.Gates {
		switch g.Kind {
		case GateX:
			applySingle(state, g.Target, pauliX)
		case GateH:
			applySingle(state, g.Target, hadamard)
		case GateRY:
			applySingle(state, g.Target, rotationY(g.Angle))
		case GateRZ:
			applySingle(state, g.Target, rotationZ(g.Angle))
		case GateCX:
			applyCX(state, g.Control, g.Target)
		}
		if noisy {
			s.depolarize(state, g)
		}
	}
	return state
}

func (s *Simulator) depolarize(state []complex128, g Gate) {
	qubits := []int{g.Target}
	if g.Kind == GateCX {
		qubits = append(qubits, g.Control)
	}
	for _, q := range qubits {
		if s.rand.Float64() >= s.noise.Depolarizing {
			continue
		}
		switch s.rand.Intn(3) {
		case 0:
			applySingle(state, q, pauliX)
		case 1:
			applySingle(state, q, pauliY)
		case 2:
			applySingle(state, q, pauliZ)
		}
	}
}

// measure samples one outcome from the statevector distribution and applies
// the execution's bit-flip pattern.
func (s *Simulator) measure(state []complex128, qubits, flips int) string {
	u := s.rand.Float64()
	idx := len(state) - 1
	var cum float64
	for i, amp := range state {
		cum += real(amp)*real(amp) + imag(amp)*imag(amp)
		if u < cum {
			idx = i
			break
		}
	}
	return outcomeString(idx^flips, qubits)
}

// outcomeString renders a basis-state index with qubit 0 as the leftmost
// character.
func outcomeString(idx, qubits int) string {
	b := make([]byte, qubits)
	for q := 0; q < qubits; q++ {
		if idx&(1<<q) != 0 {
			b[q] = '1'
		} else {
			b[q] = '0'
		}
	}
	return string(b)
}

type mat2 [2][2]complex128

var (
	pauliX   = mat2{{0, 1}, {1, 0}}
	pauliY   = mat2{{0, -1i}, {1i, 0}}
	pauliZ   = mat2{{1, 0}, {0, -1}}
	hadamard = mat2{
		{complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0)},
		{complex(1/math.Sqrt2, 0), complex(-1/math.Sqrt2, 0)},
	}
)

func rotationY(theta float64) mat2 {
	c := complex(math.Cos(theta/2), 0)
	sn := complex(math.Sin(theta/2), 0)
	return mat2{{c, -sn}, {sn, c}}
}

func rotationZ(phi float64) mat2 {
	return mat2{
		{cmplx.Exp(complex(0, -phi/2)), 0},
		{0, cmplx.Exp(complex(0, phi/2))},
	}
}

// applySingle applies a one-qubit gate to qubit q of the statevector, i.e. to
// every amplitude pair differing only in bit q.
func applySingle(state []complex128, q int, m mat2) {
	bit := 1 << q
	for i := range state {
		if i&bit != 0 {
			continue
		}
		a0, a1 := state[i], state[i|bit]
		state[i] = m[0][0]*a0 + m[0][1]*a1
		state[i|bit] = m[1][0]*a0 + m[1][1]*a1
	}
}

func applyCX(state []complex128, control, target int) {
	cbit, tbit := 1<<control, 1<<target
	for i := range state {
		if i&cbit == 0 || i&tbit != 0 {
			continue
		}
		state[i], state[i|tbit] = state[i|tbit], state[i]
	}
}
