// Package quantum provides an abstract circuit description and the execution
// backend interface that the protocol engines consume. Backends accept a
// circuit and a shot count and return a histogram of measurement outcomes;
// everything else about how outcomes are produced is a backend concern.
package quantum

import (
	"errors"
	"fmt"
)

// ErrMalformedCircuit indicates a circuit that no backend can execute, e.g.
// one referencing a qubit outside its register.
var ErrMalformedCircuit = errors.New("malformed circuit")

// A Histogram maps a measurement outcome bitstring to the number of shots
// that produced it. Qubit 0 is the leftmost character of the bitstring. The
// counts of a well-formed histogram sum to the requested shot count.
type Histogram map[string]int

// Total returns the sum of all counts in h.
func (h Histogram) Total() int {
	var n int
	for _, c := range h {
		n += c
	}
	return n
}

// MostFrequent returns the outcome with the highest count. Ties break toward
// the lexicographically smaller bitstring so that the result is deterministic
// for a fixed histogram.
func (h Histogram) MostFrequent() string {
	var best string
	bestCount := -1
	for outcome, c := range h {
		if c > bestCount || (c == bestCount && outcome < best) {
			best, bestCount = outcome, c
		}
	}
	return best
}

// A Backend executes an abstract circuit description for a number of shots
// and returns the outcome histogram. Implementations may be remote hardware,
// simulators, or scripted stubs; callers must treat every outcome as
// probabilistic.
type Backend interface {
	Execute(c *Circuit, shots int) (Histogram, error)
}

// A Splitter is a backend that can mint independent backends for concurrent
// workers. Engines that parallelize their shot batches split the backend when
// they can and otherwise share it, so backends that are not safe for
// concurrent use should implement Splitter.
type Splitter interface {
	Backend
	Split() Backend
}

// GateKind enumerates the gate set understood by backends.
type GateKind int

const (
	GateX GateKind = iota
	GateH
	GateRY
	GateRZ
	GateCX
)

func (k GateKind) String() string {
	switch k {
	case GateX:
		return "x"
	case GateH:
		return "h"
	case GateRY:
		return "ry"
	case GateRZ:
		return "rz"
	case GateCX:
		return "cx"
	}
	return fmt.Sprintf("gate(%d)", int(k))
}

// A Gate is a single operation in a circuit. Control is meaningful only for
// GateCX; Angle only for the rotation gates.
type Gate struct {
	Kind    GateKind
	Target  int
	Control int
	Angle   float64
}

// A Circuit describes a small register of qubits and a gate sequence applied
// to it. Execution measures every qubit in the computational basis after the
// final gate.
type Circuit struct {
	Qubits int
	Gates  []Gate
}

// NewCircuit returns an empty circuit over the given number of qubits.
func NewCircuit(qubits int) *Circuit {
	return &Circuit{Qubits: qubits}
}

// X appends a Pauli-X (bit flip) on qubit q.
func (c *Circuit) X(q int) *Circuit {
	c.Gates = append(c.Gates, Gate{Kind: GateX, Target: q})
	return c
}

// H appends a Hadamard on qubit q.
func (c *Circuit) H(q int) *Circuit {
	c.Gates = append(c.Gates, Gate{Kind: GateH, Target: q})
	return c
}

// RY appends a rotation about the Y axis by theta on qubit q.
func (c *Circuit) RY(q int, theta float64) *Circuit {
	c.Gates = append(c.Gates, Gate{Kind: GateRY, Target: q, Angle: theta})
	return c
}

// RZ appends a rotation about the Z axis by phi on qubit q.
func (c *Circuit) RZ(q int, phi float64) *Circuit {
	c.Gates = append(c.Gates, Gate{Kind: GateRZ, Target: q, Angle: phi})
	return c
}

// CX appends a controlled-X with the given control and target qubits.
func (c *Circuit) CX(control, target int) *Circuit {
	c.Gates = append(c.Gates, Gate{Kind: GateCX, Target: target, Control: control})
	return c
}

// Validate reports whether c is executable: a positive register size and all
// gate operands in range.
func (c *Circuit) Validate() error {
	if c == nil || c.Qubits < 1 {
		return fmt.Errorf("%w: empty register", ErrMalformedCircuit)
	}
	for i, g := range c.Gates {
		if g.Target < 0 || g.Target >= c.Qubits {
			return fmt.Errorf("%w: gate %d (%v) targets qubit %d of %d", ErrMalformedCircuit, i, g.Kind, g.Target, c.Qubits)
		}
		if g.Kind == GateCX {
			if g.Control < 0 || g.Control >= c.Qubits {
				return fmt.Errorf("%w: gate %d (cx) controls qubit %d of %d", ErrMalformedCircuit, i, g.Control, c.Qubits)
			}
			if g.Control == g.Target {
				return fmt.Errorf("%w: gate %d (cx) has control == target", ErrMalformedCircuit, i)
			}
		}
	}
	return nil
}
