// Package protocol orchestrates the full device-onboarding handshake: quantum
// authentication, BB84 key distribution, and entanglement-based tamper
// verification, in that order. Any phase can abort the session; an abort
// discards all key material and no later phase runs.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qnative/qniot/auth"
	"github.com/qnative/qniot/entangle"
	"github.com/qnative/qniot/identity"
	"github.com/qnative/qniot/qkd"
	"github.com/qnative/qniot/quantum"
	"github.com/qnative/qniot/session"
)

// Abort reasons recorded on a Session. QKD aborts carry the reason reported
// by the qkd package instead.
const (
	AbortAuthFailed = "Authentication failure"
	AbortTampering  = "Tampering detected"
)

// Channel noise injected per attack model. Eavesdropping models an
// intercept-resend attacker on the quantum channel. Tampering degrades the
// entanglement source heavily while only lightly disturbing the
// authentication channel, so tampered sessions still pass Phase 1 and are
// caught by the verification phase.
const (
	EavesdropBitFlip       = 0.25
	AuthTamperDepolarizing = 0.01
	TamperDepolarizing     = 0.10
)

// A State names a position in the session state machine.
type State int

const (
	StateInit State = iota
	StateAuthenticating
	StateKeyDistribution
	StateTamperVerification
	StateSessionReady
	StateAborted
)

var stateNames = map[State]string{
	StateInit:               "init",
	StateAuthenticating:     "authenticating",
	StateKeyDistribution:    "key_distribution",
	StateTamperVerification: "tamper_verification",
	StateSessionReady:       "session_ready",
	StateAborted:            "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler so states serialize by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// An AttackModel selects which adversary, if any, is injected into the
// quantum channel for a run.
type AttackModel int

const (
	AttackNone AttackModel = iota
	AttackEavesdrop
	AttackTamper
)

func (a AttackModel) String() string {
	switch a {
	case AttackNone:
		return "none"
	case AttackEavesdrop:
		return "eavesdrop"
	case AttackTamper:
		return "tamper"
	}
	return fmt.Sprintf("attack(%d)", int(a))
}

// ParseAttack maps a flag value to an AttackModel.
func ParseAttack(s string) (AttackModel, error) {
	switch s {
	case "", "none":
		return AttackNone, nil
	case "eavesdrop":
		return AttackEavesdrop, nil
	case "tamper":
		return AttackTamper, nil
	}
	return AttackNone, fmt.Errorf("unknown attack model %q", s)
}

// Timing records wall-clock durations per phase.
type Timing struct {
	Auth            time.Duration `json:"authentication"`
	KeyDistribution time.Duration `json:"key_distribution"`
	TamperCheck     time.Duration `json:"tamper_check"`
	Total           time.Duration `json:"total"`
}

// A Session records one orchestrated handshake. Phase results are nil for
// phases that never ran. Key is non-nil iff the session reached
// StateSessionReady, and is deliberately excluded from serialization.
type Session struct {
	DeviceID    string    `json:"device_id"`
	StartedAt   time.Time `json:"started_at"`
	State       State     `json:"state"`
	Success     bool      `json:"success"`
	AbortReason string    `json:"abort_reason,omitempty"`

	Auth     *auth.Result     `json:"authentication,omitempty"`
	QKD      *qkd.Result      `json:"key_distribution,omitempty"`
	Entangle *entangle.Result `json:"tamper_check,omitempty"`
	Timing   Timing           `json:"timing"`

	Key *session.Key `json:"-"`
}

// Zero discards all key material held by the session.
func (s *Session) Zero() {
	if s.QKD != nil {
		s.QKD.Zeroize()
	}
	if s.Key != nil {
		s.Key.Zero()
	}
}

func (s *Session) abort(reason string) {
	s.State = StateAborted
	s.Success = false
	s.AbortReason = reason
}

// Config assembles the three phase configurations. Registry is required;
// the QKD configuration must carry a Rand source.
type Config struct {
	Registry *identity.Registry
	Auth     auth.Config
	QKD      qkd.Config
	Entangle entangle.Config
	Attack   AttackModel
}

// An Orchestrator drives sessions through the handshake state machine. It is
// stateless across runs.
type Orchestrator struct {
	cfg      Config
	auth     *auth.Authenticator
	qkd      *qkd.Protocol
	verifier *entangle.Verifier
}

// New builds an Orchestrator, validating each phase configuration.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("must provide Registry")
	}
	a, err := auth.New(cfg.Registry, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	q, err := qkd.New(cfg.QKD)
	if err != nil {
		return nil, fmt.Errorf("qkd config: %w", err)
	}
	v, err := entangle.New(cfg.Entangle)
	if err != nil {
		return nil, fmt.Errorf("entangle config: %w", err)
	}
	return &Orchestrator{cfg: cfg, auth: a, qkd: q, verifier: v}, nil
}

// Run executes a full session for the given device against backend. A false
// Session.Success is a protocol-level abort, not an error; errors are
// reserved for unknown devices, backend failures, and misuse.
//
// Attack models other than AttackNone require a *quantum.Simulator backend,
// since noise is injected through its noise model.
func (o *Orchestrator) Run(deviceID string, backend quantum.Backend) (*Session, error) {
	authBackend, qkdBackend, verifyBackend, err := o.phaseBackends(backend)
	if err != nil {
		return nil, err
	}

	s := &Session{
		DeviceID:  deviceID,
		StartedAt: time.Now(),
		State:     StateInit,
	}
	log := logrus.WithFields(logrus.Fields{
		"device": deviceID,
		"attack": o.cfg.Attack.String(),
	})
	defer func() {
		s.Timing.Total = time.Since(s.StartedAt)
	}()

	s.State = StateAuthenticating
	start := time.Now()
	authRes, err := o.auth.Authenticate(deviceID, authBackend)
	s.Timing.Auth = time.Since(start)
	if err != nil {
		return s, err
	}
	s.Auth = &authRes
	if !authRes.Success {
		s.abort(AbortAuthFailed)
		log.WithField("max_deviation", authRes.MaxDeviation).Warn("session aborted: authentication failure")
		return s, nil
	}

	s.State = StateKeyDistribution
	start = time.Now()
	qkdRes, err := o.qkd.Run(qkdBackend)
	s.Timing.KeyDistribution = time.Since(start)
	if err != nil {
		return s, err
	}
	s.QKD = &qkdRes
	if !qkdRes.Success {
		s.abort(qkdRes.AbortReason)
		log.WithField("qber", qkdRes.QBER).Warn("session aborted: key distribution failed")
		return s, nil
	}

	s.State = StateTamperVerification
	start = time.Now()
	entRes, err := o.verifier.Verify(verifyBackend)
	s.Timing.TamperCheck = time.Since(start)
	if err != nil {
		s.Zero()
		return s, err
	}
	s.Entangle = &entRes
	if entRes.TamperingDetected {
		// The distilled key could already be known to the adversary.
		s.Zero()
		s.abort(AbortTampering)
		log.WithFields(logrus.Fields{
			"avg_fidelity": entRes.AverageFidelity,
			"chsh":         entRes.CHSH.Value,
		}).Warn("session aborted: tampering detected, key material destroyed")
		return s, nil
	}

	key, err := session.NewKey(qkdRes.FinalKey)
	if err != nil {
		s.Zero()
		return s, err
	}
	// Raw sifted bits are no longer needed once the session key exists.
	s.QKD.Zeroize()
	s.Key = key
	s.State = StateSessionReady
	s.Success = true
	log.WithFields(logrus.Fields{
		"final_bits": qkdRes.FinalBits,
		"elapsed":    time.Since(s.StartedAt),
	}).Info("session established")
	return s, nil
}

// phaseBackends applies the configured attack model to the base backend.
// Eavesdropping perturbs the QKD channel; tampering perturbs the channels
// the authentication and verification phases observe.
func (o *Orchestrator) phaseBackends(backend quantum.Backend) (authB, qkdB, verifyB quantum.Backend, err error) {
	if o.cfg.Attack == AttackNone {
		return backend, backend, backend, nil
	}
	sim, ok := backend.(*quantum.Simulator)
	if !ok {
		return nil, nil, nil, fmt.Errorf("attack model %s requires a simulator backend", o.cfg.Attack)
	}
	switch o.cfg.Attack {
	case AttackEavesdrop:
		noisy := sim.WithNoise(quantum.NoiseModel{BitFlip: EavesdropBitFlip})
		return sim, noisy, sim, nil
	case AttackTamper:
		authNoisy := sim.WithNoise(quantum.NoiseModel{Depolarizing: AuthTamperDepolarizing})
		verifyNoisy := sim.WithNoise(quantum.NoiseModel{Depolarizing: TamperDepolarizing})
		return authNoisy, sim, verifyNoisy, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown attack model %d", int(o.cfg.Attack))
}
