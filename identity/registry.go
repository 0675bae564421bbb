package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnknownDevice is returned when a lookup names a device that was never
// registered.
var ErrUnknownDevice = errors.New("unknown device")

// A Registry stores device identities keyed by device id. It is safe for
// concurrent use: authentication of distinct devices may proceed in parallel.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceIdentity
}

// NewRegistry returns an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceIdentity)}
}

// Register derives and stores the identity for a device. Re-registering an id
// overwrites the previous identity.
func (r *Registry) Register(id, serial, secret string) DeviceIdentity {
	alpha, beta := Derive(serial, secret)
	d := DeviceIdentity{
		ID:     id,
		Serial: serial,
		Alpha:  alpha,
		Beta:   beta,
		P0:     alpha.Abs2(),
		P1:     beta.Abs2(),
	}
	r.mu.Lock()
	r.devices[id] = d
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"device_id": id,
		"p0":        d.P0,
		"p1":        d.P1,
	}).Info("Registered device identity")
	return d
}

// Lookup returns the identity registered under id, or ErrUnknownDevice.
func (r *Registry) Lookup(id string) (DeviceIdentity, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return DeviceIdentity{}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	return d, nil
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// IDs returns the ids of all registered devices, in map order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// identityRecord is the persisted form of one device identity. The amplitude
// components are stored as separate real/imaginary fields so that loading
// reconstructs the exact complex values.
type identityRecord struct {
	Serial    string  `json:"serial"`
	AlphaReal float64 `json:"alpha_real"`
	AlphaImag float64 `json:"alpha_imag"`
	BetaReal  float64 `json:"beta_real"`
	BetaImag  float64 `json:"beta_imag"`
	P0        float64 `json:"p0"`
	P1        float64 `json:"p1"`
}

// Save writes the registry as a keyed JSON collection.
func (r *Registry) Save(w io.Writer) error {
	r.mu.RLock()
	records := make(map[string]identityRecord, len(r.devices))
	for id, d := range r.devices {
		records[id] = identityRecord{
			Serial:    d.Serial,
			AlphaReal: d.Alpha.Re,
			AlphaImag: d.Alpha.Im,
			BetaReal:  d.Beta.Re,
			BetaImag:  d.Beta.Im,
			P0:        d.P0,
			P1:        d.P1,
		}
	}
	r.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Load replaces the registry contents with a previously saved collection.
// Every loaded identity is re-checked against the normalization invariant.
func (r *Registry) Load(rd io.Reader) error {
	var records map[string]identityRecord
	if err := json.NewDecoder(rd).Decode(&records); err != nil {
		return fmt.Errorf("decoding identity records: %w", err)
	}
	devices := make(map[string]DeviceIdentity, len(records))
	for id, rec := range records {
		d := DeviceIdentity{
			ID:     id,
			Serial: rec.Serial,
			Alpha:  Amplitude{Re: rec.AlphaReal, Im: rec.AlphaImag},
			Beta:   Amplitude{Re: rec.BetaReal, Im: rec.BetaImag},
			P0:     rec.P0,
			P1:     rec.P1,
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("loading identity records: %w", err)
		}
		devices[id] = d
	}
	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()

	logrus.WithField("devices", len(devices)).Info("Loaded identity registry")
	return nil
}
