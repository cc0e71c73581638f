package radio

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meshfield/loranode/internal/config"
)

// Fallback candidates tried after the configured value. The lists are
// short on purpose: bringup is a bounded retry matrix, not a search.
var (
	fallbackPowersDbm     = []int8{17, 10, 5}
	fallbackTCXOMillivolt = []uint16{1600, 1800, 2400, 0}
)

// ErrNotReady marks send/receive before a successful bringup.
var ErrNotReady = errors.New("radio: bringup has not succeeded")

// BringupError carries the last driver status after the whole retry
// matrix was exhausted.
type BringupError struct {
	Last Status
}

func (e *BringupError) Error() string {
	return fmt.Sprintf("radio: bringup failed, last driver status %d (%s)", int(e.Last), e.Last)
}

// Manager owns the radio handle.
type Manager struct {
	factory Factory
	log     *zap.Logger

	drv   Driver
	ready bool

	// OnAttempt, when set, observes every bringup attempt. Used by
	// tests and the setup progress notification.
	OnAttempt func(p Params, s Status)
}

// NewManager wires a Manager around a driver factory.
func NewManager(factory Factory, log *zap.Logger) *Manager {
	return &Manager{factory: factory, log: log}
}

// Ready reports whether a bringup has succeeded.
func (m *Manager) Ready() bool { return m.ready }

// Bringup walks the power × TCXO-voltage retry matrix, outer to inner,
// trying the configured values first. The first combination the driver
// accepts is committed back into cfg (voltage and power fields) so the
// next save persists a known-working set. Pin-constrained profiles get
// their pins force-reset to the canonical wiring and one more full
// matrix pass before giving up.
func (m *Manager) Bringup(cfg *config.NodeConfig) error {
	last, ok := m.tryMatrix(cfg)
	if ok {
		return nil
	}
	if cfg.Profile.PinConstrained() {
		m.log.Warn("bringup failed, resetting pins to profile canonical wiring",
			zap.String("profile", cfg.Profile.String()))
		cfg.Pins = config.CanonicalPins(cfg.Profile)
		last, ok = m.tryMatrix(cfg)
		if ok {
			return nil
		}
	}
	m.log.Error("radio bringup exhausted", zap.Int("last_status", int(last)))
	return &BringupError{Last: last}
}

func (m *Manager) tryMatrix(cfg *config.NodeConfig) (Status, bool) {
	last := StatusChipNotFound
	for _, power := range candidatesI8(cfg.PowerDbm, fallbackPowersDbm) {
		for _, tcxo := range candidatesU16(cfg.TCXOMillivolt, fallbackTCXOMillivolt) {
			p := ParamsFrom(cfg)
			p.PowerDbm = power
			p.TCXOMillivolt = tcxo

			if m.drv != nil {
				m.drv.Close() //nolint:errcheck
			}
			m.drv = m.factory()
			status := m.drv.Begin(p)
			if m.OnAttempt != nil {
				m.OnAttempt(p, status)
			}
			if status == StatusOK {
				cfg.PowerDbm = power
				cfg.TCXOMillivolt = tcxo
				m.ready = true
				m.log.Info("radio up",
					zap.Int8("power_dbm", power),
					zap.Uint16("tcxo_mv", tcxo),
					zap.Uint32("freq_khz", p.FreqKHz),
					zap.Uint8("sf", p.SpreadFactor))
				return status, true
			}
			m.log.Debug("bringup attempt failed",
				zap.Int8("power_dbm", power),
				zap.Uint16("tcxo_mv", tcxo),
				zap.Int("status", int(status)))
			last = status
		}
	}
	return last, false
}

// Send transmits raw frame bytes. Fails immediately without a
// successful bringup; otherwise the driver's status decides.
func (m *Manager) Send(raw []byte) error {
	if !m.ready {
		return ErrNotReady
	}
	if status := m.drv.Transmit(raw); status != StatusOK {
		return fmt.Errorf("radio: transmit: driver status %d (%s)", int(status), status)
	}
	return nil
}

// Receive polls the radio for at most timeout. No data is (nil, nil):
// a timeout is the normal idle case, not an error.
func (m *Manager) Receive(timeout time.Duration) ([]byte, error) {
	if !m.ready {
		return nil, ErrNotReady
	}
	raw, status := m.drv.Receive(timeout)
	switch status {
	case StatusOK:
		return raw, nil
	case StatusTimeout:
		return nil, nil
	default:
		return nil, fmt.Errorf("radio: receive: driver status %d (%s)", int(status), status)
	}
}

// Close releases the driver handle.
func (m *Manager) Close() error {
	m.ready = false
	if m.drv == nil {
		return nil
	}
	err := m.drv.Close()
	m.drv = nil
	return err
}

// candidatesI8 yields current first, then fallbacks, deduplicated.
func candidatesI8(current int8, fallbacks []int8) []int8 {
	out := []int8{current}
	for _, f := range fallbacks {
		if f != current {
			out = append(out, f)
		}
	}
	return out
}

func candidatesU16(current uint16, fallbacks []uint16) []uint16 {
	out := []uint16{current}
	for _, f := range fallbacks {
		if f != current {
			out = append(out, f)
		}
	}
	return out
}
