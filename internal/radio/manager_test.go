package radio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meshfield/loranode/internal/config"
)

func TestBringupFirstComboSucceeds(t *testing.T) {
	sim := NewSim()
	m := NewManager(sim.Factory(), zap.NewNop())
	cfg := config.Defaults(config.ProfileCustom, 1)

	if err := m.Bringup(cfg); err != nil {
		t.Fatal(err)
	}
	if !m.Ready() {
		t.Fatal("manager not ready after bringup")
	}
	if len(sim.BeginCalls) != 1 {
		t.Fatalf("attempts: got %d, want 1", len(sim.BeginCalls))
	}
	if cfg.PowerDbm != 17 || cfg.TCXOMillivolt != 1600 {
		t.Fatalf("config disturbed: power=%d tcxo=%d", cfg.PowerDbm, cfg.TCXOMillivolt)
	}
}

func TestBringupCommitsThirdCombo(t *testing.T) {
	sim := NewSim()
	attempt := 0
	sim.SetAccept(func(p Params) Status {
		attempt++
		if attempt < 3 {
			return StatusChipNotFound
		}
		return StatusOK
	})
	m := NewManager(sim.Factory(), zap.NewNop())
	cfg := config.Defaults(config.ProfileCustom, 1)

	if err := m.Bringup(cfg); err != nil {
		t.Fatal(err)
	}
	if len(sim.BeginCalls) != 3 {
		t.Fatalf("attempts: got %d, want 3", len(sim.BeginCalls))
	}
	// The committed config must reflect the third candidate, not the
	// original. Matrix order is power-outer, voltage-inner with the
	// configured value first: (17,1600) (17,1800) (17,2400) ...
	third := sim.BeginCalls[2]
	if cfg.PowerDbm != third.PowerDbm || cfg.TCXOMillivolt != third.TCXOMillivolt {
		t.Fatalf("committed power=%d tcxo=%d, attempt had power=%d tcxo=%d",
			cfg.PowerDbm, cfg.TCXOMillivolt, third.PowerDbm, third.TCXOMillivolt)
	}
	if cfg.TCXOMillivolt == 1600 {
		t.Fatal("third combo should differ from the original voltage")
	}
}

func TestBringupExhaustedReturnsLastStatus(t *testing.T) {
	sim := NewSim()
	sim.SetAccept(func(Params) Status { return StatusSPIFailed })
	m := NewManager(sim.Factory(), zap.NewNop())
	cfg := config.Defaults(config.ProfileCustom, 1)

	err := m.Bringup(cfg)
	var be *BringupError
	if !errors.As(err, &be) {
		t.Fatalf("got %v, want BringupError", err)
	}
	if be.Last != StatusSPIFailed {
		t.Fatalf("last status: got %v", be.Last)
	}
	if m.Ready() {
		t.Fatal("manager ready after exhausted bringup")
	}
}

func TestBringupPinConstrainedResetsPinsAndRetries(t *testing.T) {
	sim := NewSim()
	canonical := config.CanonicalPins(config.ProfileTBeam)
	sim.SetAccept(func(p Params) Status {
		if p.Pins != canonical {
			return StatusChipNotFound
		}
		return StatusOK
	})
	m := NewManager(sim.Factory(), zap.NewNop())
	cfg := config.Defaults(config.ProfileTBeam, 1)
	cfg.Pins.SCK = 99 // operator mis-set a fixed pin

	if err := m.Bringup(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Pins != canonical {
		t.Fatalf("pins not reset: %+v", cfg.Pins)
	}
	// One full failed matrix (3 powers × 4 voltages = 12) plus the
	// first attempt of the second pass.
	if len(sim.BeginCalls) != 13 {
		t.Fatalf("attempts: got %d, want 13", len(sim.BeginCalls))
	}
}

func TestBringupCustomProfileNoPinReset(t *testing.T) {
	sim := NewSim()
	sim.SetAccept(func(Params) Status { return StatusChipNotFound })
	m := NewManager(sim.Factory(), zap.NewNop())
	cfg := config.Defaults(config.ProfileCustom, 1)

	if err := m.Bringup(cfg); err == nil {
		t.Fatal("expected failure")
	}
	if len(sim.BeginCalls) != 12 {
		t.Fatalf("attempts: got %d, want one matrix (12)", len(sim.BeginCalls))
	}
}

func TestSendRequiresBringup(t *testing.T) {
	sim := NewSim()
	m := NewManager(sim.Factory(), zap.NewNop())
	if err := m.Send([]byte{1, 2, 3}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
	if _, err := m.Receive(time.Millisecond); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
}

func TestSendReceiveOverLinkedSims(t *testing.T) {
	a, b := NewSim(), NewSim()
	LinkSims(a, b)

	ma := NewManager(a.Factory(), zap.NewNop())
	mb := NewManager(b.Factory(), zap.NewNop())
	cfgA := config.Defaults(config.ProfileCustom, 1)
	cfgB := config.Defaults(config.ProfileCustom, 2)
	if err := ma.Bringup(cfgA); err != nil {
		t.Fatal(err)
	}
	if err := mb.Bringup(cfgB); err != nil {
		t.Fatal(err)
	}

	msg := []byte("over the air")
	if err := ma.Send(msg); err != nil {
		t.Fatal(err)
	}
	got, err := mb.Receive(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("received %q", got)
	}

	// Idle link: timeout is (nil, nil), never an error.
	got, err = mb.Receive(5 * time.Millisecond)
	if got != nil || err != nil {
		t.Fatalf("idle receive: %v, %v", got, err)
	}
}
