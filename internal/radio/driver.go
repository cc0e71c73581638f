// Package radio owns the physical radio handle: parameterized bringup
// with a bounded retry matrix, and send/receive over the link.
package radio

import (
	"fmt"
	"time"

	"github.com/meshfield/loranode/internal/config"
)

// Status is a driver-level result code. Zero is success; negative
// values follow the usual radio driver convention.
type Status int

const (
	StatusOK           Status = 0
	StatusChipNotFound Status = -2
	StatusBadParams    Status = -8
	StatusTxFailed     Status = -5
	StatusTimeout      Status = -6
	StatusSPIFailed    Status = -16
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusChipNotFound:
		return "chip not found"
	case StatusBadParams:
		return "invalid parameters"
	case StatusTxFailed:
		return "transmit failed"
	case StatusTimeout:
		return "timeout"
	case StatusSPIFailed:
		return "spi failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Params is one complete begin-sequence parameter set.
type Params struct {
	Pins          config.Pins
	FreqKHz       uint32
	BandwidthHz   uint32
	SpreadFactor  uint8
	CodingRate    uint8
	SyncWord      uint8
	PreambleLen   uint16
	TCXOMillivolt uint16
	PowerDbm      int8
	RFSwitch      uint8
}

// ParamsFrom builds Params from a node configuration.
func ParamsFrom(cfg *config.NodeConfig) Params {
	return Params{
		Pins:          cfg.Pins,
		FreqKHz:       cfg.FreqKHz,
		BandwidthHz:   cfg.BandwidthHz,
		SpreadFactor:  cfg.SpreadFactor,
		CodingRate:    cfg.CodingRate,
		SyncWord:      cfg.SyncWord,
		PreambleLen:   cfg.PreambleLen,
		TCXOMillivolt: cfg.TCXOMillivolt,
		PowerDbm:      cfg.PowerDbm,
		RFSwitch:      cfg.RFSwitch,
	}
}

// Driver is one radio handle. Begin may be called once per handle; the
// Manager re-instantiates handles through a Factory for each bringup
// attempt, mirroring how the firmware rebuilds the chip object when a
// parameter combination fails.
type Driver interface {
	Begin(p Params) Status
	Transmit(data []byte) Status
	// Receive polls for one inbound frame, returning StatusTimeout
	// (and no data) when nothing arrives within timeout. It must not
	// block past the timeout.
	Receive(timeout time.Duration) ([]byte, Status)
	Close() error
}

// Factory creates a fresh Driver handle.
type Factory func() Driver
