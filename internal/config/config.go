// Package config defines the node's persisted configuration: device
// profile, pin assignments, radio parameters and the weather sampling
// setup. The storage package handles the on-disk binary layout; this
// package owns the in-memory form, per-profile defaults and the
// validated field-mutation surface behind the `set` command.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Profile selects a hardware variant with known pin routing.
type Profile uint8

const (
	ProfileCustom Profile = 0 // free pin assignment
	ProfileTBeam  Profile = 1 // pin-constrained: radio wiring is fixed on-board
	ProfileHeltec Profile = 2
)

func (p Profile) String() string {
	switch p {
	case ProfileCustom:
		return "custom"
	case ProfileTBeam:
		return "tbeam"
	case ProfileHeltec:
		return "heltec"
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

// PinConstrained reports whether the profile's radio wiring is fixed,
// making a forced pin reset a sensible bringup fallback.
func (p Profile) PinConstrained() bool { return p == ProfileTBeam }

// ParseProfile accepts a profile name or numeric selector.
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "custom", "0":
		return ProfileCustom, nil
	case "tbeam", "1":
		return ProfileTBeam, nil
	case "heltec", "2":
		return ProfileHeltec, nil
	}
	return 0, fmt.Errorf("config: unknown profile %q", s)
}

// Pins is the radio SPI/control pin assignment.
type Pins struct {
	SCK  uint8
	MISO uint8
	MOSI uint8
	NSS  uint8
	RST  uint8
	BUSY uint8
	DIO1 uint8
}

// NodeConfig is the persisted device profile. Zero value is not usable;
// construct with Defaults.
type NodeConfig struct {
	Profile Profile
	NodeID  uint16
	Pins    Pins

	FreqKHz       uint32 // carrier frequency in kHz
	BandwidthHz   uint32
	SpreadFactor  uint8
	CodingRate    uint8 // denominator of 4/x
	SyncWord      uint8
	PreambleLen   uint16
	TCXOMillivolt uint16 // 0 = no TCXO
	PowerDbm      int8
	RFSwitch      uint8 // 0 = none, 1 = DIO2-controlled
	Bluetooth     bool
}

// canonicalPins maps each profile to its known-good wiring.
var canonicalPins = map[Profile]Pins{
	ProfileCustom: {SCK: 5, MISO: 19, MOSI: 27, NSS: 18, RST: 23, BUSY: 26, DIO1: 33},
	ProfileTBeam:  {SCK: 5, MISO: 19, MOSI: 27, NSS: 18, RST: 23, BUSY: 32, DIO1: 33},
	ProfileHeltec: {SCK: 9, MISO: 11, MOSI: 10, NSS: 8, RST: 12, BUSY: 13, DIO1: 14},
}

// CanonicalPins returns the profile's fixed wiring.
func CanonicalPins(p Profile) Pins {
	if pins, ok := canonicalPins[p]; ok {
		return pins
	}
	return canonicalPins[ProfileCustom]
}

// DefaultPowerDbm returns the profile's default transmit power.
func DefaultPowerDbm(p Profile) int8 {
	if p == ProfileHeltec {
		return 14
	}
	return 17
}

// Defaults builds the hard-coded configuration for a profile, used on
// first boot, on explicit profile switch, and as the migration filler
// for fields absent from legacy persisted layouts.
func Defaults(p Profile, nodeID uint16) *NodeConfig {
	return &NodeConfig{
		Profile:       p,
		NodeID:        nodeID,
		Pins:          CanonicalPins(p),
		FreqKHz:       868000,
		BandwidthHz:   125000,
		SpreadFactor:  9,
		CodingRate:    7,
		SyncWord:      0x12,
		PreambleLen:   8,
		TCXOMillivolt: 1600,
		PowerDbm:      DefaultPowerDbm(p),
		RFSwitch:      1,
		Bluetooth:     true,
	}
}

// ─── set <key> <value> surface ────────────────────────────────────────────

// ErrUnknownKey marks a `set` against a key the table does not carry.
var ErrUnknownKey = errors.New("config: unknown key")

type fieldDef struct {
	set func(c *NodeConfig, v string) error
	get func(c *NodeConfig) string
}

func pinField(sel func(*NodeConfig) *uint8) fieldDef {
	return fieldDef{
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil {
				return fmt.Errorf("config: pin must be 0..255: %w", err)
			}
			*sel(c) = uint8(n)
			return nil
		},
		get: func(c *NodeConfig) string {
			return strconv.FormatUint(uint64(*sel(c)), 10)
		},
	}
}

// fields maps every settable key to its accessor. Aliases point at the
// same fieldDef, so `set ss 18` and `set nss 18` mutate the same pin
// and report the same value.
var fields = map[string]fieldDef{
	"freq": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < 137000 || n > 1020000 {
				return fmt.Errorf("config: freq must be 137000..1020000 kHz")
			}
			c.FreqKHz = uint32(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.FreqKHz), 10) },
	},
	"bw": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < 7800 || n > 500000 {
				return fmt.Errorf("config: bw must be 7800..500000 Hz")
			}
			c.BandwidthHz = uint32(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.BandwidthHz), 10) },
	},
	"sf": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < 5 || n > 12 {
				return fmt.Errorf("config: sf must be 5..12")
			}
			c.SpreadFactor = uint8(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.SpreadFactor), 10) },
	},
	"cr": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < 5 || n > 8 {
				return fmt.Errorf("config: cr must be 5..8")
			}
			c.CodingRate = uint8(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.CodingRate), 10) },
	},
	"sync": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 0, 8)
			if err != nil {
				return fmt.Errorf("config: sync word must be a byte: %w", err)
			}
			c.SyncWord = uint8(n)
			return nil
		},
		get: func(c *NodeConfig) string { return fmt.Sprintf("0x%02x", c.SyncWord) },
	},
	"preamble": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 16)
			if err != nil || n < 6 || n > 65535 {
				return fmt.Errorf("config: preamble must be 6..65535 symbols")
			}
			c.PreambleLen = uint16(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.PreambleLen), 10) },
	},
	"tcxo": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 16)
			if err != nil || n > 3300 {
				return fmt.Errorf("config: tcxo must be 0..3300 mV")
			}
			c.TCXOMillivolt = uint16(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.TCXOMillivolt), 10) },
	},
	"power": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseInt(v, 10, 8)
			if err != nil || n < -9 || n > 22 {
				return fmt.Errorf("config: power must be -9..22 dBm")
			}
			c.PowerDbm = int8(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatInt(int64(c.PowerDbm), 10) },
	},
	"rfswitch": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n > 1 {
				return fmt.Errorf("config: rfswitch must be 0 or 1")
			}
			c.RFSwitch = uint8(n)
			return nil
		},
		get: func(c *NodeConfig) string { return strconv.FormatUint(uint64(c.RFSwitch), 10) },
	},
	"nodeid": {
		set: func(c *NodeConfig, v string) error {
			n, err := strconv.ParseUint(v, 0, 16)
			if err != nil || n == 0 || n == 0xFFFF {
				return fmt.Errorf("config: nodeid must be 1..0xFFFE")
			}
			c.NodeID = uint16(n)
			return nil
		},
		get: func(c *NodeConfig) string { return fmt.Sprintf("0x%04x", c.NodeID) },
	},
	"sck":  pinField(func(c *NodeConfig) *uint8 { return &c.Pins.SCK }),
	"miso": pinField(func(c *NodeConfig) *uint8 { return &c.Pins.MISO }),
	"mosi": pinField(func(c *NodeConfig) *uint8 { return &c.Pins.MOSI }),
	"nss":  pinField(func(c *NodeConfig) *uint8 { return &c.Pins.NSS }),
	"rst":  pinField(func(c *NodeConfig) *uint8 { return &c.Pins.RST }),
	"busy": pinField(func(c *NodeConfig) *uint8 { return &c.Pins.BUSY }),
	"dio1": pinField(func(c *NodeConfig) *uint8 { return &c.Pins.DIO1 }),
}

// aliases are alternate names for the same physical field.
var aliases = map[string]string{
	"ss":  "nss", // chip select goes by both names in wiring guides
	"cs":  "nss",
	"dio": "dio1",
}

func resolve(key string) (fieldDef, bool) {
	if canon, ok := aliases[key]; ok {
		key = canon
	}
	f, ok := fields[key]
	return f, ok
}

// Set mutates one field by its lower-cased key, applying per-key
// validation. Aliased keys resolve to the same underlying field.
func (c *NodeConfig) Set(key, value string) error {
	f, ok := resolve(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f.set(c, value)
}

// Get reads one field by key (aliases included).
func (c *NodeConfig) Get(key string) (string, error) {
	f, ok := resolve(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f.get(c), nil
}

// Keys lists the canonical settable keys, sorted.
func Keys() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ApplyProfile switches the device profile, resetting pins and power to
// the new profile's hard-coded defaults while keeping radio parameters
// the operator already tuned.
func (c *NodeConfig) ApplyProfile(p Profile) {
	c.Profile = p
	c.Pins = CanonicalPins(p)
	c.PowerDbm = DefaultPowerDbm(p)
}

// ─── weather ──────────────────────────────────────────────────────────────

// MaxSensors bounds the weather sensor list.
const MaxSensors = 6

// MinSampleIntervalMs is the lower clamp for the weather interval.
const MinSampleIntervalMs = 500

// Sensor describes one weather input pin.
type Sensor struct {
	Pin    uint8
	Analog bool
}

// WeatherConfig is the independent persisted weather blob.
type WeatherConfig struct {
	Enabled    bool
	IntervalMs uint32
	Sensors    []Sensor
}

// DefaultWeather returns the disabled default.
func DefaultWeather() *WeatherConfig {
	return &WeatherConfig{IntervalMs: 60000}
}

// Normalize clamps the interval and truncates excess sensors. Applied
// on every load and mutation so a hostile blob cannot configure a
// sub-500ms sampling loop.
func (w *WeatherConfig) Normalize() {
	if w.IntervalMs < MinSampleIntervalMs {
		w.IntervalMs = MinSampleIntervalMs
	}
	if len(w.Sensors) > MaxSensors {
		w.Sensors = w.Sensors[:MaxSensors]
	}
}

// AddSensor appends a sensor descriptor, enforcing the bound.
func (w *WeatherConfig) AddSensor(s Sensor) error {
	if len(w.Sensors) >= MaxSensors {
		return fmt.Errorf("config: at most %d sensors", MaxSensors)
	}
	w.Sensors = append(w.Sensors, s)
	return nil
}
