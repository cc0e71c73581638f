// Package storage persists the node and weather configuration as
// versioned binary blobs guarded by 4-byte magic constants, and keeps
// an optional SQLite history of mesh traffic. Blob readers accept the
// prior (smaller) layout and upgrade it in place, defaulting fields the
// old layout did not carry.
package storage

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/meshfield/loranode/internal/config"
)

const (
	// NodeMagic guards the node configuration blob ("LORA").
	NodeMagic uint32 = 0x4C4F5241

	// NodeVersion is the current node blob layout version.
	NodeVersion = 2

	// nodeBlobSize is the exact current layout size.
	nodeBlobSize = 33

	// legacyBlobSize is the exact prior layout size: magic(4),
	// deviceType(1), five SPI/control pins, freq(4), bw(4), sf(1),
	// cr(1). No version byte: the layout was identified by size alone.
	legacyBlobSize = 20
)

// ErrNoConfig means the blob is absent, truncated, or fails the magic
// check. Callers fall back to profile defaults; it is never fatal.
var ErrNoConfig = errors.New("storage: no valid config")

// EncodeNodeConfig serialises cfg into the current (v2) layout.
func EncodeNodeConfig(cfg *config.NodeConfig) []byte {
	buf := make([]byte, nodeBlobSize)
	binary.BigEndian.PutUint32(buf[0:4], NodeMagic)
	buf[4] = NodeVersion
	buf[5] = uint8(cfg.Profile)
	binary.BigEndian.PutUint16(buf[6:8], cfg.NodeID)
	buf[8] = cfg.Pins.SCK
	buf[9] = cfg.Pins.MISO
	buf[10] = cfg.Pins.MOSI
	buf[11] = cfg.Pins.NSS
	buf[12] = cfg.Pins.RST
	buf[13] = cfg.Pins.BUSY
	buf[14] = cfg.Pins.DIO1
	binary.BigEndian.PutUint32(buf[15:19], cfg.FreqKHz)
	binary.BigEndian.PutUint32(buf[19:23], cfg.BandwidthHz)
	buf[23] = cfg.SpreadFactor
	buf[24] = cfg.CodingRate
	buf[25] = cfg.SyncWord
	binary.BigEndian.PutUint16(buf[26:28], cfg.PreambleLen)
	binary.BigEndian.PutUint16(buf[28:30], cfg.TCXOMillivolt)
	buf[30] = byte(cfg.PowerDbm)
	buf[31] = cfg.RFSwitch
	if cfg.Bluetooth {
		buf[32] = 1
	}
	return buf
}

// DecodeNodeConfig parses a persisted blob. A current-layout blob
// decodes directly; a legacy-layout blob is upgraded, copying the
// fields it carried and filling the rest from the profile's hard-coded
// defaults. Anything else is ErrNoConfig.
func DecodeNodeConfig(raw []byte) (*config.NodeConfig, error) {
	if len(raw) < 4 || binary.BigEndian.Uint32(raw[0:4]) != NodeMagic {
		return nil, ErrNoConfig
	}
	switch len(raw) {
	case nodeBlobSize:
		if raw[4] != NodeVersion {
			return nil, fmt.Errorf("%w: unknown version %d", ErrNoConfig, raw[4])
		}
		cfg := &config.NodeConfig{
			Profile: config.Profile(raw[5]),
			NodeID:  binary.BigEndian.Uint16(raw[6:8]),
			Pins: config.Pins{
				SCK: raw[8], MISO: raw[9], MOSI: raw[10],
				NSS: raw[11], RST: raw[12], BUSY: raw[13], DIO1: raw[14],
			},
			FreqKHz:       binary.BigEndian.Uint32(raw[15:19]),
			BandwidthHz:   binary.BigEndian.Uint32(raw[19:23]),
			SpreadFactor:  raw[23],
			CodingRate:    raw[24],
			SyncWord:      raw[25],
			PreambleLen:   binary.BigEndian.Uint16(raw[26:28]),
			TCXOMillivolt: binary.BigEndian.Uint16(raw[28:30]),
			PowerDbm:      int8(raw[30]),
			RFSwitch:      raw[31],
			Bluetooth:     raw[32] == 1,
		}
		return cfg, nil
	case legacyBlobSize:
		return upgradeLegacy(raw), nil
	}
	return nil, fmt.Errorf("%w: unexpected blob size %d", ErrNoConfig, len(raw))
}

// upgradeLegacy lifts the prior 20-byte layout into the current one.
// The legacy layout predates the BUSY/DIO1 pins, TCXO voltage, sync
// word, preamble, power and RF-switch fields; those come from the
// device-type's defaults. A fresh node identifier is assigned because
// the legacy layout never carried one.
func upgradeLegacy(raw []byte) *config.NodeConfig {
	profile := config.Profile(raw[4])
	cfg := config.Defaults(profile, RandomNodeID())
	cfg.Pins.SCK = raw[5]
	cfg.Pins.MISO = raw[6]
	cfg.Pins.MOSI = raw[7]
	cfg.Pins.NSS = raw[8]
	cfg.Pins.RST = raw[9]
	cfg.FreqKHz = binary.BigEndian.Uint32(raw[10:14])
	cfg.BandwidthHz = binary.BigEndian.Uint32(raw[14:18])
	cfg.SpreadFactor = raw[18]
	cfg.CodingRate = raw[19]
	return cfg
}

// RandomNodeID draws a usable unicast identifier (never 0 or the
// broadcast address).
func RandomNodeID() uint16 {
	var b [2]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 1
		}
		id := binary.BigEndian.Uint16(b[:])
		if id != 0 && id != 0xFFFF {
			return id
		}
	}
}
