package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/meshfield/loranode/internal/config"
)

const (
	// WeatherMagic guards the weather blob ("WTRH").
	WeatherMagic uint32 = 0x57545248

	// WeatherVersion is the current weather blob layout version.
	WeatherVersion = 1

	weatherHeaderSize = 11 // magic(4) version(1) enabled(1) interval(4) count(1)
)

// EncodeWeatherConfig serialises the weather blob.
func EncodeWeatherConfig(w *config.WeatherConfig) []byte {
	buf := make([]byte, weatherHeaderSize+2*len(w.Sensors))
	binary.BigEndian.PutUint32(buf[0:4], WeatherMagic)
	buf[4] = WeatherVersion
	if w.Enabled {
		buf[5] = 1
	}
	binary.BigEndian.PutUint32(buf[6:10], w.IntervalMs)
	buf[10] = uint8(len(w.Sensors))
	for i, s := range w.Sensors {
		buf[weatherHeaderSize+2*i] = s.Pin
		if s.Analog {
			buf[weatherHeaderSize+2*i+1] = 1
		}
	}
	return buf
}

// DecodeWeatherConfig parses and normalizes a weather blob. The
// interval clamp and sensor bound apply on load, never trusting a
// stored blob to be well-formed.
func DecodeWeatherConfig(raw []byte) (*config.WeatherConfig, error) {
	if len(raw) < weatherHeaderSize || binary.BigEndian.Uint32(raw[0:4]) != WeatherMagic {
		return nil, ErrNoConfig
	}
	if raw[4] != WeatherVersion {
		return nil, fmt.Errorf("%w: unknown weather version %d", ErrNoConfig, raw[4])
	}
	count := int(raw[10])
	if len(raw) != weatherHeaderSize+2*count {
		return nil, fmt.Errorf("%w: weather blob size mismatch", ErrNoConfig)
	}
	w := &config.WeatherConfig{
		Enabled:    raw[5] == 1,
		IntervalMs: binary.BigEndian.Uint32(raw[6:10]),
	}
	for i := 0; i < count; i++ {
		w.Sensors = append(w.Sensors, config.Sensor{
			Pin:    raw[weatherHeaderSize+2*i],
			Analog: raw[weatherHeaderSize+2*i+1] == 1,
		})
	}
	w.Normalize()
	return w, nil
}
