package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meshfield/loranode/internal/config"
)

func TestNodeBlobRoundTrip(t *testing.T) {
	cfg := config.Defaults(config.ProfileHeltec, 0x0BAD)
	cfg.FreqKHz = 915000
	cfg.SyncWord = 0x34
	cfg.Bluetooth = false

	got, err := DecodeNodeConfig(EncodeNodeConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if *got != *cfg {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, cfg)
	}
}

// legacyBlob builds the prior 20-byte layout by hand.
func legacyBlob(deviceType uint8, pins [5]uint8, freqKHz, bwHz uint32, sf, cr uint8) []byte {
	buf := make([]byte, legacyBlobSize)
	binary.BigEndian.PutUint32(buf[0:4], NodeMagic)
	buf[4] = deviceType
	copy(buf[5:10], pins[:])
	binary.BigEndian.PutUint32(buf[10:14], freqKHz)
	binary.BigEndian.PutUint32(buf[14:18], bwHz)
	buf[18] = sf
	buf[19] = cr
	return buf
}

func TestLegacyMigration(t *testing.T) {
	raw := legacyBlob(1, [5]uint8{4, 8, 15, 16, 23}, 869525, 250000, 10, 6)
	cfg, err := DecodeNodeConfig(raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Profile != config.ProfileTBeam {
		t.Fatalf("profile: got %v", cfg.Profile)
	}
	if cfg.PowerDbm != 17 {
		t.Fatalf("migrated power: got %d, want 17", cfg.PowerDbm)
	}
	wantPins := [5]uint8{4, 8, 15, 16, 23}
	gotPins := [5]uint8{cfg.Pins.SCK, cfg.Pins.MISO, cfg.Pins.MOSI, cfg.Pins.NSS, cfg.Pins.RST}
	if gotPins != wantPins {
		t.Fatalf("SPI pins not copied: got %v, want %v", gotPins, wantPins)
	}
	if cfg.FreqKHz != 869525 || cfg.BandwidthHz != 250000 || cfg.SpreadFactor != 10 || cfg.CodingRate != 6 {
		t.Fatalf("radio params not copied: %+v", cfg)
	}
	// Fields the legacy layout never had come from profile defaults.
	def := config.Defaults(config.ProfileTBeam, 0)
	if cfg.TCXOMillivolt != def.TCXOMillivolt || cfg.SyncWord != def.SyncWord {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.NodeID == 0 || cfg.NodeID == 0xFFFF {
		t.Fatalf("migrated node id unusable: 0x%04x", cfg.NodeID)
	}
}

func TestDecodeNodeRejects(t *testing.T) {
	good := EncodeNodeConfig(config.Defaults(config.ProfileCustom, 1))

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0
	if _, err := DecodeNodeConfig(badMagic); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("bad magic: %v", err)
	}
	if _, err := DecodeNodeConfig(good[:10]); !errors.Is(err, ErrNoConfig) {
		t.Fatal("odd size accepted")
	}
	badVer := append([]byte(nil), good...)
	badVer[4] = 9
	if _, err := DecodeNodeConfig(badVer); !errors.Is(err, ErrNoConfig) {
		t.Fatal("future version accepted")
	}
	if _, err := DecodeNodeConfig(nil); !errors.Is(err, ErrNoConfig) {
		t.Fatal("empty blob accepted")
	}
}

func TestWeatherBlobRoundTripAndClamp(t *testing.T) {
	w := &config.WeatherConfig{
		Enabled:    true,
		IntervalMs: 100, // below minimum, must clamp on load
		Sensors: []config.Sensor{
			{Pin: 34, Analog: true},
			{Pin: 4, Analog: false},
		},
	}
	got, err := DecodeWeatherConfig(EncodeWeatherConfig(w))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled || got.IntervalMs != config.MinSampleIntervalMs {
		t.Fatalf("clamp: %+v", got)
	}
	if len(got.Sensors) != 2 || got.Sensors[0] != (config.Sensor{Pin: 34, Analog: true}) {
		t.Fatalf("sensors: %+v", got.Sensors)
	}
	if _, err := DecodeWeatherConfig([]byte("garbage here")); !errors.Is(err, ErrNoConfig) {
		t.Fatal("garbage weather blob accepted")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadNode(); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("fresh dir: got %v, want ErrNoConfig", err)
	}
	cfg := config.Defaults(config.ProfileTBeam, 0x1111)
	if err := s.SaveNode(cfg); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadNode()
	if err != nil {
		t.Fatal(err)
	}
	if *got != *cfg {
		t.Fatalf("store round trip: %+v", got)
	}

	w := config.DefaultWeather()
	w.Enabled = true
	if err := s.SaveWeather(w); err != nil {
		t.Fatal(err)
	}
	gw, err := s.LoadWeather()
	if err != nil {
		t.Fatal(err)
	}
	if !gw.Enabled || gw.IntervalMs != w.IntervalMs {
		t.Fatalf("weather store round trip: %+v", gw)
	}
}

func TestHistory(t *testing.T) {
	h, err := OpenHistory(t.TempDir() + "/history.db")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	now := time.Now()
	for i := 0; i < 3; i++ {
		_, err := h.InsertMessage(&Message{
			Src: 0xB5C6, Dst: 0xFFFF, Type: "text",
			Payload:    []byte{byte(i)},
			ReceivedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := h.RecentMessages(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if !bytes.Equal(msgs[0].Payload, []byte{2}) {
		t.Fatalf("order: newest first expected, got %v", msgs[0].Payload)
	}

	if err := h.RecordSighting(0xB5C6, now); err != nil {
		t.Fatal(err)
	}
	if err := h.RecordSighting(0xB5C6, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
}
