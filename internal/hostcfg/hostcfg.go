// Package hostcfg holds the daemon-side configuration: where the node
// keeps its flash blobs, which carriers to bring up, and how chatty
// the log should be. This is host plumbing only; radio and mesh
// parameters live in the persisted node config and are changed over
// the command protocol.
package hostcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	// DataDir is where node and weather blobs (and the history
	// database) are stored. Defaults to ./loranode-data.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// Sim runs the radio against an in-process loopback chip instead
	// of real SPI hardware. Useful on machines without a transceiver.
	Sim bool `yaml:"sim"`

	// History enables the SQLite message/sighting store.
	History bool `yaml:"history"`

	Serial SerialConfig `yaml:"serial"`
	TCP    ListenConfig `yaml:"tcp"`
	WS     ListenConfig `yaml:"ws"`
}

// SerialConfig configures the byte-serial command carrier.
type SerialConfig struct {
	// Device is the port path, e.g. /dev/ttyUSB0. Empty disables the
	// serial carrier.
	Device string `yaml:"device"`

	// Baud defaults to 115200 when zero.
	Baud int `yaml:"baud"`
}

// ListenConfig configures a network command carrier.
type ListenConfig struct {
	// Addr is the listen address, e.g. 127.0.0.1:7433. Empty disables
	// the carrier.
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration used when no file is
// given.
func Default() *Config {
	return &Config{
		DataDir:  "loranode-data",
		LogLevel: "info",
		History:  true,
		TCP:      ListenConfig{Addr: "127.0.0.1:7433"},
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	def := Default()
	if config.DataDir == "" {
		config.DataDir = def.DataDir
	}
	if config.LogLevel == "" {
		config.LogLevel = def.LogLevel
	}
	if config.Serial.Device != "" && config.Serial.Baud == 0 {
		config.Serial.Baud = 115200
	}
	return &config, nil
}

// Validate checks the configuration for mistakes a typo would cause.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q (supported: debug, info, warn, error)", c.LogLevel)
	}
	if c.Serial.Device != "" && c.Serial.Baud <= 0 {
		return fmt.Errorf("serial baud must be positive, got %d", c.Serial.Baud)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}
