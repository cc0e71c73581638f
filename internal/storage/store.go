package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/meshfield/loranode/internal/config"
)

const (
	nodeFile    = "node.cfg"
	weatherFile = "weather.cfg"
)

// Store reads and writes the configuration blobs under one data
// directory. Writes go through a temp file + rename so a crash cannot
// leave a half-written blob behind.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore creates the data directory if needed.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// LoadNode reads the node blob. ErrNoConfig covers every failure mode
// (missing file, bad magic, bad size): persistence failures degrade to
// "no valid config", never to a crash.
func (s *Store) LoadNode() (*config.NodeConfig, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, nodeFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("read node blob", zap.Error(err))
		}
		return nil, ErrNoConfig
	}
	cfg, err := DecodeNodeConfig(raw)
	if err != nil {
		s.log.Warn("node blob rejected", zap.Int("size", len(raw)), zap.Error(err))
		return nil, err
	}
	if len(raw) == legacyBlobSize {
		s.log.Info("upgraded legacy node blob",
			zap.String("profile", cfg.Profile.String()),
			zap.Uint16("node_id", cfg.NodeID))
	}
	return cfg, nil
}

// SaveNode persists the node blob atomically.
func (s *Store) SaveNode(cfg *config.NodeConfig) error {
	return s.writeAtomic(nodeFile, EncodeNodeConfig(cfg))
}

// LoadWeather reads the weather blob with the same discipline.
func (s *Store) LoadWeather() (*config.WeatherConfig, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, weatherFile))
	if err != nil {
		return nil, ErrNoConfig
	}
	return DecodeWeatherConfig(raw)
}

// SaveWeather persists the weather blob atomically.
func (s *Store) SaveWeather(w *config.WeatherConfig) error {
	return s.writeAtomic(weatherFile, EncodeWeatherConfig(w))
}

func (s *Store) writeAtomic(name string, data []byte) error {
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("storage: commit %s: %w", name, err)
	}
	return nil
}
