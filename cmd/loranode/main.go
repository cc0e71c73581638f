// loranode is the host-side mesh node daemon. It runs the single
// control-loop node against either a loopback radio (--sim) or real
// hardware, persists its configuration under --data-dir, and serves
// the line command protocol over TCP, WebSocket and serial carriers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meshfield/loranode/internal/hostcfg"
	"github.com/meshfield/loranode/internal/meshcrypt"
	"github.com/meshfield/loranode/internal/node"
	"github.com/meshfield/loranode/internal/radio"
	"github.com/meshfield/loranode/internal/storage"
	"github.com/meshfield/loranode/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		dataDir    string
		serialDev  string
		listenWS   string
		listenTCP  string
		logLevel   string
		sim        bool
	)

	flags := pflag.NewFlagSet("loranode", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to YAML host config")
	flags.StringVar(&dataDir, "data-dir", "", "directory for persisted node state")
	flags.StringVar(&serialDev, "serial", "", "serial device for the command carrier, e.g. /dev/ttyUSB0")
	flags.StringVar(&listenWS, "listen-ws", "", "WebSocket carrier listen address")
	flags.StringVar(&listenTCP, "listen-tcp", "", "TCP carrier listen address")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&sim, "sim", false, "use the in-process loopback radio")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg := hostcfg.Default()
	if configPath != "" {
		loaded, err := hostcfg.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Flags override the file.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if serialDev != "" {
		cfg.Serial.Device = serialDev
		if cfg.Serial.Baud == 0 {
			cfg.Serial.Baud = transport.DefaultBaudRate
		}
	}
	if listenWS != "" {
		cfg.WS.Addr = listenWS
	}
	if listenTCP != "" {
		cfg.TCP.Addr = listenTCP
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if sim {
		cfg.Sim = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *hostcfg.Config, log *zap.Logger) (err error) {
	store, err := storage.NewStore(cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var history *storage.History
	if cfg.History {
		history, err = storage.OpenHistory(filepath.Join(cfg.DataDir, "history.db"))
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() { err = multierr.Append(err, history.Close()) }()
	}

	factory, err := radioFactory(cfg, log)
	if err != nil {
		return err
	}
	mgr := radio.NewManager(factory, log)
	defer func() { err = multierr.Append(err, mgr.Close()) }()

	n := node.New(node.Options{
		Store:   store,
		History: history,
		Radio:   mgr,
		Cipher:  meshcrypt.New(),
		Log:     log,
	})

	carriers := []transport.Carrier{}
	if cfg.TCP.Addr != "" {
		carriers = append(carriers, transport.NewTCPCarrier(cfg.TCP.Addr, n.SubmitLine, n.Bus(), log))
	}
	if cfg.WS.Addr != "" {
		carriers = append(carriers, transport.NewWSCarrier(cfg.WS.Addr, n.SubmitLine, n.Bus(), log))
	}
	if cfg.Serial.Device != "" {
		carriers = append(carriers, transport.NewSerialCarrier(cfg.Serial.Device, cfg.Serial.Baud, n.SubmitLine, n.Bus(), log))
	}

	errCh := make(chan error, len(carriers))
	for _, c := range carriers {
		c := c
		go func() { errCh <- c.Run(ctx) }()
	}

	log.Info("loranode starting",
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("sim", cfg.Sim),
		zap.Int("carriers", len(carriers)))

	runErr := n.Run(ctx)

	// Collect carrier exits; they unwind once ctx is cancelled.
	for range carriers {
		if cerr := <-errCh; cerr != nil && ctx.Err() == nil {
			runErr = multierr.Append(runErr, cerr)
		}
	}
	return multierr.Append(err, runErr)
}

// radioFactory selects the chip driver. Only the loopback simulator
// ships in the host build; a hardware SPI driver slots in here when
// one is linked.
func radioFactory(cfg *hostcfg.Config, log *zap.Logger) (radio.Factory, error) {
	if !cfg.Sim {
		return nil, fmt.Errorf("no hardware radio driver in this build; run with --sim")
	}
	log.Info("using loopback radio")
	return radio.NewSim().Factory(), nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
