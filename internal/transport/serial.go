package transport

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// DefaultBaudRate for the byte-serial command link.
const DefaultBaudRate = 115200

// SerialCarrier serves the command protocol over a serial device:
// newline-terminated commands in, notification chunks out.
type SerialCarrier struct {
	device string
	baud   int
	sink   LineSink
	events Notifications
	log    *zap.Logger
}

// NewSerialCarrier wires a carrier for the given device path.
func NewSerialCarrier(device string, baud int, sink LineSink, events Notifications, log *zap.Logger) *SerialCarrier {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &SerialCarrier{device: device, baud: baud, sink: sink, events: events, log: log}
}

// Run opens the port and serves until ctx is cancelled.
func (s *SerialCarrier) Run(ctx context.Context) error {
	port, err := serial.Open(s.device, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return fmt.Errorf("transport: open serial %s: %w", s.device, err)
	}
	s.log.Info("serial carrier open",
		zap.String("device", s.device), zap.Int("baud", s.baud))

	go func() {
		<-ctx.Done()
		port.Close() //nolint:errcheck
	}()

	go s.fanout(ctx, port)

	sc := bufio.NewScanner(port)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line != "" {
			s.sink(line)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

func (s *SerialCarrier) fanout(ctx context.Context, port serial.Port) {
	ch, unsub := s.events.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			out := append(append([]byte(nil), msg...), '\n')
			err := writeChunked(func(b []byte) error {
				_, werr := port.Write(b)
				return werr
			}, out, s.log)
			if err != nil {
				s.log.Debug("serial notify", zap.Error(err))
			}
		}
	}
}
