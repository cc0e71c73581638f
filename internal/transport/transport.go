// Package transport moves newline-terminated command lines in and
// JSON notifications out over the supported carriers: a TCP listener,
// a WebSocket endpoint and a byte-serial port. Carriers are thin: all
// parsing and semantics live in the node; a carrier only frames bytes.
package transport

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NotifyBudget is the largest notification written in one piece.
// Longer notifications are split into consecutive chunks with a brief
// delay between writes, because the narrow links on the other side
// (GATT characteristic writes in particular) drop oversized payloads.
const NotifyBudget = 180

// chunkDelay spaces consecutive chunks of one notification.
const chunkDelay = 30 * time.Millisecond

// LineSink receives one inbound command line, already stripped of its
// terminator.
type LineSink func(line string)

// Notifications is the subscription side of the node's event bus.
type Notifications interface {
	Subscribe() (<-chan []byte, func())
}

// Carrier is one attached command transport.
type Carrier interface {
	// Run serves the carrier until ctx is cancelled.
	Run(ctx context.Context) error
}

// writeChunked emits payload through write in NotifyBudget-sized
// pieces, sleeping chunkDelay between consecutive pieces. Every byte
// is mirrored to the diagnostic logger before it goes out.
func writeChunked(write func([]byte) error, payload []byte, log *zap.Logger) error {
	log.Debug("carrier write", zap.ByteString("bytes", payload))
	for len(payload) > 0 {
		n := len(payload)
		if n > NotifyBudget {
			n = NotifyBudget
		}
		if err := write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if len(payload) > 0 {
			time.Sleep(chunkDelay)
		}
	}
	return nil
}
