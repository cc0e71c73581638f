package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// WSCarrier serves the command protocol over WebSocket: the browser
// companion writes one command per text message and receives each
// notification chunk as its own text message, mirroring the
// characteristic-write framing of the short-range wireless link.
type WSCarrier struct {
	addr   string
	sink   LineSink
	events Notifications
	log    *zap.Logger
}

// NewWSCarrier wires a carrier; Run starts serving at ws://addr/cmd.
func NewWSCarrier(addr string, sink LineSink, events Notifications, log *zap.Logger) *WSCarrier {
	return &WSCarrier{addr: addr, sink: sink, events: events, log: log}
}

// Run serves until ctx is cancelled.
func (w *WSCarrier) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/cmd", func(rw http.ResponseWriter, r *http.Request) {
		w.serve(ctx, rw, r)
	})
	srv := &http.Server{
		Addr:              w.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return err
	}
	w.log.Info("ws carrier listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
	}()
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (w *WSCarrier) serve(ctx context.Context, rw http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close() //nolint:errcheck

	ch, unsub := w.events.Subscribe()
	defer unsub()

	var writeMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			w.sink(string(msg))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			err := writeChunked(func(b []byte) error {
				writeMu.Lock()
				defer writeMu.Unlock()
				return conn.WriteMessage(websocket.TextMessage, b)
			}, msg, w.log)
			if err != nil {
				w.log.Debug("ws notify", zap.Error(err))
				return
			}
		}
	}
}
