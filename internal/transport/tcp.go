package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
)

// TCPCarrier serves the command protocol on a TCP listener: one
// newline-terminated command per inbound line, notifications written
// back to every connected client.
type TCPCarrier struct {
	addr   string
	sink   LineSink
	events Notifications
	log    *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewTCPCarrier wires a carrier; Run starts serving.
func NewTCPCarrier(addr string, sink LineSink, events Notifications, log *zap.Logger) *TCPCarrier {
	return &TCPCarrier{
		addr:   addr,
		sink:   sink,
		events: events,
		log:    log,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Run listens until ctx is cancelled.
func (t *TCPCarrier) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.log.Info("tcp carrier listening", zap.String("addr", ln.Addr().String()))

	go t.fanout(ctx)
	go func() {
		<-ctx.Done()
		ln.Close() //nolint:errcheck
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			t.log.Warn("tcp accept", zap.Error(err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.serveConn(ctx, conn)
		}()
	}
	wg.Wait()
	return nil
}

func (t *TCPCarrier) serveConn(ctx context.Context, conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
		conn.Close() //nolint:errcheck
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() //nolint:errcheck
		case <-done:
		}
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		t.sink(sc.Text())
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		t.log.Debug("tcp read", zap.Error(err))
	}
}

// fanout relays bus notifications to every live connection.
func (t *TCPCarrier) fanout(ctx context.Context) {
	ch, unsub := t.events.Subscribe()
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
			t.mu.Lock()
			conns := make([]net.Conn, 0, len(t.conns))
			for c := range t.conns {
				conns = append(conns, c)
			}
			t.mu.Unlock()
			for _, c := range conns {
				c := c
				err := writeChunked(func(b []byte) error {
					_, werr := c.Write(b)
					return werr
				}, out, t.log)
				if err != nil {
					t.log.Debug("tcp notify", zap.Error(err))
				}
			}
		}
	}
}
