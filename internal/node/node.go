// Package node runs the mesh node: the command dispatcher, the
// setup/run state machine, and the single control loop that services
// command input, radio receive and periodic work cooperatively.
package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meshfield/loranode/internal/bus"
	"github.com/meshfield/loranode/internal/config"
	"github.com/meshfield/loranode/internal/meshcrypt"
	"github.com/meshfield/loranode/internal/peers"
	"github.com/meshfield/loranode/internal/radio"
	"github.com/meshfield/loranode/internal/storage"
	"github.com/meshfield/loranode/internal/wire"
)

// State is the dispatcher's lifecycle phase.
type State int

const (
	StateBoot State = iota
	// StateSetup only processes commands and a periodic status
	// notification; it is left solely by its guard (save requested and
	// radio up), with no timeout. A human drives this flow.
	StateSetup
	StateRunning
	StateMeshActive
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateMeshActive:
		return "mesh_active"
	}
	return "unknown"
}

const (
	tickInterval     = 10 * time.Millisecond
	radioPollTimeout = 20 * time.Millisecond
	setupStatusEvery = 5 * time.Second
	commandQueueSize = 32
)

// SensorReader samples one weather sensor. The default implementation
// synthesises readings; real hardware plugs in here.
type SensorReader interface {
	Read(s config.Sensor) uint16
}

// Options wires a Node's collaborators. Store, Radio, Cipher and Log
// are required; the rest default sensibly.
type Options struct {
	Store   *storage.Store
	History *storage.History // nil disables traffic history
	Radio   *radio.Manager
	Cipher  *meshcrypt.Cipher
	Bus     *bus.Bus
	Log     *zap.Logger
	Sensors SensorReader
	Nonce   func() ([wire.NonceSize]byte, error)
}

// Node owns all mutable mesh state. Everything is touched only from
// the control loop goroutine, so no locking discipline is needed; a
// parallelised variant must add explicit synchronisation first.
type Node struct {
	log     *zap.Logger
	store   *storage.Store
	history *storage.History
	radio   *radio.Manager
	cipher  *meshcrypt.Cipher
	bus     *bus.Bus
	sensors SensorReader
	nonce   func() ([wire.NonceSize]byte, error)

	commands chan string

	state   State
	cfg     *config.NodeConfig
	weather *config.WeatherConfig
	peers   *peers.Table
	dedup   *peers.DedupCache

	txCounter     uint32
	saveRequested bool
	wantReboot    bool

	lastWeatherTx   time.Time
	lastSetupStatus time.Time
}

// New builds a Node; call Run to start it.
func New(opts Options) *Node {
	n := &Node{
		log:      opts.Log,
		store:    opts.Store,
		history:  opts.History,
		radio:    opts.Radio,
		cipher:   opts.Cipher,
		bus:      opts.Bus,
		sensors:  opts.Sensors,
		nonce:    opts.Nonce,
		commands: make(chan string, commandQueueSize),
		peers:    peers.NewTable(),
		dedup:    peers.NewDedupCache(),
	}
	if n.bus == nil {
		n.bus = bus.New()
	}
	if n.sensors == nil {
		n.sensors = stubSensors{}
	}
	if n.nonce == nil {
		n.nonce = meshcrypt.RandomNonce
	}
	return n
}

// Bus exposes the notification bus for carriers to subscribe.
func (n *Node) Bus() *bus.Bus { return n.bus }

// SubmitLine queues one command line for the control loop. Lines
// beyond the queue are dropped rather than blocking the carrier.
func (n *Node) SubmitLine(line string) {
	select {
	case n.commands <- line:
	default:
		n.log.Warn("command queue full, line dropped")
	}
}

// State returns the current lifecycle phase.
func (n *Node) State() State { return n.state }

// Config returns the live configuration.
func (n *Node) Config() *config.NodeConfig { return n.cfg }

// Run drives the control loop until ctx is cancelled. One iteration:
// drain a command if one is queued, then run the periodic tick (radio
// poll, weather broadcast, setup status / exit guard).
func (n *Node) Run(ctx context.Context) error {
	n.boot()
	timer := time.NewTicker(tickInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			n.log.Info("control loop stopping")
			return n.radio.Close()
		case line := <-n.commands:
			n.dispatch(line)
		case <-timer.C:
		}
		n.tick()
		if n.wantReboot {
			n.wantReboot = false
			n.reboot()
		}
	}
}

// boot loads persisted configuration. Absent or invalid blobs fall
// back to hard-coded profile defaults and drop the node into SETUP.
func (n *Node) boot() {
	n.state = StateBoot
	cfg, err := n.store.LoadNode()
	if err != nil {
		n.cfg = config.Defaults(config.ProfileCustom, storage.RandomNodeID())
		n.state = StateSetup
		n.lastSetupStatus = time.Now()
		n.log.Info("no valid config, entering setup",
			zap.Uint16("node_id", n.cfg.NodeID))
	} else {
		n.cfg = cfg
		n.state = StateRunning
		n.log.Info("config loaded",
			zap.String("profile", cfg.Profile.String()),
			zap.Uint16("node_id", cfg.NodeID))
	}
	w, err := n.store.LoadWeather()
	if err != nil {
		w = config.DefaultWeather()
	}
	n.weather = w
	n.notify("boot", fields{
		"state":   n.state.String(),
		"node_id": hexID(n.cfg.NodeID),
		"profile": n.cfg.Profile.String(),
	})
}

// tick runs the periodic half of the loop for the current state.
func (n *Node) tick() {
	now := time.Now()
	switch n.state {
	case StateSetup:
		if now.Sub(n.lastSetupStatus) >= setupStatusEvery {
			n.lastSetupStatus = now
			n.notify("status", fields{
				"state":       n.state.String(),
				"radio_ready": n.radio.Ready(),
				"hint":        "set parameters, then init and save",
			})
		}
		// Exit guard: a save must have been requested AND bringup must
		// already have succeeded. Until both hold, setup persists.
		if n.saveRequested && n.radio.Ready() {
			n.saveRequested = false
			if err := n.persist(); err != nil {
				n.notify("err", fields{"cmd": "save", "msg": err.Error()})
				return
			}
			n.state = StateMeshActive
			n.notify("status", fields{"state": n.state.String()})
		}
	case StateRunning, StateMeshActive:
		if !n.radio.Ready() {
			return
		}
		n.pollRadio()
		n.maybeWeatherBroadcast(now)
	}
}

func (n *Node) persist() error {
	if err := n.store.SaveNode(n.cfg); err != nil {
		return err
	}
	return n.store.SaveWeather(n.weather)
}

// reboot mimics a device reset: the radio handle drops, the mesh key
// is wiped (volatile memory only), counters and caches clear, and the
// boot sequence runs again from the persisted blob.
func (n *Node) reboot() {
	n.radio.Close() //nolint:errcheck
	n.cipher.Reset()
	n.txCounter = 0
	n.saveRequested = false
	n.peers = peers.NewTable()
	n.dedup = peers.NewDedupCache()
	n.boot()
}

// ─── mesh send path ───────────────────────────────────────────────────────

// sendMesh encrypts (unless the type is a plaintext type or encryption
// is disabled), frames and transmits one message. A cipher setup
// failure aborts the send: plaintext is never substituted.
func (n *Node) sendMesh(typ wire.MsgType, dst uint16, payload []byte) error {
	if !n.radio.Ready() {
		return radio.ErrNotReady
	}
	nonce, err := n.nonce()
	if err != nil {
		return fmt.Errorf("node: nonce: %w", err)
	}
	n.txCounter++
	body := payload
	if !wire.IsPlaintextType(typ) {
		body, err = n.cipher.Apply(payload, nonce, n.txCounter)
		if err != nil {
			return fmt.Errorf("node: encrypt: %w", err)
		}
	}
	raw, err := wire.Encode(typ, dst, body, n.cfg.NodeID, n.txCounter, nonce)
	if err != nil {
		return fmt.Errorf("node: encode: %w", err)
	}
	if err := n.radio.Send(raw); err != nil {
		return err
	}
	if n.history != nil && (typ == wire.TypeText || typ == wire.TypeSensor) {
		_, err := n.history.InsertMessage(&storage.Message{
			Src: n.cfg.NodeID, Dst: dst, Type: typ.String(),
			Outbound: true, Payload: payload, ReceivedAt: time.Now(),
		})
		if err != nil {
			n.log.Warn("history insert", zap.Error(err))
		}
	}
	return nil
}

// ─── mesh receive path ────────────────────────────────────────────────────

func (n *Node) pollRadio() {
	raw, err := n.radio.Receive(radioPollTimeout)
	if err != nil {
		n.log.Debug("radio receive", zap.Error(err))
		return
	}
	if raw != nil {
		n.handleRaw(raw)
	}
}

// handleRaw runs the full inbound pipeline: decode, dedup, decrypt,
// peer tracking, then the per-type reaction. Wire-integrity failures
// and duplicates are dropped silently; they are expected under lossy
// radio conditions and raise no notification.
func (n *Node) handleRaw(raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		n.log.Debug("frame rejected", zap.Error(err), zap.Int("len", len(raw)))
		return
	}
	cs := wire.DedupChecksum(raw)
	if n.dedup.Seen(cs) {
		n.log.Debug("duplicate suppressed", zap.Uint16("src", f.Src))
		return
	}
	payload := f.Payload
	if !wire.IsPlaintextType(f.Type) {
		payload, err = n.cipher.Apply(f.Payload, f.Nonce, f.Counter)
		if err != nil {
			n.log.Warn("decrypt failed, frame dropped",
				zap.Uint16("src", f.Src), zap.Error(err))
			return
		}
	}
	n.peers.Update(f.Src)
	if n.history != nil {
		if err := n.history.RecordSighting(f.Src, time.Now()); err != nil {
			n.log.Warn("record sighting", zap.Error(err))
		}
	}
	if f.Dst != n.cfg.NodeID && f.Dst != wire.Broadcast {
		// Addressed to someone else; single-hop, no relay.
		return
	}
	n.react(f, payload, cs)
}

func (n *Node) react(f *wire.Frame, payload []byte, cs uint16) {
	switch f.Type {
	case wire.TypeDiscoverReq:
		if err := n.sendMesh(wire.TypeDiscoverResp, f.Src, nil); err != nil {
			n.log.Warn("discovery response", zap.Error(err))
		}
		n.notify("peer", fields{"id": hexID(f.Src), "via": "discover_req"})
	case wire.TypeDiscoverResp:
		n.notify("peer", fields{"id": hexID(f.Src), "via": "discover_resp"})
	case wire.TypeKeyExchange:
		if len(payload) != meshcrypt.KeySize {
			n.log.Warn("key exchange with bad key length", zap.Int("len", len(payload)))
			return
		}
		if err := n.cipher.SetKey(payload); err != nil {
			n.log.Warn("key exchange", zap.Error(err))
			return
		}
		n.cipher.SetEnabled(true)
		if err := n.sendMesh(wire.TypeKeyExchangeAck, f.Src, nil); err != nil {
			n.log.Warn("key exchange ack", zap.Error(err))
		}
		n.notify("key", fields{"from": hexID(f.Src), "installed": true})
	case wire.TypeKeyExchangeAck:
		n.notify("key", fields{"from": hexID(f.Src), "acked": true})
	case wire.TypeText:
		n.notify("msg", fields{
			"from": hexID(f.Src),
			"to":   hexID(f.Dst),
			"text": string(payload),
		})
		if n.history != nil {
			_, err := n.history.InsertMessage(&storage.Message{
				Src: f.Src, Dst: f.Dst, Type: f.Type.String(),
				Payload: payload, ReceivedAt: time.Now(),
			})
			if err != nil {
				n.log.Warn("history insert", zap.Error(err))
			}
		}
		if f.Dst != wire.Broadcast {
			// Unicast text gets the application-level ack, carrying
			// the acked frame's dedup checksum.
			ref := make([]byte, 2)
			binary.BigEndian.PutUint16(ref, cs)
			if err := n.sendMesh(wire.TypeAck, f.Src, ref); err != nil {
				n.log.Debug("ack send", zap.Error(err))
			}
		}
	case wire.TypeAck:
		var ref uint16
		if len(payload) >= 2 {
			ref = binary.BigEndian.Uint16(payload[:2])
		}
		n.notify("delivered", fields{"from": hexID(f.Src), "ref": fmt.Sprintf("0x%04x", ref)})
	case wire.TypeSensor:
		n.notify("sensor", fields{
			"from":     hexID(f.Src),
			"readings": decodeReadings(payload),
		})
	default:
		n.log.Debug("unknown frame type", zap.Uint8("type", uint8(f.Type)))
	}
}

// ─── periodic weather broadcast ───────────────────────────────────────────

func (n *Node) maybeWeatherBroadcast(now time.Time) {
	if !n.weather.Enabled || len(n.weather.Sensors) == 0 {
		return
	}
	if now.Sub(n.lastWeatherTx) < time.Duration(n.weather.IntervalMs)*time.Millisecond {
		return
	}
	n.lastWeatherTx = now
	payload := make([]byte, 0, 3*len(n.weather.Sensors))
	for _, s := range n.weather.Sensors {
		v := n.sensors.Read(s)
		payload = append(payload, s.Pin, byte(v>>8), byte(v))
	}
	if err := n.sendMesh(wire.TypeSensor, wire.Broadcast, payload); err != nil {
		n.log.Warn("weather broadcast", zap.Error(err))
	}
}

// decodeReadings unpacks the 3-byte-per-sensor broadcast payload.
func decodeReadings(payload []byte) []fields {
	var out []fields
	for i := 0; i+3 <= len(payload); i += 3 {
		out = append(out, fields{
			"pin":   payload[i],
			"value": binary.BigEndian.Uint16(payload[i+1 : i+3]),
		})
	}
	return out
}

func hexID(id uint16) string { return fmt.Sprintf("0x%04x", id) }

// stubSensors synthesises plausible readings when no hardware backend
// is wired: a slow sawtooth per pin.
type stubSensors struct{}

func (stubSensors) Read(s config.Sensor) uint16 {
	base := uint16(s.Pin) * 17
	phase := uint16(time.Now().Unix() % 1024)
	if s.Analog {
		return base + phase
	}
	return (base + phase) & 1
}
