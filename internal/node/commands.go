package node

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/meshfield/loranode/internal/config"
	"github.com/meshfield/loranode/internal/wire"
)

// cmdSpec is one entry in the dispatch table. Keyword matching is
// case-insensitive; args keep their original case so hex keys and
// free-text payloads survive intact.
type cmdSpec struct {
	usage   string
	minArgs int
	run     func(n *Node, args []string, free string)
}

var commandTable = map[string]cmdSpec{
	"ble":      {usage: "ble on|off", minArgs: 1, run: (*Node).cmdBLE},
	"set":      {usage: "set <key> <value>", minArgs: 2, run: (*Node).cmdSet},
	"get":      {usage: "get <key>", minArgs: 1, run: (*Node).cmdGet},
	"device":   {usage: "device <profile>", minArgs: 1, run: (*Node).cmdDevice},
	"save":     {usage: "save", run: (*Node).cmdSave},
	"init":     {usage: "init", run: (*Node).cmdInit},
	"start":    {usage: "start", run: (*Node).cmdStart},
	"discover": {usage: "discover", run: (*Node).cmdDiscover},
	"peers":    {usage: "peers", run: (*Node).cmdPeers},
	"key":      {usage: "key [gen | set <hex> | push <nodeid>]", run: (*Node).cmdKey},
	"encrypt":  {usage: "encrypt on|off", minArgs: 1, run: (*Node).cmdEncrypt},
	"weather":  {usage: "weather [on|off | interval <ms> | sensor <pin> a|d | clear]", run: (*Node).cmdWeather},
	"send":     {usage: "send <nodeid> <text>", minArgs: 2, run: (*Node).cmdSend},
	"bcast":    {usage: "bcast <text>", minArgs: 1, run: (*Node).cmdBcast},
	"info":     {usage: "info", run: (*Node).cmdInfo},
	"history":  {usage: "history [count]", run: (*Node).cmdHistory},
	"reboot":   {usage: "reboot", run: (*Node).cmdReboot},
}

// dispatch parses one command line. The keyword is matched lower-cased
// and trimmed; the remainder is handed to the handler verbatim. Every
// line produces exactly one ack or err notification — unknown commands
// included, never silence.
func (n *Node) dispatch(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	parts := strings.Fields(line)
	keyword := strings.ToLower(parts[0])
	spec, ok := commandTable[keyword]
	if !ok {
		n.fail(keyword, "unknown command")
		return
	}
	args := parts[1:]
	if len(args) < spec.minArgs {
		n.fail(keyword, "usage: "+spec.usage)
		return
	}
	free := strings.TrimSpace(line[len(parts[0]):])
	spec.run(n, args, free)
}

// onOff parses a case-insensitive toggle argument.
func onOff(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, true
	case "off", "0", "false":
		return false, true
	}
	return false, false
}

func parseNodeID(s string) (uint16, bool) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// afterToken strips the first token from free text, preserving the
// case and inner spacing of what follows.
func afterToken(free, token string) string {
	return strings.TrimSpace(strings.TrimPrefix(free, token))
}

// ─── handlers ─────────────────────────────────────────────────────────────

func (n *Node) cmdBLE(args []string, _ string) {
	on, ok := onOff(args[0])
	if !ok {
		n.fail("ble", "usage: ble on|off")
		return
	}
	n.cfg.Bluetooth = on
	n.ack("ble", fields{"enabled": on})
}

func (n *Node) cmdSet(args []string, _ string) {
	key := strings.ToLower(args[0])
	if err := n.cfg.Set(key, args[1]); err != nil {
		n.fail("set", err.Error())
		return
	}
	val, _ := n.cfg.Get(key)
	n.ack("set", fields{"key": key, "value": val})
}

func (n *Node) cmdGet(args []string, _ string) {
	key := strings.ToLower(args[0])
	val, err := n.cfg.Get(key)
	if err != nil {
		n.fail("get", err.Error())
		return
	}
	n.ack("get", fields{"key": key, "value": val})
}

func (n *Node) cmdDevice(args []string, _ string) {
	p, err := config.ParseProfile(strings.ToLower(args[0]))
	if err != nil {
		n.fail("device", err.Error())
		return
	}
	n.cfg.ApplyProfile(p)
	n.ack("device", fields{"profile": p.String()})
}

// cmdSave persists immediately when the node is past setup. Inside
// SETUP it only records the request: the state is left by its guard
// (save requested AND radio up), evaluated on the next tick.
func (n *Node) cmdSave(_ []string, _ string) {
	if n.state == StateSetup {
		n.saveRequested = true
		n.ack("save", fields{
			"pending":     true,
			"radio_ready": n.radio.Ready(),
		})
		return
	}
	if err := n.persist(); err != nil {
		n.fail("save", err.Error())
		return
	}
	n.ack("save", nil)
}

func (n *Node) cmdInit(_ []string, _ string) {
	if err := n.radio.Bringup(n.cfg); err != nil {
		n.fail("init", err.Error())
		return
	}
	n.ack("init", fields{
		"power_dbm": n.cfg.PowerDbm,
		"tcxo_mv":   n.cfg.TCXOMillivolt,
	})
}

func (n *Node) cmdStart(_ []string, _ string) {
	switch {
	case n.state == StateMeshActive:
		n.ack("start", fields{"state": n.state.String()})
	case n.state == StateSetup:
		n.fail("start", "finish setup first (init, then save)")
	case !n.radio.Ready():
		n.fail("start", "radio not initialised; run init first")
	default:
		n.state = StateMeshActive
		n.ack("start", fields{"state": n.state.String()})
	}
}

func (n *Node) cmdDiscover(_ []string, _ string) {
	if err := n.sendMesh(wire.TypeDiscoverReq, wire.Broadcast, nil); err != nil {
		n.fail("discover", err.Error())
		return
	}
	n.ack("discover", nil)
}

func (n *Node) cmdPeers(_ []string, _ string) {
	list := n.peers.List()
	rows := make([]fields, len(list))
	for i, p := range list {
		rows[i] = fields{"id": hexID(p.NodeID), "age_ms": p.Age.Milliseconds()}
	}
	n.ack("peers", fields{"peers": rows, "dropped": n.peers.Dropped()})
}

func (n *Node) cmdKey(args []string, _ string) {
	if len(args) == 0 {
		k, ok := n.cipher.Key()
		f := fields{"present": ok, "encrypt": n.cipher.Enabled()}
		if ok {
			f["key"] = hex.EncodeToString(k)
		}
		n.ack("key", f)
		return
	}
	switch strings.ToLower(args[0]) {
	case "gen":
		k, err := n.cipher.GenerateKey()
		if err != nil {
			n.fail("key", err.Error())
			return
		}
		n.ack("key", fields{"key": hex.EncodeToString(k)})
	case "set":
		if len(args) < 2 {
			n.fail("key", "usage: key set <32 hex digits>")
			return
		}
		if err := n.cipher.SetKeyHex(args[1]); err != nil {
			n.fail("key", err.Error())
			return
		}
		n.ack("key", fields{"present": true})
	case "push":
		if len(args) < 2 {
			n.fail("key", "usage: key push <nodeid>")
			return
		}
		dst, ok := parseNodeID(args[1])
		if !ok {
			n.fail("key", "bad node id")
			return
		}
		k, present := n.cipher.Key()
		if !present {
			n.fail("key", "no key installed")
			return
		}
		if err := n.sendMesh(wire.TypeKeyExchange, dst, k); err != nil {
			n.fail("key", err.Error())
			return
		}
		n.ack("key", fields{"pushed_to": hexID(dst)})
	default:
		n.fail("key", "usage: key [gen | set <hex> | push <nodeid>]")
	}
}

func (n *Node) cmdEncrypt(args []string, _ string) {
	on, ok := onOff(args[0])
	if !ok {
		n.fail("encrypt", "usage: encrypt on|off")
		return
	}
	if on {
		if _, present := n.cipher.Key(); !present {
			n.fail("encrypt", "no key installed; use key gen or key set")
			return
		}
	}
	n.cipher.SetEnabled(on)
	n.ack("encrypt", fields{"enabled": on})
}

func (n *Node) cmdWeather(args []string, _ string) {
	if len(args) == 0 {
		n.ack("weather", fields{
			"enabled":     n.weather.Enabled,
			"interval_ms": n.weather.IntervalMs,
			"sensors":     len(n.weather.Sensors),
		})
		return
	}
	sub := strings.ToLower(args[0])
	if on, ok := onOff(sub); ok {
		n.weather.Enabled = on
		n.ack("weather", fields{"enabled": on})
		return
	}
	switch sub {
	case "interval":
		if len(args) < 2 {
			n.fail("weather", "usage: weather interval <ms>")
			return
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			n.fail("weather", "bad interval")
			return
		}
		n.weather.IntervalMs = uint32(v)
		n.weather.Normalize()
		n.ack("weather", fields{"interval_ms": n.weather.IntervalMs})
	case "sensor":
		if len(args) < 3 {
			n.fail("weather", "usage: weather sensor <pin> a|d")
			return
		}
		pin, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			n.fail("weather", "bad pin")
			return
		}
		mode := strings.ToLower(args[2])
		if mode != "a" && mode != "d" {
			n.fail("weather", "sensor mode must be a (analog) or d (digital)")
			return
		}
		s := config.Sensor{Pin: uint8(pin), Analog: mode == "a"}
		if err := n.weather.AddSensor(s); err != nil {
			n.fail("weather", err.Error())
			return
		}
		n.ack("weather", fields{"sensors": len(n.weather.Sensors)})
	case "clear":
		n.weather.Sensors = nil
		n.ack("weather", fields{"sensors": 0})
	default:
		n.fail("weather", "usage: weather [on|off | interval <ms> | sensor <pin> a|d | clear]")
	}
}

func (n *Node) cmdSend(args []string, free string) {
	dst, ok := parseNodeID(args[0])
	if !ok {
		n.fail("send", "bad node id")
		return
	}
	text := afterToken(free, args[0])
	if len(text) > wire.MaxPayload {
		n.fail("send", "payload exceeds 120 bytes")
		return
	}
	if err := n.sendMesh(wire.TypeText, dst, []byte(text)); err != nil {
		n.fail("send", err.Error())
		return
	}
	n.ack("send", fields{"to": hexID(dst)})
}

func (n *Node) cmdBcast(_ []string, free string) {
	if len(free) > wire.MaxPayload {
		n.fail("bcast", "payload exceeds 120 bytes")
		return
	}
	if err := n.sendMesh(wire.TypeText, wire.Broadcast, []byte(free)); err != nil {
		n.fail("bcast", err.Error())
		return
	}
	n.ack("bcast", nil)
}

func (n *Node) cmdInfo(_ []string, _ string) {
	_, keyPresent := n.cipher.Key()
	n.ack("info", fields{
		"node_id":       hexID(n.cfg.NodeID),
		"state":         n.state.String(),
		"profile":       n.cfg.Profile.String(),
		"freq_khz":      n.cfg.FreqKHz,
		"sf":            n.cfg.SpreadFactor,
		"power_dbm":     n.cfg.PowerDbm,
		"radio_ready":   n.radio.Ready(),
		"encrypt":       n.cipher.Enabled(),
		"key_present":   keyPresent,
		"peers":         n.peers.Len(),
		"peers_dropped": n.peers.Dropped(),
		"tx_counter":    n.txCounter,
	})
}

func (n *Node) cmdHistory(args []string, _ string) {
	if n.history == nil {
		n.fail("history", "history store disabled")
		return
	}
	count := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 || v > 500 {
			n.fail("history", "count must be 1..500")
			return
		}
		count = v
	}
	msgs, err := n.history.RecentMessages(count)
	if err != nil {
		n.fail("history", err.Error())
		return
	}
	rows := make([]fields, len(msgs))
	for i, m := range msgs {
		rows[i] = fields{
			"src":  hexID(m.Src),
			"dst":  hexID(m.Dst),
			"type": m.Type,
			"out":  m.Outbound,
			"text": string(m.Payload),
			"at":   m.ReceivedAt.UnixMilli(),
		}
	}
	n.ack("history", fields{"messages": rows})
}

func (n *Node) cmdReboot(_ []string, _ string) {
	n.ack("reboot", nil)
	n.wantReboot = true
}
