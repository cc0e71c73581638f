package node

import (
	"encoding/json"

	"go.uber.org/zap"
)

// fields is the loose body of one notification.
type fields map[string]any

// notify emits one structured notification: a JSON object with an
// "evt" discriminator. The bytes go to every subscribed carrier and
// are mirrored verbatim to the diagnostic log.
func (n *Node) notify(evt string, f fields) {
	obj := make(fields, len(f)+1)
	obj["evt"] = evt
	for k, v := range f {
		obj[k] = v
	}
	b, err := json.Marshal(obj)
	if err != nil {
		n.log.Error("marshal notification", zap.String("evt", evt), zap.Error(err))
		return
	}
	n.bus.Publish(b)
	n.log.Debug("notify", zap.ByteString("json", b))
}

// ack reports a command's success. Every accepted command produces
// exactly one of these.
func (n *Node) ack(cmd string, extra fields) {
	f := fields{"cmd": cmd}
	for k, v := range extra {
		f[k] = v
	}
	n.notify("ok", f)
}

// fail reports a command error. Malformed input is never fatal and
// never silent.
func (n *Node) fail(cmd, msg string) {
	n.notify("err", fields{"cmd": cmd, "msg": msg})
}
