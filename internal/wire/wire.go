// Package wire implements the binary mesh frame codec.
//
// Frame layout (big-endian, 21-byte header + payload + 2-byte trailer):
//
//	magic(2) version(1) type(1) src(2) dst(2) counter(4) nonce(8) len(1)
//	payload(len) crc16(2)
//
// The trailing CRC-16/CCITT-FALSE covers every byte before it. Any
// interoperating implementation must match field order, widths,
// endianness and checksum exactly.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic0 and Magic1 open every frame on the air.
	Magic0 = 0x4C
	Magic1 = 0x52

	// Version is the current wire protocol version.
	Version = 1

	// HeaderSize is the fixed byte count before the payload.
	HeaderSize = 21

	// ChecksumSize is the CRC-16 trailer length.
	ChecksumSize = 2

	// MaxPayload bounds the payload; total frame never exceeds
	// HeaderSize + MaxPayload + ChecksumSize = 143 bytes.
	MaxPayload = 120

	// MinFrameSize is the cheap pre-filter bound applied before any
	// field inspection.
	MinFrameSize = 22

	// Broadcast addresses every node on the mesh.
	Broadcast uint16 = 0xFFFF

	// NonceSize is the per-frame random nonce length.
	NonceSize = 8
)

// MsgType discriminates frame payloads.
type MsgType uint8

const (
	TypeText   MsgType = 0x01 // UTF-8 chat/data payload
	TypeAck    MsgType = 0x02 // application-level ack (2-byte checksum of acked frame)
	TypeSensor MsgType = 0x03 // periodic sensor readings

	TypeDiscoverReq    MsgType = 0x10
	TypeDiscoverResp   MsgType = 0x11
	TypeKeyExchange    MsgType = 0x12
	TypeKeyExchangeAck MsgType = 0x13
)

// IsPlaintextType reports whether t is exempt from payload encryption.
// Discovery and key-exchange frames bootstrap connectivity before a key
// is shared, so they are always sent and interpreted unencrypted.
func IsPlaintextType(t MsgType) bool {
	switch t {
	case TypeDiscoverReq, TypeDiscoverResp, TypeKeyExchange, TypeKeyExchangeAck:
		return true
	}
	return false
}

func (t MsgType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeAck:
		return "ack"
	case TypeSensor:
		return "sensor"
	case TypeDiscoverReq:
		return "discover_req"
	case TypeDiscoverResp:
		return "discover_resp"
	case TypeKeyExchange:
		return "key_exchange"
	case TypeKeyExchangeAck:
		return "key_exchange_ack"
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(t))
}

// Decode reject reasons. All of them mean "drop silently" at the mesh
// layer; they exist so tests and diagnostics can tell them apart.
var (
	ErrTruncated   = errors.New("wire: frame shorter than minimum")
	ErrBadMagic    = errors.New("wire: bad magic")
	ErrBadChecksum = errors.New("wire: checksum mismatch")
	ErrBadLength   = errors.New("wire: length field inconsistent")
	ErrOversize    = errors.New("wire: payload exceeds maximum")
)

// Frame is one decoded mesh message.
type Frame struct {
	Version uint8
	Type    MsgType
	Src     uint16
	Dst     uint16
	Counter uint32
	Nonce   [NonceSize]byte
	Payload []byte
}

// Encode serialises a frame. payload may be plaintext or ciphertext;
// the codec does not care. Returns ErrOversize when the payload does
// not fit.
func Encode(t MsgType, dst uint16, payload []byte, src uint16, counter uint32, nonce [NonceSize]byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrOversize
	}
	buf := make([]byte, HeaderSize+len(payload)+ChecksumSize)
	buf[0] = Magic0
	buf[1] = Magic1
	buf[2] = Version
	buf[3] = byte(t)
	binary.BigEndian.PutUint16(buf[4:6], src)
	binary.BigEndian.PutUint16(buf[6:8], dst)
	binary.BigEndian.PutUint32(buf[8:12], counter)
	copy(buf[12:20], nonce[:])
	buf[20] = byte(len(payload))
	copy(buf[HeaderSize:], payload)
	crc := FrameChecksum(buf[:len(buf)-ChecksumSize])
	binary.BigEndian.PutUint16(buf[len(buf)-ChecksumSize:], crc)
	return buf, nil
}

// Decode parses raw bytes into a Frame. It is pure: no caller state is
// touched, and a rejection carries one of the Err* reasons above.
// Checksum verification runs before the exact length re-validation so
// bit errors anywhere in the buffer are caught first.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameSize {
		return nil, ErrTruncated
	}
	if raw[0] != Magic0 || raw[1] != Magic1 {
		return nil, ErrBadMagic
	}
	body := raw[:len(raw)-ChecksumSize]
	want := binary.BigEndian.Uint16(raw[len(raw)-ChecksumSize:])
	if FrameChecksum(body) != want {
		return nil, ErrBadChecksum
	}
	payloadLen := int(raw[20])
	if HeaderSize+payloadLen+ChecksumSize != len(raw) {
		return nil, ErrBadLength
	}
	f := &Frame{
		Version: raw[2],
		Type:    MsgType(raw[3]),
		Src:     binary.BigEndian.Uint16(raw[4:6]),
		Dst:     binary.BigEndian.Uint16(raw[6:8]),
		Counter: binary.BigEndian.Uint32(raw[8:12]),
		Payload: append([]byte(nil), raw[HeaderSize:HeaderSize+payloadLen]...),
	}
	copy(f.Nonce[:], raw[12:20])
	return f, nil
}
