package wire

import (
	"bytes"
	"errors"
	"testing"
)

var testNonce = [NonceSize]byte{1, 2, 3, 4, 5, 6, 7, 8}

func TestCRC16CheckValue(t *testing.T) {
	// Canonical CRC-16/CCITT-FALSE check value.
	if got := crc16([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("crc16 check value: got 0x%04X, want 0x29B1", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     MsgType
		dst     uint16
		payload []byte
	}{
		{"empty payload", TypeDiscoverReq, Broadcast, nil},
		{"text unicast", TypeText, 0xB5C6, []byte("hello mesh")},
		{"binary payload", TypeSensor, Broadcast, []byte{0x00, 0xFF, 0x7F, 0x80}},
		{"max payload", TypeText, 0x0001, bytes.Repeat([]byte{0xA5}, MaxPayload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.typ, tt.dst, tt.payload, 0x1234, 77, testNonce)
			if err != nil {
				t.Fatal(err)
			}
			if want := HeaderSize + len(tt.payload) + ChecksumSize; len(raw) != want {
				t.Fatalf("frame size: got %d, want %d", len(raw), want)
			}
			f, err := Decode(raw)
			if err != nil {
				t.Fatal(err)
			}
			if f.Type != tt.typ || f.Src != 0x1234 || f.Dst != tt.dst || f.Counter != 77 {
				t.Fatalf("header mismatch: %+v", f)
			}
			if f.Nonce != testNonce {
				t.Fatalf("nonce mismatch: %x", f.Nonce)
			}
			if !bytes.Equal(f.Payload, tt.payload) {
				t.Fatalf("payload mismatch: got %x, want %x", f.Payload, tt.payload)
			}
			if f.Version != Version {
				t.Fatalf("version: got %d", f.Version)
			}
		})
	}
}

func TestEncodeOversizePayload(t *testing.T) {
	_, err := Encode(TypeText, Broadcast, make([]byte, MaxPayload+1), 1, 0, testNonce)
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("got %v, want ErrOversize", err)
	}
}

func TestDecodeRejectsEveryBitFlip(t *testing.T) {
	raw, err := Encode(TypeText, 0xB5C6, []byte("integrity"), 9, 3, testNonce)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(raw)*8; i++ {
		mut := append([]byte(nil), raw...)
		mut[i/8] ^= 1 << (i % 8)
		if _, err := Decode(mut); err == nil {
			t.Fatalf("bit flip at %d accepted", i)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	good, err := Encode(TypeText, Broadcast, []byte("x"), 1, 1, testNonce)
	if err != nil {
		t.Fatal(err)
	}

	short := good[:MinFrameSize-1]
	if _, err := Decode(short); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short: got %v, want ErrTruncated", err)
	}

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 0x00
	if _, err := Decode(badMagic); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("magic: got %v, want ErrBadMagic", err)
	}

	badCRC := append([]byte(nil), good...)
	badCRC[len(badCRC)-1] ^= 0xFF
	if _, err := Decode(badCRC); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("crc: got %v, want ErrBadChecksum", err)
	}

	// Declared payload length disagrees with the actual buffer length,
	// with the trailer re-stitched so only the length check can fire.
	badLen := append([]byte(nil), good...)
	badLen[20] = 5
	crc := FrameChecksum(badLen[:len(badLen)-ChecksumSize])
	badLen[len(badLen)-2] = byte(crc >> 8)
	badLen[len(badLen)-1] = byte(crc)
	if _, err := Decode(badLen); !errors.Is(err, ErrBadLength) {
		t.Fatalf("length: got %v, want ErrBadLength", err)
	}
}

func TestDecodeIsPure(t *testing.T) {
	raw, err := Encode(TypeText, Broadcast, []byte("abc"), 1, 1, testNonce)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	f.Payload[0] = 'Z'
	if raw[HeaderSize] != 'a' {
		t.Fatal("decode aliases the input buffer")
	}
}

func TestPlaintextTypes(t *testing.T) {
	plain := []MsgType{TypeDiscoverReq, TypeDiscoverResp, TypeKeyExchange, TypeKeyExchangeAck}
	for _, typ := range plain {
		if !IsPlaintextType(typ) {
			t.Errorf("%v should be plaintext", typ)
		}
	}
	for _, typ := range []MsgType{TypeText, TypeAck, TypeSensor} {
		if IsPlaintextType(typ) {
			t.Errorf("%v should not be plaintext", typ)
		}
	}
}

func TestDedupChecksumDistinguishesFrames(t *testing.T) {
	a, _ := Encode(TypeText, Broadcast, []byte("one"), 1, 1, testNonce)
	b, _ := Encode(TypeText, Broadcast, []byte("two"), 1, 2, testNonce)
	if DedupChecksum(a) == DedupChecksum(b) {
		t.Fatal("distinct frames hashed equal (possible but should not for these vectors)")
	}
}
