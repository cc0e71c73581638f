// Package meshcrypt applies the mesh payload cipher: AES-128 in counter
// mode keyed by the shared mesh key.
//
// The 16-byte initial counter block is nonce(8) ‖ counter(4, big-endian)
// ‖ 0x00000000. CTR increments the block as a big-endian integer per
// 16-byte block processed; with the low 32 bits starting at zero and
// payloads capped well below 2^32 blocks, only the low 32 bits ever
// change, matching the firmware's counter discipline. CTR is its own
// inverse, so one Apply function serves both directions.
package meshcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the shared mesh key length in bytes.
const KeySize = 16

// NonceSize matches the 8-byte frame nonce.
const NonceSize = 8

var ErrBadKey = errors.New("meshcrypt: key must be 16 bytes")

// Cipher holds the volatile mesh key and the global encryption flag.
// The key is never persisted: after a reset it must be re-entered or
// re-exchanged.
type Cipher struct {
	key     [KeySize]byte
	hasKey  bool
	enabled bool
}

// New returns a Cipher with no key and encryption disabled.
func New() *Cipher {
	return &Cipher{}
}

// SetKey installs a 16-byte key.
func (c *Cipher) SetKey(key []byte) error {
	if len(key) != KeySize {
		return ErrBadKey
	}
	copy(c.key[:], key)
	c.hasKey = true
	return nil
}

// SetKeyHex installs a key given as 32 hex digits.
func (c *Cipher) SetKeyHex(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("meshcrypt: decode key: %w", err)
	}
	return c.SetKey(b)
}

// GenerateKey replaces the key with fresh random bytes and returns it.
func (c *Cipher) GenerateKey() ([]byte, error) {
	var k [KeySize]byte
	if _, err := rand.Read(k[:]); err != nil {
		return nil, fmt.Errorf("meshcrypt: generate key: %w", err)
	}
	copy(c.key[:], k[:])
	c.hasKey = true
	return k[:], nil
}

// Key returns a copy of the current key and whether one is installed.
func (c *Cipher) Key() ([]byte, bool) {
	if !c.hasKey {
		return nil, false
	}
	return append([]byte(nil), c.key[:]...), true
}

// Reset wipes the key and disables encryption, as a device reset
// would: the key lives in volatile memory only.
func (c *Cipher) Reset() {
	c.key = [KeySize]byte{}
	c.hasKey = false
	c.enabled = false
}

// SetEnabled toggles payload encryption globally.
func (c *Cipher) SetEnabled(on bool) { c.enabled = on }

// Enabled reports the global encryption flag.
func (c *Cipher) Enabled() bool { return c.enabled }

// Apply runs the CTR keystream over payload and returns the result.
// With encryption disabled it returns an unmodified copy. A cipher
// setup failure (no key installed, AES init error) is returned to the
// caller so the send can be aborted: plaintext is never substituted
// for a requested encryption.
func (c *Cipher) Apply(payload []byte, nonce [NonceSize]byte, counter uint32) ([]byte, error) {
	out := append([]byte(nil), payload...)
	if !c.enabled || len(payload) == 0 {
		return out, nil
	}
	if !c.hasKey {
		return nil, errors.New("meshcrypt: no key installed")
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("meshcrypt: cipher init: %w", err)
	}
	var iv [aes.BlockSize]byte
	copy(iv[:NonceSize], nonce[:])
	binary.BigEndian.PutUint32(iv[NonceSize:NonceSize+4], counter)
	// iv[12:16] stays zero; CTR increments from there.
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, out)
	return out, nil
}

// RandomNonce draws a fresh 8-byte nonce from crypto/rand.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("meshcrypt: nonce: %w", err)
	}
	return n, nil
}
