package meshcrypt

import (
	"bytes"
	"testing"
)

var (
	testKey   = []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	testNonce = [NonceSize]byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07, 0x18}
)

func newEnabled(t *testing.T) *Cipher {
	t.Helper()
	c := New()
	if err := c.SetKey(testKey); err != nil {
		t.Fatal(err)
	}
	c.SetEnabled(true)
	return c
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("a"),
		[]byte("exactly sixteen!"),                  // one block
		[]byte("spans more than a single block.."),  // two blocks
		bytes.Repeat([]byte{0x5A}, 120),             // max frame payload
	}
	c := newEnabled(t)
	for _, p := range payloads {
		ct, err := c.Apply(p, testNonce, 42)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(ct, p) {
			t.Fatalf("ciphertext equals plaintext for %q", p)
		}
		pt, err := c.Apply(ct, testNonce, 42)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pt, p) {
			t.Fatalf("round trip: got %x, want %x", pt, p)
		}
	}
}

func TestDisabledIsIdentity(t *testing.T) {
	c := New()
	p := []byte("plaintext pass-through")
	out, err := c.Apply(p, testNonce, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, p) {
		t.Fatal("disabled cipher modified payload")
	}
	// Output must be a copy, not an alias.
	out[0] = 'X'
	if p[0] != 'p' {
		t.Fatal("Apply aliases its input")
	}
}

func TestNoKeyAborts(t *testing.T) {
	c := New()
	c.SetEnabled(true)
	if _, err := c.Apply([]byte("secret"), testNonce, 1); err == nil {
		t.Fatal("expected error with no key installed")
	}
}

func TestDistinctCountersDistinctKeystream(t *testing.T) {
	c := newEnabled(t)
	p := bytes.Repeat([]byte{0}, 32)
	a, _ := c.Apply(p, testNonce, 1)
	b, _ := c.Apply(p, testNonce, 2)
	if bytes.Equal(a, b) {
		t.Fatal("keystream reused across counters")
	}
}

func TestSetKeyHex(t *testing.T) {
	c := New()
	if err := c.SetKeyHex("000102030405060708090a0b0c0d0e0f"); err != nil {
		t.Fatal(err)
	}
	k, ok := c.Key()
	if !ok || !bytes.Equal(k, testKey) {
		t.Fatalf("hex key: got %x", k)
	}
	if err := c.SetKeyHex("deadbeef"); err == nil {
		t.Fatal("short hex key accepted")
	}
}

func TestGenerateKey(t *testing.T) {
	c := New()
	a, err := c.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != KeySize || bytes.Equal(a, b) {
		t.Fatalf("generated keys suspicious: %x %x", a, b)
	}
}
