package primitives

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randKey(t *testing.T) Key {
	t.Helper()
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pt   []byte
		ad   []byte
	}{
		{"empty payload, no ad", []byte{}, nil},
		{"short payload", []byte("hello netcode"), []byte("ad")},
		{"mtu-sized payload", bytes.Repeat([]byte{0x42}, 1200), []byte("version||proto||prefix")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := randKey(t)
			var nonce Nonce
			if _, err := rand.Read(nonce[:]); err != nil {
				t.Fatalf("rand: %v", err)
			}

			pt := append([]byte(nil), tt.pt...)
			sealed, err := Seal(pt, tt.ad, nonce, key)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if len(sealed) != len(tt.pt)+MACSize {
				t.Fatalf("sealed length = %d, want %d", len(sealed), len(tt.pt)+MACSize)
			}

			opened, err := Open(append([]byte(nil), sealed...), tt.ad, nonce, key)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(opened, tt.pt) {
				t.Fatalf("round-trip mismatch: got %x want %x", opened, tt.pt)
			}
		})
	}
}

func TestOpenFailsOnBitFlip(t *testing.T) {
	key := randKey(t)
	var nonce Nonce
	rand.Read(nonce[:])

	sealed, err := Seal([]byte("secret payload"), []byte("ad"), nonce, key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	for _, idx := range []int{0, len(sealed) / 2, len(sealed) - 1} {
		corrupt := append([]byte(nil), sealed...)
		corrupt[idx] ^= 0x01
		if _, err := Open(corrupt, []byte("ad"), nonce, key); err != ErrOpenFailed {
			t.Fatalf("bit flip at %d: expected ErrOpenFailed, got %v", idx, err)
		}
	}

	// flipping the AD should also cause failure
	if _, err := Open(append([]byte(nil), sealed...), []byte("wrong-ad"), nonce, key); err != ErrOpenFailed {
		t.Fatalf("wrong ad: expected ErrOpenFailed, got %v", err)
	}
}

func TestXSealXOpenRoundTrip(t *testing.T) {
	key := randKey(t)
	var nonce XNonce
	rand.Read(nonce[:])

	pt := []byte("private token plaintext")
	sealed, err := XSeal(append([]byte(nil), pt...), []byte("ad"), nonce, key)
	if err != nil {
		t.Fatalf("XSeal: %v", err)
	}
	if len(sealed) != len(pt)+MACSize {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(pt)+MACSize)
	}

	opened, err := XOpen(append([]byte(nil), sealed...), []byte("ad"), nonce, key)
	if err != nil {
		t.Fatalf("XOpen: %v", err)
	}
	if !bytes.Equal(opened, pt) {
		t.Fatalf("round-trip mismatch: got %x want %x", opened, pt)
	}
}

func TestNonceFromSequence(t *testing.T) {
	n := NonceFromSequence(0x0102030405060708)
	want := Nonce{0, 0, 0, 0, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if n != want {
		t.Fatalf("NonceFromSequence = %x, want %x", n, want)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 4}
	c := []byte{1, 2, 3, 5}

	if !ConstantTimeEqual(a, b) {
		t.Fatal("expected equal slices to compare equal")
	}
	if ConstantTimeEqual(a, c) {
		t.Fatal("expected differing slices to compare unequal")
	}
}

func TestZero(t *testing.T) {
	k := randKey(t)
	ZeroKey(&k)
	var zero Key
	if k != zero {
		t.Fatal("expected key to be zeroed")
	}
}
