// Package primitives wraps the AEAD and keying operations the rest of the
// module builds on. It treats ChaCha20-Poly1305 as a black box: construction
// details live in golang.org/x/crypto/chacha20poly1305, not here.
package primitives

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// Fixed sizes from the wire format.
const (
	KeySize   = 32
	MACSize   = 16
	NonceSize = chacha20poly1305.NonceSize       // 12
	XNonceSize = chacha20poly1305.NonceSizeX      // 24
)

// ErrOpenFailed is returned whenever an AEAD open fails for any reason
// (bad tag, bad key, truncated ciphertext). The wire layer treats every
// occurrence as a silent drop; never branch on anything more specific.
var ErrOpenFailed = errors.New("primitives: open failed")

// Key is a 32-byte AEAD key.
type Key [KeySize]byte

// Nonce is the 12-byte nonce used by the standard ChaCha20-Poly1305 surface.
type Nonce [NonceSize]byte

// XNonce is the 24-byte nonce used by the XChaCha20-Poly1305 surface.
type XNonce [XNonceSize]byte

// NonceFromSequence builds the 12-byte nonce used for sequence-keyed seals
// (challenge tokens, packet frames): the first 4 bytes are zero and the last
// 8 bytes carry the sequence in little-endian.
func NonceFromSequence(seq uint64) Nonce {
	var n Nonce
	n[4] = byte(seq)
	n[5] = byte(seq >> 8)
	n[6] = byte(seq >> 16)
	n[7] = byte(seq >> 24)
	n[8] = byte(seq >> 32)
	n[9] = byte(seq >> 40)
	n[10] = byte(seq >> 48)
	n[11] = byte(seq >> 56)
	return n
}

// Seal encrypts and authenticates plaintext in place, appending the 16-byte
// tag. ad may be nil. Returns the sealed slice (len(plaintext)+MACSize).
func Seal(plaintext, ad []byte, nonce Nonce, key Key) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(plaintext[:0], nonce[:], plaintext, ad), nil
}

// Open authenticates and decrypts sealed in place. Returns the plaintext
// slice on success, or ErrOpenFailed.
func Open(sealed, ad []byte, nonce Nonce, key Key) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(sealed[:0], nonce[:], sealed, ad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

// XSeal encrypts and authenticates plaintext under a 24-byte nonce. The
// subkey derivation (HChaCha20 over the first 16 nonce bytes) is handled by
// chacha20poly1305.NewX; this module never re-implements it.
func XSeal(plaintext, ad []byte, nonce XNonce, key Key) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(plaintext[:0], nonce[:], plaintext, ad), nil
}

// XOpen is the inverse of XSeal.
func XOpen(sealed, ad []byte, nonce XNonce, key Key) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(sealed[:0], nonce[:], sealed, ad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

// ConstantTimeEqual reports whether a and b hold the same bytes, in time
// independent of where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zero overwrites b with zero bytes. It is used to scrub key material on
// session teardown; this is a best-effort scrub against casual inspection,
// not a guarantee against an optimizing compiler eliding the writes.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey scrubs a Key in place.
func ZeroKey(k *Key) {
	Zero(k[:])
}
