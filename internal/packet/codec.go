package packet

import (
	"encoding/binary"
	"errors"

	"github.com/oniproject/netcode/internal/primitives"
	"github.com/oniproject/netcode/internal/token"
)

var (
	// ErrTooShort means the packet is shorter than the minimum for its
	// apparent kind; it must be dropped before decryption is attempted.
	ErrTooShort = errors.New("packet: too short")
	// ErrBadPrefix means the prefix byte decodes to a reserved kind or an
	// inconsistent (kind, sequence-length) combination.
	ErrBadPrefix = errors.New("packet: bad prefix")
	ErrTooLarge  = errors.New("packet: payload too large")
)

// prefix layout: bits [7:5] = sequence length - 1 (1..8 bytes), bits [4:0] =
// Kind. Request is the single exception: prefix byte is exactly 0, meaning
// both the reserved sequence-length field and the kind are zero.
func encodePrefix(k Kind, seqLen int) byte {
	return byte((seqLen-1)<<5) | byte(k)
}

func decodePrefix(b byte) (k Kind, seqLen int) {
	k = Kind(b & 0x1F)
	seqLen = int(b>>5) + 1
	return
}

// seqByteLen returns the minimal number of little-endian bytes (1..8)
// needed to represent seq.
func seqByteLen(seq uint64) int {
	n := 1
	for v := seq >> 8; v != 0; v >>= 8 {
		n++
	}
	return n
}

func putSeq(dst []byte, seq uint64, n int) {
	for i := 0; i < n; i++ {
		dst[i] = byte(seq >> (8 * uint(i)))
	}
}

func getSeq(src []byte) uint64 {
	var seq uint64
	for i, b := range src {
		seq |= uint64(b) << (8 * uint(i))
	}
	return seq
}

func buildAD(protocolID uint64, prefixByte byte) []byte {
	ad := make([]byte, token.VersionLen+8+1)
	copy(ad, token.Version[:])
	binary.LittleEndian.PutUint64(ad[token.VersionLen:], protocolID)
	ad[token.VersionLen+8] = prefixByte
	return ad
}

// PeekKind reports the Kind carried by a packet's prefix byte without
// attempting to open it, so a caller can run its admission policy (C5)
// before spending an AEAD open on a packet it would reject anyway.
func PeekKind(buf []byte) (Kind, error) {
	if len(buf) < 1 {
		return 0, ErrTooShort
	}
	if buf[0] == 0 {
		return Request, nil
	}
	k, _ := decodePrefix(buf[0])
	if k == Request || k >= reservedKind {
		return 0, ErrBadPrefix
	}
	return k, nil
}

// PeekSequence parses the sequence carried by an encrypted-kind packet's
// cleartext prefix, without opening the AEAD body. Used by the admission
// policy (C5), which must gate on sequence before spending a decrypt.
func PeekSequence(buf []byte) (uint64, error) {
	k, err := PeekKind(buf)
	if err != nil || k == Request {
		return 0, ErrBadPrefix
	}
	_, seqLen := decodePrefix(buf[0])
	if len(buf) < 1+seqLen {
		return 0, ErrTooShort
	}
	return getSeq(buf[1 : 1+seqLen]), nil
}

// EncodeEncrypted seals plaintext for one of the encrypted kinds and
// returns the full wire packet: prefix || sequence || ciphertext || mac16.
func EncodeEncrypted(k Kind, seq uint64, protocolID uint64, plaintext []byte, key primitives.Key) ([]byte, error) {
	if k == Request || k >= reservedKind {
		return nil, ErrBadPrefix
	}
	seqLen := seqByteLen(seq)
	prefixByte := encodePrefix(k, seqLen)
	ad := buildAD(protocolID, prefixByte)

	nonce := primitives.NonceFromSequence(seq)
	sealed, err := primitives.Seal(append([]byte(nil), plaintext...), ad, nonce, key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+seqLen+len(sealed))
	out[0] = prefixByte
	putSeq(out[1:], seq, seqLen)
	copy(out[1+seqLen:], sealed)
	return out, nil
}

// DecodeEncrypted parses and opens an encrypted-kind packet. protocolID is
// the receiver's own configured id: a packet sealed under any other id
// fails to open and is reported as ErrOpenFailed.
func DecodeEncrypted(buf []byte, protocolID uint64, key primitives.Key) (k Kind, seq uint64, plaintext []byte, err error) {
	if len(buf) < 1+1+primitives.MACSize {
		return 0, 0, nil, ErrTooShort
	}

	prefixByte := buf[0]
	k, seqLen := decodePrefix(prefixByte)
	if prefixByte == 0 || k == Request || k >= reservedKind {
		return 0, 0, nil, ErrBadPrefix
	}
	if len(buf) < 1+seqLen+primitives.MACSize+MinBodyLen(k) {
		return 0, 0, nil, ErrTooShort
	}

	seq = getSeq(buf[1 : 1+seqLen])
	ad := buildAD(protocolID, prefixByte)
	sealed := buf[1+seqLen:]

	pt, err := primitives.Open(append([]byte(nil), sealed...), ad, primitives.NonceFromSequence(seq), key)
	if err != nil {
		return 0, 0, nil, err
	}
	return k, seq, pt, nil
}

// requestBody is the plaintext layout carried by a Request packet.
type requestBody struct {
	Version        [token.VersionLen]byte
	Protocol       uint64
	ExpireTime     uint64
	Nonce          primitives.XNonce
	SealedPrivate  [token.PrivateLen]byte
}

// RequestPacketLen is the fixed total length of a Request packet.
const RequestPacketLen = 1 + requestBodyLen

// EncodeRequest builds a Request packet. It carries no packet-level AEAD of
// its own: its integrity derives entirely from the embedded sealed private
// token, which the receiver must successfully open.
func EncodeRequest(protocolID, expireTimestamp uint64, nonce primitives.XNonce, sealedPrivate [token.PrivateLen]byte) []byte {
	out := make([]byte, RequestPacketLen)
	out[0] = 0
	off := 1
	copy(out[off:], token.Version[:])
	off += token.VersionLen
	binary.LittleEndian.PutUint64(out[off:], protocolID)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], expireTimestamp)
	off += 8
	copy(out[off:], nonce[:])
	off += primitives.XNonceSize
	copy(out[off:], sealedPrivate[:])
	return out
}

// DecodedRequest holds a parsed (but not yet cryptographically validated)
// Request packet body.
type DecodedRequest struct {
	Protocol      uint64
	ExpireTime    uint64
	Nonce         primitives.XNonce
	SealedPrivate [token.PrivateLen]byte
}

// DecodeRequest validates the version field and fixed length, but does not
// open the embedded sealed private token — that is the caller's job (it
// needs the server's private key and its own protocol id to do so).
func DecodeRequest(buf []byte) (DecodedRequest, error) {
	if len(buf) != RequestPacketLen {
		return DecodedRequest{}, ErrTooShort
	}
	if buf[0] != 0 {
		return DecodedRequest{}, ErrBadPrefix
	}
	off := 1
	if [token.VersionLen]byte(buf[off:off+token.VersionLen]) != token.Version {
		return DecodedRequest{}, ErrBadPrefix
	}
	off += token.VersionLen

	var r DecodedRequest
	r.Protocol = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	r.ExpireTime = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	copy(r.Nonce[:], buf[off:off+primitives.XNonceSize])
	off += primitives.XNonceSize
	copy(r.SealedPrivate[:], buf[off:off+token.PrivateLen])
	return r, nil
}
