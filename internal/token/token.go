// Package token implements the connect-token lifecycle: the server-opaque
// PrivateToken, the client-facing PublicToken envelope, and the
// server-issued ChallengeToken.
package token

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/oniproject/netcode/internal/primitives"
)

// Fixed sizes for the token wire formats.
const (
	VersionLen    = 13
	UserDataLen   = 256
	ServerDataLen = 640

	privateReservedLen = 36
	privatePlainLen    = 8 + 4 + privateReservedLen + primitives.KeySize*2 + ServerDataLen + UserDataLen
	PrivateLen         = privatePlainLen + primitives.MACSize // 1024

	// publicReservedLen mirrors the original layout's "268 - VERSION_LEN"
	// reserved span following the version/protocol/create/expire/timeout
	// fields.
	publicReservedLen = 268 - VersionLen
	publicHeaderLen   = VersionLen + 8 + 8 + 8 + 4 + publicReservedLen // 296
	PublicLen         = publicHeaderLen + primitives.XNonceSize + primitives.KeySize*2 + PrivateLen + ServerDataLen // 2048
)

// Version is the ASCII literal wire version string, 13 bytes including the
// terminating NUL.
var Version = [VersionLen]byte{'N', 'E', 'T', 'C', 'O', 'D', 'E', ' ', '1', '.', '0', '1', 0}

func init() {
	if privatePlainLen+primitives.MACSize != 1024 {
		panic(fmt.Sprintf("private token layout drifted: plaintext+mac = %d, want 1024", privatePlainLen+primitives.MACSize))
	}
	if PublicLen != 2048 {
		panic(fmt.Sprintf("public token layout drifted: %d, want 2048", PublicLen))
	}
}

var (
	// ErrVersionMismatch is returned when a public token's version field
	// does not match Version exactly.
	ErrVersionMismatch = errors.New("token: version mismatch")
	// ErrMalformed covers any length or structural problem short of a
	// cryptographic failure.
	ErrMalformed = errors.New("token: malformed")
)

// Private is the plaintext layout of a connect token's server-opaque half.
// It is sealed with XChaCha20-Poly1305 before it ever touches the wire.
type Private struct {
	ClientID         uint64
	TimeoutSeconds   uint32
	ClientToServer   primitives.Key
	ServerToClient   primitives.Key
	ServerData       [ServerDataLen]byte
	UserData         [UserDataLen]byte
}

// GeneratePrivate builds a fresh Private token with newly generated session
// keys. ServerData and UserData are copied from the caller.
func GeneratePrivate(clientID uint64, timeoutSeconds uint32, serverData [ServerDataLen]byte, userData [UserDataLen]byte) (Private, error) {
	p := Private{
		ClientID:       clientID,
		TimeoutSeconds: timeoutSeconds,
		ServerData:     serverData,
		UserData:       userData,
	}
	if _, err := rand.Read(p.ClientToServer[:]); err != nil {
		return Private{}, err
	}
	if _, err := rand.Read(p.ServerToClient[:]); err != nil {
		return Private{}, err
	}
	return p, nil
}

func (p Private) marshalPlain() []byte {
	buf := make([]byte, privatePlainLen)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], p.ClientID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], p.TimeoutSeconds)
	off += 4
	off += privateReservedLen // reserved, stays zero
	copy(buf[off:], p.ClientToServer[:])
	off += primitives.KeySize
	copy(buf[off:], p.ServerToClient[:])
	off += primitives.KeySize
	copy(buf[off:], p.ServerData[:])
	off += ServerDataLen
	copy(buf[off:], p.UserData[:])
	off += UserDataLen
	return buf
}

func unmarshalPrivatePlain(buf []byte) (Private, error) {
	if len(buf) != privatePlainLen {
		return Private{}, ErrMalformed
	}
	var p Private
	off := 0
	p.ClientID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	p.TimeoutSeconds = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	reserved := buf[off : off+privateReservedLen]
	off += privateReservedLen
	for _, b := range reserved {
		if b != 0 {
			return Private{}, ErrMalformed
		}
	}
	copy(p.ClientToServer[:], buf[off:off+primitives.KeySize])
	off += primitives.KeySize
	copy(p.ServerToClient[:], buf[off:off+primitives.KeySize])
	off += primitives.KeySize
	copy(p.ServerData[:], buf[off:off+ServerDataLen])
	off += ServerDataLen
	copy(p.UserData[:], buf[off:off+UserDataLen])
	off += UserDataLen
	return p, nil
}

func privateAD(protocolID, expireTimestamp uint64) []byte {
	ad := make([]byte, VersionLen+8+8)
	copy(ad, Version[:])
	binary.LittleEndian.PutUint64(ad[VersionLen:], protocolID)
	binary.LittleEndian.PutUint64(ad[VersionLen+8:], expireTimestamp)
	return ad
}

// Seal encrypts p under private_key and nonce, binding {version, protocol_id,
// expire_timestamp} as associated data. The result is exactly PrivateLen
// bytes.
func (p Private) Seal(protocolID, expireTimestamp uint64, nonce primitives.XNonce, privateKey primitives.Key) ([]byte, error) {
	plain := p.marshalPlain()
	sealed, err := primitives.XSeal(plain, privateAD(protocolID, expireTimestamp), nonce, privateKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) != PrivateLen {
		return nil, ErrMalformed
	}
	return sealed, nil
}

// OpenPrivate authenticates and decrypts a sealed private token. Any
// cryptographic or structural failure is returned as ErrOpenFailed /
// ErrMalformed; callers must treat both as a silent reject.
func OpenPrivate(sealed []byte, protocolID, expireTimestamp uint64, nonce primitives.XNonce, privateKey primitives.Key) (Private, error) {
	if len(sealed) != PrivateLen {
		return Private{}, ErrMalformed
	}
	plain, err := primitives.XOpen(append([]byte(nil), sealed...), privateAD(protocolID, expireTimestamp), nonce, privateKey)
	if err != nil {
		return Private{}, err
	}
	return unmarshalPrivatePlain(plain)
}

// HMAC is the last 16 bytes of a sealed private token, used as the
// token-history de-duplication key.
func HMAC(sealed []byte) [primitives.MACSize]byte {
	var h [primitives.MACSize]byte
	copy(h[:], sealed[len(sealed)-primitives.MACSize:])
	return h
}

// Public is the client-facing connect-token envelope, unencrypted except
// for the embedded sealed private token.
type Public struct {
	Protocol       uint64
	CreateTime     uint64
	ExpireTime     uint64
	TimeoutSeconds uint32

	Nonce          primitives.XNonce
	ClientKey      primitives.Key
	ServerKey      primitives.Key
	SealedPrivate  [PrivateLen]byte
	ServerData     [ServerDataLen]byte
}

// GeneratePublic samples a nonce, seals a fresh Private token under
// privateKey, and hands the client the envelope it needs to initiate a
// connection.
func GeneratePublic(serverData [ServerDataLen]byte, userData [UserDataLen]byte, expireSeconds uint32, timeoutSeconds uint32, clientID, protocolID uint64, privateKey primitives.Key) (Public, error) {
	var nonce primitives.XNonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Public{}, err
	}

	create := uint64(time.Now().Unix())
	expire := create + uint64(expireSeconds)

	priv, err := GeneratePrivate(clientID, timeoutSeconds, serverData, userData)
	if err != nil {
		return Public{}, err
	}

	sealed, err := priv.Seal(protocolID, expire, nonce, privateKey)
	if err != nil {
		return Public{}, err
	}

	pub := Public{
		Protocol:       protocolID,
		CreateTime:     create,
		ExpireTime:     expire,
		TimeoutSeconds: timeoutSeconds,
		Nonce:          nonce,
		ClientKey:      priv.ClientToServer,
		ServerKey:      priv.ServerToClient,
		ServerData:     serverData,
	}
	copy(pub.SealedPrivate[:], sealed)
	return pub, nil
}

// Marshal writes the 2048-byte wire envelope.
func (p Public) Marshal() [PublicLen]byte {
	var out [PublicLen]byte
	off := 0
	copy(out[off:], Version[:])
	off = publicHeaderLen // bytes after the fields below (which end at VersionLen+28) up to here stay reserved zero
	binary.LittleEndian.PutUint64(out[VersionLen:], p.Protocol)
	binary.LittleEndian.PutUint64(out[VersionLen+8:], p.CreateTime)
	binary.LittleEndian.PutUint64(out[VersionLen+16:], p.ExpireTime)
	binary.LittleEndian.PutUint32(out[VersionLen+24:], p.TimeoutSeconds)

	copy(out[off:], p.Nonce[:])
	off += primitives.XNonceSize
	copy(out[off:], p.ClientKey[:])
	off += primitives.KeySize
	copy(out[off:], p.ServerKey[:])
	off += primitives.KeySize
	copy(out[off:], p.SealedPrivate[:])
	off += PrivateLen
	copy(out[off:], p.ServerData[:])
	off += ServerDataLen

	if off != PublicLen {
		panic("public token marshal length drift")
	}
	return out
}

// ReadPublic parses the 2048-byte envelope and rejects anything whose
// version does not match exactly. Expiry is intentionally not checked here
// — the client's own Update loop surfaces that failure itself.
func ReadPublic(buf [PublicLen]byte) (Public, error) {
	if [VersionLen]byte(buf[:VersionLen]) != Version {
		return Public{}, ErrVersionMismatch
	}

	var p Public
	p.Protocol = binary.LittleEndian.Uint64(buf[VersionLen:])
	p.CreateTime = binary.LittleEndian.Uint64(buf[VersionLen+8:])
	p.ExpireTime = binary.LittleEndian.Uint64(buf[VersionLen+16:])
	p.TimeoutSeconds = binary.LittleEndian.Uint32(buf[VersionLen+24:])

	off := publicHeaderLen
	copy(p.Nonce[:], buf[off:off+primitives.XNonceSize])
	off += primitives.XNonceSize
	copy(p.ClientKey[:], buf[off:off+primitives.KeySize])
	off += primitives.KeySize
	copy(p.ServerKey[:], buf[off:off+primitives.KeySize])
	off += primitives.KeySize
	copy(p.SealedPrivate[:], buf[off:off+PrivateLen])
	off += PrivateLen
	copy(p.ServerData[:], buf[off:off+ServerDataLen])

	return p, nil
}
