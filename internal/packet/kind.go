// Package packet implements the wire framing for the eight packet kinds:
// prefix byte, protocol-id binding, and AEAD tag attachment.
package packet

import "github.com/oniproject/netcode/internal/token"

// Kind identifies a packet's role. It occupies the low 5 bits of the prefix
// byte; only values 0-6 are assigned, and 7 (reserved) and every higher
// value are always rejected by the codec.
type Kind uint8

const (
	Request Kind = iota
	Denied
	Challenge
	Response
	Keepalive
	Payload
	Disconnect
	reservedKind
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "Request"
	case Denied:
		return "Denied"
	case Challenge:
		return "Challenge"
	case Response:
		return "Response"
	case Keepalive:
		return "Keepalive"
	case Payload:
		return "Payload"
	case Disconnect:
		return "Disconnect"
	default:
		return "Invalid"
	}
}

// Encrypted reports whether the kind carries an AEAD-sealed body (every
// kind except Request, which authenticates itself via its embedded sealed
// private token instead of a packet-level AEAD wrapper).
func (k Kind) Encrypted() bool {
	return k != Request
}

// MaxPayloadBytes is the largest application payload a Payload packet may
// carry, chosen to stay under typical internet path MTU once headers and
// the AEAD tag are added.
const MaxPayloadBytes = 1200

// requestBodyLen is the plaintext length of a Request packet's body:
// version || protocol_id || expire_timestamp || xnonce || sealed_private_token.
const requestBodyLen = token.VersionLen + 8 + 8 + 24 + token.PrivateLen

// MinBodyLen returns the minimum ciphertext-body length admissible for a
// given kind, used to drop undersized packets before decryption.
func MinBodyLen(k Kind) int {
	switch k {
	case Request:
		return requestBodyLen
	case Denied, Disconnect:
		return 0
	case Challenge, Response:
		return 8 + token.ChallengeLen
	case Keepalive:
		return 4 + 4
	case Payload:
		return 0
	default:
		return -1 // unreachable for any admitted kind
	}
}
