// Package replay implements the per-connection admission policy (C5):
// which packet kinds are allowed in which handshake state, and the
// sliding-window replay check for kinds that carry a session sequence.
package replay

import (
	"github.com/oniproject/netcode/internal/packet"
	"github.com/oniproject/netcode/internal/seq"
)

// State names the handshake stage a Filter is gating admission for. It
// mirrors only the per-kind admission policy, not the full client/server
// state machine (that lives in the root netcode package).
type State int

const (
	// StateRequest admits only Request packets (server, pre-connected).
	StateRequest State = iota
	// StateAwaitingChallenge admits only a Challenge packet whose body
	// length is exactly ChallengePacketLen (client, sent a Request).
	StateAwaitingChallenge
	// StateAwaitingResponse admits only a Response packet (server, sent
	// a Challenge).
	StateAwaitingResponse
	// StateConnected admits Keepalive, Payload, and Disconnect, each
	// gated by the sliding-window replay filter.
	StateConnected
)

// ChallengePacketLen is the fixed body length of a Challenge/Response
// packet: challenge_sequence (8 bytes) followed by the sealed challenge
// token (300 bytes). The prefix byte, packet sequence and MAC are not
// counted.
const ChallengePacketLen = 308

// Filter gates packet admission for one connection/handshake attempt and,
// once Connected, rejects replayed or stale sequences.
type Filter struct {
	state  State
	window seq.ReplayWindow
}

// NewFilter returns a Filter starting in the given state.
func NewFilter(state State) *Filter {
	return &Filter{state: state}
}

// State reports the current admission state.
func (f *Filter) State() State { return f.state }

// SetState transitions the filter to a new admission state. Moving into
// StateConnected does not reset the replay window — the window is
// per-connection for its whole lifetime, not per-state.
func (f *Filter) SetState(s State) { f.state = s }

// Admit reports whether a packet of the given kind, body length and
// sequence number is allowed to proceed to decryption/processing. bodyLen
// is only compared (against ChallengePacketLen) in StateAwaitingChallenge;
// sequence is only checked, against the replay window, in StateConnected.
func (f *Filter) Admit(kind packet.Kind, bodyLen int, sequence uint64) bool {
	switch f.state {
	case StateRequest:
		return kind == packet.Request
	case StateAwaitingChallenge:
		return kind == packet.Challenge && bodyLen == ChallengePacketLen
	case StateAwaitingResponse:
		return kind == packet.Response
	case StateConnected:
		switch kind {
		case packet.Keepalive, packet.Payload, packet.Disconnect:
			return !f.window.AlreadyReceived(sequence)
		default:
			return false
		}
	default:
		return false
	}
}
