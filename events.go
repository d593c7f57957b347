package netcode

import (
	"github.com/google/uuid"

	"github.com/oniproject/netcode/internal/token"
)

// DisconnectReason names why a connection ended, surfaced to the
// application on both client and server.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonTokenExpired
	ReasonConnectTimeout
	ReasonChallengeTimeout
	ReasonResponseTimeout
	ReasonKeepaliveTimeout
	ReasonDenied
	ReasonLocalRequest
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonTokenExpired:
		return "token expired"
	case ReasonConnectTimeout:
		return "connect timeout"
	case ReasonChallengeTimeout:
		return "challenge timeout"
	case ReasonResponseTimeout:
		return "response timeout"
	case ReasonKeepaliveTimeout:
		return "keepalive timeout"
	case ReasonDenied:
		return "denied"
	case ReasonLocalRequest:
		return "local request"
	default:
		return "none"
	}
}

// ConnectStage names a client's progress through the handshake, carried by
// EventConnecting.
type ConnectStage int

const (
	StageSendingRequest ConnectStage = iota
	StageSendingResponse
)

// ClientEvent is implemented by every event a Client surfaces to its
// application through OnEvent.
type ClientEvent interface{ clientEvent() }

// EventConnecting fires whenever the client's handshake stage changes.
type EventConnecting struct{ Stage ConnectStage }

// EventConnected fires once the client receives its first Keepalive or
// Payload packet from the server. The client never learns its own
// client_id (only the server opens the private token that carries it), so
// unlike EventClientConnected this event carries no payload.
type EventConnected struct{}

// EventDisconnected fires on any terminal condition.
type EventDisconnected struct{ Reason DisconnectReason }

func (EventConnecting) clientEvent()   {}
func (EventConnected) clientEvent()    {}
func (EventDisconnected) clientEvent() {}

// ServerEvent is implemented by every event a Server surfaces to its
// application through OnEvent.
type ServerEvent interface{ serverEvent() }

// EventClientConnected fires when a pending handshake is promoted to a
// confirmed connection.
type EventClientConnected struct {
	Slot     int
	ClientID uint64
	UserData [token.UserDataLen]byte
	Session  uuid.UUID
}

// EventClientDisconnected fires when a confirmed client's connection ends.
type EventClientDisconnected struct {
	Slot     int
	ClientID uint64
	Reason   DisconnectReason
}

// EventPacket fires for every application payload received from a
// confirmed client.
type EventPacket struct {
	Slot int
	Data []byte
}

func (EventClientConnected) serverEvent()    {}
func (EventClientDisconnected) serverEvent() {}
func (EventPacket) serverEvent()             {}
