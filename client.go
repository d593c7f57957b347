package netcode

import (
	"encoding/binary"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/oniproject/netcode/internal/metrics"
	"github.com/oniproject/netcode/internal/packet"
	"github.com/oniproject/netcode/internal/reliable"
	"github.com/oniproject/netcode/internal/replay"
	"github.com/oniproject/netcode/internal/sequenced"
	"github.com/oniproject/netcode/internal/token"
)

// ClientState names a client's position in the handshake.
type ClientState int

const (
	ClientSendingRequest ClientState = iota
	ClientSendingResponse
	ClientConnected
	ClientDisconnected
)

// keepaliveInterval is how long the client may go without sending a
// Payload before it sends a Keepalive instead, to hold the connection
// open.
const keepaliveInterval = 100 * time.Millisecond

// Client drives one connection attempt (and, once connected, one session)
// against a server list taken from a connect token. Update must be called
// regularly by the embedding application; nothing here blocks.
type Client struct {
	sock       Socket
	protocolID uint64
	token      token.Public

	servers   []net.Addr
	serverIdx int

	state  ClientState
	reason DisconnectReason

	// handshakeSeq is the packet-level send sequence used before a
	// session exists (Request carries none; Response retransmits must
	// still advance it so the AEAD nonce under client_to_server_key is
	// never reused).
	handshakeSeq uint64

	sess   *session
	filter *replay.Filter

	challengeSeq    uint64
	sealedChallenge [token.ChallengeLen]byte

	reliable  *reliable.Endpoint
	sequenced *sequenced.Channel

	lastPayloadSend time.Time

	sendLimiter *rate.Limiter
	lastSwitch  time.Time

	OnEvent     func(ClientEvent)
	OnPayload   func(payload []byte)
	OnSequenced func(payload []byte)
	Metrics     metrics.Sink

	now func() time.Time
}

// NewClient prepares a Client that will attempt to connect using pub
// against the servers named in pub's embedded server_data list (servers is
// the already-resolved net.Addr form of that list, in the same order).
func NewClient(sock Socket, protocolID uint64, pub token.Public, servers []net.Addr) *Client {
	c := &Client{
		sock:       sock,
		protocolID: protocolID,
		token:      pub,
		servers:    servers,
		state:      ClientSendingRequest,
		filter:     replay.NewFilter(replay.StateAwaitingChallenge),
		reliable:   reliable.NewEndpoint(),
		sequenced:  sequenced.NewChannel(),
		// Keep handshake retransmits well clear of the server's request
		// rate limiter; 30 Hz is a reasonable default for a game's
		// handshake cadence.
		sendLimiter: rate.NewLimiter(rate.Limit(30), 1),
		lastSwitch:  time.Now(),
		Metrics:     metrics.NoOp{},
		now:         time.Now,
	}
	c.reliable.OnAck = func(sequence uint16, rtt time.Duration) {
		if c.sess != nil {
			c.Metrics.ReliableAcked(c.sess.ID.String())
		}
	}
	return c
}

func (c *Client) emit(ev ClientEvent) {
	if c.OnEvent != nil {
		c.OnEvent(ev)
	}
}

func (c *Client) disconnect(reason DisconnectReason) {
	if c.state == ClientDisconnected {
		return
	}
	if c.state == ClientConnected && reason != ReasonNone {
		c.sendSessionPacket(packet.Disconnect, nil)
	}
	if c.sess != nil {
		c.sess.zero()
	}
	c.state = ClientDisconnected
	c.reason = reason
	c.emit(EventDisconnected{Reason: reason})
}

// State reports the client's current handshake state.
func (c *Client) State() ClientState { return c.state }

// DisconnectReason reports why the client disconnected; only meaningful
// once State() == ClientDisconnected.
func (c *Client) DisconnectReason() DisconnectReason { return c.reason }

// Disconnect tears the connection down locally and notifies the server on
// a best-effort basis.
func (c *Client) Disconnect() { c.disconnect(ReasonLocalRequest) }

func (c *Client) currentServer() net.Addr { return c.servers[c.serverIdx] }

func (c *Client) rotateServer(now time.Time) {
	c.serverIdx = (c.serverIdx + 1) % len(c.servers)
	c.lastSwitch = now
}

// Update drives the client state machine one tick: it drains pending
// datagrams, then performs whatever sending the current state calls for.
func (c *Client) Update(now time.Time) {
	if c.state == ClientDisconnected {
		return
	}
	if uint64(now.Unix()) >= c.token.ExpireTime {
		c.disconnect(ReasonTokenExpired)
		return
	}

	buf := make([]byte, 2048)
	for i := 0; i < 64; i++ {
		n, addr, ok := c.sock.Recv(buf)
		if !ok {
			break
		}
		c.handlePacket(buf[:n], addr, now)
		if c.state == ClientDisconnected {
			return
		}
	}

	switch c.state {
	case ClientSendingRequest, ClientSendingResponse:
		c.updateHandshake(now)
	case ClientConnected:
		c.updateConnected(now)
	}
}

func (c *Client) updateHandshake(now time.Time) {
	timeout := time.Duration(c.token.TimeoutSeconds) * time.Second
	if now.Sub(c.lastSwitch) >= timeout {
		if len(c.servers) <= 1 {
			reason := ReasonConnectTimeout
			if c.state == ClientSendingResponse {
				reason = ReasonResponseTimeout
			}
			c.disconnect(reason)
			return
		}
		c.rotateServer(now)
	}
	if c.sendLimiter.AllowN(now, 1) {
		c.sendHandshakePacket()
	}
}

func (c *Client) sendHandshakePacket() {
	switch c.state {
	case ClientSendingRequest:
		wire := packet.EncodeRequest(c.protocolID, c.token.ExpireTime, c.token.Nonce, c.token.SealedPrivate)
		_ = c.sock.Send(c.currentServer(), wire)
	case ClientSendingResponse:
		plain := make([]byte, 8+token.ChallengeLen)
		binary.LittleEndian.PutUint64(plain, c.challengeSeq)
		copy(plain[8:], c.sealedChallenge[:])
		c.sendHandshakeEncrypted(packet.Response, plain)
	}
}

// sendHandshakeEncrypted seals plaintext under the token's
// client_to_server_key, using a sequence counter dedicated to the
// pre-session handshake so no nonce is ever reused.
func (c *Client) sendHandshakeEncrypted(kind packet.Kind, plain []byte) {
	s := c.handshakeSeq
	c.handshakeSeq++
	wire, err := packet.EncodeEncrypted(kind, s, c.protocolID, plain, c.token.ClientKey)
	if err != nil {
		return
	}
	_ = c.sock.Send(c.currentServer(), wire)
}

// sendSessionPacket seals plaintext under the established session's send
// key, once Connected.
func (c *Client) sendSessionPacket(kind packet.Kind, plain []byte) {
	s := c.sess.SendSequence
	c.sess.SendSequence++
	wire, err := packet.EncodeEncrypted(kind, s, c.protocolID, plain, c.sess.SendKey)
	if err != nil {
		return
	}
	_ = c.sock.Send(c.currentServer(), wire)
}

func (c *Client) updateConnected(now time.Time) {
	if c.sess.expired(now) {
		c.disconnect(ReasonKeepaliveTimeout)
		return
	}
	if now.Sub(c.lastPayloadSend) >= keepaliveInterval {
		c.sendKeepalive()
	}
}

func (c *Client) sendKeepalive() {
	plain := make([]byte, 8)
	binary.LittleEndian.PutUint32(plain, 0) // client_index: unknown to the client itself
	binary.LittleEndian.PutUint32(plain[4:], 0)
	c.sendSessionPacket(packet.Keepalive, plain)
	c.lastPayloadSend = c.now()
}

// SendPayload submits an application message on the reliable sublayer
// (C7), framing it with a reliable header before sealing as a Payload
// packet.
func (c *Client) SendPayload(data []byte) error {
	if c.state != ClientConnected {
		return errNotConnected
	}
	wire, err := c.reliable.Send(data)
	if err != nil {
		return err
	}
	c.sendSessionPacket(packet.Payload, append([]byte{channelReliable}, wire...))
	c.lastPayloadSend = c.now()
	c.Metrics.ReliableSent(c.sess.ID.String())
	return nil
}

// SendSequenced submits an application message on the unreliable,
// drop-old sequenced sublayer (C8).
func (c *Client) SendSequenced(data []byte) error {
	if c.state != ClientConnected {
		return errNotConnected
	}
	wire, err := c.sequenced.Send(data)
	if err != nil {
		return err
	}
	c.sendSessionPacket(packet.Payload, append([]byte{channelSequenced}, wire...))
	c.lastPayloadSend = c.now()
	return nil
}

func (c *Client) handlePacket(buf []byte, addr net.Addr, now time.Time) {
	if addr.String() != c.currentServer().String() {
		return
	}
	switch c.state {
	case ClientSendingRequest, ClientSendingResponse:
		c.handlePreConnect(buf, now)
	case ClientConnected:
		c.handleConnected(buf, now)
	}
}

func (c *Client) handlePreConnect(buf []byte, now time.Time) {
	kind, err := packet.PeekKind(buf)
	if err != nil {
		return
	}
	switch kind {
	case packet.Denied:
		if c.state != ClientSendingRequest && c.state != ClientSendingResponse {
			return
		}
		if _, _, plain, err := packet.DecodeEncrypted(buf, c.protocolID, c.token.ServerKey); err != nil || len(plain) != 0 {
			return
		}
		c.disconnect(ReasonDenied)
	case packet.Challenge:
		if c.state != ClientSendingRequest {
			return
		}
		_, _, plain, err := packet.DecodeEncrypted(buf, c.protocolID, c.token.ServerKey)
		if err != nil || len(plain) != replay.ChallengePacketLen {
			return
		}
		c.challengeSeq = binary.LittleEndian.Uint64(plain)
		copy(c.sealedChallenge[:], plain[8:])
		c.state = ClientSendingResponse
		c.lastSwitch = now
		c.emit(EventConnecting{Stage: StageSendingResponse})
	case packet.Keepalive, packet.Payload:
		if c.state != ClientSendingResponse {
			return
		}
		c.promoteConnected(buf, now)
	}
}

// promoteConnected opens the session's keys against the token (the
// server recovers the same pair when it opens the private token) and
// re-dispatches buf through the connected-state path: receiving a
// Keepalive or Payload packet from the server is itself the signal that
// the handshake succeeded and the session is live.
func (c *Client) promoteConnected(buf []byte, now time.Time) {
	c.sess = newSession(c.currentServer(), c.token.ClientKey, c.token.ServerKey, time.Duration(c.token.TimeoutSeconds)*time.Second, now)
	// The session seals under the same client_to_server_key as the
	// handshake, so its sequence continues where the handshake's left off.
	c.sess.SendSequence = c.handshakeSeq
	c.filter.SetState(replay.StateConnected)
	c.state = ClientConnected
	c.emit(EventConnected{})
	c.handleConnected(buf, now)
}

func (c *Client) handleConnected(buf []byte, now time.Time) {
	seqNum, err := packet.PeekSequence(buf)
	if err != nil {
		return
	}
	kind, err := packet.PeekKind(buf)
	if err != nil || !c.filter.Admit(kind, len(buf), seqNum) {
		return
	}
	_, _, plain, err := packet.DecodeEncrypted(buf, c.protocolID, c.sess.RecvKey)
	if err != nil {
		return
	}
	c.sess.touch(now)

	switch kind {
	case packet.Keepalive:
		// Nothing to deliver; receipt alone resets the deadline above.
	case packet.Payload:
		c.dispatchPayload(plain)
	case packet.Disconnect:
		c.disconnect(ReasonNone)
	}
}
