package netcode

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/oniproject/netcode/internal/incoming"
	"github.com/oniproject/netcode/internal/metrics"
	"github.com/oniproject/netcode/internal/packet"
	"github.com/oniproject/netcode/internal/primitives"
	"github.com/oniproject/netcode/internal/reliable"
	"github.com/oniproject/netcode/internal/replay"
	"github.com/oniproject/netcode/internal/sequenced"
	"github.com/oniproject/netcode/internal/token"
)

// conn is a confirmed, connected client slot. Unlike a Pending entry (held
// in the incoming registry until a Response validates it), a conn owns a
// full session and its own C7/C8 endpoints.
type conn struct {
	slot int
	addr net.Addr

	sess   *session
	filter *replay.Filter

	reliable  *reliable.Endpoint
	sequenced *sequenced.Channel

	lastKeepalive time.Time
}

// Server accepts connect-token Requests, runs the challenge/response
// handshake, and maintains confirmed client sessions.
type Server struct {
	sock         Socket
	protocolID   uint64
	privateKey   primitives.Key
	challengeKey primitives.Key
	maxClients   int

	publicAddrs []string

	registry *incoming.Registry
	conns    map[string]*conn
	nextSlot int

	challengeSeq uint64
	// deniedSeq tracks a packet sequence per not-yet-pending address so a
	// Denied reply never reuses an AEAD nonce under a repeatedly-replayed
	// request's server_to_client_key.
	deniedSeq map[string]uint64

	requestLimiter *rate.Limiter

	OnEvent func(ServerEvent)
	Metrics metrics.Sink
}

// NewServer returns a Server bound to sock, authoritative over protocolID,
// opening connect tokens with privateKey. publicAddrs is the set of
// host:port strings by which this server expects to be named inside a
// token's server_data.
func NewServer(sock Socket, protocolID uint64, privateKey primitives.Key, maxClients int, publicAddrs []string) (*Server, error) {
	var challengeKey primitives.Key
	if _, err := rand.Read(challengeKey[:]); err != nil {
		return nil, err
	}
	return &Server{
		sock:         sock,
		protocolID:   protocolID,
		privateKey:   privateKey,
		challengeKey: challengeKey,
		maxClients:   maxClients,
		publicAddrs:  publicAddrs,
		registry:     incoming.New(),
		conns:        make(map[string]*conn),
		deniedSeq:    make(map[string]uint64),
		// Bursty connect storms are throttled before they ever reach
		// token validation.
		requestLimiter: rate.NewLimiter(rate.Limit(50), 20),
		Metrics:        metrics.NoOp{},
	}, nil
}

func (s *Server) emit(ev ServerEvent) {
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

// Update drives the server one tick: prunes expired handshakes, drains
// pending datagrams, and sends keepalives to unconfirmed connections.
func (s *Server) Update(now time.Time) {
	s.registry.Update()

	buf := make([]byte, 2048)
	for i := 0; i < 256; i++ {
		n, addr, ok := s.sock.Recv(buf)
		if !ok {
			break
		}
		s.dispatch(buf[:n], addr, now)
	}

	for key, cn := range s.conns {
		if cn.sess.expired(now) {
			s.disconnectConn(key, cn, ReasonKeepaliveTimeout)
			continue
		}
		if !cn.sess.Confirmed && now.Sub(cn.lastKeepalive) >= keepaliveInterval {
			s.sendKeepaliveTo(cn)
			cn.lastKeepalive = now
		}
	}
}

func (s *Server) dispatch(buf []byte, addr net.Addr, now time.Time) {
	kind, err := packet.PeekKind(buf)
	if err != nil {
		return
	}

	if kind == packet.Request {
		if !s.requestLimiter.AllowN(now, 1) {
			return
		}
		s.handleRequest(buf, addr, now)
		return
	}

	if cn, ok := s.conns[addr.String()]; ok {
		s.handleConnPacket(cn, buf, now)
		return
	}
	if _, ok := s.registry.Get(addr); ok {
		s.handlePendingPacket(addr, kind, buf, now)
	}
}

func (s *Server) handleRequest(buf []byte, addr net.Addr, now time.Time) {
	req, err := packet.DecodeRequest(buf)
	if err != nil || req.Protocol != s.protocolID {
		return
	}
	if uint64(now.Unix()) >= req.ExpireTime {
		return
	}

	priv, err := token.OpenPrivate(req.SealedPrivate[:], req.Protocol, req.ExpireTime, req.Nonce, s.privateKey)
	if err != nil {
		return
	}
	if !s.tokenNamesThisServer(priv.ServerData) {
		return
	}

	hmac := token.HMAC(req.SealedPrivate[:])
	expireTime := time.Unix(int64(req.ExpireTime), 0)
	if !s.registry.AddTokenHistory(hmac, addr, expireTime) {
		return
	}

	if len(s.conns)+s.registry.Len() >= s.maxClients {
		s.sendDenied(addr, priv.ServerToClient)
		return
	}

	s.registry.Insert(addr, incoming.Pending{
		Expire:  expireTime,
		Timeout: time.Duration(priv.TimeoutSeconds) * time.Second,
		SendKey: priv.ServerToClient,
		RecvKey: priv.ClientToServer,
	})
	s.sendChallenge(addr, priv)
}

// tokenNamesThisServer reports whether this server's listen address or any
// of its configured public addresses appears in the token's server_data.
func (s *Server) tokenNamesThisServer(serverData [token.ServerDataLen]byte) bool {
	if serverListContains(serverData, s.sock.LocalAddr().String()) {
		return true
	}
	for _, a := range s.publicAddrs {
		if serverListContains(serverData, a) {
			return true
		}
	}
	return false
}

func (s *Server) sendDenied(addr net.Addr, sendKey primitives.Key) {
	key := addr.String()
	seqNum := s.deniedSeq[key]
	s.deniedSeq[key] = seqNum + 1
	wire, err := packet.EncodeEncrypted(packet.Denied, seqNum, s.protocolID, nil, sendKey)
	if err != nil {
		return
	}
	_ = s.sock.Send(addr, wire)
}

func (s *Server) sendChallenge(addr net.Addr, priv token.Private) {
	challengeSeq := s.challengeSeq
	s.challengeSeq++

	ch := token.Challenge{ClientID: priv.ClientID, UserData: priv.UserData}
	sealed, err := ch.Seal(challengeSeq, s.challengeKey)
	if err != nil {
		return
	}

	plain := make([]byte, 8+token.ChallengeLen)
	binary.LittleEndian.PutUint64(plain, challengeSeq)
	copy(plain[8:], sealed)

	seqNum, ok := s.registry.NextSendSeq(addr)
	if !ok {
		return
	}
	wire, err := packet.EncodeEncrypted(packet.Challenge, seqNum, s.protocolID, plain, priv.ServerToClient)
	if err != nil {
		return
	}
	_ = s.sock.Send(addr, wire)
}

func (s *Server) handlePendingPacket(addr net.Addr, kind packet.Kind, buf []byte, now time.Time) {
	if kind != packet.Response {
		return
	}
	p, ok := s.registry.Get(addr)
	if !ok {
		return
	}

	_, _, plain, err := packet.DecodeEncrypted(buf, s.protocolID, p.RecvKey)
	if err != nil || len(plain) != 8+token.ChallengeLen {
		return
	}
	challengeSeq := binary.LittleEndian.Uint64(plain)
	ch, err := token.OpenChallenge(plain[8:], challengeSeq, s.challengeKey)
	if err != nil {
		return
	}

	s.registry.Remove(addr)
	delete(s.deniedSeq, addr.String())

	sess := newSession(addr, p.SendKey, p.RecvKey, p.Timeout, now)
	// Continue after the Challenge sends, which used the same send key.
	sess.SendSequence = p.SendSeq
	sess.ClientID = ch.ClientID
	sess.UserData = ch.UserData

	slot := s.nextSlot
	s.nextSlot++

	cn := &conn{
		slot:      slot,
		addr:      addr,
		sess:      sess,
		filter:    replay.NewFilter(replay.StateConnected),
		reliable:  reliable.NewEndpoint(),
		sequenced: sequenced.NewChannel(),
	}
	cn.reliable.OnAck = func(sequence uint16, rtt time.Duration) {
		s.Metrics.ReliableAcked(cn.sess.ID.String())
	}
	s.conns[addr.String()] = cn

	s.Metrics.ClientConnected()
	s.emit(EventClientConnected{Slot: slot, ClientID: ch.ClientID, UserData: ch.UserData, Session: sess.ID})
}

func (s *Server) handleConnPacket(cn *conn, buf []byte, now time.Time) {
	seqNum, err := packet.PeekSequence(buf)
	if err != nil {
		return
	}
	kind, err := packet.PeekKind(buf)
	if err != nil || !cn.filter.Admit(kind, len(buf), seqNum) {
		return
	}
	_, _, plain, err := packet.DecodeEncrypted(buf, s.protocolID, cn.sess.RecvKey)
	if err != nil {
		return
	}
	cn.sess.touch(now)

	switch kind {
	case packet.Keepalive:
	case packet.Payload:
		cn.sess.Confirmed = true
		s.dispatchConnPayload(cn, plain)
	case packet.Disconnect:
		s.disconnectConn(cn.addr.String(), cn, ReasonNone)
	}
}

func (s *Server) dispatchConnPayload(cn *conn, plain []byte) {
	if len(plain) < 1 {
		return
	}
	switch plain[0] {
	case channelReliable:
		err := cn.reliable.Recv(plain[1:], func(p []byte) {
			s.emit(EventPacket{Slot: cn.slot, Data: p})
		})
		switch err {
		case nil:
			s.Metrics.ReliableReceived(cn.sess.ID.String())
		case reliable.ErrStale:
			s.Metrics.ReliableStale(cn.sess.ID.String())
		default:
			s.Metrics.ReliableInvalid(cn.sess.ID.String())
		}
	case channelSequenced:
		_ = cn.sequenced.Recv(plain[1:], func(p []byte) {
			s.emit(EventPacket{Slot: cn.slot, Data: p})
		})
	}
}

func (s *Server) sendKeepaliveTo(cn *conn) {
	plain := make([]byte, 8)
	binary.LittleEndian.PutUint32(plain, uint32(cn.slot))
	binary.LittleEndian.PutUint32(plain[4:], uint32(s.maxClients))
	s.sendToConn(cn, packet.Keepalive, plain)
}

func (s *Server) sendToConn(cn *conn, kind packet.Kind, plain []byte) {
	seqNum := cn.sess.SendSequence
	cn.sess.SendSequence++
	wire, err := packet.EncodeEncrypted(kind, seqNum, s.protocolID, plain, cn.sess.SendKey)
	if err != nil {
		return
	}
	_ = s.sock.Send(cn.addr, wire)
}

// SendPayload delivers data reliably to the client occupying slot.
func (s *Server) SendPayload(slot int, data []byte) error {
	cn := s.connBySlot(slot)
	if cn == nil {
		return errNotConnected
	}
	wire, err := cn.reliable.Send(data)
	if err != nil {
		return err
	}
	s.sendToConn(cn, packet.Payload, append([]byte{channelReliable}, wire...))
	s.Metrics.ReliableSent(cn.sess.ID.String())
	return nil
}

// SendSequenced delivers data unreliably, drop-old, to the client
// occupying slot.
func (s *Server) SendSequenced(slot int, data []byte) error {
	cn := s.connBySlot(slot)
	if cn == nil {
		return errNotConnected
	}
	wire, err := cn.sequenced.Send(data)
	if err != nil {
		return err
	}
	s.sendToConn(cn, packet.Payload, append([]byte{channelSequenced}, wire...))
	return nil
}

// Disconnect tears down the client occupying slot, notifying it on a
// best-effort basis.
func (s *Server) Disconnect(slot int) {
	for key, cn := range s.conns {
		if cn.slot == slot {
			s.disconnectConn(key, cn, ReasonLocalRequest)
			return
		}
	}
}

func (s *Server) connBySlot(slot int) *conn {
	for _, cn := range s.conns {
		if cn.slot == slot {
			return cn
		}
	}
	return nil
}

func (s *Server) disconnectConn(key string, cn *conn, reason DisconnectReason) {
	if reason != ReasonNone {
		s.sendToConn(cn, packet.Disconnect, nil)
	}
	cn.sess.zero()
	delete(s.conns, key)
	s.Metrics.ClientDisconnected()
	s.emit(EventClientDisconnected{Slot: cn.slot, ClientID: cn.sess.ClientID, Reason: reason})
}

// NumConnected reports the number of confirmed client connections.
func (s *Server) NumConnected() int { return len(s.conns) }
