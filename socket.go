// Package netcode implements the client and server handshake state
// machines (C6) that tie together the token, packet, replay, incoming, and
// reliable/sequenced sublayers into request -> challenge -> response ->
// connected -> disconnected connections over a single UDP socket.
package netcode

import (
	"errors"
	"net"
	"time"
)

// Socket is the capability the handshake machines consume: local address,
// fire-and-forget send, and a non-blocking receive. It is the only
// boundary the core expects to be externally provided.
type Socket interface {
	LocalAddr() net.Addr
	Send(addr net.Addr, b []byte) error
	// Recv returns the next waiting datagram, or ok=false if none is
	// available. It must never block.
	Recv(buf []byte) (n int, addr net.Addr, ok bool)
	Close() error
}

// recvWait is how far ahead of the current time Recv sets its read
// deadline. A deadline at or before the current time fails the read before
// the socket is even looked at, so it must lie slightly in the future.
const recvWait = 100 * time.Microsecond

// UDPSocket adapts a *net.UDPConn to the Socket interface. Recv sets a read
// deadline recvWait ahead before every read: a queued datagram is returned
// at once, and an empty socket gives up with a timeout error after at most
// recvWait.
type UDPSocket struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket bound to laddr (e.g. ":40000" or "" for an
// ephemeral client port).
func ListenUDP(laddr string) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPSocket{conn: conn}, nil
}

func (s *UDPSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSocket) Send(addr net.Addr, b []byte) error {
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("netcode: socket requires a *net.UDPAddr")
	}
	_, err := s.conn.WriteToUDP(b, ua)
	return err
}

func (s *UDPSocket) Recv(buf []byte) (int, net.Addr, bool) {
	if err := s.conn.SetReadDeadline(time.Now().Add(recvWait)); err != nil {
		return 0, nil, false
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, false
	}
	return n, addr, true
}

func (s *UDPSocket) Close() error { return s.conn.Close() }
