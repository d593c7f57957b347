package netcode

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/oniproject/netcode/internal/primitives"
	"github.com/oniproject/netcode/internal/seq"
	"github.com/oniproject/netcode/internal/token"
)

// session holds the per-connection state shared by both client and server
// once a handshake has opened a pair of session keys.
type session struct {
	ID uuid.UUID

	Addr net.Addr

	SendKey primitives.Key
	RecvKey primitives.Key

	SendSequence uint64
	Replay       seq.ReplayWindow

	Timeout  time.Duration
	Deadline time.Time

	Confirmed bool

	ClientID uint64
	UserData [token.UserDataLen]byte
}

func newSession(addr net.Addr, sendKey, recvKey primitives.Key, timeout time.Duration, now time.Time) *session {
	return &session{
		ID:       uuid.New(),
		Addr:     addr,
		SendKey:  sendKey,
		RecvKey:  recvKey,
		Timeout:  timeout,
		Deadline: now.Add(timeout),
	}
}

// touch resets the inactivity deadline from now.
func (s *session) touch(now time.Time) {
	s.Deadline = now.Add(s.Timeout)
}

// expired reports whether now has passed the session's inactivity deadline.
func (s *session) expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

// zero clears key material on teardown so it doesn't linger in memory
// past the session it belonged to.
func (s *session) zero() {
	primitives.ZeroKey(&s.SendKey)
	primitives.ZeroKey(&s.RecvKey)
}
