// Package integration drives Client and Server over real UDP sockets on the
// loopback interface, exercising the handshake and session lifecycle without
// any in-memory Socket fake.
package integration

import (
	"crypto/rand"
	"net"
	"testing"
	"time"

	netcode "github.com/oniproject/netcode"
	"github.com/oniproject/netcode/internal/primitives"
	"github.com/oniproject/netcode/internal/token"
)

const protocolID = 0xabad1dea

func randPrivateKey(t *testing.T) primitives.Key {
	t.Helper()
	var k primitives.Key
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatal(err)
	}
	return k
}

// newUDPServer opens a real UDP socket and a Server bound to it, returning
// the address the server actually bound to (for embedding in connect
// tokens).
func newUDPServer(t *testing.T, privateKey primitives.Key, maxClients int) (*netcode.Server, string) {
	t.Helper()
	sock, err := netcode.ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	srv, err := netcode.NewServer(sock, protocolID, privateKey, maxClients, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, sock.LocalAddr().String()
}

func newUDPClient(t *testing.T, pub token.Public, serverAddr string) *netcode.Client {
	t.Helper()
	sock, err := netcode.ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	return netcode.NewClient(sock, protocolID, pub, []net.Addr{addr})
}

func mintToken(t *testing.T, privateKey primitives.Key, serverAddr string, clientID uint64, expireSeconds, timeoutSeconds uint32) token.Public {
	t.Helper()
	serverData, err := netcode.EncodeServerList([]string{serverAddr})
	if err != nil {
		t.Fatal(err)
	}
	pub, err := token.GeneratePublic(serverData, [token.UserDataLen]byte{}, expireSeconds, timeoutSeconds, clientID, protocolID, privateKey)
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

// driveUntil ticks client and server at a fixed wall-clock cadence until
// done() is satisfied or the round budget is exhausted. Real UDP sockets
// have real (if tiny) loopback latency, so unlike the in-memory fakes this
// must use the actual wall clock rather than a synthetic one.
func driveUntil(t *testing.T, rounds int, step time.Duration, done func() bool, tick func(now time.Time)) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		time.Sleep(step)
		tick(time.Now())
		if done() {
			return
		}
	}
	t.Fatalf("condition not met within %d rounds", rounds)
}

func TestHandshakeOverRealUDP(t *testing.T) {
	privateKey := randPrivateKey(t)
	srv, serverAddr := newUDPServer(t, privateKey, 16)

	connected := make(chan netcode.EventClientConnected, 1)
	var gotPacket = make(chan []byte, 1)
	srv.OnEvent = func(ev netcode.ServerEvent) {
		switch e := ev.(type) {
		case netcode.EventClientConnected:
			select {
			case connected <- e:
			default:
			}
		case netcode.EventPacket:
			select {
			case gotPacket <- e.Data:
			default:
			}
		}
	}

	pub := mintToken(t, privateKey, serverAddr, 42, 30, 5)
	cl := newUDPClient(t, pub, serverAddr)

	driveUntil(t, 200, 20*time.Millisecond,
		func() bool { return cl.State() == netcode.ClientConnected },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	select {
	case e := <-connected:
		if e.ClientID != 42 {
			t.Fatalf("ClientID = %d, want 42", e.ClientID)
		}
	case <-time.After(time.Second):
		t.Fatal("server never emitted EventClientConnected")
	}

	if err := cl.SendPayload([]byte("ping over real udp")); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}
	driveUntil(t, 100, 20*time.Millisecond,
		func() bool {
			select {
			case data := <-gotPacket:
				if string(data) != "ping over real udp" {
					t.Fatalf("server received %q, want %q", data, "ping over real udp")
				}
				return true
			default:
				return false
			}
		},
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	if srv.NumConnected() != 1 {
		t.Fatalf("NumConnected() = %d, want 1", srv.NumConnected())
	}
}

func TestExpiredTokenOverRealUDP(t *testing.T) {
	privateKey := randPrivateKey(t)
	srv, serverAddr := newUDPServer(t, privateKey, 16)

	pub := mintToken(t, privateKey, serverAddr, 7, 0, 5)
	cl := newUDPClient(t, pub, serverAddr)

	time.Sleep(1100 * time.Millisecond)
	cl.Update(time.Now())
	srv.Update(time.Now())

	if cl.State() != netcode.ClientDisconnected {
		t.Fatalf("State() = %v, want ClientDisconnected", cl.State())
	}
	if cl.DisconnectReason() != netcode.ReasonTokenExpired {
		t.Fatalf("DisconnectReason() = %v, want ReasonTokenExpired", cl.DisconnectReason())
	}
}

func TestMaxClientsDeniedOverRealUDP(t *testing.T) {
	privateKey := randPrivateKey(t)
	srv, serverAddr := newUDPServer(t, privateKey, 1)

	pub1 := mintToken(t, privateKey, serverAddr, 1, 30, 5)
	cl1 := newUDPClient(t, pub1, serverAddr)
	driveUntil(t, 200, 20*time.Millisecond,
		func() bool { return cl1.State() == netcode.ClientConnected },
		func(now time.Time) {
			cl1.Update(now)
			srv.Update(now)
		},
	)

	pub2 := mintToken(t, privateKey, serverAddr, 2, 30, 5)
	cl2 := newUDPClient(t, pub2, serverAddr)
	driveUntil(t, 200, 20*time.Millisecond,
		func() bool { return cl2.State() == netcode.ClientDisconnected },
		func(now time.Time) {
			cl1.Update(now)
			cl2.Update(now)
			srv.Update(now)
		},
	)

	if cl2.DisconnectReason() != netcode.ReasonDenied {
		t.Fatalf("cl2.DisconnectReason() = %v, want ReasonDenied", cl2.DisconnectReason())
	}
	if srv.NumConnected() != 1 {
		t.Fatalf("NumConnected() = %d, want 1", srv.NumConnected())
	}
}
