package netcode

import (
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/oniproject/netcode/internal/primitives"
	"github.com/oniproject/netcode/internal/token"
)

const testProtocolID = 0xabad1dea

func randPrivateKey(t *testing.T) primitives.Key {
	t.Helper()
	var k primitives.Key
	if _, err := rand.Read(k[:]); err != nil {
		t.Fatal(err)
	}
	return k
}

func mustServerList(t *testing.T, addrs ...string) [token.ServerDataLen]byte {
	t.Helper()
	out, err := EncodeServerList(addrs)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// mintToken builds a Public connect token naming serverAddr as the sole
// server, using privateKey.
func mintToken(t *testing.T, privateKey primitives.Key, serverAddr string, clientID uint64, expireSeconds, timeoutSeconds uint32) token.Public {
	t.Helper()
	pub, err := token.GeneratePublic(mustServerList(t, serverAddr), [token.UserDataLen]byte{}, expireSeconds, timeoutSeconds, clientID, testProtocolID, privateKey)
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

// newTestServer wires a Server onto bus at addr, naming itself as addr for
// token server_data matching.
func newTestServer(t *testing.T, bus *memBus, addr string, privateKey primitives.Key, maxClients int) (*Server, *memSocket) {
	t.Helper()
	sock := bus.newSocket(addr)
	srv, err := NewServer(sock, testProtocolID, privateKey, maxClients, nil)
	if err != nil {
		t.Fatal(err)
	}
	return srv, sock
}

func newTestClient(t *testing.T, bus *memBus, clientAddr string, pub token.Public, serverAddr string) (*Client, *memSocket) {
	t.Helper()
	sock := bus.newSocket(clientAddr)
	servers := []net.Addr{memAddr(serverAddr)}
	return NewClient(sock, testProtocolID, pub, servers), sock
}

// driveUntil ticks client and server alternately, advancing now by step
// each round, until done() reports true or the round budget is exhausted.
func driveUntil(t *testing.T, now time.Time, step time.Duration, rounds int, done func() bool, tick func(now time.Time)) time.Time {
	t.Helper()
	for i := 0; i < rounds; i++ {
		now = now.Add(step)
		tick(now)
		if done() {
			return now
		}
	}
	t.Fatalf("condition not met within %d rounds", rounds)
	return now
}

func TestHandshakeHappyPath(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)

	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 16)
	var connectedClientID uint64
	var connectedSlot = -1
	srv.OnEvent = func(ev ServerEvent) {
		if e, ok := ev.(EventClientConnected); ok {
			connectedClientID = e.ClientID
			connectedSlot = e.Slot
		}
	}

	pub := mintToken(t, privateKey, "server:40000", 1345643, 30, 5)
	cl, _ := newTestClient(t, bus, "client:5000", pub, "server:40000")

	now := time.Now()
	now = driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl.State() == ClientConnected },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	if connectedClientID != 1345643 {
		t.Fatalf("server observed client_id = %d, want 1345643", connectedClientID)
	}
	if connectedSlot != 0 {
		t.Fatalf("expected first client to take slot 0, got %d", connectedSlot)
	}

	var received []byte
	srv.OnEvent = func(ev ServerEvent) {
		if e, ok := ev.(EventPacket); ok {
			received = e.Data
		}
	}

	if err := cl.SendPayload([]byte("hello server")); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	now = driveUntil(t, now, 20*time.Millisecond, 50,
		func() bool { return received != nil },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)
	if string(received) != "hello server" {
		t.Fatalf("server received %q, want %q", received, "hello server")
	}

	if srv.NumConnected() != 1 {
		t.Fatalf("NumConnected = %d, want 1", srv.NumConnected())
	}
}

func TestExpiredTokenDisconnectsImmediately(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)
	newTestServer(t, bus, "server:40000", privateKey, 16)

	pub, err := token.GeneratePublic(mustServerList(t, "server:40000"), [token.UserDataLen]byte{}, 0, 5, 1, testProtocolID, privateKey)
	if err != nil {
		t.Fatal(err)
	}
	// A zero-second expiry means ExpireTime == CreateTime, already in the
	// past by the time Update runs.
	time.Sleep(1100 * time.Millisecond)

	cl, _ := newTestClient(t, bus, "client:5000", pub, "server:40000")
	cl.Update(time.Now())

	if cl.State() != ClientDisconnected {
		t.Fatalf("State() = %v, want ClientDisconnected", cl.State())
	}
	if cl.DisconnectReason() != ReasonTokenExpired {
		t.Fatalf("DisconnectReason() = %v, want ReasonTokenExpired", cl.DisconnectReason())
	}
}

func TestTokenReplayFromDifferentAddressRejected(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)
	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 16)

	var connectedCount int
	srv.OnEvent = func(ev ServerEvent) {
		if _, ok := ev.(EventClientConnected); ok {
			connectedCount++
		}
	}

	pub := mintToken(t, privateKey, "server:40000", 77, 30, 5)

	cl1, _ := newTestClient(t, bus, "client-a:5000", pub, "server:40000")
	cl2, _ := newTestClient(t, bus, "client-b:5001", pub, "server:40000")

	now := time.Now()
	driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl1.State() == ClientConnected },
		func(now time.Time) {
			cl1.Update(now)
			cl2.Update(now)
			srv.Update(now)
		},
	)

	if connectedCount != 1 {
		t.Fatalf("expected exactly one confirmed connection from the replayed token, got %d", connectedCount)
	}
	if cl2.State() == ClientConnected {
		t.Fatal("the second client, replaying the first's token from a different address, must never connect")
	}
}

func TestMaxClientsDenied(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)
	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 1)

	pub1 := mintToken(t, privateKey, "server:40000", 1, 30, 5)
	pub2 := mintToken(t, privateKey, "server:40000", 2, 30, 5)

	cl1, _ := newTestClient(t, bus, "client-a:5000", pub1, "server:40000")
	cl2, _ := newTestClient(t, bus, "client-b:5001", pub2, "server:40000")

	now := time.Now()
	now = driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl1.State() == ClientConnected },
		func(now time.Time) {
			cl1.Update(now)
			srv.Update(now)
		},
	)

	driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl2.State() == ClientDisconnected },
		func(now time.Time) {
			cl2.Update(now)
			srv.Update(now)
		},
	)

	if cl2.DisconnectReason() != ReasonDenied {
		t.Fatalf("second client's DisconnectReason() = %v, want ReasonDenied", cl2.DisconnectReason())
	}
	if srv.NumConnected() != 1 {
		t.Fatalf("NumConnected = %d, want 1", srv.NumConnected())
	}
}

func TestRemoteDisconnectReasonNone(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)
	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 16)

	var disconnectReason DisconnectReason = -1
	srv.OnEvent = func(ev ServerEvent) {
		if e, ok := ev.(EventClientDisconnected); ok {
			disconnectReason = e.Reason
		}
	}

	pub := mintToken(t, privateKey, "server:40000", 9, 30, 5)
	cl, _ := newTestClient(t, bus, "client:5000", pub, "server:40000")

	now := time.Now()
	now = driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl.State() == ClientConnected },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	cl.Disconnect()
	if cl.DisconnectReason() != ReasonLocalRequest {
		t.Fatalf("client DisconnectReason() = %v, want ReasonLocalRequest", cl.DisconnectReason())
	}

	driveUntil(t, now, 20*time.Millisecond, 50,
		func() bool { return disconnectReason != -1 },
		func(now time.Time) { srv.Update(now) },
	)

	if disconnectReason != ReasonNone {
		t.Fatalf("server-observed disconnect reason = %v, want ReasonNone (a remote-initiated Disconnect carries no reason of its own)", disconnectReason)
	}
}

func TestKeepaliveTimeoutDisconnects(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)
	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 16)

	var disconnectReason DisconnectReason = -1
	srv.OnEvent = func(ev ServerEvent) {
		if e, ok := ev.(EventClientDisconnected); ok {
			disconnectReason = e.Reason
		}
	}

	pub := mintToken(t, privateKey, "server:40000", 3, 30, 1)
	cl, _ := newTestClient(t, bus, "client:5000", pub, "server:40000")

	now := time.Now()
	now = driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl.State() == ClientConnected },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	// From here on only srv.Update runs: the client sends nothing more,
	// simulating a crash or network partition, so the server's own
	// inactivity timeout must fire on its own.
	driveUntil(t, now, 200*time.Millisecond, 50,
		func() bool { return disconnectReason != -1 },
		func(now time.Time) { srv.Update(now) },
	)

	if disconnectReason != ReasonKeepaliveTimeout {
		t.Fatalf("disconnect reason = %v, want ReasonKeepaliveTimeout", disconnectReason)
	}
}

func TestReplayedPayloadPacketDropped(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)
	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 16)

	var deliveries int
	srv.OnEvent = func(ev ServerEvent) {
		if _, ok := ev.(EventPacket); ok {
			deliveries++
		}
	}

	pub := mintToken(t, privateKey, "server:40000", 5, 30, 5)
	rawSock := bus.newSocket("client:5000")
	tap := &tapSocket{Socket: rawSock}
	cl := NewClient(tap, testProtocolID, pub, []net.Addr{memAddr("server:40000")})

	now := time.Now()
	now = driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl.State() == ClientConnected },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	if err := cl.SendPayload([]byte("once")); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}
	// Capture the Payload datagram immediately, before any further tick
	// can let the client queue a Keepalive behind it.
	addr, wire, ok := tap.last()
	if !ok {
		t.Fatal("expected to capture the client's last sent datagram")
	}

	now = driveUntil(t, now, 20*time.Millisecond, 50,
		func() bool { return deliveries == 1 },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)

	// Re-inject the exact same wire datagram the client just sent, as an
	// attacker replaying a captured packet would.
	if err := rawSock.Send(addr, wire); err != nil {
		t.Fatal(err)
	}

	srv.Update(now.Add(20 * time.Millisecond))
	if deliveries != 1 {
		t.Fatalf("deliveries = %d after replay, want 1 (replay must be dropped)", deliveries)
	}
}
