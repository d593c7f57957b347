package netcode

import (
	"net"
	"testing"
	"time"
)

// TestReliableChannelToleratesLoss drives many reliable payloads from client
// to server over a socket that silently drops a fraction of outgoing
// datagrams, and confirms two invariants: the session survives the loss (no
// spurious disconnect), and the ack channel still functions once traffic
// gets through in both directions.
func TestReliableChannelToleratesLoss(t *testing.T) {
	bus := newMemBus()
	privateKey := randPrivateKey(t)

	srv, _ := newTestServer(t, bus, "server:40000", privateKey, 16)
	var connectedSlot = -1
	var received int
	srv.OnEvent = func(ev ServerEvent) {
		switch e := ev.(type) {
		case EventClientConnected:
			connectedSlot = e.Slot
		case EventPacket:
			received++
			// Echo back so the ack bitfield travelling server->client has
			// something to carry; acks are piggybacked on reliable sends,
			// never on bare Keepalives.
			_ = srv.SendPayload(e.Slot, []byte("ack"))
		}
	}

	pub := mintToken(t, privateKey, "server:40000", 99, 30, 10)
	rawClientSock := bus.newSocket("client:5000")
	lossy := &dropSocket{Socket: rawClientSock, n: 4} // drop every 4th client->server send
	cl := NewClient(lossy, testProtocolID, pub, []net.Addr{memAddr("server:40000")})

	var acked int
	prevOnAck := cl.reliable.OnAck
	cl.reliable.OnAck = func(sequence uint16, rtt time.Duration) {
		acked++
		if prevOnAck != nil {
			prevOnAck(sequence, rtt)
		}
	}

	now := time.Now()
	now = driveUntil(t, now, 20*time.Millisecond, 200,
		func() bool { return cl.State() == ClientConnected },
		func(now time.Time) {
			cl.Update(now)
			srv.Update(now)
		},
	)
	if connectedSlot != 0 {
		t.Fatalf("connectedSlot = %d, want 0", connectedSlot)
	}

	const sent = 200
	for i := 0; i < sent; i++ {
		if err := cl.SendPayload([]byte("payload")); err != nil {
			t.Fatalf("SendPayload #%d: %v", i, err)
		}
		now = now.Add(5 * time.Millisecond)
		cl.Update(now)
		srv.Update(now)
	}

	// Drain any remaining in-flight datagrams.
	for i := 0; i < 20; i++ {
		now = now.Add(20 * time.Millisecond)
		cl.Update(now)
		srv.Update(now)
	}

	if cl.State() != ClientConnected {
		t.Fatalf("client State() = %v after loss, want ClientConnected (reason %v)", cl.State(), cl.DisconnectReason())
	}
	if srv.NumConnected() != 1 {
		t.Fatalf("NumConnected() = %d, want 1 (session must survive simulated loss)", srv.NumConnected())
	}
	if received == 0 || received >= sent {
		t.Fatalf("received = %d, want >0 and <%d (loss must actually drop some, but not all, sends)", received, sent)
	}
	if acked == 0 {
		t.Fatal("acked = 0, want at least one ack once return traffic started flowing")
	}
}
