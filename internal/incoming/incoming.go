// Package incoming implements the server-side pending-handshake registry
// and token-reuse history (C9).
package incoming

import (
	"net"
	"sync"
	"time"

	"github.com/oniproject/netcode/internal/primitives"
)

// Pending is an opened-but-not-yet-confirmed session: the keys and timeout
// recovered from a client's Request, kept until the handshake's Response
// promotes it (or it expires).
type Pending struct {
	Expire  time.Time
	Timeout time.Duration
	SendKey primitives.Key // server_to_client_key
	RecvKey primitives.Key // client_to_server_key

	// SendSeq is the next packet-level sequence this pending handshake
	// will use to send a Challenge, so a resend never reuses an AEAD
	// nonce under SendKey.
	SendSeq uint64
}

type historyEntry struct {
	addr   string
	expire time.Time
}

// Registry is the server's map of in-flight handshakes, keyed by client
// address, plus the token-history de-duplication map keyed by the sealed
// private token's trailing HMAC bytes.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Pending
	history map[[primitives.MACSize]byte]historyEntry
	now     func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		pending: make(map[string]Pending),
		history: make(map[[primitives.MACSize]byte]historyEntry),
		now:     time.Now,
	}
}

// Insert adds a Pending entry for addr if one does not already exist,
// mirroring Incoming::insert's entry-or-insert semantics in the original.
func (r *Registry) Insert(addr net.Addr, p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := addr.String()
	if _, exists := r.pending[key]; !exists {
		r.pending[key] = p
	}
}

// Get returns the Pending entry for addr, if any.
func (r *Registry) Get(addr net.Addr) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[addr.String()]
	return p, ok
}

// Remove deletes and returns the Pending entry for addr, if any — called
// when a Response promotes the handshake to a confirmed connection.
func (r *Registry) Remove(addr net.Addr) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := addr.String()
	p, ok := r.pending[key]
	delete(r.pending, key)
	return p, ok
}

// AddTokenHistory records that hmac was redeemed from addr, expiring at
// expire. It returns true if this is either the first sighting of hmac, or
// a repeat sighting from the *same* address (both are acceptable reuse);
// it returns false if hmac was already redeemed from a different address,
// which the caller must treat as a reject.
func (r *Registry) AddTokenHistory(hmac [primitives.MACSize]byte, addr net.Addr, expire time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := addr.String()
	existing, ok := r.history[hmac]
	if !ok {
		r.history[hmac] = historyEntry{addr: key, expire: expire}
		return true
	}
	return existing.addr == key
}

// NextSendSeq returns the next packet sequence to use for a Challenge sent
// to addr's pending handshake, incrementing it in the registry. It reports
// false if addr has no pending entry.
func (r *Registry) NextSendSeq(addr net.Addr) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := addr.String()
	p, ok := r.pending[key]
	if !ok {
		return 0, false
	}
	s := p.SendSeq
	p.SendSeq++
	r.pending[key] = p
	return s, true
}

// Update prunes expired pending and history entries; it must be called on
// every server tick.
func (r *Registry) Update() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for addr, p := range r.pending {
		if !now.Before(p.Expire) {
			delete(r.pending, addr)
		}
	}
	for hmac, h := range r.history {
		if !now.Before(h.expire) {
			delete(r.history, hmac)
		}
	}
}

// Len reports the number of pending handshakes, for slot-accounting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
