// Package reliable implements the reliable-ordering sublayer (C7):
// sequence + ack + ack-bitfield header, send/recv ring buffers, and the
// ack callback.
package reliable

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/oniproject/netcode/internal/seq"
)

// HeaderLen is the fixed reliable-sublayer header size: u16 seq || u16 ack
// || u32 ack_bits. This fixed 8-byte layout is chosen over a variable-size
// alternative for simplicity.
const HeaderLen = 8

// MaxSendBytes is the largest application payload a single reliable send
// may carry; fragmentation is out of scope.
const MaxSendBytes = 1024

// ringSize is the number of in-flight sequences tracked for ack-bitfield
// generation and ack lookup.
const ringSize = 256

// ackBits is the number of previous sequences represented in the ack
// bitfield.
const ackBits = 32

var (
	// ErrTooLarge is returned by Send when payload exceeds MaxSendBytes.
	ErrTooLarge = errors.New("reliable: payload too large")
	// ErrStale is returned by Recv when the incoming sequence is a
	// duplicate or older than the admitted window.
	ErrStale = errors.New("reliable: stale or duplicate sequence")
	// ErrHeaderInvalid is returned by Recv when the buffer is too short
	// to contain the fixed header.
	ErrHeaderInvalid = errors.New("reliable: header invalid")
)

// Counters exposes the sublayer's running totals for observability.
type Counters struct {
	Sent     uint64
	Received uint64
	Acked    uint64
	Stale    uint64
	Invalid  uint64
}

type sentSlot struct {
	used     bool
	seq      uint16
	sendTime time.Time
	acked    bool
}

type recvSlot struct {
	used bool
	seq  uint16
}

// Endpoint drives one direction pair (send+recv) of the reliable sublayer
// for a single connection.
type Endpoint struct {
	nextSend uint16
	haveRecv bool
	lastRecv uint16

	sent [ringSize]sentSlot
	recv [ringSize]recvSlot

	OnAck func(sequence uint16, rtt time.Duration)

	// RTTSmoothing is the EMA factor applied to each new RTT sample.
	RTTSmoothing float64
	SmoothedRTT  time.Duration

	Counters Counters

	now func() time.Time
}

// NewEndpoint returns a ready-to-use Endpoint.
func NewEndpoint() *Endpoint {
	return &Endpoint{
		RTTSmoothing: 0.0025,
		now:          time.Now,
	}
}

// NextSequence reports the sequence the next Send will use.
func (e *Endpoint) NextSequence() uint16 { return e.nextSend }

func (e *Endpoint) generateAckBits() (ack uint16, bits uint32) {
	if !e.haveRecv {
		return 0, 0
	}
	ack = e.lastRecv
	for i := 0; i < ackBits; i++ {
		s := ack - uint16(i) - 1
		slot := &e.recv[s%ringSize]
		if slot.used && slot.seq == s {
			bits |= 1 << uint(i)
		}
	}
	return ack, bits
}

// Send allocates the next sequence, records it in the sent ring, and
// returns the framed wire body (header || payload) ready for the packet
// codec to seal. It does not transmit anything itself.
func (e *Endpoint) Send(payload []byte) ([]byte, error) {
	if len(payload) > MaxSendBytes {
		return nil, ErrTooLarge
	}

	s := e.nextSend
	e.nextSend++

	ack, bits := e.generateAckBits()

	slot := &e.sent[s%ringSize]
	*slot = sentSlot{used: true, seq: s, sendTime: e.now()}

	out := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint16(out[0:], s)
	binary.LittleEndian.PutUint16(out[2:], ack)
	binary.LittleEndian.PutUint32(out[4:], bits)
	copy(out[HeaderLen:], payload)

	e.Counters.Sent++
	return out, nil
}

// Recv parses the header from wire, rejects stale/duplicate sequences,
// records the sequence for future ack-bitfield generation, invokes
// process with the payload (in receive order), and fires OnAck for every
// bit set in the ack bitfield whose sent-ring entry is present and not yet
// acknowledged.
func (e *Endpoint) Recv(wire []byte, process func(payload []byte)) error {
	if len(wire) < HeaderLen {
		e.Counters.Invalid++
		return ErrHeaderInvalid
	}

	s := binary.LittleEndian.Uint16(wire[0:])
	ack := binary.LittleEndian.Uint16(wire[2:])
	bits := binary.LittleEndian.Uint32(wire[4:])

	if !e.testInsertRecv(s) {
		e.Counters.Stale++
		return ErrStale
	}
	e.recordRecv(s)
	e.Counters.Received++

	if process != nil {
		process(wire[HeaderLen:])
	}

	for i := 0; i < ackBits; i++ {
		if bits&(1<<uint(i)) == 0 {
			continue
		}
		ackedSeq := ack - uint16(i) - 1
		slot := &e.sent[ackedSeq%ringSize]
		if !slot.used || slot.seq != ackedSeq || slot.acked {
			continue
		}
		slot.acked = true
		rtt := e.now().Sub(slot.sendTime)
		e.updateRTT(rtt)
		e.Counters.Acked++
		if e.OnAck != nil {
			e.OnAck(ackedSeq, rtt)
		}
	}

	return nil
}

func (e *Endpoint) updateRTT(sample time.Duration) {
	if e.SmoothedRTT == 0 {
		e.SmoothedRTT = sample
		return
	}
	delta := float64(sample-e.SmoothedRTT) * e.RTTSmoothing
	e.SmoothedRTT += time.Duration(delta)
}

// testInsertRecv reports whether s is admissible: neither a duplicate of
// an already-recorded ring slot nor older than what that slot currently
// holds.
func (e *Endpoint) testInsertRecv(s uint16) bool {
	slot := &e.recv[s%ringSize]
	if !slot.used {
		return true
	}
	if slot.seq == s {
		return false
	}
	return seq.MoreRecent(s, slot.seq)
}

func (e *Endpoint) recordRecv(s uint16) {
	slot := &e.recv[s%ringSize]
	slot.used = true
	slot.seq = s
	if !e.haveRecv || seq.MoreRecent(s, e.lastRecv) {
		e.haveRecv = true
		e.lastRecv = s
	}
}
