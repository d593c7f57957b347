// Package sequenced implements the unreliable, drop-old sequenced
// sublayer (C8): a single u16 sequence field precedes the payload, with no
// acks and no retries.
package sequenced

import (
	"encoding/binary"
	"errors"

	"github.com/oniproject/netcode/internal/seq"
)

// HeaderLen is the wire size of the sequence prefix.
const HeaderLen = 2

// MaxSendBytes is the largest payload a single send may carry.
const MaxSendBytes = 1024

var (
	ErrTooLarge = errors.New("sequenced: payload too large")
	ErrTooSmall = errors.New("sequenced: packet shorter than header")
)

// Channel tracks the send and receive sequence cursors for one direction
// pair of the sequenced sublayer.
type Channel struct {
	nextSend uint16
	haveRecv bool
	lastRecv uint16
}

// NewChannel returns a ready-to-use Channel.
func NewChannel() *Channel { return &Channel{} }

// NextSequence reports the sequence the next Send will use.
func (c *Channel) NextSequence() uint16 { return c.nextSend }

// Send prepends the next sequence number to payload and returns the framed
// wire body.
func (c *Channel) Send(payload []byte) ([]byte, error) {
	if len(payload) > MaxSendBytes {
		return nil, ErrTooLarge
	}
	s := c.nextSend
	c.nextSend++

	out := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint16(out, s)
	copy(out[HeaderLen:], payload)
	return out, nil
}

// Recv parses the sequence prefix and delivers the payload to process only
// if the sequence is not older than the last accepted one; strictly older
// sequences are dropped silently: process is not called and Recv returns
// nil.
func (c *Channel) Recv(wire []byte, process func(payload []byte)) error {
	if len(wire) > MaxSendBytes+HeaderLen {
		return ErrTooLarge
	}
	if len(wire) < HeaderLen {
		return ErrTooSmall
	}

	s := binary.LittleEndian.Uint16(wire)
	if c.haveRecv && seq.MoreRecent(c.lastRecv, s) {
		return nil // strictly older: dropped silently, not an error
	}

	c.haveRecv = true
	c.lastRecv = s
	if process != nil {
		process(wire[HeaderLen:])
	}
	return nil
}
