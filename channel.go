package netcode

import (
	"errors"

	"github.com/oniproject/netcode/internal/reliable"
)

// Payload packets carry application bytes without distinguishing which
// sublayer framed them. A 1-byte channel tag prefixing the
// reliable/sequenced header resolves that ambiguity; it is private to this
// module, not part of the wire format DESIGN.md documents.
const (
	channelReliable  = 0
	channelSequenced = 1
)

var errNotConnected = errors.New("netcode: not connected")

func (c *Client) dispatchPayload(plain []byte) {
	if len(plain) < 1 {
		return
	}
	switch plain[0] {
	case channelReliable:
		err := c.reliable.Recv(plain[1:], func(p []byte) {
			if c.OnPayload != nil {
				c.OnPayload(p)
			}
		})
		switch err {
		case nil:
			c.Metrics.ReliableReceived(c.sess.ID.String())
		case reliable.ErrStale:
			c.Metrics.ReliableStale(c.sess.ID.String())
		default:
			c.Metrics.ReliableInvalid(c.sess.ID.String())
		}
	case channelSequenced:
		_ = c.sequenced.Recv(plain[1:], func(p []byte) {
			if c.OnSequenced != nil {
				c.OnSequenced(p)
			}
		})
	}
}
