package netcode

import (
	"errors"

	"github.com/oniproject/netcode/internal/token"
)

var errServerListTooLong = errors.New("netcode: server list exceeds server_data capacity")

// EncodeServerList packs a connect token's server_data field: each address
// is a NUL-terminated "host:port" string, back to back, zero-padded to
// ServerDataLen. The token's server_data field is defined as opaque bytes
// the server alone interprets, so this layout is private to this module.
func EncodeServerList(addrs []string) ([token.ServerDataLen]byte, error) {
	var out [token.ServerDataLen]byte
	off := 0
	for _, a := range addrs {
		n := len(a) + 1
		if off+n > token.ServerDataLen {
			return out, errServerListTooLong
		}
		copy(out[off:], a)
		off += n
	}
	return out, nil
}

// ParseServerList unpacks the NUL-terminated address list written by
// EncodeServerList.
func ParseServerList(data [token.ServerDataLen]byte) []string {
	var addrs []string
	start := 0
	for i, b := range data {
		if b == 0 {
			if i > start {
				addrs = append(addrs, string(data[start:i]))
			}
			start = i + 1
		}
	}
	return addrs
}

// serverListContains reports whether candidate appears in the packed
// server_data list.
func serverListContains(data [token.ServerDataLen]byte, candidate string) bool {
	for _, a := range ParseServerList(data) {
		if a == candidate {
			return true
		}
	}
	return false
}
