// Package seq implements wrapping sequence-number arithmetic and the
// sliding-window replay filter shared by the packet codec and the reliable
// sublayer.
package seq

// Unsigned is any wrapping unsigned integer width the protocol uses for
// sequence numbers: u8 prefixes on the wire, u16 reliable headers, u32 ack
// bitfields, u64 session and token sequences.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Order is the result of comparing two sequence numbers under modular
// "more recent than" arithmetic.
type Order int

const (
	Less Order = iota - 1
	Equal
	Greater
)

// bits returns the width, in bits, of T.
func bits[T Unsigned]() uint {
	var v T
	switch any(v).(type) {
	case uint8:
		return 8
	case uint16:
		return 16
	case uint32:
		return 32
	default:
		return 64
	}
}

// Next returns s+1, wrapping at the type's width.
func Next[T Unsigned](s T) T { return s + 1 }

// Prev returns s-1, wrapping at the type's width.
func Prev[T Unsigned](s T) T { return s - 1 }

// Cmp compares a and b under modular "more recent than" ordering: a is
// Greater than b iff (a-b) mod 2^N falls in the forward half of the space.
func Cmp[T Unsigned](a, b T) Order {
	if a == b {
		return Equal
	}
	half := T(1) << (bits[T]() - 1)
	if T(a-b) < half {
		return Greater
	}
	return Less
}

// MoreRecent reports whether a is more recent than b.
func MoreRecent[T Unsigned](a, b T) bool {
	return Cmp(a, b) == Greater
}
