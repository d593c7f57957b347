package token

import (
	"encoding/binary"

	"github.com/oniproject/netcode/internal/primitives"
)

// challengeReservedLen zero-pads the challenge plaintext (client_id ||
// user_data) so the sealed token comes to 300 bytes.
const challengeReservedLen = 20

// ChallengeLen is the sealed size of a challenge token.
const ChallengeLen = 8 + UserDataLen + challengeReservedLen + primitives.MACSize // 300

func init() {
	if ChallengeLen != 300 {
		panic("challenge token layout drifted")
	}
}

// Challenge is the server-issued proof-of-address token a client must echo
// back unmodified in its Response packet.
type Challenge struct {
	ClientID uint64
	UserData [UserDataLen]byte
}

func (c Challenge) marshalPlain() []byte {
	buf := make([]byte, ChallengeLen-primitives.MACSize)
	binary.LittleEndian.PutUint64(buf, c.ClientID)
	copy(buf[8:], c.UserData[:])
	return buf
}

// Seal encrypts c under serverChallengeKey, using the challenge sequence as
// the AEAD nonce and no associated data. The result is exactly ChallengeLen
// bytes.
func (c Challenge) Seal(sequence uint64, serverChallengeKey primitives.Key) ([]byte, error) {
	plain := c.marshalPlain()
	nonce := primitives.NonceFromSequence(sequence)
	sealed, err := primitives.Seal(plain, nil, nonce, serverChallengeKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) != ChallengeLen {
		return nil, ErrMalformed
	}
	return sealed, nil
}

// OpenChallenge is the inverse of Seal.
func OpenChallenge(sealed []byte, sequence uint64, serverChallengeKey primitives.Key) (Challenge, error) {
	if len(sealed) != ChallengeLen {
		return Challenge{}, ErrMalformed
	}
	nonce := primitives.NonceFromSequence(sequence)
	plain, err := primitives.Open(append([]byte(nil), sealed...), nil, nonce, serverChallengeKey)
	if err != nil {
		return Challenge{}, err
	}
	var c Challenge
	c.ClientID = binary.LittleEndian.Uint64(plain)
	copy(c.UserData[:], plain[8:])
	return c, nil
}
