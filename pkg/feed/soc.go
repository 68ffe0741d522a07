package feed

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	return h.Sum(nil)
}

// Identifier is the single owner chunk identifier of the update at index i:
// keccak256(topic || uint64be(i)).
func Identifier(topic Topic, i uint64) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], i)
	return keccak256(topic[:], idx[:])
}

// UpdateAddress is the network address of the update at index i of the feed
// owned by owner, a hex encoded 20 byte address.
func UpdateAddress(owner string, topic Topic, i uint64) (Reference, error) {
	o, err := hex.DecodeString(owner)
	if err != nil {
		return Reference{}, fmt.Errorf("owner: %w", err)
	}
	if len(o) != 20 {
		return Reference{}, fmt.Errorf("owner: %w: %d", ErrInvalidLength, len(o))
	}
	return NewReference(keccak256(Identifier(topic, i), o))
}
