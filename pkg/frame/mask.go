package frame

import (
	"encoding/binary"
	"math/rand/v2"
)

// NewMaskingKey returns a fresh 4-byte masking key, uniformly
// distributed over all 32-bit values. The underlying PRNG is
// safe for concurrent use by multiple goroutines.
//
// Masking exists to prevent cache poisoning by misbehaving
// intermediaries, not to provide confidentiality, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-10.3.
func NewMaskingKey() [4]byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], rand.Uint32())
	return key
}

// Mask XORs data in place with key[i mod 4], as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.3.
//
// The transform is its own inverse, so it's used both to
// mask outgoing payloads and to unmask incoming ones.
func Mask(data []byte, key [4]byte) {
	// XOR 8-byte lanes first. Consuming a multiple of 4 bytes per step
	// keeps the key rotation aligned with the byte-at-a-time definition.
	k32 := binary.LittleEndian.Uint32(key[:])
	k64 := uint64(k32) | uint64(k32)<<32
	for len(data) >= 8 {
		binary.LittleEndian.PutUint64(data, binary.LittleEndian.Uint64(data)^k64)
		data = data[8:]
	}

	for i := range data {
		data[i] ^= key[i&3]
	}
}
