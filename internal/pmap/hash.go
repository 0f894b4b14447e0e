package pmap

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HashString hashes a string key.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashUint64 hashes a numeric key. Sequential ids are spread over the whole
// 64-bit range so that the trie stays shallow.
func HashUint64(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}

// Combine mixes two hashes into one, order-dependent.
func Combine(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	return xxhash.Sum64(buf[:])
}
