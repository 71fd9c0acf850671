package hashmap

import "github.com/cespare/xxhash/v2"

// Hasher maps key bytes to a hash code. It is called once per key and the
// result is cached on the entry.
type Hasher func(key []byte) uint64

const (
	fnvSeed  = 0x811C9DC5
	fnvPrime = 0x01000193
)

// FNVHash is a seeded multiplicative hash over the key bytes.
func FNVHash(key []byte) uint64 {
	h := uint32(fnvSeed)
	for i := 0; i < len(key); i++ {
		h = (h + uint32(key[i])) * fnvPrime
	}
	return uint64(h)
}

// XXHash hashes the key with xxhash64.
func XXHash(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// HasherByName resolves a configured hash function name.
func HasherByName(name string) (Hasher, bool) {
	switch name {
	case "", "fnv":
		return FNVHash, true
	case "xxhash":
		return XXHash, true
	}
	return nil, false
}
