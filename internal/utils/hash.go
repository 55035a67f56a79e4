package utils

import "hash/fnv"

// Hash64 is a stable FNV-1a hash, used where a deterministic pick is wanted.
func Hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// HashIndex maps s onto [0, n). n must be positive.
func HashIndex(s string, n int) int {
	return int(Hash64(s) % uint64(n))
}
