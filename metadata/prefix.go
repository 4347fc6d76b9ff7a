package metadata

import (
	"crypto/sha1"
	"encoding/hex"
)

// shaPrefix returns the first 8 hex characters of the SHA-1 of name.
// Remote object stores shard keys by prefix; hashing spreads the
// monotonically increasing chunk ids across shards.
func shaPrefix(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])[:8]
}
