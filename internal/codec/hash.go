package codec

import "github.com/cespare/xxhash/v2"

// Hash64 returns the xxhash64 digest of data. It is used only for
// content identification (save-state integrity, desync comparison),
// never as a security primitive.
func Hash64(data []byte) uint64 {
	return xxhash.Sum64(data)
}
