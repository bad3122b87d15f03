package codec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// RSCode is one Reed-Solomon (n, k) systematic coding over GF(2^8),
// covering a single "packet group" of a save-state transfer (see
// spec.md §4.1 and §4.5). n must be <= codec.GFSize.
type RSCode struct {
	enc  reedsolomon.Encoder
	k, n int
}

// NewRSCode builds a systematic (n, k) coding: k data shards, n-k
// parity shards.
func NewRSCode(k, n int) (*RSCode, error) {
	if n > GFSize {
		return nil, fmt.Errorf("reedsolomon: n=%d exceeds GF(2^8) limit %d", n, GFSize)
	}
	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		return nil, fmt.Errorf("reedsolomon: new(%d,%d): %w", k, n-k, err)
	}
	return &RSCode{enc: enc, k: k, n: n}, nil
}

// Encode fills shards[k:n] with parity blocks computed from the k data
// blocks already present in shards[0:k]. Every shard must be the same
// length.
func (r *RSCode) Encode(shards [][]byte) error {
	if len(shards) != r.n {
		return fmt.Errorf("reedsolomon: expected %d shards, got %d", r.n, len(shards))
	}
	if err := r.enc.Encode(shards); err != nil {
		return fmt.Errorf("reedsolomon: encode: %w", err)
	}
	return nil
}

// Reconstruct fills in any nil entries of shards (length n) given at
// least k non-nil entries, recovering the original k data blocks
// byte-identically (round-trip law R2 in spec.md §8).
func (r *RSCode) Reconstruct(shards [][]byte) error {
	if len(shards) != r.n {
		return fmt.Errorf("reedsolomon: expected %d shards, got %d", r.n, len(shards))
	}
	if err := r.enc.ReconstructData(shards); err != nil {
		return fmt.Errorf("reedsolomon: reconstruct: %w", err)
	}
	return nil
}
