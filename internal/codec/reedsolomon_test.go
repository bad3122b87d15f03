package codec

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestRSCodeReconstructFromLosses(t *testing.T) {
	const k, n = 10, 14
	rs, err := NewRSCode(k, n)
	if err != nil {
		t.Fatalf("new rs code: %v", err)
	}

	const blockSize = 256
	shards := make([][]byte, n)
	for i := 0; i < k; i++ {
		shards[i] = make([]byte, blockSize)
		if _, err := rand.Read(shards[i]); err != nil {
			t.Fatalf("rand: %v", err)
		}
	}
	for i := k; i < n; i++ {
		shards[i] = make([]byte, blockSize)
	}
	original := make([][]byte, k)
	for i := 0; i < k; i++ {
		original[i] = append([]byte(nil), shards[i]...)
	}

	if err := rs.Encode(shards); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Drop (n-k) shards, the maximum this code can tolerate, including
	// some data shards, and confirm exact reconstruction.
	lost := []int{0, 2, 5, n - 1}
	saved := make(map[int][]byte, len(lost))
	for _, idx := range lost {
		saved[idx] = shards[idx]
		shards[idx] = nil
	}

	if err := rs.Reconstruct(shards); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}

	for i := 0; i < k; i++ {
		if !bytes.Equal(shards[i], original[i]) {
			t.Fatalf("data shard %d mismatch after reconstruction", i)
		}
	}
}

func TestPartitionSmallPayload(t *testing.T) {
	n, k, blockSize, groups := Partition(4096, 32, 1024)
	if k <= 0 || n < k {
		t.Fatalf("invalid partition: n=%d k=%d", n, k)
	}
	if groups != 1 {
		t.Fatalf("expected single group for small payload, got %d", groups)
	}
	if k*blockSize < 4096 {
		t.Fatalf("partition too small to hold payload: k=%d blockSize=%d", k, blockSize)
	}
}

func TestPartitionLargePayloadSplitsGroups(t *testing.T) {
	// A payload whose naive block count would exceed GF(2^8)-redundant
	// capacity must split into multiple groups rather than exceeding
	// the single-coding symbol limit.
	n, k, _, groups := Partition(50*1024*1024, 32, 1024)
	if k > GFSize-32 {
		t.Fatalf("k=%d exceeds k_max", k)
	}
	if n > GFSize {
		t.Fatalf("n=%d exceeds GF(2^8) limit", n)
	}
	if groups <= 1 {
		t.Fatalf("expected multiple groups for large payload, got %d", groups)
	}
}
