package codec

// GFSize is the number of symbols representable by GF(2^8); a single
// Reed-Solomon coding can carry at most this many total blocks
// (data + parity).
const GFSize = 256

// Partition computes the packet-group layout for a Reed-Solomon coded
// transfer of totalSize bytes with redundant parity blocks per 256,
// following the rule in spec.md §4.1:
//
//  1. k_max = 256 - redundant
//  2. start with 1 group, k = ceil(totalSize/(groups*blockSize))
//  3. while k > k_max: groups = ceil(k/k_max), blockSize = ceil(totalSize/(k_max*groups)), recompute k
//  4. n = k + k*redundant/k_max
func Partition(totalSize, redundant, blockSize int) (n, k, outBlockSize, groups int) {
	kMax := GFSize - redundant
	groups = 1
	k = ceilDiv(totalSize, groups*blockSize)

	for k > kMax {
		groups = ceilDiv(k, kMax)
		blockSize = ceilDiv(totalSize, kMax*groups)
		k = ceilDiv(totalSize, groups*blockSize)
	}

	n = k + k*redundant/kMax
	return n, k, blockSize, groups
}

// NForK computes the total block count n for a coding whose data-block
// count is k and whose redundancy is redundant parity blocks per 256,
// the same ratio Partition used to pick k in the first place. A
// receiver that already knows k (carried on the wire) can recover n
// without re-running Partition.
func NForK(k, redundant int) int {
	kMax := GFSize - redundant
	return k + k*redundant/kMax
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a-1)/b + 1
}

// LogicalPartitionOffset returns the byte offset of block (sequenceHi,
// sequenceLo) within the flattened (block, group)-major buffer used by
// the save-state transfer: the lower byte of the sequence corresponds
// to the largest stride.
func LogicalPartitionOffset(sequenceHi, sequenceLo uint8, blockSizeBytes, blockStride int) int64 {
	return int64(sequenceHi)*int64(blockSizeBytes) + int64(sequenceLo)*int64(blockSizeBytes)*int64(blockStride)
}
