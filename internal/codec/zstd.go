package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCodec wraps a reusable zstd encoder/decoder pair at a fixed
// compression level. Encoders and decoders from klauspost/compress are
// expensive to construct, so the session keeps one of each alive for
// its lifetime rather than allocating per save-state transfer.
type ZstdCodec struct {
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCodec builds a codec at the given zstd compression level,
// mapped onto a klauspost encoder level by zstd.EncoderLevelFromZstd.
// The level is not range-checked here or by its callers.
func NewZstdCodec(level int) (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("new zstd decoder: %w", err)
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

// Compress returns the zstd-compressed form of src.
func (c *ZstdCodec) Compress(src []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2+64))
}

// Decompress reverses Compress, bounded by maxSize to avoid unbounded
// allocation from a hostile or corrupt blob.
func (c *ZstdCodec) Decompress(compressed []byte, maxSize int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.dec.DecodeAll(compressed, make([]byte, 0, 4096))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if maxSize > 0 && len(out) > maxSize {
		return nil, fmt.Errorf("zstd decompress: decoded size %d exceeds bound %d", len(out), maxSize)
	}
	return out, nil
}

// Close releases the encoder/decoder goroutine pools.
func (c *ZstdCodec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc.Close()
	c.dec.Close()
}
