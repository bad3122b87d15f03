package codec

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestZstdCodecRoundTrip(t *testing.T) {
	c, err := NewZstdCodec(3)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	defer c.Close()

	src := make([]byte, 64*1024)
	if _, err := rand.Read(src[:1024]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	// Leave the rest zeroed to exercise the common save-state case of
	// highly compressible runs alongside incompressible noise.

	compressed := c.Compress(src)
	out, err := c.Decompress(compressed, len(src))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, src) {
		t.Fatal("round trip mismatch")
	}
}

func TestZstdCodecDecompressBoundEnforced(t *testing.T) {
	c, err := NewZstdCodec(3)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	defer c.Close()

	src := bytes.Repeat([]byte{7}, 1<<20)
	compressed := c.Compress(src)
	if _, err := c.Decompress(compressed, 1024); err == nil {
		t.Fatal("expected bound violation error")
	}
}

func TestHash64Deterministic(t *testing.T) {
	a := Hash64([]byte("save-state-blob"))
	b := Hash64([]byte("save-state-blob"))
	if a != b {
		t.Fatal("hash not deterministic")
	}
	c := Hash64([]byte("save-state-blob!"))
	if a == c {
		t.Fatal("distinct inputs collided unexpectedly")
	}
}
