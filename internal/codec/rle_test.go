package codec

import (
	"bytes"
	"testing"
)

func TestRLERoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		{1, 2, 3},
		bytes.Repeat([]byte{0}, 300),
		append(append([]byte{1, 2, 0, 0, 0}, bytes.Repeat([]byte{0}, 260)...), 9, 0, 0, 5),
	}
	for i, src := range cases {
		enc := RLEEncode(src)
		size, err := RLEDecodeSize(enc)
		if err != nil {
			t.Fatalf("case %d: decode size: %v", i, err)
		}
		if size != len(src) {
			t.Fatalf("case %d: decode size = %d, want %d", i, size, len(src))
		}
		dst := make([]byte, size)
		n, err := RLEDecode(enc, dst)
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if n != len(src) || !bytes.Equal(dst[:n], src) {
			t.Fatalf("case %d: decode = %v, want %v", i, dst[:n], src)
		}
	}
}

func TestRLEDecodeExtraPartial(t *testing.T) {
	src := append([]byte{1, 2, 3, 4}, bytes.Repeat([]byte{0}, 50)...)
	src = append(src, 9, 9)
	enc := RLEEncode(src)

	// Pull just the first 4 bytes out of the larger stream.
	dst := make([]byte, 4)
	consumed, written, err := RLEDecodeExtra(enc, dst)
	if err != nil {
		t.Fatalf("decode extra: %v", err)
	}
	if written != 4 || !bytes.Equal(dst, []byte{1, 2, 3, 4}) {
		t.Fatalf("written = %d dst = %v", written, dst)
	}
	if consumed != 4 {
		t.Fatalf("consumed = %d, want 4 (no run byte touched yet)", consumed)
	}

	// Decoding the remainder from the consumed offset must reproduce
	// the rest of src.
	rest := make([]byte, len(src)-4)
	n, err := RLEDecode(enc[consumed:], rest)
	if err != nil {
		t.Fatalf("decode rest: %v", err)
	}
	if n != len(rest) || !bytes.Equal(rest, src[4:]) {
		t.Fatalf("rest = %v, want %v", rest[:n], src[4:])
	}
}

func TestRLEDecodeTruncated(t *testing.T) {
	if _, err := RLEDecodeSize([]byte{1, 2, 0}); err == nil {
		t.Fatal("expected error for truncated run")
	}
}
