// Package codec implements the leaf-level wire codecs shared by the
// netplay session: RLE-8 run-length encoding, Reed-Solomon erasure
// coding, zstd compression, and xxhash content hashing.
package codec

import "fmt"

// RLEEncodeBound returns ceil(n/128)+n, the output capacity RLEEncode
// reserves up front for an input of n bytes. It is not a hard limit:
// an input whose zero and non-zero bytes alternate encodes to about
// 1.5n bytes, and RLEEncode grows its buffer past this size as needed.
func RLEEncodeBound(n int) int {
	return (n+127)/128 + n
}

// RLEEncode run-length encodes src. Non-zero bytes are copied verbatim;
// a run of 1-255 zero bytes is encoded as a zero byte followed by the
// run length.
func RLEEncode(src []byte) []byte {
	out := make([]byte, 0, RLEEncodeBound(len(src)))
	i := 0
	for i < len(src) {
		if src[i] != 0 {
			out = append(out, src[i])
			i++
			continue
		}
		run := 1
		for i+run < len(src) && src[i+run] == 0 && run < 255 {
			run++
		}
		out = append(out, 0, byte(run))
		i += run
	}
	return out
}

// RLEDecodeSize computes the fully-decoded output size of encoded
// without writing any output.
func RLEDecodeSize(encoded []byte) (int, error) {
	size := 0
	i := 0
	for i < len(encoded) {
		if encoded[i] != 0 {
			size++
			i++
			continue
		}
		if i+1 >= len(encoded) {
			return 0, fmt.Errorf("rle8: truncated run at offset %d", i)
		}
		run := int(encoded[i+1])
		if run == 0 {
			return 0, fmt.Errorf("rle8: zero-length run at offset %d", i)
		}
		size += run
		i += 2
	}
	return size, nil
}

// RLEDecode decodes encoded into dst, stopping once dst is full or the
// encoded stream is exhausted, whichever comes first. It returns the
// number of bytes written. This partial-decode form lets a caller pull
// just a fixed-size prefix (e.g. the leading frame counter) out of a
// much larger encoded packet without decoding the whole thing.
func RLEDecode(encoded []byte, dst []byte) (int, error) {
	written, _, err := rleDecode(encoded, dst)
	return written, err
}

// RLEDecodeExtra behaves like RLEDecode but additionally reports how
// many input bytes were consumed to produce the written output, so a
// caller can chain further decoding immediately after this packet.
func RLEDecodeExtra(encoded []byte, dst []byte) (consumed int, written int, err error) {
	written, consumed, err = rleDecode(encoded, dst)
	return consumed, written, err
}

func rleDecode(encoded []byte, dst []byte) (written int, consumed int, err error) {
	i := 0
	w := 0
	for i < len(encoded) && w < len(dst) {
		if encoded[i] != 0 {
			dst[w] = encoded[i]
			w++
			i++
			continue
		}
		if i+1 >= len(encoded) {
			return w, i, fmt.Errorf("rle8: truncated run at offset %d", i)
		}
		run := int(encoded[i+1])
		if run == 0 {
			return w, i, fmt.Errorf("rle8: zero-length run at offset %d", i)
		}
		n := run
		if w+n > len(dst) {
			n = len(dst) - w
		}
		for k := 0; k < n; k++ {
			dst[w] = 0
			w++
		}
		i += 2
	}
	return w, i, nil
}
