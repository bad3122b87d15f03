// Package savestate implements the outbound and inbound halves of the
// save-state transfer described in spec.md §4.5: zstd compression,
// xxhash64 integrity, Reed-Solomon erasure coding across packet
// groups, and datagram fragmentation at PacketSizeMax.
package savestate

import (
	"fmt"

	"github.com/ehrlich-b/netplay/internal/codec"
	"github.com/ehrlich-b/netplay/internal/packet"
)

// candidateBlockSize seeds the packet-group partitioner; for larger
// payloads Partition adds packet groups and recomputes a block size
// that is never larger than this candidate.
const candidateBlockSize = packet.PacketSizeMax - packet.FragmentHeaderSize

// Sender builds save-state transfer datagrams for the authority side.
type Sender struct {
	zstd *codec.ZstdCodec
}

// NewSender builds a Sender at the given zstd compression level.
func NewSender(zstdLevel int) (*Sender, error) {
	z, err := codec.NewZstdCodec(zstdLevel)
	if err != nil {
		return nil, fmt.Errorf("savestate: new sender: %w", err)
	}
	return &Sender{zstd: z}, nil
}

// Close releases the sender's zstd codec.
func (s *Sender) Close() {
	s.zstd.Close()
}

// BuildPayload implements spec.md §4.5 steps 1-2: it compresses state
// and options independently, assembles {header, compressed_state,
// compressed_options}, and fills in the xxhash64 integrity field
// computed over the whole assembled buffer with the hash field
// zeroed.
func (s *Sender) BuildPayload(frameCounter int64, room packet.Room, rawState, rawOptions []byte) ([]byte, error) {
	compressedState := s.zstd.Compress(rawState)
	compressedOptions := s.zstd.Compress(rawOptions)

	header := packet.PayloadHeader{
		FrameCounter:              frameCounter,
		Room:                      room,
		CompressedOptionsSize:     int64(len(compressedOptions)),
		CompressedSaveStateSize:   int64(len(compressedState)),
		DecompressedSaveStateSize: int64(len(rawState)),
	}
	header.TotalSizeBytes = int64(packet.PayloadHeaderSize + len(compressedState) + len(compressedOptions))

	payload, err := assemble(header, compressedState, compressedOptions)
	if err != nil {
		return nil, err
	}
	header.Hash = codec.Hash64(payload)
	return assemble(header, compressedState, compressedOptions)
}

func assemble(header packet.PayloadHeader, compressedState, compressedOptions []byte) ([]byte, error) {
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("savestate: marshal payload header: %w", err)
	}
	out := make([]byte, 0, len(headerBytes)+len(compressedState)+len(compressedOptions))
	out = append(out, headerBytes...)
	out = append(out, compressedState...)
	out = append(out, compressedOptions...)
	return out, nil
}

// Fragments partitions payload per spec.md §4.1, RS-encodes each
// packet group, and returns every resulting datagram, ready to send.
func (s *Sender) Fragments(payload []byte) ([][]byte, error) {
	n, k, blockSize, groups := codec.Partition(len(payload), packet.FECRedundantBlocks, candidateBlockSize)

	rs, err := codec.NewRSCode(k, n)
	if err != nil {
		return nil, fmt.Errorf("savestate: build rs code (k=%d n=%d): %w", k, n, err)
	}

	var fragments [][]byte
	for j := 0; j < groups; j++ {
		shards := make([][]byte, n)
		for i := range shards {
			shards[i] = make([]byte, blockSize)
		}
		for i := 0; i < k; i++ {
			off := codec.LogicalPartitionOffset(uint8(j), uint8(i), blockSize, groups)
			if off >= int64(len(payload)) {
				continue
			}
			end := off + int64(blockSize)
			if end > int64(len(payload)) {
				end = int64(len(payload))
			}
			copy(shards[i], payload[off:end])
		}
		if err := rs.Encode(shards); err != nil {
			return nil, fmt.Errorf("savestate: encode packet group %d: %w", j, err)
		}
		for i := 0; i < n; i++ {
			h := packet.NewFragmentHeader(k, j, i, groups)
			frag, err := h.Marshal(shards[i])
			if err != nil {
				return nil, fmt.Errorf("savestate: marshal fragment group=%d seq=%d: %w", j, i, err)
			}
			fragments = append(fragments, frag)
		}
	}
	return fragments, nil
}
