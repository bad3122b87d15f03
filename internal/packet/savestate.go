package packet

import (
	"encoding/binary"
	"fmt"
)

// FragmentHeaderSize is the size of a save-state fragment's header,
// not including its variable-length payload.
const FragmentHeaderSize = 3

// ReedSolomonKCommon is the common-case RS (n, k) value; when it
// applies, SaveStateFlagKIs239 is set and the overloaded header byte is
// freed up to instead carry sequence_hi or packet_groups.
const ReedSolomonKCommon = 239

// FragmentHeader is the 3-byte header prefixing every save-state
// transfer datagram. Its second byte is overloaded with one of three
// meanings depending on the channel flags and which packet this is,
// mirroring the wire-level union described in spec.md §4.5:
//
//   - K != 239: Overloaded carries ReedSolomonK; the group index
//     (SequenceHi) is implicitly 0 (one packet group only).
//   - K == 239, any packet of group 0: Overloaded carries
//     PacketGroups.
//   - K == 239, a packet of any other group: Overloaded carries
//     SequenceHi, the packet-group index.
type FragmentHeader struct {
	Flags       byte // lower nibble of channel_and_flags
	SequenceHi  uint8
	PacketGroups uint8
	ReedSolomonK uint8
	SequenceLo  uint8
}

// Marshal packs h and the fragment payload into one datagram, which
// must not exceed PacketSizeMax.
func (h FragmentHeader) Marshal(payload []byte) ([]byte, error) {
	if FragmentHeaderSize+len(payload) > PacketSizeMax {
		return nil, fmt.Errorf("packet: save-state fragment size %d exceeds PacketSizeMax %d", FragmentHeaderSize+len(payload), PacketSizeMax)
	}
	buf := make([]byte, FragmentHeaderSize+len(payload))
	buf[0] = ChannelAndFlags(ChannelSaveState, h.Flags)
	switch {
	case h.Flags&SaveStateFlagKIs239 == 0:
		buf[1] = h.ReedSolomonK
	case h.Flags&SaveStateFlagSequenceHiIs0 != 0:
		buf[1] = h.PacketGroups
	default:
		buf[1] = h.SequenceHi
	}
	buf[2] = h.SequenceLo
	copy(buf[FragmentHeaderSize:], payload)
	return buf, nil
}

// NewFragmentHeader builds the header for fragment i of packet group j,
// given the RS k chosen for the whole transfer and the total number of
// packet groups, following the encoding rule in spec.md §4.5 step 5.
func NewFragmentHeader(k, j, i, packetGroups int) FragmentHeader {
	h := FragmentHeader{SequenceLo: uint8(i)}
	if k == ReedSolomonKCommon {
		h.Flags |= SaveStateFlagKIs239
		if j == 0 {
			h.Flags |= SaveStateFlagSequenceHiIs0
			h.PacketGroups = uint8(packetGroups)
		} else {
			h.SequenceHi = uint8(j)
		}
	} else {
		h.ReedSolomonK = uint8(k)
	}
	return h
}

// ParseFragmentHeader parses the channel byte and 2 following header
// bytes of a save-state datagram, returning the effective (k,
// sequenceHi, sequenceLo) and whether this packet additionally
// announces the transfer's total packet-group count.
func ParseFragmentHeader(buf []byte) (k int, sequenceHi int, sequenceLo int, packetGroups int, announcesPacketGroups bool, err error) {
	if len(buf) < FragmentHeaderSize {
		return 0, 0, 0, 0, false, fmt.Errorf("packet: save-state fragment too short: %d bytes", len(buf))
	}
	ch, flags := SplitChannelAndFlags(buf[0])
	if ch != ChannelSaveState {
		return 0, 0, 0, 0, false, fmt.Errorf("packet: expected savestate channel, got %#x", buf[0])
	}
	sequenceLo = int(buf[2])

	if flags&SaveStateFlagKIs239 == 0 {
		return int(buf[1]), 0, sequenceLo, 1, false, nil
	}
	k = ReedSolomonKCommon
	if flags&SaveStateFlagSequenceHiIs0 != 0 {
		return k, 0, sequenceLo, int(buf[1]), true, nil
	}
	return k, int(buf[1]), sequenceLo, 0, false, nil
}

// PayloadHeaderSize is the size of the fixed prefix of a save-state
// transfer payload, before the compressed state and options blobs.
const PayloadHeaderSize = 8 + 8 + RoomWireSize + 8 + 8 + 8 + 8 + 8

// PayloadHeader is the fixed prefix of the assembled (pre-FEC,
// pre-fragmentation) save-state transfer payload.
type PayloadHeader struct {
	TotalSizeBytes          int64
	FrameCounter            int64
	Room                    Room
	EncodingChain           uint64
	Hash                    uint64
	CompressedOptionsSize   int64
	CompressedSaveStateSize int64
	DecompressedSaveStateSize int64
}

// MarshalBinary packs h. Callers fill Hash after computing
// xxhash64 over the full payload with Hash temporarily zeroed.
func (h PayloadHeader) MarshalBinary() ([]byte, error) {
	roomBytes, err := h.Room.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("packet: marshal savestate payload header room: %w", err)
	}
	buf := make([]byte, PayloadHeaderSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.TotalSizeBytes))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.FrameCounter))
	off += 8
	copy(buf[off:off+RoomWireSize], roomBytes)
	off += RoomWireSize
	binary.LittleEndian.PutUint64(buf[off:off+8], h.EncodingChain)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], h.Hash)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.CompressedOptionsSize))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.CompressedSaveStateSize))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.DecompressedSaveStateSize))
	off += 8
	return buf, nil
}

// UnmarshalPayloadHeader reverses MarshalBinary.
func UnmarshalPayloadHeader(buf []byte) (*PayloadHeader, error) {
	if len(buf) < PayloadHeaderSize {
		return nil, fmt.Errorf("packet: savestate payload header too short: %d bytes", len(buf))
	}
	h := &PayloadHeader{}
	off := 0
	h.TotalSizeBytes = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	h.FrameCounter = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	if err := h.Room.UnmarshalBinary(buf[off : off+RoomWireSize]); err != nil {
		return nil, fmt.Errorf("packet: unmarshal savestate payload header room: %w", err)
	}
	off += RoomWireSize
	h.EncodingChain = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	h.Hash = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	h.CompressedOptionsSize = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	h.CompressedSaveStateSize = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	h.DecompressedSaveStateSize = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	return h, nil
}

// HashOffset is the byte offset of the Hash field within the marshaled
// payload header, used to zero it before computing xxhash64 over the
// whole payload (spec.md §4.5 step 2).
const HashOffset = 8 + 8 + RoomWireSize + 8
