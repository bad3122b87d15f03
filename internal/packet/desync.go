package packet

import (
	"encoding/binary"
	"fmt"
)

// DesyncPacketSize is the packed size of a DesyncPacket.
const DesyncPacketSize = 1 + 7 + 8 + DelayBufferSize*8 + DelayBufferSize*8

// DesyncPacket carries the rolling save- and input-hashes for the
// overlap window ending at Frame (spec.md §4.8). It rides the
// unreliable DESYNC_DEBUG channel and is never required for
// correctness, only diagnosis.
type DesyncPacket struct {
	Frame     int64
	SaveHash  [DelayBufferSize]int64
	InputHash [DelayBufferSize]int64
}

// MarshalBinary packs d, including the leading channel byte and its
// 7-byte pad.
func (d *DesyncPacket) MarshalBinary() []byte {
	buf := make([]byte, DesyncPacketSize)
	buf[0] = byte(ChannelDesyncDebug)
	off := 8 // channel byte + 7 bytes pad

	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(d.Frame))
	off += 8
	for i := 0; i < DelayBufferSize; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(d.SaveHash[i]))
		off += 8
	}
	for i := 0; i < DelayBufferSize; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(d.InputHash[i]))
		off += 8
	}
	return buf
}

// UnmarshalDesyncPacket parses buf (including its leading channel byte
// and pad) into a DesyncPacket.
func UnmarshalDesyncPacket(buf []byte) (*DesyncPacket, error) {
	if len(buf) != DesyncPacketSize {
		return nil, fmt.Errorf("packet: desync packet size = %d, want %d", len(buf), DesyncPacketSize)
	}
	if ch, _ := SplitChannelAndFlags(buf[0]); ch != ChannelDesyncDebug {
		return nil, fmt.Errorf("packet: expected desync channel, got %#x", buf[0])
	}
	off := 8
	d := &DesyncPacket{}
	d.Frame = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	for i := 0; i < DelayBufferSize; i++ {
		d.SaveHash[i] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	for i := 0; i < DelayBufferSize; i++ {
		d.InputHash[i] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	return d, nil
}
