package statering

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/netplay/internal/codec"
	"github.com/ehrlich-b/netplay/internal/packet"
)

// History is the per-port raw-packet history ring described in
// spec.md §3: the last HistorySize received INPUT datagrams per port,
// zero-padded to PacketSizeMax so the real length can be recovered by
// scanning back from the end for the first non-zero byte. This relies
// on RLE-8's encoding never ending in a zero byte (a zero byte is
// always immediately followed by a non-zero run length).
type History struct {
	packets [packet.PortCount][packet.HistorySize][]byte
}

// NewHistory builds an empty history ring.
func NewHistory() *History {
	return &History{}
}

// Record stores raw (the full datagram including its channel byte)
// into port's history slot for frame.
func (h *History) Record(port int, frame int64, raw []byte) {
	slot := frame % packet.HistorySize
	buf := make([]byte, packet.PacketSizeMax)
	copy(buf, raw)
	h.packets[port][slot] = buf
}

// RecoverLength returns the real length of a zero-padded history
// entry.
func RecoverLength(buf []byte) int {
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] != 0 {
			return i + 1
		}
	}
	return 0
}

// FrameAt decodes only the leading frame field out of the history
// entry for port at frame (mod HistorySize), without paying for a full
// state decode. It is used by the spectator catch-up check in
// spec.md §4.7, which only needs the authority's frame number.
func (h *History) FrameAt(port int, frame int64) (int64, bool) {
	slot := frame % packet.HistorySize
	raw := h.packets[port][slot]
	if raw == nil {
		return 0, false
	}
	n := RecoverLength(raw)
	if n < 2 {
		return 0, false
	}
	var frameBuf [8]byte
	_, written, err := codec.RLEDecodeExtra(raw[1:n], frameBuf[:])
	if err != nil || written < 8 {
		return 0, false
	}
	return int64(binary.LittleEndian.Uint64(frameBuf[:])), true
}

// Reconstruct decodes the state a lagging spectator would have seen
// for port at frame, pulled from history rather than a live datagram.
func (h *History) Reconstruct(port int, frame int64) (*packet.WireState, error) {
	slot := frame % packet.HistorySize
	raw := h.packets[port][slot]
	if raw == nil {
		return nil, fmt.Errorf("statering: no history for port %d frame %d", port, frame)
	}
	n := RecoverLength(raw)
	if n < 2 {
		return nil, fmt.Errorf("statering: history entry for port %d frame %d is empty", port, frame)
	}
	ch, _ := packet.SplitChannelAndFlags(raw[0])
	if ch != packet.ChannelInput {
		return nil, fmt.Errorf("statering: history entry for port %d frame %d has wrong channel %#x", port, frame, raw[0])
	}

	full := make([]byte, packet.WireStateSize)
	written, err := codec.RLEDecode(raw[1:n], full)
	if err != nil {
		return nil, fmt.Errorf("statering: rle8 decode history entry: %w", err)
	}
	if written != packet.WireStateSize {
		return nil, fmt.Errorf("statering: decoded history size %d, want %d", written, packet.WireStateSize)
	}

	var ws packet.WireState
	if err := ws.UnmarshalBinary(full); err != nil {
		return nil, fmt.Errorf("statering: unmarshal history entry: %w", err)
	}
	return &ws, nil
}
