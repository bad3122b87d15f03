// Package statering implements the per-port state ring: the
// DELAY_BUFFER_SIZE window of future inputs, room deltas, and
// core-option mutations each port contributes, plus the raw-packet
// history used to reconstruct state for a catching-up spectator (see
// spec.md §3 and §4.3).
package statering

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/netplay/internal/codec"
	"github.com/ehrlich-b/netplay/internal/packet"
)

// Ring holds one packet.WireState per port plus the seated bitmap. It
// is never accessed from more than one goroutine; the session's single
// driving thread owns it exclusively (spec.md §5).
type Ring struct {
	Ports    [packet.PortCount]packet.WireState
	Occupied [packet.PortCount]bool
	History  *History
}

// NewRing builds an empty ring.
func NewRing() *Ring {
	return &Ring{History: NewHistory()}
}

// FrameOf returns the highest committed frame for port p.
func (r *Ring) FrameOf(p int) int64 {
	return r.Ports[p].Frame
}

// InputSampler supplies the local button state to contribute at
// slotFrame when advancing a locally-driven port.
type InputSampler func(slotFrame int64) [packet.ButtonsPerPort]int16

// AdvanceOwnPort implements the own-port input generation rule of
// spec.md §4.3: if the port's committed frame trails
// frameCounter+delayFrames, advance it by one slot, sample fresh input,
// and consume at most one pending core-option mutation and (for the
// authority) one pending room delta. It reports whether it advanced.
func (r *Ring) AdvanceOwnPort(port int, frameCounter, delayFrames int64, sample InputSampler, pendingOption *packet.CoreOption, pendingRoomDelta *packet.Room) bool {
	ps := &r.Ports[port]
	if ps.Frame >= frameCounter+delayFrames {
		return false
	}
	ps.Frame++
	slot := ps.Frame % packet.DelayBufferSize

	ps.InputState[slot][port] = sample(ps.Frame)

	if pendingOption != nil && !pendingOption.Empty() {
		ps.CoreOption[slot] = *pendingOption
	} else {
		ps.CoreOption[slot] = packet.CoreOption{}
	}

	if pendingRoomDelta != nil {
		ps.RoomXorDelta[slot] = *pendingRoomDelta
	} else {
		ps.RoomXorDelta[slot] = packet.Room{}
	}

	return true
}

// EncodeOutbound builds the wire form of port's current ring: the
// channel_and_port byte followed by the RLE-8 encoded WireState.
func (r *Ring) EncodeOutbound(port int) ([]byte, error) {
	raw, err := r.Ports[port].MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("statering: marshal port %d state: %w", port, err)
	}
	encoded := codec.RLEEncode(raw)
	out := make([]byte, 1+len(encoded))
	out[0] = packet.ChannelAndFlags(packet.ChannelInput, byte(port))
	copy(out[1:], encoded)
	if len(out) > packet.PacketSizeMax {
		return nil, fmt.Errorf("statering: encoded port %d state is %d bytes, exceeds PacketSizeMax %d", port, len(out), packet.PacketSizeMax)
	}
	return out, nil
}

// HandleInboundInput implements spec.md §4.3's inbound INPUT packet
// handling: frames older than what is already on file for src are
// dropped silently (Recoverable, reorder is expected); otherwise the
// full ring is decoded and the raw datagram is recorded into history.
func (r *Ring) HandleInboundInput(src int, raw []byte) error {
	if len(raw) < 1 {
		return fmt.Errorf("statering: empty input datagram")
	}
	ch, encodedPort := packet.SplitChannelAndFlags(raw[0])
	if ch != packet.ChannelInput {
		return fmt.Errorf("statering: expected INPUT channel, got %#x", raw[0])
	}
	if int(encodedPort) != src {
		return fmt.Errorf("statering: input port mismatch: encoded %d, agent port %d", encodedPort, src)
	}

	var frameBuf [8]byte
	consumed, written, err := codec.RLEDecodeExtra(raw[1:], frameBuf[:])
	if err != nil {
		return fmt.Errorf("statering: rle8 decode frame prefix: %w", err)
	}
	if written < 8 {
		return fmt.Errorf("statering: rle8 stream too short to hold frame field")
	}
	frame := int64(binary.LittleEndian.Uint64(frameBuf[:]))
	_ = consumed

	if frame < r.Ports[src].Frame {
		return nil
	}

	full := make([]byte, packet.WireStateSize)
	n, err := codec.RLEDecode(raw[1:], full)
	if err != nil {
		return fmt.Errorf("statering: rle8 decode full state: %w", err)
	}
	if n != packet.WireStateSize {
		return fmt.Errorf("statering: decoded state size %d, want %d", n, packet.WireStateSize)
	}

	var ws packet.WireState
	if err := ws.UnmarshalBinary(full); err != nil {
		return fmt.Errorf("statering: unmarshal state: %w", err)
	}
	r.Ports[src] = ws
	r.History.Record(src, frame, raw)
	return nil
}

// CheckDelayBound verifies invariant I2 for an occupied port: its
// committed frame must lead frameCounter by at most
// DELAY_BUFFER_SIZE-1 and never fall below it.
func (r *Ring) CheckDelayBound(port int, frameCounter int64) error {
	delta := r.Ports[port].Frame - frameCounter
	if delta < 0 || delta > packet.DelayBufferSize-1 {
		return fmt.Errorf("statering: port %d delay bound violated: frame=%d frameCounter=%d", port, r.Ports[port].Frame, frameCounter)
	}
	return nil
}
