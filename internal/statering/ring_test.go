package statering

import (
	"testing"

	"github.com/ehrlich-b/netplay/internal/packet"
)

func TestAdvanceOwnPortRespectsDelayFrames(t *testing.T) {
	r := NewRing()
	sample := func(frame int64) [packet.ButtonsPerPort]int16 {
		var buttons [packet.ButtonsPerPort]int16
		buttons[0] = int16(frame)
		return buttons
	}

	// frameCounter=0, delayFrames=2: port should be able to advance to
	// frame 1 then frame 2, then stall until frameCounter moves.
	if !r.AdvanceOwnPort(0, 0, 2, sample, nil, nil) {
		t.Fatal("expected first advance to succeed")
	}
	if r.FrameOf(0) != 1 {
		t.Fatalf("frame = %d, want 1", r.FrameOf(0))
	}
	if !r.AdvanceOwnPort(0, 0, 2, sample, nil, nil) {
		t.Fatal("expected second advance to succeed")
	}
	if r.FrameOf(0) != 2 {
		t.Fatalf("frame = %d, want 2", r.FrameOf(0))
	}
	if r.AdvanceOwnPort(0, 0, 2, sample, nil, nil) {
		t.Fatal("expected third advance to stall at delay bound")
	}
}

func TestEncodeDecodeInboundInputRoundTrip(t *testing.T) {
	sender := NewRing()
	sample := func(frame int64) [packet.ButtonsPerPort]int16 {
		var b [packet.ButtonsPerPort]int16
		b[5] = 77
		return b
	}
	sender.AdvanceOwnPort(3, 0, 1, sample, nil, nil)

	out, err := sender.EncodeOutbound(3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	receiver := NewRing()
	if err := receiver.HandleInboundInput(3, out); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if receiver.FrameOf(3) != 1 {
		t.Fatalf("received frame = %d, want 1", receiver.FrameOf(3))
	}
	if receiver.Ports[3].InputState[1][3][5] != 77 {
		t.Fatalf("received button state mismatch")
	}
}

func TestHandleInboundInputDropsOlderFrame(t *testing.T) {
	sender := NewRing()
	sample := func(frame int64) [packet.ButtonsPerPort]int16 {
		return [packet.ButtonsPerPort]int16{}
	}
	sender.AdvanceOwnPort(0, 0, 3, sample, nil, nil)
	sender.AdvanceOwnPort(0, 0, 3, sample, nil, nil)
	newer, _ := sender.EncodeOutbound(0)

	receiver := NewRing()
	if err := receiver.HandleInboundInput(0, newer); err != nil {
		t.Fatalf("handle newer: %v", err)
	}
	if receiver.FrameOf(0) != 2 {
		t.Fatalf("frame = %d, want 2", receiver.FrameOf(0))
	}

	// Rebuild a stale (frame=1) packet and confirm it's dropped without
	// mutating the ring.
	staleSender := NewRing()
	staleSender.AdvanceOwnPort(0, 0, 3, sample, nil, nil)
	stale, _ := staleSender.EncodeOutbound(0)

	if err := receiver.HandleInboundInput(0, stale); err != nil {
		t.Fatalf("handle stale: %v", err)
	}
	if receiver.FrameOf(0) != 2 {
		t.Fatalf("stale packet mutated ring: frame = %d, want 2", receiver.FrameOf(0))
	}
}

func TestHistoryReconstruct(t *testing.T) {
	sender := NewRing()
	sample := func(frame int64) [packet.ButtonsPerPort]int16 {
		var b [packet.ButtonsPerPort]int16
		b[0] = int16(frame * 10)
		return b
	}
	sender.AdvanceOwnPort(1, 0, 1, sample, nil, nil)
	raw, err := sender.EncodeOutbound(1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	h := NewHistory()
	h.Record(1, 1, raw)

	ws, err := h.Reconstruct(1, 1)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if ws.InputState[1][1][0] != 10 {
		t.Fatalf("reconstructed input mismatch: %d", ws.InputState[1][1][0])
	}
}

func TestCheckDelayBound(t *testing.T) {
	r := NewRing()
	sample := func(frame int64) [packet.ButtonsPerPort]int16 {
		return [packet.ButtonsPerPort]int16{}
	}
	for i := 0; i < 3; i++ {
		r.AdvanceOwnPort(0, 0, packet.DelayBufferSize, sample, nil, nil)
	}
	if err := r.CheckDelayBound(0, 0); err != nil {
		t.Fatalf("expected bound to hold: %v", err)
	}
	if err := r.CheckDelayBound(0, 10); err == nil {
		t.Fatal("expected bound violation when frameCounter outruns port")
	}
}
