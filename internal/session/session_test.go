package session

import (
	"errors"
	"testing"

	"github.com/ehrlich-b/netplay/internal/ice"
	"github.com/ehrlich-b/netplay/internal/packet"
)

type fakeCore struct {
	state [4]byte
	runs  int
}

func (c *fakeCore) SerializeSize() int { return len(c.state) }

func (c *fakeCore) Serialize(buf []byte) error {
	copy(buf, c.state[:])
	return nil
}

func (c *fakeCore) Unserialize(buf []byte) error {
	copy(c.state[:], buf)
	return nil
}

func (c *fakeCore) RunOneFrame() {
	c.runs++
	c.state[0] = byte(c.runs)
}

func zeroSampler(int64) [packet.ButtonsPerPort]int16 {
	return [packet.ButtonsPerPort]int16{}
}

func newSoloSession(t *testing.T, delayFrames int64) (*Session, *fakeCore) {
	t.Helper()
	core := &fakeCore{}
	s, err := New(core, Config{FrameRate: 60, DelayFrames: delayFrames, ZstdLevel: 3})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	s.InputSampler = zeroSampler
	s.ApplyConn(packet.ConnMessage{PeerID: 0xA})
	t.Cleanup(s.Close)
	return s, core
}

func TestApplyConnSeatsAuthority(t *testing.T) {
	s, _ := newSoloSession(t, 2)
	if s.OurPort() != packet.AuthorityIndex {
		t.Fatalf("our port = %d, want %d", s.OurPort(), packet.AuthorityIndex)
	}
	if s.OurPeerID() != 0xA {
		t.Fatalf("our peer id = %#x, want 0xA", s.OurPeerID())
	}
	if s.FrameCounter() != 0 {
		t.Fatalf("frame counter = %d, want 0", s.FrameCounter())
	}
}

func TestSoloSessionTicksForward(t *testing.T) {
	s, core := newSoloSession(t, 2)

	now := int64(0)
	frameUsec := int64(1_000_000 / 60)
	ticked := false
	for i := 0; i < 200; i++ {
		if err := s.PollOnce(now); err != nil {
			t.Fatalf("poll once: %v", err)
		}
		if s.FrameCounter() > 0 {
			ticked = true
			break
		}
		now += frameUsec
	}
	if !ticked {
		t.Fatal("expected the solo session to eventually tick forward")
	}
	if core.runs == 0 {
		t.Fatal("expected RunOneFrame to have been called")
	}
}

func TestHandleJoinRejectedForNonAuthority(t *testing.T) {
	s, _ := newSoloSession(t, 2)
	s.table.IsAuthority = false

	err := s.HandleJoin(packet.JoinMessage{PeerID: 0xB, Room: s.table.Current})
	if err == nil {
		t.Fatal("expected join to be rejected by a non-authority")
	}
}

func TestHandleInboundRejectsUnseatedPeerInput(t *testing.T) {
	s, _ := newSoloSession(t, 2)

	raw := []byte{packet.ChannelAndFlags(packet.ChannelInput, 0)}
	err := s.HandleInbound(0xDEAD, raw)
	if err == nil {
		t.Fatal("expected input from an unseated peer to be rejected")
	}
}

func TestEnsureAgentAdmitsUnseatedPeerAsSpectator(t *testing.T) {
	s, _ := newSoloSession(t, 2)

	if _, err := s.EnsureAgent(0xB, true); err != nil {
		t.Fatalf("ensure agent: %v", err)
	}
	if len(s.table.Spectators) != 1 || s.table.Spectators[0] != 0xB {
		t.Fatalf("expected 0xB admitted as spectator: %+v", s.table.Spectators)
	}
}

func TestEnsureAgentRejectsPeerBeyondSpectatorCapacity(t *testing.T) {
	s, _ := newSoloSession(t, 2)

	for i := 0; i < packet.MaxSpectators; i++ {
		if _, err := s.EnsureAgent(uint64(0x100+i), true); err != nil {
			t.Fatalf("ensure agent %d: %v", i, err)
		}
	}

	_, err := s.EnsureAgent(0xDEAD, true)
	if err == nil {
		t.Fatal("expected rejection once the spectator region is full")
	}
	var sessErr *Error
	if !errors.As(err, &sessErr) || sessErr.Kind != ProtocolViolation {
		t.Fatalf("expected a ProtocolViolation error, got %v", err)
	}
}

func TestOnAgentCreatedHookFiresOnce(t *testing.T) {
	s, _ := newSoloSession(t, 2)

	var fired []uint64
	s.SetOnAgentCreated(func(peerID uint64, _ *ice.Agent) {
		fired = append(fired, peerID)
	})

	if _, err := s.EnsureAgent(0xB, true); err != nil {
		t.Fatalf("ensure agent: %v", err)
	}
	if _, err := s.EnsureAgent(0xB, true); err != nil {
		t.Fatalf("ensure agent (reuse): %v", err)
	}
	if len(fired) != 1 || fired[0] != 0xB {
		t.Fatalf("expected the hook to fire once for a fresh agent, got %+v", fired)
	}
}
