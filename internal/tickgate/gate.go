// Package tickgate computes netplay_ready_to_tick (spec.md §4.7): the
// conjunction of per-port delay-bound checks that gates local
// simulation advance, plus the wall-clock pacing that keeps ticks at
// the target frame rate and lets a lagging spectator skip pacing to
// catch up.
package tickgate

import (
	"github.com/ehrlich-b/netplay/internal/packet"
	"github.com/ehrlich-b/netplay/internal/statering"
)

// Gate holds the pacing clock and delay_frames tunable for one
// session.
type Gate struct {
	DelayFrames             int64
	FrameRate                float64
	CoreWantsTickAtUnixUsec int64
}

// NewGate builds a Gate targeting frameRate frames per second at the
// given delay_frames.
func NewGate(frameRate float64, delayFrames int64) *Gate {
	return &Gate{FrameRate: frameRate, DelayFrames: delayFrames}
}

// TargetFrameTimeUsec is Tf = 1e6/fps - 1000us.
func (g *Gate) TargetFrameTimeUsec() int64 {
	return int64(1_000_000/g.FrameRate) - 1000
}

// ReadyToTick implements the conjunction in spec.md §4.7: every
// occupied port (room-hosted sessions only) must carry a frame in
// [frameCounter, frameCounter+DelayBufferSize), and, unless the local
// peer is a spectator, it must have buffered at least DelayFrames
// frames of its own input.
func ReadyToTick(frameCounter int64, room packet.Room, ring *statering.Ring, ourPort int, isSpectator bool, delayFrames int64) bool {
	if frameCounter == packet.WaitingForSaveStateSentinel {
		return false
	}

	ready := true
	if room.Flags&packet.RoomIsNetworkHosted != 0 {
		for p := 0; p < packet.PortCount; p++ {
			if room.PeerIDs[p] <= packet.PortSentinelsMax {
				continue
			}
			f := ring.FrameOf(p)
			if f < frameCounter || f >= frameCounter+packet.DelayBufferSize {
				ready = false
			}
		}
	}

	if !isSpectator {
		framesBuffered := ring.FrameOf(ourPort) - frameCounter + 1
		if framesBuffered < delayFrames {
			ready = false
		}
	}
	return ready
}

// SpectatorAuthorityFrame scans the last DelayBufferSize entries of the
// authority's packet history starting at frameCounter and returns the
// highest frame number observed, used by SpectatorShouldIgnorePacing.
func SpectatorAuthorityFrame(history *statering.History, frameCounter int64) int64 {
	authorityFrame := int64(-1)
	for i := int64(0); i < packet.DelayBufferSize; i++ {
		if f, ok := history.FrameAt(packet.AuthorityIndex, frameCounter+i); ok && f > authorityFrame {
			authorityFrame = f
		}
	}
	return authorityFrame
}

// SpectatorShouldIgnorePacing reports whether a spectator has fallen
// more than 2*delay_frames-1 frames behind the authority and should
// ignore wall-clock pacing to catch up (spec.md §4.7, boundary
// behavior in §8).
func SpectatorShouldIgnorePacing(frameCounter, authorityFrame, delayFrames int64) bool {
	maxTolerance := 2*delayFrames - 1
	return authorityFrame > frameCounter+maxTolerance
}

// WantsTickNow reports whether the pacing clock allows a tick at
// nowUnixUsec.
func (g *Gate) WantsTickNow(nowUnixUsec int64) bool {
	return g.CoreWantsTickAtUnixUsec <= nowUnixUsec
}

// AdvancePacing clamps the pacing clock to within one Tf of now,
// called once per poll iteration before a tick is attempted.
func (g *Gate) AdvancePacing(nowUnixUsec int64) {
	tf := g.TargetFrameTimeUsec()
	if g.CoreWantsTickAtUnixUsec < nowUnixUsec-tf {
		g.CoreWantsTickAtUnixUsec = nowUnixUsec - tf
	}
	if g.CoreWantsTickAtUnixUsec > nowUnixUsec+tf {
		g.CoreWantsTickAtUnixUsec = nowUnixUsec + tf
	}
}

// OnTicked advances the pacing clock by one frame period after a
// successful tick.
func (g *Gate) OnTicked() {
	g.CoreWantsTickAtUnixUsec += int64(1_000_000 / g.FrameRate)
}

// TimeoutMillis computes the transport poll timeout for the current
// pacing state, per spec.md §5: max(0, core_wants_tick_in_seconds*1000).
func (g *Gate) TimeoutMillis(nowUnixUsec int64) int {
	remainingUsec := g.CoreWantsTickAtUnixUsec - nowUnixUsec
	if remainingUsec <= 0 {
		return 0
	}
	return int(remainingUsec / 1000)
}
