package session

import (
	"fmt"

	"github.com/ehrlich-b/netplay/internal/codec"
	"github.com/ehrlich-b/netplay/internal/desync"
	"github.com/ehrlich-b/netplay/internal/membership"
	"github.com/ehrlich-b/netplay/internal/packet"
	"github.com/ehrlich-b/netplay/internal/tickgate"
)

// PollOnce is one iteration of the session's single driving thread
// (spec.md §5): it advances and broadcasts the local port's own
// contribution, then ticks the simulation if netplay_ready_to_tick and
// the pacing clock both allow it. nowUnixUsec is the caller's
// monotonic clock sample for this iteration.
func (s *Session) PollOnce(nowUnixUsec int64) error {
	if s.ourPort == -1 {
		// Spectators contribute no input; they only ever tick by
		// replaying the authority's broadcast state.
		return s.maybeTick(nowUnixUsec)
	}

	if s.InputSampler == nil {
		return newErr(LocalFault, fmt.Errorf("no input sampler registered"))
	}

	var pendingOption *packet.CoreOption
	if s.NextCoreOption != nil {
		pendingOption = s.NextCoreOption()
	}

	var pendingDelta *packet.Room
	if s.table.IsAuthority {
		delta := s.table.NextDelta
		pendingDelta = &delta
	}

	advanced := s.ring.AdvanceOwnPort(s.ourPort, s.frameCounter, s.delayFrames, s.InputSampler, pendingOption, pendingDelta)
	if advanced && s.table.IsAuthority {
		s.table.NextDelta = packet.Room{}
	}

	if advanced {
		out, err := s.ring.EncodeOutbound(s.ourPort)
		if err != nil {
			return newPortErr(LocalFault, s.ourPort, err)
		}
		for peerID, sendErr := range s.manager.Broadcast(out) {
			s.logger.Warn("failed to broadcast input packet", "peer", peerID, "error", sendErr)
		}
	}

	if err := s.sendPendingSaveStates(); err != nil {
		return err
	}

	return s.maybeTick(nowUnixUsec)
}

func (s *Session) maybeTick(nowUnixUsec int64) error {
	s.gate.AdvancePacing(nowUnixUsec)

	isSpectator := s.ourPort == -1
	ready := tickgate.ReadyToTick(s.frameCounter, s.table.Current, s.ring, s.ourPort, isSpectator, s.delayFrames)
	if !ready {
		return nil
	}

	wantsNow := s.gate.WantsTickNow(nowUnixUsec)
	if isSpectator {
		authorityFrame := tickgate.SpectatorAuthorityFrame(s.ring.History, s.frameCounter)
		if tickgate.SpectatorShouldIgnorePacing(s.frameCounter, authorityFrame, s.delayFrames) {
			wantsNow = true
		}
	}
	if !wantsNow {
		return nil
	}

	if err := s.tick(); err != nil {
		return err
	}
	s.gate.OnTicked()
	return nil
}

// tick implements the six steps of spec.md §4.7 "On tick".
func (s *Session) tick() error {
	slot := s.frameCounter % packet.DelayBufferSize

	// Step 1: consume the authority's pending core-option mutation.
	opt := s.ring.Ports[packet.AuthorityIndex].CoreOption[slot]
	if !opt.Empty() {
		if opt.Key == packet.DelayFramesKey {
			if v, err := parseDelayFrames(opt.Value); err == nil {
				s.delayFrames = v
			}
		} else {
			s.coreOptions[opt.Key] = opt.Value
		}
	}

	// Step 2: serve any peer awaiting a save-state sync.
	if err := s.sendPendingSaveStates(); err != nil {
		return err
	}

	// Step 3: advance the simulation.
	s.Core.RunOneFrame()

	// Step 4: apply the committed room delta, if any.
	delta := s.ring.Ports[packet.AuthorityIndex].RoomXorDelta[slot]
	if delta != (packet.Room{}) {
		diff, err := s.table.ApplyDelta(delta)
		if err != nil {
			return newErr(IntegrityFailure, err)
		}
		s.applyMembershipDiff(diff)
		if s.table.Current.Flags&packet.RoomIsNetworkHosted == 0 {
			return s.resetToUnhosted()
		}
	}

	// Step 5: fill and broadcast the desync-debug packet.
	if err := s.broadcastDesync(); err != nil {
		s.logger.Warn("failed to compute desync snapshot", "error", err)
	}

	// Step 6: advance the frame counter.
	s.frameCounter++
	return nil
}

// applyMembershipDiff starts ICE for newly joined peers and tears down
// agents for peers who left, per spec.md §4.7 step 4. Agent creation
// goes through EnsureAgent so a peer discovered purely from a room
// delta (no prior sign exchange with us) gets the same outbound
// candidate/gathering-done wiring as one that signaled first.
func (s *Session) applyMembershipDiff(diff membership.Diff) {
	for _, left := range diff.Left {
		s.manager.Remove(left.PeerID)
		delete(s.peerNeedsSync, left.PeerID)
	}
	for _, joined := range diff.Joined {
		if joined.PeerID == s.ourPeerID {
			s.recomputeOurPort()
			continue
		}
		if _, ok := s.manager.Get(joined.PeerID); ok {
			continue
		}
		isOfferer := s.ourPeerID < joined.PeerID
		if _, err := s.EnsureAgent(joined.PeerID, isOfferer); err != nil {
			s.logger.Warn("failed to start ICE agent for joined peer", "peer", joined.PeerID, "error", err)
		}
	}
}

// broadcastDesync computes this frame's save- and input-hash, rolls
// them into the DelayBufferSize history, and broadcasts the resulting
// packet.
func (s *Session) broadcastDesync() error {
	slot := s.frameCounter % packet.DelayBufferSize

	size := s.Core.SerializeSize()
	state := make([]byte, size)
	if err := s.Core.Serialize(state); err != nil {
		return fmt.Errorf("session: serialize for desync hash: %w", err)
	}
	s.saveHash[slot] = int64(codec.Hash64(state))

	inputBuf := make([]byte, 0, packet.PortCount*packet.ButtonsPerPort*2)
	for p := 0; p < packet.PortCount; p++ {
		for _, v := range s.ring.Ports[p].InputState[slot][p] {
			inputBuf = append(inputBuf, byte(v), byte(v>>8))
		}
	}
	s.inputHash[slot] = int64(codec.Hash64(inputBuf))

	pkt := desync.BuildPacket(s.frameCounter, s.saveHash, s.inputHash)
	wire := pkt.MarshalBinary()
	for peerID, err := range s.manager.Broadcast(wire) {
		s.logger.Warn("failed to broadcast desync packet", "peer", peerID, "error", err)
	}
	return nil
}

// sendPendingSaveStates implements spec.md §4.7 step 2: serialize once
// and fan the same payload out to every peer awaiting sync — port
// occupant or spectator alike — clearing each as it is served.
func (s *Session) sendPendingSaveStates() error {
	if len(s.peerNeedsSync) == 0 {
		return nil
	}

	size := s.Core.SerializeSize()
	state := make([]byte, size)
	if err := s.Core.Serialize(state); err != nil {
		return newErr(LocalFault, fmt.Errorf("serialize failed: %w", err))
	}
	optionsBlob, err := encodeCoreOptions(s.coreOptions)
	if err != nil {
		return newErr(LocalFault, err)
	}
	payload, err := s.sender.BuildPayload(s.frameCounter, s.table.Current, state, optionsBlob)
	if err != nil {
		return newErr(LocalFault, err)
	}
	fragments, err := s.sender.Fragments(payload)
	if err != nil {
		return newErr(LocalFault, err)
	}

	for peerID := range s.peerNeedsSync {
		agent, ok := s.manager.Get(peerID)
		if !ok {
			delete(s.peerNeedsSync, peerID)
			continue
		}
		for _, frag := range fragments {
			if err := agent.Send(frag); err != nil {
				s.logger.Warn("save-state fragment send failed", "peer", peerID, "error", err)
				break
			}
		}
		delete(s.peerNeedsSync, peerID)
	}
	return nil
}

// resetToUnhosted implements spec.md §4.7 step 4's fallout clause: if
// the transition removed ROOM_IS_NETWORK_HOSTED, fully reset the
// session to an uninitialized room.
func (s *Session) resetToUnhosted() error {
	s.manager.Close()
	s.table = membership.NewTable(s.ourPeerID, true)
	s.table.Current.PeerIDs[packet.AuthorityIndex] = s.ourPeerID
	for p := 0; p < packet.PortMax; p++ {
		s.table.Current.PeerIDs[p] = packet.PeerIDAvailable
	}
	s.ourPort = packet.AuthorityIndex
	s.frameCounter = 0
	s.peerNeedsSync = make(map[uint64]bool)
	return nil
}

func parseDelayFrames(v string) (int64, error) {
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	if n < 0 || n > packet.MaxDelayFrames {
		return 0, fmt.Errorf("session: delay_frames %d out of range [0,%d]", n, packet.MaxDelayFrames)
	}
	return n, nil
}
