// Package session is the top-level orchestrator: it owns the state
// ring, membership table, tick gate, desync tracker, save-state
// sender/receiver, and peer transport manager, and implements the
// single-threaded poll/tick loop of spec.md §4.7 and §5.
package session

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/ehrlich-b/netplay/internal/desync"
	"github.com/ehrlich-b/netplay/internal/ice"
	"github.com/ehrlich-b/netplay/internal/membership"
	"github.com/ehrlich-b/netplay/internal/packet"
	"github.com/ehrlich-b/netplay/internal/savestate"
	"github.com/ehrlich-b/netplay/internal/statering"
	"github.com/ehrlich-b/netplay/internal/tickgate"
)

// Session owns every piece of per-room state for one local peer and
// drives it from a single caller-owned thread: nothing here spawns a
// goroutine of its own (spec.md §5).
type Session struct {
	Core Core

	// InputSampler supplies this tick's local button state; set by the
	// application before the first PollOnce.
	InputSampler statering.InputSampler

	// NextCoreOption, if non-nil when called, returns a pending
	// core-option mutation to attach to the local port's next ring
	// slot (authority only meaningfully propagates this room-wide).
	NextCoreOption func() *packet.CoreOption

	ring    *statering.Ring
	table   *membership.Table
	gate    *tickgate.Gate
	tracker *desync.Tracker
	sender  *savestate.Sender
	recv    *savestate.Receiver
	manager *ice.Manager

	ourPeerID uint64
	ourPort   int // -1 when spectator or not yet seated

	frameCounter int64
	delayFrames  int64

	// peerNeedsSync is keyed by peer ID rather than port, since a
	// save-state transfer is owed to any peer awaiting sync — a
	// spectator as much as a port occupant (spec.md §4.5/§8 Scenario 2).
	peerNeedsSync map[uint64]bool
	coreOptions   map[string]string

	// onAgentCreated, if set, fires once per freshly created ICE agent
	// regardless of whether EnsureAgent was reached via an inbound
	// signal or a room delta, so outbound candidate/gathering-done
	// forwarding is wired identically on both paths.
	onAgentCreated func(peerID uint64, agent *ice.Agent)

	saveHash  [packet.DelayBufferSize]int64
	inputHash [packet.DelayBufferSize]int64

	logger *slog.Logger
}

// Config bundles the tunables a new Session is built with.
type Config struct {
	FrameRate   float64
	DelayFrames int64
	ZstdLevel   int
	ICEServers  []webrtc.ICEServer
	Logger      *slog.Logger
}

// New builds a Session not yet connected to any signaling server: it
// is its own single-peer authority of an unhosted room until ApplyConn
// (and, typically, a subsequent join) places it in a real one.
func New(core Core, cfg Config) (*Session, error) {
	sender, err := savestate.NewSender(cfg.ZstdLevel)
	if err != nil {
		return nil, fmt.Errorf("session: new: %w", err)
	}
	recv, err := savestate.NewReceiver(cfg.ZstdLevel)
	if err != nil {
		sender.Close()
		return nil, fmt.Errorf("session: new: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		Core:          core,
		ring:          statering.NewRing(),
		table:         membership.NewTable(0, true),
		gate:          tickgate.NewGate(cfg.FrameRate, cfg.DelayFrames),
		tracker:       desync.NewTracker(),
		sender:        sender,
		recv:          recv,
		manager:       ice.NewManager(cfg.ICEServers),
		ourPort:       packet.AuthorityIndex,
		frameCounter:  0,
		delayFrames:   cfg.DelayFrames,
		peerNeedsSync: make(map[uint64]bool),
		coreOptions:   make(map[string]string),
		logger:        logger,
	}
	return s, nil
}

// Close tears down every peer connection and codec resource.
func (s *Session) Close() {
	s.manager.Close()
	s.sender.Close()
	s.recv.Close()
}

// OurPeerID returns the locally assigned peer ID (0 before ApplyConn).
func (s *Session) OurPeerID() uint64 { return s.ourPeerID }

// OurPort returns the local port, or -1 if seated nowhere (spectator
// or pre-join).
func (s *Session) OurPort() int { return s.ourPort }

// FrameCounter returns the session's current frame counter, or
// packet.WaitingForSaveStateSentinel if no save-state has been applied
// yet.
func (s *Session) FrameCounter() int64 { return s.frameCounter }

// ApplyConn implements spec.md §4.6's "conn" handling: the signaling
// server assigns our_peer_id; the engine records it and places itself
// in AUTHORITY_INDEX of an empty room.
func (s *Session) ApplyConn(msg packet.ConnMessage) {
	s.ourPeerID = msg.PeerID
	s.table = membership.NewTable(msg.PeerID, true)
	s.table.Current.PeerIDs[packet.AuthorityIndex] = msg.PeerID
	for p := 0; p < packet.PortMax; p++ {
		s.table.Current.PeerIDs[p] = packet.PeerIDAvailable
	}
	s.ring.Occupied[packet.AuthorityIndex] = true
	s.ourPort = packet.AuthorityIndex
	s.frameCounter = 0
}

// ApplyMake implements spec.md §4.6's "make" handling when the message
// is our own make-reply: adopt the room it carries.
func (s *Session) ApplyMake(msg packet.MakeMessage) {
	s.table.Current = msg.Room
	s.recomputeOurPort()
	for p := 0; p < packet.PortCount; p++ {
		s.ring.Occupied[p] = s.table.Current.PeerIDs[p] > packet.PortSentinelsMax
	}
	if s.ourPort == -1 {
		s.frameCounter = packet.WaitingForSaveStateSentinel
	}
}

func (s *Session) recomputeOurPort() {
	s.ourPort = s.table.Current.LookupPort(s.ourPeerID)
}

// HandleJoin implements spec.md §4.6's "join" handling: routed to the
// authority-side resolver. Non-authority sessions reject it as a
// protocol violation (joins must go to the authority).
func (s *Session) HandleJoin(msg packet.JoinMessage) error {
	if !s.table.IsAuthority {
		return newErr(ProtocolViolation, fmt.Errorf("join received by non-authority"))
	}
	before := s.table.NextDelta
	if err := s.table.ResolveJoin(msg, s.ring, s.frameCounter); err != nil {
		return newErr(IntegrityFailure, err)
	}
	if s.table.NextDelta == before {
		s.logger.Warn("join request didn't change anything", "peer_id", msg.PeerID)
	}
	return nil
}

// HandleInbound routes one inbound DataChannel payload from srcPeerID
// to the appropriate packet handler based on its channel nibble
// (spec.md §6).
func (s *Session) HandleInbound(srcPeerID uint64, raw []byte) error {
	if len(raw) < 1 {
		return newPortErr(ProtocolViolation, -1, fmt.Errorf("empty datagram from peer %d", srcPeerID))
	}
	ch, _ := packet.SplitChannelAndFlags(raw[0])

	switch ch {
	case packet.ChannelInput:
		port := s.table.Current.LookupPort(srcPeerID)
		if port == -1 {
			return newErr(ProtocolViolation, fmt.Errorf("input from unseated peer %d", srcPeerID))
		}
		if err := s.ring.HandleInboundInput(port, raw); err != nil {
			return newPortErr(ProtocolViolation, port, err)
		}
		return nil

	case packet.ChannelSaveState:
		return s.handleSaveStateFragment(raw)

	case packet.ChannelDesyncDebug:
		return s.handleDesyncPacket(srcPeerID, raw)

	default:
		return newErr(ProtocolViolation, fmt.Errorf("unexpected channel %#x from peer %d", raw[0], srcPeerID))
	}
}

func (s *Session) handleSaveStateFragment(raw []byte) error {
	result, err := s.recv.HandleFragment(raw)
	if err != nil {
		s.logger.Warn("save-state transfer failed integrity check, waiting for retransmit", "error", err)
		return newErr(IntegrityFailure, err)
	}
	if result == nil {
		return nil // still assembling
	}

	if err := s.Core.Unserialize(result.State); err != nil {
		return newErr(IntegrityFailure, fmt.Errorf("unserialize failed: %w", err))
	}
	options, err := decodeCoreOptions(result.Options)
	if err != nil {
		return newErr(IntegrityFailure, err)
	}
	s.coreOptions = options

	s.frameCounter = result.Header.FrameCounter
	s.table.Current = result.Header.Room
	s.recomputeOurPort()
	for p := 0; p < packet.PortCount; p++ {
		s.ring.Occupied[p] = s.table.Current.PeerIDs[p] > packet.PortSentinelsMax
		s.ring.Ports[p].Frame = s.frameCounter
	}
	return nil
}

func (s *Session) handleDesyncPacket(srcPeerID uint64, raw []byte) error {
	theirs, err := packet.UnmarshalDesyncPacket(raw)
	if err != nil {
		return newErr(ProtocolViolation, err)
	}
	port := s.table.Current.LookupPort(srcPeerID)
	if port == -1 {
		return nil // a spectator's desync traffic is still useful diagnostically, but unattributable to a port; drop.
	}
	ours := desync.BuildPacket(s.frameCounter, s.saveHash, s.inputHash)
	mismatches := s.tracker.Observe(port, ours, theirs)
	for _, f := range mismatches {
		s.logger.Error("input hash mismatch detected", "port", port, "frame", f)
	}
	return nil
}

// AgentManager exposes the session's ICE transport manager so a
// signaling.Router can look up and track agents directly, without the
// session itself having to implement Router's bookkeeping.
func (s *Session) AgentManager() *ice.Manager {
	return s.manager
}

// EnsureAgent returns the existing ICE agent for peerID, or creates and
// registers a fresh one with the given offerer role. Used by a
// signaling.Router's AgentFactory so the caller never has to reach
// into the session's private transport manager.
//
// A peer not already seated at a port is, by spec.md §4.6, admitted
// into the spectator region before its agent is created; if the
// region is already full this returns a ProtocolViolation error and
// creates no agent, so the caller can relay a capacity-rejection fail
// message instead of wiring up a connection to nowhere.
func (s *Session) EnsureAgent(peerID uint64, isOfferer bool) (*ice.Agent, error) {
	if agent, ok := s.manager.Get(peerID); ok {
		return agent, nil
	}
	if s.table.Current.LookupPort(peerID) == -1 && !s.table.AdmitSpectator(peerID) {
		return nil, newErr(ProtocolViolation, fmt.Errorf("spectator region full, rejecting peer %d", peerID))
	}
	agent, err := s.manager.CreateAgent(peerID, isOfferer)
	if err != nil {
		return nil, fmt.Errorf("session: create agent for peer %d: %w", peerID, err)
	}
	s.RegisterAgent(peerID, agent)
	if s.onAgentCreated != nil {
		s.onAgentCreated(peerID, agent)
	}
	return agent, nil
}

// SetOnAgentCreated installs the hook EnsureAgent fires once per
// freshly created agent. The daemon wires this to a signaling.Router's
// outbound candidate/gathering-done forwarding so every agent-creation
// path — an inbound signal or a room delta alike — reaches the
// signaling server identically.
func (s *Session) SetOnAgentCreated(fn func(peerID uint64, agent *ice.Agent)) {
	s.onAgentCreated = fn
}

// RegisterAgent wires an ICE agent's inbound message callback and
// FAILED-state disconnect policy into this session. Called by
// EnsureAgent once per freshly created agent. Its state callback
// replaces the one Manager.CreateAgent installed, so it removes the
// agent on FAILED itself.
func (s *Session) RegisterAgent(peerID uint64, agent *ice.Agent) {
	agent.OnMessage(func(data []byte) {
		if err := s.HandleInbound(peerID, data); err != nil {
			s.logger.Warn("inbound packet rejected", "peer", peerID, "error", err)
		}
	})
	agent.OnStateChange(func(st ice.State) {
		if st == ice.StateFailed {
			s.manager.Remove(peerID)
			return
		}
		if st == ice.StateConnected && s.table.IsAuthority {
			// Owed a save-state sync whether seated at a port or
			// spectating (spec.md §4.5/§8 Scenario 2).
			s.peerNeedsSync[peerID] = true
		}
	})
}
