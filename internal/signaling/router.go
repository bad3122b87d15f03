package signaling

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/ehrlich-b/netplay/internal/ice"
	"github.com/ehrlich-b/netplay/internal/packet"
)

// AgentFactory creates a new ICE agent for a peer first referenced by
// a sign/sigx message, deciding locally whether we are the offerer.
type AgentFactory func(peerID uint64) (*ice.Agent, error)

// Router turns inbound sign/sigx payloads into ICE agent lifecycle
// calls (spec.md §4.6): unknown peers get a fresh agent, an empty SDP
// string means gathering is done on the remote side, "a=ice" lines
// are a remote description, "a=candidate" lines are a trickled remote
// candidate. Outbound candidate/gathering-done agent callbacks are
// wired back out through Bridge.SendSign.
type Router struct {
	Bridge  *Bridge
	Manager *ice.Manager

	// NewAgent builds an agent for a peer not yet known to Manager.
	// The session decides who offers (e.g. the lower peer ID). Router
	// does not add the returned agent to Manager; the factory registers
	// it (session.EnsureAgent does, through Manager.CreateAgent).
	NewAgent AgentFactory

	// OnNewAgent, if set, is called once per freshly created agent so
	// the caller can wire per-agent application-level message routing
	// (e.g. the state/desync packet dispatch) before traffic arrives.
	OnNewAgent func(peerID uint64, agent *ice.Agent)
}

// HandleSign processes a SIGNSMxy payload.
func (r *Router) HandleSign(ctx context.Context, msg packet.SignalPayload) error {
	return r.handle(ctx, msg, false)
}

// HandleSigx processes a SIGXSMxy payload — a voluntary disconnect,
// valid only from spectator ports. The caller is responsible for
// verifying port membership before invoking this; Router only tears
// the agent down.
func (r *Router) HandleSigx(ctx context.Context, msg packet.SignalPayload) error {
	r.Manager.Remove(msg.PeerID)
	return nil
}

func (r *Router) handle(ctx context.Context, msg packet.SignalPayload, isDisconnect bool) error {
	agent, ok := r.Manager.Get(msg.PeerID)
	if !ok {
		var err error
		agent, err = r.NewAgent(msg.PeerID)
		if err != nil {
			return fmt.Errorf("signaling: create agent for peer %d: %w", msg.PeerID, err)
		}
		// Outbound candidate/gathering-done forwarding is wired by
		// whatever installed NewAgent (typically a session's
		// OnAgentCreated hook calling WireOutbound), so it covers a
		// room-delta-discovered peer identically — not here, or a
		// peer created via both paths would double-forward.
		if r.OnNewAgent != nil {
			r.OnNewAgent(msg.PeerID, agent)
		}
	}

	switch {
	case msg.SDP == "":
		// Gathering done on the remote side; nothing to feed locally.
		return nil
	case strings.HasPrefix(msg.SDP, "a=ice"):
		return r.setRemoteDescription(agent, msg.SDP)
	case strings.HasPrefix(msg.SDP, "a=candidate"):
		return agent.AddRemoteCandidate(msg.SDP)
	default:
		return fmt.Errorf("signaling: unrecognized sign payload prefix for peer %d", msg.PeerID)
	}
}

func (r *Router) setRemoteDescription(agent *ice.Agent, sdp string) error {
	sdpType := webrtc.SDPTypeOffer
	if agent.IsOfferer() {
		sdpType = webrtc.SDPTypeAnswer
	}
	return agent.SetRemoteDescription(sdpType, sdp)
}

// WireOutbound forwards an ICE agent's locally gathered candidates and
// gathering-done signal to peerID through Bridge.SendSign. Install it
// as a session's OnAgentCreated hook so every agent-creation path —
// an inbound signal or a room delta — wires outbound forwarding the
// same way.
func (r *Router) WireOutbound(ctx context.Context, peerID uint64, agent *ice.Agent) {
	agent.OnCandidate(func(candidate string) {
		if err := r.Bridge.SendSign(ctx, peerID, candidate); err != nil {
			r.Bridge.logger().Warn("signaling: failed to forward candidate", "peer", peerID, "error", err)
		}
	})
	agent.OnGatheringDone(func() {
		if err := r.Bridge.SendSign(ctx, peerID, ""); err != nil {
			r.Bridge.logger().Warn("signaling: failed to forward gathering-done", "peer", peerID, "error", err)
		}
	})
}
