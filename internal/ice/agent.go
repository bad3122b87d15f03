// Package ice wraps pion/webrtc into the per-peer transport agent
// abstraction spec.md §4.6 and §9 describe: one agent per remote peer,
// carrying a single DataChannel, moving through the lifecycle
// new -> gathering -> connected -> completed -> failed.
package ice

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// State mirrors the ICE agent lifecycle named in spec.md §9.
type State int

const (
	StateNew State = iota
	StateGathering
	StateConnected
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateGathering:
		return "gathering"
	case StateConnected:
		return "connected"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DataChannelLabel is the label every netplay DataChannel is created
// or expected under.
const DataChannelLabel = "netplay"

// Agent is the transport for one remote peer: a PeerConnection plus
// its single DataChannel. Agents never touch the session directly;
// they report state and inbound messages through callbacks, matching
// the capability-object shape spec.md §9 calls for.
type Agent struct {
	mu sync.Mutex

	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	state     State
	isOfferer bool

	onCandidate     func(candidate string)
	onGatheringDone func()
	onStateChange   func(State)
	onMessage       func(data []byte)
}

// NewAgent builds an Agent. isOfferer selects which side creates the
// DataChannel (offerer) versus waits for one (answerer).
func NewAgent(iceServers []webrtc.ICEServer, isOfferer bool) (*Agent, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice: new peer connection: %w", err)
	}

	a := &Agent{pc: pc, state: StateNew, isOfferer: isOfferer}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			a.mu.Lock()
			cb := a.onGatheringDone
			a.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
		a.mu.Lock()
		cb := a.onCandidate
		a.mu.Unlock()
		if cb != nil {
			cb(c.ToJSON().Candidate)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		var ns State
		switch s {
		case webrtc.ICEConnectionStateNew:
			ns = StateNew
		case webrtc.ICEConnectionStateChecking:
			ns = StateGathering
		case webrtc.ICEConnectionStateConnected:
			ns = StateConnected
		case webrtc.ICEConnectionStateCompleted:
			ns = StateCompleted
		case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
			ns = StateFailed
		default:
			return
		}
		a.setState(ns)
	})

	if isOfferer {
		dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("ice: create data channel: %w", err)
		}
		a.mu.Lock()
		a.dc = dc
		a.mu.Unlock()
		a.wireDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			a.mu.Lock()
			a.dc = dc
			a.mu.Unlock()
			a.wireDataChannel(dc)
		})
	}

	return a, nil
}

func (a *Agent) wireDataChannel(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		a.mu.Lock()
		cb := a.onMessage
		a.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	cb := a.onStateChange
	a.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// IsOfferer reports whether this agent created the DataChannel (and
// therefore expects the remote description it receives to be an
// answer, not an offer).
func (a *Agent) IsOfferer() bool {
	return a.isOfferer
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnCandidate registers the callback fired for every locally gathered
// ICE candidate; the caller forwards it through signal_send as a
// "sign" message (spec.md §4.6).
func (a *Agent) OnCandidate(cb func(candidate string)) {
	a.mu.Lock()
	a.onCandidate = cb
	a.mu.Unlock()
}

// OnGatheringDone registers the callback fired once local ICE
// candidate gathering completes.
func (a *Agent) OnGatheringDone(cb func()) {
	a.mu.Lock()
	a.onGatheringDone = cb
	a.mu.Unlock()
}

// OnStateChange registers the callback fired on every lifecycle
// transition.
func (a *Agent) OnStateChange(cb func(State)) {
	a.mu.Lock()
	a.onStateChange = cb
	a.mu.Unlock()
}

// OnMessage registers the callback fired for every inbound DataChannel
// message; the session wires this into its packet router.
func (a *Agent) OnMessage(cb func(data []byte)) {
	a.mu.Lock()
	a.onMessage = cb
	a.mu.Unlock()
}

// CreateOffer creates and sets the local offer, returning its SDP.
func (a *Agent) CreateOffer() (string, error) {
	offer, err := a.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("ice: create offer: %w", err)
	}
	if err := a.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("ice: set local description: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer creates and sets the local answer, returning its SDP.
func (a *Agent) CreateAnswer() (string, error) {
	answer, err := a.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("ice: create answer: %w", err)
	}
	if err := a.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("ice: set local description: %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteDescription applies a remote offer or answer. The spec's
// signaling bridge (§4.6) tells lines starting with "a=ice" apart from
// empty "gathering done" markers before calling this.
func (a *Agent) SetRemoteDescription(sdpType webrtc.SDPType, sdp string) error {
	if err := a.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp}); err != nil {
		return fmt.Errorf("ice: set remote description: %w", err)
	}
	return nil
}

// AddRemoteCandidate feeds one trickled remote ICE candidate line in.
func (a *Agent) AddRemoteCandidate(candidate string) error {
	if err := a.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("ice: add remote candidate: %w", err)
	}
	return nil
}

// Send delivers bytes over the agent's DataChannel (the produced
// transport callback of spec.md §6).
func (a *Agent) Send(data []byte) error {
	a.mu.Lock()
	dc := a.dc
	a.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("ice: data channel not yet open")
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("ice: send: %w", err)
	}
	return nil
}

// Close tears down the peer connection.
func (a *Agent) Close() error {
	return a.pc.Close()
}
