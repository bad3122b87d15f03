package ice

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"
)

// Manager owns one Agent per remote peer, keyed by the peer's wire
// peer_id. It mirrors the teacher's PeerManager: a mutex-guarded map
// with create/lookup/remove/close-all, but bidirectional (either side
// may be the offerer) since netplay peers form a mesh rather than a
// single server answering many browser offers.
type Manager struct {
	mu         sync.Mutex
	agents     map[uint64]*Agent
	iceServers []webrtc.ICEServer
}

// NewManager builds a Manager using the given STUN/TURN server set for
// every agent it creates.
func NewManager(iceServers []webrtc.ICEServer) *Manager {
	return &Manager{agents: make(map[uint64]*Agent), iceServers: iceServers}
}

// CreateAgent builds and registers a new Agent for peerID. isOfferer
// selects whether this side initiates the DataChannel; callers pick it
// by comparing peer IDs, so exactly one side of each pair offers.
func (m *Manager) CreateAgent(peerID uint64, isOfferer bool) (*Agent, error) {
	a, err := NewAgent(m.iceServers, isOfferer)
	if err != nil {
		return nil, fmt.Errorf("ice: create agent for peer %d: %w", peerID, err)
	}

	m.mu.Lock()
	m.agents[peerID] = a
	m.mu.Unlock()

	a.OnStateChange(func(s State) {
		if s != StateFailed {
			return
		}
		m.Remove(peerID)
	})

	return a, nil
}

// Get returns the agent for peerID, if one is registered.
func (m *Manager) Get(peerID uint64) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[peerID]
	return a, ok
}

// Remove closes and deregisters the agent for peerID, if any. Called
// both explicitly (on a membership leave) and from the FAILED state
// callback registered in CreateAgent.
func (m *Manager) Remove(peerID uint64) {
	m.mu.Lock()
	a, ok := m.agents[peerID]
	delete(m.agents, peerID)
	m.mu.Unlock()
	if ok {
		a.Close()
	}
}

// Broadcast sends data over every currently registered agent
// concurrently, collecting (not stopping on) per-peer send errors.
func (m *Manager) Broadcast(data []byte) map[uint64]error {
	m.mu.Lock()
	snapshot := make(map[uint64]*Agent, len(m.agents))
	for id, a := range m.agents {
		snapshot[id] = a
	}
	m.mu.Unlock()

	var mu sync.Mutex
	errs := make(map[uint64]error)
	var g errgroup.Group
	for id, a := range snapshot {
		id, a := id, a
		g.Go(func() error {
			if err := a.Send(data); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

// Close tears down every agent. Mirrors PeerManager.Close: snapshot
// under lock, close outside it.
func (m *Manager) Close() {
	m.mu.Lock()
	snapshot := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		snapshot = append(snapshot, a)
	}
	m.agents = make(map[uint64]*Agent)
	m.mu.Unlock()

	for _, a := range snapshot {
		a.Close()
	}
}
