// Package membership implements the replicated Room state machine:
// the authority-side join/leave resolver, the XOR-delta accumulator it
// feeds, and the port/spectator promotion and demotion that follows
// from applying a committed delta (spec.md §4.4).
package membership

import (
	"fmt"

	"github.com/ehrlich-b/netplay/internal/packet"
	"github.com/ehrlich-b/netplay/internal/statering"
)

// Table owns one peer's view of the replicated Room, converging with
// every other peer's view as authority-broadcast deltas are applied.
type Table struct {
	Current     packet.Room
	NextDelta   packet.Room // authority only: accumulated, not-yet-broadcast delta
	Spectators  []uint64
	OurPeerID   uint64
	IsAuthority bool
}

// NewTable builds a Table for a session that has not yet joined any
// room.
func NewTable(ourPeerID uint64, isAuthority bool) *Table {
	return &Table{OurPeerID: ourPeerID, IsAuthority: isAuthority}
}

// Diff reports which ports changed occupant when a delta was applied.
type Diff struct {
	Joined []PortPeer
	Left   []PortPeer
}

// PortPeer names a (port, peer ID) pair.
type PortPeer struct {
	Port   int
	PeerID uint64
}

// ProjectFutureRoom implements spec.md §4.4 step 1: it XORs every
// room_xor_delta the authority has already committed to its ring
// (frames frameCounter+1 through the authority's current ring frame),
// plus the not-yet-broadcast NextDelta, onto Current.
func (t *Table) ProjectFutureRoom(authorityRing *statering.Ring, frameCounter int64) (packet.Room, error) {
	future := t.Current
	authorityFrame := authorityRing.FrameOf(packet.AuthorityIndex)
	for f := frameCounter + 1; f <= authorityFrame; f++ {
		slot := f % packet.DelayBufferSize
		var err error
		future, err = packet.XORRoom(future, authorityRing.Ports[packet.AuthorityIndex].RoomXorDelta[slot])
		if err != nil {
			return packet.Room{}, fmt.Errorf("membership: project future room at frame %d: %w", f, err)
		}
	}
	var err error
	future, err = packet.XORRoom(future, t.NextDelta)
	if err != nil {
		return packet.Room{}, fmt.Errorf("membership: apply pending delta: %w", err)
	}
	return future, nil
}

// ResolveJoin is the authority-side join/leave resolver of
// spec.md §4.4. It accumulates into t.NextDelta; it never mutates
// t.Current directly (invariant I3: only the tick boundary does that,
// via ApplyDelta).
func (t *Table) ResolveJoin(msg packet.JoinMessage, authorityRing *statering.Ring, frameCounter int64) error {
	if !t.IsAuthority {
		return fmt.Errorf("membership: join resolution attempted by non-authority")
	}

	future, err := t.ProjectFutureRoom(authorityRing, frameCounter)
	if err != nil {
		return err
	}

	if future.PeerIDs[packet.AuthorityIndex] != msg.Room.PeerIDs[packet.AuthorityIndex] || future.Name != msg.Room.Name {
		return fmt.Errorf("membership: join rejected: submitter's claimed room does not match ours")
	}

	currentPort := future.LookupPort(msg.PeerID)
	desiredPort := msg.DesiredPort()

	var delta packet.Room
	switch {
	case desiredPort == -1 && currentPort != -1:
		delta.PeerIDs[currentPort] = future.PeerIDs[currentPort] ^ packet.PeerIDAvailable
	case desiredPort != -1 && desiredPort != currentPort:
		if !future.IsAvailable(desiredPort) {
			return fmt.Errorf("membership: join rejected: port %d is occupied", desiredPort)
		}
		delta.PeerIDs[desiredPort] = future.PeerIDs[desiredPort] ^ msg.PeerID
		if currentPort != -1 {
			delta.PeerIDs[currentPort] = future.PeerIDs[currentPort] ^ packet.PeerIDAvailable
		}
	}

	// The submitter may only flip bits in its own permission mask.
	if flagDelta := (future.Flags ^ msg.Room.Flags) & packet.ClientPermissionMask; flagDelta != 0 {
		delta.Flags = flagDelta
	}

	t.NextDelta, err = packet.XORRoom(t.NextDelta, delta)
	if err != nil {
		return fmt.Errorf("membership: accumulate delta: %w", err)
	}
	return nil
}

// ApplyDelta applies delta to Current at a tick boundary (the only
// place Current may change) and reports which ports gained or lost an
// occupant, demoting departed peers into the spectator region and
// promoting peers whose ID reappears in a port.
func (t *Table) ApplyDelta(delta packet.Room) (Diff, error) {
	old := t.Current
	newRoom, err := packet.XORRoom(old, delta)
	if err != nil {
		return Diff{}, fmt.Errorf("membership: apply delta: %w", err)
	}
	t.Current = newRoom

	var diff Diff
	for p := 0; p < packet.PortCount; p++ {
		if old.PeerIDs[p] == newRoom.PeerIDs[p] {
			continue
		}
		if old.PeerIDs[p] > packet.PortSentinelsMax {
			diff.Left = append(diff.Left, PortPeer{Port: p, PeerID: old.PeerIDs[p]})
			t.demote(old.PeerIDs[p])
		}
		if newRoom.PeerIDs[p] > packet.PortSentinelsMax {
			diff.Joined = append(diff.Joined, PortPeer{Port: p, PeerID: newRoom.PeerIDs[p]})
			t.promote(newRoom.PeerIDs[p])
		}
	}
	return diff, nil
}

// AdmitSpectator inserts a freshly signaling peer not yet seated at
// any port into the spectator region (spec.md §4.6: "create a new
// agent (spectator slot if it does not yet appear in the room)"). It
// is idempotent for a peer already spectating, and reports false
// without mutating Spectators if the region is already at
// packet.MaxSpectators.
func (t *Table) AdmitSpectator(peerID uint64) bool {
	for _, id := range t.Spectators {
		if id == peerID {
			return true
		}
	}
	if len(t.Spectators) >= packet.MaxSpectators {
		return false
	}
	t.Spectators = append(t.Spectators, peerID)
	return true
}

func (t *Table) demote(peerID uint64) {
	for _, id := range t.Spectators {
		if id == peerID {
			return
		}
	}
	if len(t.Spectators) < packet.MaxSpectators {
		t.Spectators = append(t.Spectators, peerID)
	}
}

func (t *Table) promote(peerID uint64) {
	for i, id := range t.Spectators {
		if id == peerID {
			t.Spectators = append(t.Spectators[:i], t.Spectators[i+1:]...)
			return
		}
	}
}
