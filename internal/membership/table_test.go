package membership

import (
	"testing"

	"github.com/ehrlich-b/netplay/internal/packet"
	"github.com/ehrlich-b/netplay/internal/statering"
)

func newAuthorityRoom(name string, authorityID uint64) packet.Room {
	r := packet.Room{Name: name, Flags: packet.RoomIsNetworkHosted}
	for i := range r.PeerIDs {
		r.PeerIDs[i] = packet.PeerIDAvailable
	}
	r.PeerIDs[packet.AuthorityIndex] = authorityID
	return r
}

func TestResolveJoinAcceptsNewPeer(t *testing.T) {
	table := NewTable(0xA, true)
	table.Current = newAuthorityRoom("arena", 0xA)
	ring := statering.NewRing()

	claimed := table.Current
	msg := packet.JoinMessage{PeerID: 0xB}
	msg.Room = claimed
	msg.Room.PeerIDs[0] = 0xB

	if err := table.ResolveJoin(msg, ring, 0); err != nil {
		t.Fatalf("resolve join: %v", err)
	}
	if table.NextDelta.PeerIDs[0] != (packet.PeerIDAvailable ^ 0xB) {
		t.Fatalf("unexpected next delta: %+v", table.NextDelta)
	}

	diff, err := table.ApplyDelta(table.NextDelta)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if len(diff.Joined) != 1 || diff.Joined[0] != (PortPeer{Port: 0, PeerID: 0xB}) {
		t.Fatalf("unexpected diff: %+v", diff)
	}
	if table.Current.PeerIDs[0] != 0xB {
		t.Fatalf("room not updated: %+v", table.Current)
	}
}

func TestResolveJoinRejectsOccupiedPort(t *testing.T) {
	table := NewTable(0xA, true)
	table.Current = newAuthorityRoom("arena", 0xA)
	table.Current.PeerIDs[0] = 0xB
	ring := statering.NewRing()

	msg := packet.JoinMessage{PeerID: 0xC}
	msg.Room = table.Current
	msg.Room.PeerIDs[0] = 0xC // C wants the port B already holds

	if err := table.ResolveJoin(msg, ring, 0); err == nil {
		t.Fatal("expected rejection of occupied-port join")
	}
}

func TestResolveJoinRejectsRoomMismatch(t *testing.T) {
	table := NewTable(0xA, true)
	table.Current = newAuthorityRoom("arena", 0xA)
	ring := statering.NewRing()

	msg := packet.JoinMessage{PeerID: 0xB}
	msg.Room = newAuthorityRoom("different-arena", 0xA)
	msg.Room.PeerIDs[0] = 0xB

	if err := table.ResolveJoin(msg, ring, 0); err == nil {
		t.Fatal("expected rejection of mismatched room claim")
	}
}

func TestLeaveDemotesToSpectator(t *testing.T) {
	table := NewTable(0xA, true)
	table.Current = newAuthorityRoom("arena", 0xA)
	table.Current.PeerIDs[0] = 0xB
	ring := statering.NewRing()

	msg := packet.JoinMessage{PeerID: 0xB}
	msg.Room = table.Current
	msg.Room.PeerIDs[0] = packet.PeerIDAvailable // leave: B no longer appears anywhere

	if err := table.ResolveJoin(msg, ring, 0); err != nil {
		t.Fatalf("resolve leave: %v", err)
	}
	diff, err := table.ApplyDelta(table.NextDelta)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if len(diff.Left) != 1 || diff.Left[0].PeerID != 0xB {
		t.Fatalf("expected B to leave port 0: %+v", diff)
	}
	if len(table.Spectators) != 1 || table.Spectators[0] != 0xB {
		t.Fatalf("expected B demoted to spectator: %+v", table.Spectators)
	}
	table.NextDelta = packet.Room{} // the ring slot consumed the delta

	// B later reappears in a port: promotion removes it from the
	// spectator region.
	rejoin := packet.JoinMessage{PeerID: 0xB}
	rejoin.Room = table.Current
	rejoin.Room.PeerIDs[2] = 0xB
	if err := table.ResolveJoin(rejoin, ring, 0); err != nil {
		t.Fatalf("resolve rejoin: %v", err)
	}
	diff, err = table.ApplyDelta(table.NextDelta)
	if err != nil {
		t.Fatalf("apply rejoin delta: %v", err)
	}
	if len(diff.Joined) != 1 || diff.Joined[0].PeerID != 0xB {
		t.Fatalf("expected B to rejoin port 2: %+v", diff)
	}
	if len(table.Spectators) != 0 {
		t.Fatalf("expected B promoted out of spectator region: %+v", table.Spectators)
	}
}

func TestAdmitSpectatorIdempotentAndCapped(t *testing.T) {
	table := NewTable(0xA, true)

	if !table.AdmitSpectator(0xB) {
		t.Fatal("expected room for a first spectator")
	}
	if !table.AdmitSpectator(0xB) {
		t.Fatal("expected re-admitting the same peer to be a no-op success")
	}
	if len(table.Spectators) != 1 {
		t.Fatalf("len(Spectators) = %d, want 1", len(table.Spectators))
	}

	for i := len(table.Spectators); i < packet.MaxSpectators; i++ {
		if !table.AdmitSpectator(uint64(0x100 + i)) {
			t.Fatalf("expected admission %d to succeed under MaxSpectators", i)
		}
	}
	if table.AdmitSpectator(0xDEAD) {
		t.Fatal("expected admission beyond MaxSpectators to be rejected")
	}
	if len(table.Spectators) != packet.MaxSpectators {
		t.Fatalf("len(Spectators) = %d, want %d", len(table.Spectators), packet.MaxSpectators)
	}
}
