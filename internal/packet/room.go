package packet

import (
	"encoding/binary"
	"fmt"
)

// RoomWireSize is the packed size of a Room on the wire.
const RoomWireSize = RoomNameLen + RoomTurnHostnameLen + 8*PortCount + 8

// Room is the replicated membership record. The authority is the only
// party that ever mutates it directly; every other peer converges onto
// it by XORing the deltas broadcast in the authority's state ring (see
// spec.md §4.4).
type Room struct {
	Name         string
	TurnHostname string
	PeerIDs      [PortCount]uint64
	Flags        uint64
}

// MarshalBinary packs r into its fixed RoomWireSize wire form.
func (r Room) MarshalBinary() ([]byte, error) {
	if len(r.Name) > RoomNameLen-1 {
		return nil, fmt.Errorf("packet: room name %q exceeds %d bytes", r.Name, RoomNameLen-1)
	}
	if len(r.TurnHostname) > RoomTurnHostnameLen-1 {
		return nil, fmt.Errorf("packet: room turn_hostname %q exceeds %d bytes", r.TurnHostname, RoomTurnHostnameLen-1)
	}

	buf := make([]byte, RoomWireSize)
	off := 0
	copy(buf[off:off+RoomNameLen], r.Name)
	off += RoomNameLen
	copy(buf[off:off+RoomTurnHostnameLen], r.TurnHostname)
	off += RoomTurnHostnameLen
	for _, id := range r.PeerIDs {
		binary.LittleEndian.PutUint64(buf[off:off+8], id)
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:off+8], r.Flags)
	off += 8
	return buf, nil
}

// UnmarshalBinary reverses MarshalBinary.
func (r *Room) UnmarshalBinary(buf []byte) error {
	if len(buf) != RoomWireSize {
		return fmt.Errorf("packet: room wire size = %d, want %d", len(buf), RoomWireSize)
	}
	off := 0
	r.Name = cStringFromBytes(buf[off : off+RoomNameLen])
	off += RoomNameLen
	r.TurnHostname = cStringFromBytes(buf[off : off+RoomTurnHostnameLen])
	off += RoomTurnHostnameLen
	for i := range r.PeerIDs {
		r.PeerIDs[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	r.Flags = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	return nil
}

// cStringFromBytes reads a string out of a fixed-size, null-padded
// field, dropping only the trailing NUL padding. Interior NULs are kept
// so that an XOR delta of two names that share a prefix survives a
// round trip.
func cStringFromBytes(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// XORRoom XORs a and b byte-for-byte over their wire representation and
// returns the result as a Room. Because every room mutation is
// expressed as an XOR delta against the whole struct (spec.md §4.4),
// this one operation covers both "apply a delta" and "compute a delta
// between two rooms" (XORRoom(a, b) is its own inverse).
func XORRoom(a, b Room) (Room, error) {
	ab, err := a.MarshalBinary()
	if err != nil {
		return Room{}, err
	}
	bb, err := b.MarshalBinary()
	if err != nil {
		return Room{}, err
	}
	out := make([]byte, RoomWireSize)
	for i := range out {
		out[i] = ab[i] ^ bb[i]
	}
	var result Room
	if err := result.UnmarshalBinary(out); err != nil {
		return Room{}, err
	}
	return result, nil
}

// LookupPort returns the port index holding peerID, or -1 if peerID is
// not seated anywhere in the room.
func (r Room) LookupPort(peerID uint64) int {
	for p, id := range r.PeerIDs {
		if id == peerID {
			return p
		}
	}
	return -1
}

// IsAvailable reports whether port p is open for a join.
func (r Room) IsAvailable(p int) bool {
	return r.PeerIDs[p] == PeerIDAvailable
}
