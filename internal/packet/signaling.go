package packet

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the two-digit version embedded in every signaling
// header tag (the "xy" in "MAKESMxy").
const ProtocolVersion = 1

// SignalKind identifies a signaling message's 8-byte ASCII header tag.
type SignalKind int

const (
	SignalMake SignalKind = iota
	SignalConn
	SignalJoin
	SignalSign
	SignalSigx
	SignalFail
)

var signalPrefixes = map[SignalKind]string{
	SignalMake: "MAKESM",
	SignalConn: "CONNSM",
	SignalJoin: "JOINSM",
	SignalSign: "SIGNSM",
	SignalSigx: "SIGXSM",
	SignalFail: "FAILSM",
}

// HeaderTag returns the 8-byte ASCII header tag for kind at the
// package's protocol version, e.g. "MAKESM01".
func HeaderTag(kind SignalKind) ([8]byte, error) {
	prefix, ok := signalPrefixes[kind]
	if !ok {
		return [8]byte{}, fmt.Errorf("packet: unknown signal kind %d", kind)
	}
	var tag [8]byte
	copy(tag[:], fmt.Sprintf("%s%02d", prefix, ProtocolVersion))
	return tag, nil
}

// ParseHeaderTag recovers the SignalKind and protocol version encoded
// in an 8-byte header tag.
func ParseHeaderTag(tag [8]byte) (kind SignalKind, version int, err error) {
	prefix := string(tag[:6])
	for k, p := range signalPrefixes {
		if p == prefix {
			var v int
			if _, err := fmt.Sscanf(string(tag[6:8]), "%02d", &v); err != nil {
				return 0, 0, fmt.Errorf("packet: malformed signal version in tag %q: %w", tag, err)
			}
			return k, v, nil
		}
	}
	return 0, 0, fmt.Errorf("packet: unrecognized signal header tag %q", tag)
}

// MarshalEnvelope prepends kind's 8-byte header tag to body, producing
// a complete wire message ready to hand to the signaling transport.
func MarshalEnvelope(kind SignalKind, body []byte) ([]byte, error) {
	tag, err := HeaderTag(kind)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8+len(body))
	copy(buf[:8], tag[:])
	copy(buf[8:], body)
	return buf, nil
}

// SplitEnvelope separates a wire message into its SignalKind, protocol
// version, and body.
func SplitEnvelope(buf []byte) (kind SignalKind, version int, body []byte, err error) {
	if len(buf) < 8 {
		return 0, 0, nil, fmt.Errorf("packet: signaling message too short: got %d want at least 8", len(buf))
	}
	var tag [8]byte
	copy(tag[:], buf[:8])
	kind, version, err = ParseHeaderTag(tag)
	if err != nil {
		return 0, 0, nil, err
	}
	return kind, version, buf[8:], nil
}

// JoinMessage is the body of a JOINSMxy message: a peer's request to
// occupy or vacate a port in the room it claims to currently be in.
type JoinMessage struct {
	PeerID uint64
	Room   Room // the peer's claimed current room, AUTHORITY_INDEX identifies the authority
}

// DesiredPort returns the port the peer wants to occupy in Room, or -1
// to mean "leave whatever port I hold".
func (m JoinMessage) DesiredPort() int {
	return m.Room.LookupPort(m.PeerID)
}

// JoinMessageWireSize is the marshaled size of a JoinMessage body.
const JoinMessageWireSize = 8 + RoomWireSize

// MarshalBinary encodes a JOINSMxy body.
func (m JoinMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, JoinMessageWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], m.PeerID)
	room, err := m.Room.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("packet: marshal join message room: %w", err)
	}
	copy(buf[8:], room)
	return buf, nil
}

// UnmarshalJoinMessage decodes a JOINSMxy body.
func UnmarshalJoinMessage(buf []byte) (JoinMessage, error) {
	if len(buf) < JoinMessageWireSize {
		return JoinMessage{}, fmt.Errorf("packet: join message too short: got %d want %d", len(buf), JoinMessageWireSize)
	}
	var m JoinMessage
	m.PeerID = binary.LittleEndian.Uint64(buf[0:8])
	if err := m.Room.UnmarshalBinary(buf[8:JoinMessageWireSize]); err != nil {
		return JoinMessage{}, fmt.Errorf("packet: unmarshal join message room: %w", err)
	}
	return m, nil
}

// MakeMessage is the body of a MAKESMxy message: a full room record,
// either a creation request or the authority's own make-reply.
type MakeMessage struct {
	Room Room
}

// MarshalBinary encodes a MAKESMxy body.
func (m MakeMessage) MarshalBinary() ([]byte, error) {
	return m.Room.MarshalBinary()
}

// UnmarshalMakeMessage decodes a MAKESMxy body.
func UnmarshalMakeMessage(buf []byte) (MakeMessage, error) {
	var m MakeMessage
	if err := m.Room.UnmarshalBinary(buf); err != nil {
		return MakeMessage{}, fmt.Errorf("packet: unmarshal make message: %w", err)
	}
	return m, nil
}

// ConnMessage is the body of a CONNSMxy message: the signaling server
// assigning our_peer_id.
type ConnMessage struct {
	PeerID uint64
}

// ConnMessageWireSize is the marshaled size of a ConnMessage body.
const ConnMessageWireSize = 8

// MarshalBinary encodes a CONNSMxy body.
func (m ConnMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ConnMessageWireSize)
	binary.LittleEndian.PutUint64(buf, m.PeerID)
	return buf, nil
}

// UnmarshalConnMessage decodes a CONNSMxy body.
func UnmarshalConnMessage(buf []byte) (ConnMessage, error) {
	if len(buf) < ConnMessageWireSize {
		return ConnMessage{}, fmt.Errorf("packet: conn message too short: got %d want %d", len(buf), ConnMessageWireSize)
	}
	return ConnMessage{PeerID: binary.LittleEndian.Uint64(buf)}, nil
}

// SignalPayload is the body of a SIGNSMxy or SIGXSMxy message: an SDP
// description or ICE candidate line (empty means "gathering done"),
// addressed to PeerID.
type SignalPayload struct {
	PeerID uint64
	SDP    string
}

// MarshalBinary encodes a SIGNSMxy/SIGXSMxy body as peer_id followed
// by a u32 length-prefixed UTF-8 string.
func (m SignalPayload) MarshalBinary() ([]byte, error) {
	body := []byte(m.SDP)
	buf := make([]byte, 8+4+len(body))
	binary.LittleEndian.PutUint64(buf[0:8], m.PeerID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(body)))
	copy(buf[12:], body)
	return buf, nil
}

// UnmarshalSignalPayload decodes a SIGNSMxy/SIGXSMxy body.
func UnmarshalSignalPayload(buf []byte) (SignalPayload, error) {
	if len(buf) < 12 {
		return SignalPayload{}, fmt.Errorf("packet: signal payload too short: got %d want at least 12", len(buf))
	}
	peerID := binary.LittleEndian.Uint64(buf[0:8])
	n := binary.LittleEndian.Uint32(buf[8:12])
	if len(buf) < 12+int(n) {
		return SignalPayload{}, fmt.Errorf("packet: signal payload truncated: got %d want %d", len(buf), 12+int(n))
	}
	return SignalPayload{PeerID: peerID, SDP: string(buf[12 : 12+int(n)])}, nil
}

// FailMessage is the body of a FAILSMxy message: a typed error
// surfaced to the application.
type FailMessage struct {
	Code   uint32
	Reason string
}

// MarshalBinary encodes a FAILSMxy body as a u32 code followed by a
// u32 length-prefixed UTF-8 reason string.
func (m FailMessage) MarshalBinary() ([]byte, error) {
	body := []byte(m.Reason)
	buf := make([]byte, 4+4+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], m.Code)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[8:], body)
	return buf, nil
}

// UnmarshalFailMessage decodes a FAILSMxy body.
func UnmarshalFailMessage(buf []byte) (FailMessage, error) {
	if len(buf) < 8 {
		return FailMessage{}, fmt.Errorf("packet: fail message too short: got %d want at least 8", len(buf))
	}
	code := binary.LittleEndian.Uint32(buf[0:4])
	n := binary.LittleEndian.Uint32(buf[4:8])
	if len(buf) < 8+int(n) {
		return FailMessage{}, fmt.Errorf("packet: fail message truncated: got %d want %d", len(buf), 8+int(n))
	}
	return FailMessage{Code: code, Reason: string(buf[8 : 8+int(n)])}, nil
}
