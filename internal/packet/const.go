// Package packet implements the little-endian, packed wire formats
// exchanged between netplay peers and with the signaling server: state
// packets, desync packets, save-state fragments, and signaling message
// headers. Nothing in this package touches a socket; it only
// marshals/unmarshals byte slices.
package packet

// Port and peer topology.
const (
	// PortMax is the highest playable port index; PORT_MAX+1 = PortCount
	// slots exist, the last of which is reserved for the authority.
	PortMax = 7
	// PortCount is the total number of port slots, authority included.
	PortCount = PortMax + 1
	// AuthorityIndex is the distinguished, always-last port slot.
	AuthorityIndex = PortMax

	// MaxSpectators bounds the contiguous spectator region beyond the
	// port array.
	MaxSpectators = 55
	// MaxCoreOptions bounds the {key, value} map size negotiated via
	// populate_core_options.
	MaxCoreOptions = 128
)

// Peer ID sentinels. Any peer ID greater than PortSentinelsMax names a
// real, connected peer.
const (
	PeerIDUnavailable uint64 = 0
	PeerIDAvailable   uint64 = 1
	PortSentinelsMax         = PeerIDAvailable
)

// Ring and history sizing.
const (
	// DelayBufferSize bounds delay_frames to [0, 3]; see spec §4.3 for
	// the +1 headroom rationale.
	DelayBufferSize = 8
	// MaxDelayFrames is the largest delay_frames a session may configure.
	MaxDelayFrames = DelayBufferSize/2 - 1
	// ButtonsPerPort is the width of one port's sampled input vector.
	ButtonsPerPort = 64
	// HistorySize bounds the per-port raw-packet history ring used to
	// reconstruct state for a lagging spectator.
	HistorySize = 256
)

// Wire sizing.
const (
	// PacketSizeMax is the hard upper bound on any single outbound
	// datagram, including the channel byte.
	PacketSizeMax = 1408
	// FECRedundantBlocks is the default Reed-Solomon redundancy used by
	// save-state transfer partitioning (spec §4.1/§4.5).
	FECRedundantBlocks = 16
	// FECPacketGroupsMax bounds how many independent Reed-Solomon
	// codings one save-state transfer may split into.
	FECPacketGroupsMax = 16
	// RoomNameLen and RoomTurnHostnameLen are the fixed, null-padded
	// string field widths inside a wire Room.
	RoomNameLen         = 64
	RoomTurnHostnameLen = 64
	// CoreOptionKeyLen and CoreOptionValueLen bound one core-option
	// mutation's wire representation.
	CoreOptionKeyLen   = 64
	CoreOptionValueLen = 64
)

// WaitingForSaveStateSentinel is the frame_counter value a session
// holds while it has not yet received its first save-state transfer.
const WaitingForSaveStateSentinel int64 = 1<<63 - 1

// DelayFramesKey is the reserved core-option key that, when it arrives
// through state[AUTHORITY].core_option, updates the local delay_frames
// tunable (spec §4.7 step 1).
const DelayFramesKey = "netplay_delay_frames"

// FailCodeSpectatorCapacity is the code a peer sends in its own
// FAILSMxy reply (as opposed to one relayed from the signaling server)
// when a newly signaling peer can't be admitted because the spectator
// region is already at MaxSpectators.
const FailCodeSpectatorCapacity uint32 = 1

// Channel identifies the upper nibble of every datagram's first byte.
type Channel byte

const (
	ChannelExtra       Channel = 0x00
	ChannelInput       Channel = 0x10
	ChannelInputAudit  Channel = 0x20
	ChannelSaveState   Channel = 0x30
	ChannelDesyncDebug Channel = 0xF0

	channelMask Channel = 0xF0
	flagsMask   byte    = 0x0F
)

// SplitChannelAndFlags separates a wire header byte into its channel
// and lower-nibble flags.
func SplitChannelAndFlags(b byte) (Channel, byte) {
	return Channel(b) & channelMask, b & flagsMask
}

// ChannelAndFlags packs a channel and a lower-nibble flags value into
// one wire byte. flags above 0x0F is a caller bug.
func ChannelAndFlags(ch Channel, flags byte) byte {
	return byte(ch) | (flags & flagsMask)
}

// Room flag bits.
const (
	RoomIsNetworkHosted uint64 = 1 << 0
)

// PortPeerInactiveBit returns the room-flags bit marking port as
// inactive (connected but not currently contributing input).
func PortPeerInactiveBit(port int) uint64 {
	return 1 << uint(8+port)
}

// Permission masks partition the high bits of Room.Flags between the
// server, the room's authority, and ordinary clients.
const (
	ServerPermissionMask    uint64 = 0xFF << 40
	AuthorityPermissionMask uint64 = 0xFF << 48
	ClientPermissionMask    uint64 = 0xFF << 56
)

// Save-state fragment flags, packed into the lower nibble of the
// fragment's channel_and_flags byte.
const (
	// SaveStateFlagKIs239 indicates reed_solomon_k == 239, the common
	// case, letting the overloaded byte be repurposed.
	SaveStateFlagKIs239 byte = 0x01
	// SaveStateFlagSequenceHiIs0 indicates the overloaded byte carries
	// packet_groups instead of sequence_hi; set on every packet of
	// group 0.
	SaveStateFlagSequenceHiIs0 byte = 0x02
)
