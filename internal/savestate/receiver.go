package savestate

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/netplay/internal/codec"
	"github.com/ehrlich-b/netplay/internal/packet"
)

// Result is a fully reassembled and verified save-state transfer,
// ready for the simulation's unserialize callback.
type Result struct {
	Header  packet.PayloadHeader
	State   []byte
	Options []byte
}

type groupState struct {
	k        int
	n        int
	blockSize int
	received map[int][]byte
	decoded  bool
	shards   [][]byte // length k once decoded
}

// Receiver reassembles an inbound save-state transfer. A session keeps
// a single Receiver; the scratch it holds is exclusive to the transfer
// in progress until it completes or fails (spec.md §5).
type Receiver struct {
	zstd         *codec.ZstdCodec
	packetGroups int
	groups       [packet.FECPacketGroupsMax]*groupState
}

// NewReceiver builds an empty Receiver.
func NewReceiver(zstdLevel int) (*Receiver, error) {
	z, err := codec.NewZstdCodec(zstdLevel)
	if err != nil {
		return nil, fmt.Errorf("savestate: new receiver: %w", err)
	}
	r := &Receiver{zstd: z}
	r.Reset()
	return r, nil
}

// Close releases the receiver's zstd codec.
func (r *Receiver) Close() {
	r.zstd.Close()
}

// Reset discards all in-progress transfer state (spec.md §4.5 step 6,
// and the failure-mode reset of §4.5's last paragraph / §7
// IntegrityFailure policy).
func (r *Receiver) Reset() {
	r.packetGroups = packet.FECPacketGroupsMax
	for i := range r.groups {
		r.groups[i] = nil
	}
}

// HandleFragment ingests one save-state fragment datagram. It returns
// a non-nil Result once every packet group has decoded and the
// reassembled payload has passed its xxhash64 check; on any integrity
// failure it resets its own scratch and returns an error so the caller
// can log it (the authority will retransmit).
func (r *Receiver) HandleFragment(raw []byte) (*Result, error) {
	k, seqHi, seqLo, announcedGroups, announces, err := packet.ParseFragmentHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("savestate: parse fragment: %w", err)
	}
	if announces || k != packet.ReedSolomonKCommon {
		// A k != 239 transfer has a single packet group, which
		// ParseFragmentHeader reports as packetGroups == 1.
		r.packetGroups = announcedGroups
	}
	if seqHi >= packet.FECPacketGroupsMax {
		return nil, fmt.Errorf("savestate: sequence_hi %d exceeds FECPacketGroupsMax", seqHi)
	}

	g := r.groups[seqHi]
	if g == nil {
		g = &groupState{k: k, n: codec.NForK(k, packet.FECRedundantBlocks), received: make(map[int][]byte)}
		r.groups[seqHi] = g
	}
	if g.decoded {
		return nil, nil
	}

	payload := raw[packet.FragmentHeaderSize:]
	g.blockSize = len(payload)
	g.received[seqLo] = append([]byte(nil), payload...)

	if len(g.received) >= g.k {
		if err := r.decodeGroup(seqHi); err != nil {
			r.Reset()
			return nil, fmt.Errorf("savestate: decode packet group %d: %w", seqHi, err)
		}
	}

	if !r.allGroupsDecoded() {
		return nil, nil
	}

	result, err := r.assembleAndVerify()
	if err != nil {
		r.Reset()
		return nil, err
	}
	r.Reset()
	return result, nil
}

func (r *Receiver) decodeGroup(idx int) error {
	g := r.groups[idx]
	shards := make([][]byte, g.n)
	for seqLo, data := range g.received {
		shards[seqLo] = data
	}
	rs, err := codec.NewRSCode(g.k, g.n)
	if err != nil {
		return err
	}
	if err := rs.Reconstruct(shards); err != nil {
		return err
	}
	g.shards = shards[:g.k]
	g.decoded = true
	return nil
}

func (r *Receiver) allGroupsDecoded() bool {
	for j := 0; j < r.packetGroups; j++ {
		if r.groups[j] == nil || !r.groups[j].decoded {
			return false
		}
	}
	return true
}

func (r *Receiver) assembleAndVerify() (*Result, error) {
	g0 := r.groups[0]
	bufLen := int64(r.packetGroups) * int64(g0.k) * int64(g0.blockSize)
	buf := make([]byte, bufLen)
	for j := 0; j < r.packetGroups; j++ {
		g := r.groups[j]
		for i := 0; i < g.k; i++ {
			off := codec.LogicalPartitionOffset(uint8(j), uint8(i), g.blockSize, r.packetGroups)
			if off+int64(g.blockSize) > bufLen {
				return nil, fmt.Errorf("savestate: reassembled block at group=%d seq=%d out of bounds", j, i)
			}
			copy(buf[off:off+int64(g.blockSize)], g.shards[i])
		}
	}

	if len(buf) < packet.PayloadHeaderSize {
		return nil, fmt.Errorf("savestate: reassembled payload shorter than header")
	}
	header, err := packet.UnmarshalPayloadHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("savestate: unmarshal payload header: %w", err)
	}
	if header.TotalSizeBytes <= 0 || header.TotalSizeBytes > int64(len(buf)) {
		return nil, fmt.Errorf("savestate: total_size_bytes %d out of bounds (have %d)", header.TotalSizeBytes, len(buf))
	}
	full := buf[:header.TotalSizeBytes]

	wantHash := header.Hash
	zeroed := append([]byte(nil), full...)
	binary.LittleEndian.PutUint64(zeroed[packet.HashOffset:packet.HashOffset+8], 0)
	if got := codec.Hash64(zeroed); got != wantHash {
		return nil, fmt.Errorf("savestate: xxhash mismatch: got %#x want %#x", got, wantHash)
	}

	stateStart := packet.PayloadHeaderSize
	stateEnd := stateStart + int(header.CompressedSaveStateSize)
	optionsEnd := stateEnd + int(header.CompressedOptionsSize)
	if optionsEnd > len(full) {
		return nil, fmt.Errorf("savestate: compressed blob sizes exceed payload length")
	}
	compressedState := full[stateStart:stateEnd]
	compressedOptions := full[stateEnd:optionsEnd]

	rawState, err := r.zstd.Decompress(compressedState, int(header.DecompressedSaveStateSize))
	if err != nil {
		return nil, fmt.Errorf("savestate: decompress state: %w", err)
	}
	rawOptions, err := r.zstd.Decompress(compressedOptions, 0)
	if err != nil {
		return nil, fmt.Errorf("savestate: decompress options: %w", err)
	}

	return &Result{Header: *header, State: rawState, Options: rawOptions}, nil
}
