package packet

import (
	"encoding/binary"
	"fmt"
)

// CoreOptionWireSize is the packed size of one CoreOption.
const CoreOptionWireSize = CoreOptionKeyLen + CoreOptionValueLen

// CoreOption is a single {key, value} configuration mutation taking
// effect at the frame it is attached to in a state ring slot. A zero
// Key means "no option change this frame".
type CoreOption struct {
	Key   string
	Value string
}

// Empty reports whether this slot carries no mutation.
func (o CoreOption) Empty() bool {
	return o.Key == ""
}

func (o CoreOption) marshalInto(buf []byte) error {
	if len(o.Key) > CoreOptionKeyLen-1 {
		return fmt.Errorf("packet: core option key %q exceeds %d bytes", o.Key, CoreOptionKeyLen-1)
	}
	if len(o.Value) > CoreOptionValueLen-1 {
		return fmt.Errorf("packet: core option value %q exceeds %d bytes", o.Value, CoreOptionValueLen-1)
	}
	copy(buf[0:CoreOptionKeyLen], o.Key)
	copy(buf[CoreOptionKeyLen:CoreOptionWireSize], o.Value)
	return nil
}

func (o *CoreOption) unmarshalFrom(buf []byte) {
	o.Key = cStringFromBytes(buf[0:CoreOptionKeyLen])
	o.Value = cStringFromBytes(buf[CoreOptionKeyLen:CoreOptionWireSize])
}

// MarshalBinary packs a single CoreOption into its fixed wire form.
// Used both inside a WireState slot and, repeated, as the
// core_options blob a save-state transfer's compressed_options
// carries (spec.md §4.5 step 5).
func (o CoreOption) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CoreOptionWireSize)
	if err := o.marshalInto(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalCoreOption decodes a single fixed-size CoreOption.
func UnmarshalCoreOption(buf []byte) (CoreOption, error) {
	if len(buf) < CoreOptionWireSize {
		return CoreOption{}, fmt.Errorf("packet: core option too short: got %d want %d", len(buf), CoreOptionWireSize)
	}
	var o CoreOption
	o.unmarshalFrom(buf)
	return o, nil
}

// WireState is the full per-port broadcast ring ("ulnet_state_t" in
// spec.md §6): the highest committed frame, the DELAY_BUFFER_SIZE
// window of future inputs for every port, the authority's pending room
// deltas, and any pending core-option mutation, one slot per frame.
type WireState struct {
	Frame        int64
	InputState   [DelayBufferSize][PortCount][ButtonsPerPort]int16
	RoomXorDelta [DelayBufferSize]Room
	CoreOption   [DelayBufferSize]CoreOption
}

// WireStateSize is the fully-expanded (pre-RLE) packed size of a
// WireState.
const WireStateSize = 8 +
	DelayBufferSize*PortCount*ButtonsPerPort*2 +
	DelayBufferSize*RoomWireSize +
	DelayBufferSize*CoreOptionWireSize

// MarshalBinary packs s into its fixed, pre-RLE wire form. Callers
// apply RLE-8 (internal/codec) afterward; the raw form is mostly zero
// at any given frame, which is exactly what RLE is for.
func (s *WireState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, WireStateSize)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(s.Frame))
	off += 8

	for slot := 0; slot < DelayBufferSize; slot++ {
		for p := 0; p < PortCount; p++ {
			for b := 0; b < ButtonsPerPort; b++ {
				binary.LittleEndian.PutUint16(buf[off:off+2], uint16(s.InputState[slot][p][b]))
				off += 2
			}
		}
	}

	for slot := 0; slot < DelayBufferSize; slot++ {
		roomBytes, err := s.RoomXorDelta[slot].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("packet: marshal wire state room delta[%d]: %w", slot, err)
		}
		copy(buf[off:off+RoomWireSize], roomBytes)
		off += RoomWireSize
	}

	for slot := 0; slot < DelayBufferSize; slot++ {
		if err := s.CoreOption[slot].marshalInto(buf[off : off+CoreOptionWireSize]); err != nil {
			return nil, fmt.Errorf("packet: marshal wire state core option[%d]: %w", slot, err)
		}
		off += CoreOptionWireSize
	}

	return buf, nil
}

// UnmarshalBinary reverses MarshalBinary.
func (s *WireState) UnmarshalBinary(buf []byte) error {
	if len(buf) != WireStateSize {
		return fmt.Errorf("packet: wire state size = %d, want %d", len(buf), WireStateSize)
	}
	off := 0

	s.Frame = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8

	for slot := 0; slot < DelayBufferSize; slot++ {
		for p := 0; p < PortCount; p++ {
			for b := 0; b < ButtonsPerPort; b++ {
				s.InputState[slot][p][b] = int16(binary.LittleEndian.Uint16(buf[off : off+2]))
				off += 2
			}
		}
	}

	for slot := 0; slot < DelayBufferSize; slot++ {
		if err := s.RoomXorDelta[slot].UnmarshalBinary(buf[off : off+RoomWireSize]); err != nil {
			return fmt.Errorf("packet: unmarshal wire state room delta[%d]: %w", slot, err)
		}
		off += RoomWireSize
	}

	for slot := 0; slot < DelayBufferSize; slot++ {
		s.CoreOption[slot].unmarshalFrom(buf[off : off+CoreOptionWireSize])
		off += CoreOptionWireSize
	}

	return nil
}
