package session

import (
	"fmt"

	"github.com/ehrlich-b/netplay/internal/packet"
)

// encodeCoreOptions packs a core-options map as the flat sequence of
// fixed-size CoreOption records a save-state transfer's
// compressed_options blob carries (spec.md §4.5 step 5).
func encodeCoreOptions(options map[string]string) ([]byte, error) {
	buf := make([]byte, 0, len(options)*packet.CoreOptionWireSize)
	for k, v := range options {
		entry, err := packet.CoreOption{Key: k, Value: v}.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("session: marshal core option %q: %w", k, err)
		}
		buf = append(buf, entry...)
	}
	return buf, nil
}

// decodeCoreOptions reverses encodeCoreOptions.
func decodeCoreOptions(buf []byte) (map[string]string, error) {
	if len(buf)%packet.CoreOptionWireSize != 0 {
		return nil, fmt.Errorf("session: core options blob size %d not a multiple of %d", len(buf), packet.CoreOptionWireSize)
	}
	out := make(map[string]string, len(buf)/packet.CoreOptionWireSize)
	for off := 0; off < len(buf); off += packet.CoreOptionWireSize {
		opt, err := packet.UnmarshalCoreOption(buf[off : off+packet.CoreOptionWireSize])
		if err != nil {
			return nil, err
		}
		if opt.Key == "" {
			continue
		}
		out[opt.Key] = opt.Value
	}
	return out, nil
}
