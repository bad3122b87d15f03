// Package desync implements the desync detector of spec.md §4.8: it
// builds the per-tick desync-debug packet and, on receipt of a peer's
// packet, compares the overlap window of save- and input-hashes both
// sides have in common.
package desync

import "github.com/ehrlich-b/netplay/internal/packet"

// BuildPacket constructs the desync-debug packet covering the
// just-produced frame.
func BuildPacket(frame int64, saveHash, inputHash [packet.DelayBufferSize]int64) *packet.DesyncPacket {
	return &packet.DesyncPacket{Frame: frame, SaveHash: saveHash, InputHash: inputHash}
}

// Tracker holds, per peer port, the first frame at which a save-hash
// mismatch was observed and not yet superseded by a later match.
type Tracker struct {
	peerDesyncedFrame map[int]int64
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{peerDesyncedFrame: make(map[int]int64)}
}

// Observe compares our own last-emitted desync packet against one
// received from port over their common overlap window
// [max(ours.Frame, theirs.Frame)-DelayBufferSize+1, min(ours.Frame,
// theirs.Frame)]. Input-hash mismatches are reported for the caller to
// log (never acted on automatically: the channel is unreliable).
// Save-hash mismatches update the port's desynced-frame bookkeeping:
// first occurrence is recorded, a later matching frame clears it.
func (t *Tracker) Observe(port int, ours, theirs *packet.DesyncPacket) (inputMismatchFrames []int64) {
	start := maxInt64(ours.Frame, theirs.Frame) - packet.DelayBufferSize + 1
	end := minInt64(ours.Frame, theirs.Frame)

	for f := start; f <= end; f++ {
		slot := mod(f, packet.DelayBufferSize)
		if ours.InputHash[slot] != theirs.InputHash[slot] {
			inputMismatchFrames = append(inputMismatchFrames, f)
		}
		if ours.SaveHash[slot] != theirs.SaveHash[slot] {
			if _, exists := t.peerDesyncedFrame[port]; !exists {
				t.peerDesyncedFrame[port] = f
			}
		} else if existing, exists := t.peerDesyncedFrame[port]; exists && f > existing {
			delete(t.peerDesyncedFrame, port)
		}
	}
	return inputMismatchFrames
}

// DesyncedSince reports the first frame at which port's save hash
// diverged from ours, if it is currently considered desynced.
func (t *Tracker) DesyncedSince(port int) (int64, bool) {
	f, ok := t.peerDesyncedFrame[port]
	return f, ok
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func mod(f int64, m int64) int64 {
	r := f % m
	if r < 0 {
		r += m
	}
	return r
}
