package desync

import (
	"testing"

	"github.com/ehrlich-b/netplay/internal/packet"
)

func TestObserveDetectsAndClearsSaveDesync(t *testing.T) {
	tr := NewTracker()

	var ours, theirs packet.DesyncPacket
	ours.Frame = 10
	theirs.Frame = 10
	for i := range ours.SaveHash {
		ours.SaveHash[i] = int64(i)
		theirs.SaveHash[i] = int64(i)
		ours.InputHash[i] = int64(i)
		theirs.InputHash[i] = int64(i)
	}
	// Frame 10's slot disagrees. Frame 10 is the newest frame both
	// packets cover, so no later matching frame in this same packet
	// clears the marker.
	mismatchSlot := mod(10, packet.DelayBufferSize)
	theirs.SaveHash[mismatchSlot] = 999

	tr.Observe(0, &ours, &theirs)
	if _, ok := tr.DesyncedSince(0); !ok {
		t.Fatal("expected save-hash mismatch to be recorded")
	}

	// A later packet whose overlap window's matching frame for that
	// slot now agrees clears the marker.
	theirs.SaveHash[mismatchSlot] = ours.SaveHash[mismatchSlot]
	ours.Frame = 10 + packet.DelayBufferSize
	theirs.Frame = 10 + packet.DelayBufferSize
	tr.Observe(0, &ours, &theirs)
	if _, ok := tr.DesyncedSince(0); ok {
		t.Fatal("expected desync marker to clear once a later frame matches")
	}
}

func TestObserveReportsInputMismatches(t *testing.T) {
	tr := NewTracker()
	var ours, theirs packet.DesyncPacket
	ours.Frame = 3
	theirs.Frame = 3
	theirs.InputHash[mod(2, packet.DelayBufferSize)] = 123

	mismatches := tr.Observe(0, &ours, &theirs)
	if len(mismatches) != 1 || mismatches[0] != 2 {
		t.Fatalf("expected mismatch at frame 2, got %v", mismatches)
	}
}
