package savestate

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/ehrlich-b/netplay/internal/packet"
)

func TestSaveStateTransferRoundTripWithDrops(t *testing.T) {
	sender, err := NewSender(3)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer sender.Close()

	rawState := make([]byte, 256*1024)
	if _, err := rand.Read(rawState); err != nil {
		t.Fatalf("rand: %v", err)
	}
	rawOptions := []byte(`{"netplay_delay_frames":"2"}`)

	room := packet.Room{Name: "arena"}
	room.PeerIDs[packet.AuthorityIndex] = 0xA

	payload, err := sender.BuildPayload(100, room, rawState, rawOptions)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	fragments, err := sender.Fragments(payload)
	if err != nil {
		t.Fatalf("fragments: %v", err)
	}

	receiver, err := NewReceiver(3)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	defer receiver.Close()

	// Drop every 20th fragment (10 of the 199 this payload produces);
	// R2/R3 guarantee recovery as long as per group losses stay within
	// FEC_REDUNDANT_BLOCKS/256 * n.
	var result *Result
	for i, frag := range fragments {
		if i%20 == 0 {
			continue
		}
		res, err := receiver.HandleFragment(frag)
		if err != nil {
			t.Fatalf("handle fragment %d: %v", i, err)
		}
		if res != nil {
			result = res
		}
	}

	if result == nil {
		t.Fatal("transfer did not complete despite tolerable loss")
	}
	if !bytes.Equal(result.State, rawState) {
		t.Fatal("recovered state does not match original")
	}
	if !bytes.Equal(result.Options, rawOptions) {
		t.Fatal("recovered options do not match original")
	}
	if result.Header.FrameCounter != 100 {
		t.Fatalf("frame counter = %d, want 100", result.Header.FrameCounter)
	}
	if result.Header.Room.PeerIDs[packet.AuthorityIndex] != 0xA {
		t.Fatal("room not preserved through transfer")
	}
}

func TestSaveStateTransferDetectsCorruption(t *testing.T) {
	sender, err := NewSender(3)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer sender.Close()

	rawState := bytes.Repeat([]byte{0xAB}, 4096)
	payload, err := sender.BuildPayload(1, packet.Room{}, rawState, nil)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	fragments, err := sender.Fragments(payload)
	if err != nil {
		t.Fatalf("fragments: %v", err)
	}

	receiver, err := NewReceiver(3)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	defer receiver.Close()

	// Corrupt one byte of the first fragment's payload before it is
	// ever delivered.
	corrupted := append([]byte(nil), fragments[0]...)
	corrupted[packet.FragmentHeaderSize] ^= 0xFF

	var gotErr error
	for i, frag := range fragments {
		f := frag
		if i == 0 {
			f = corrupted
		}
		if _, err := receiver.HandleFragment(f); err != nil {
			gotErr = err
			break
		}
	}
	if gotErr == nil {
		t.Fatal("expected integrity failure from corrupted fragment")
	}
}
