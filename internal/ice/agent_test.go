package ice

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestLoopbackAgentDataChannel(t *testing.T) {
	offerer, err := NewAgent(nil, true)
	if err != nil {
		t.Fatalf("new offerer: %v", err)
	}
	defer offerer.Close()

	answerer, err := NewAgent(nil, false)
	if err != nil {
		t.Fatalf("new answerer: %v", err)
	}
	defer answerer.Close()

	var offererCandidates, answererCandidates []string
	var mu sync.Mutex
	offerer.OnCandidate(func(c string) {
		mu.Lock()
		offererCandidates = append(offererCandidates, c)
		mu.Unlock()
	})
	answerer.OnCandidate(func(c string) {
		mu.Lock()
		answererCandidates = append(answererCandidates, c)
		mu.Unlock()
	})

	offerGatherDone := make(chan struct{})
	offerer.OnGatheringDone(func() { close(offerGatherDone) })
	answerGatherDone := make(chan struct{})
	answerer.OnGatheringDone(func() { close(answerGatherDone) })

	var received atomic.Bool
	var receivedBody []byte
	var wg sync.WaitGroup
	wg.Add(1)
	answerer.OnMessage(func(data []byte) {
		receivedBody = data
		received.Store(true)
		wg.Done()
	})

	offerSDP, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	select {
	case <-offerGatherDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout gathering offerer candidates")
	}

	if err := answerer.SetRemoteDescription(webrtc.SDPTypeOffer, offerSDP); err != nil {
		t.Fatalf("answerer set remote: %v", err)
	}
	answerSDP, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	select {
	case <-answerGatherDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout gathering answerer candidates")
	}

	if err := offerer.SetRemoteDescription(webrtc.SDPTypeAnswer, answerSDP); err != nil {
		t.Fatalf("offerer set remote: %v", err)
	}

	connected := make(chan struct{})
	offerer.OnStateChange(func(s State) {
		if s == StateConnected || s == StateCompleted {
			select {
			case <-connected:
			default:
				close(connected)
			}
		}
	})
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ICE connection")
	}

	// The DataChannel may take a beat past ICE connectivity to open.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := offerer.Send([]byte("hello")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for data channel to open")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-waitGroupDone(&wg):
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message receipt")
	}

	if !received.Load() || string(receivedBody) != "hello" {
		t.Fatalf("expected to receive %q, got %q (received=%v)", "hello", receivedBody, received.Load())
	}
}

func waitGroupDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
