package nullcore

import "testing"

func TestRunOneFrameIncrementsAndRoundTrips(t *testing.T) {
	c := New()
	c.RunOneFrame()
	c.RunOneFrame()
	if c.Counter() != 2 {
		t.Fatalf("counter = %d, want 2", c.Counter())
	}

	buf := make([]byte, c.SerializeSize())
	if err := c.Serialize(buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored := New()
	if err := restored.Unserialize(buf); err != nil {
		t.Fatalf("unserialize: %v", err)
	}
	if restored.Counter() != 2 {
		t.Fatalf("restored counter = %d, want 2", restored.Counter())
	}
}
