// Package nullcore is a placeholder session.Core: a single little-endian
// counter that increments once per RunOneFrame. ROM loading and the
// actual emulator/game integration are out of scope for this module
// (spec.md §1 Non-goals); nullcore exists so cmd/netplayd has something
// concrete to drive the session with when no real core is wired in.
package nullcore

import "encoding/binary"

// Core is an 8-byte counter standing in for a real frame-stepped
// simulation.
type Core struct {
	counter uint64
}

// New builds a Core starting at counter 0.
func New() *Core {
	return &Core{}
}

// Counter returns the current counter value.
func (c *Core) Counter() uint64 { return c.counter }

func (c *Core) SerializeSize() int { return 8 }

func (c *Core) Serialize(buf []byte) error {
	binary.LittleEndian.PutUint64(buf, c.counter)
	return nil
}

func (c *Core) Unserialize(buf []byte) error {
	c.counter = binary.LittleEndian.Uint64(buf)
	return nil
}

func (c *Core) RunOneFrame() {
	c.counter++
}
