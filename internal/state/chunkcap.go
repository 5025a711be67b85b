package state

import (
	"fmt"
	"sync/atomic"
)

// MaxChunkCap is the static buffer capacity the runtime knob may never
// exceed (spec.md §3, "Runtime knob").
const MaxChunkCap = 65535

// ChunkCap is the administrator-tunable upper bound on bytes consumed
// per recv in the copy phase.
type ChunkCap struct {
	v uint32
}

// NewChunkCap constructs a ChunkCap with the given initial value.
func NewChunkCap(initial uint32) *ChunkCap {
	c := &ChunkCap{}
	c.v = initial
	return c
}

// Get returns the current cap.
func (c *ChunkCap) Get() uint32 {
	return atomic.LoadUint32(&c.v)
}

// Set validates 1 <= n <= MaxChunkCap and updates the cap.
func (c *ChunkCap) Set(n uint32) error {
	if n < 1 || n > MaxChunkCap {
		return fmt.Errorf("state: buffer size %d out of range (1-%d)", n, MaxChunkCap)
	}
	atomic.StoreUint32(&c.v, n)
	return nil
}
