// Package engine provides simulated stand-ins for the collaborators the
// scheduler drives: a KV block allocator (sched.CapacityProvider) and an
// execution engine with an alpha/beta step-time model (sched.ExecutionEngine).
package engine

import (
	"fmt"

	"github.com/gammazero/deque"
)

// BlockAllocator hands out fixed-size KV blocks to requests as their token
// footprint grows. Freed blocks go to the tail of the free list and are reused
// from the head.
//
// Thread-safety: NOT thread-safe. Driven by the scheduler goroutine through
// the engine.
type BlockAllocator struct {
	totalBlocks int64
	blockSize   int64
	free        deque.Deque[int64]
	owned       map[string][]int64 // request id -> block ids in allocation order
	tokens      map[string]int64   // request id -> tokens held
}

// NewBlockAllocator creates an allocator with every block free.
func NewBlockAllocator(totalBlocks, blockSize int64) (*BlockAllocator, error) {
	if totalBlocks <= 0 {
		return nil, fmt.Errorf("block allocator: total blocks must be > 0, got %d", totalBlocks)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("block allocator: block size must be > 0, got %d", blockSize)
	}
	a := &BlockAllocator{
		totalBlocks: totalBlocks,
		blockSize:   blockSize,
		owned:       make(map[string][]int64),
		tokens:      make(map[string]int64),
	}
	for id := int64(0); id < totalBlocks; id++ {
		a.free.PushBack(id)
	}
	return a, nil
}

// FreeBlocks returns the number of unallocated blocks.
func (a *BlockAllocator) FreeBlocks() int64 {
	return int64(a.free.Len())
}

// BlockSize returns the number of tokens per block.
func (a *BlockAllocator) BlockSize() int64 {
	return a.blockSize
}

// TotalBlocks returns the pool size.
func (a *BlockAllocator) TotalBlocks() int64 {
	return a.totalBlocks
}

// UsedBlocks returns the number of allocated blocks.
func (a *BlockAllocator) UsedBlocks() int64 {
	return a.totalBlocks - a.FreeBlocks()
}

// HeldTokens returns the tokens currently held by a request.
func (a *BlockAllocator) HeldTokens(requestID string) int64 {
	return a.tokens[requestID]
}

// HeldBlocks returns the number of blocks currently held by a request.
func (a *BlockAllocator) HeldBlocks(requestID string) int64 {
	return int64(len(a.owned[requestID]))
}

// Grow extends a request's footprint by n tokens, allocating blocks as needed.
// Either all needed blocks are allocated or none are; returns false when the
// free pool is too small.
func (a *BlockAllocator) Grow(requestID string, n int64) bool {
	if n <= 0 {
		return true
	}
	return a.Resize(requestID, a.tokens[requestID]+n)
}

// Resize sets a request's footprint to exactly tokens. Growing is all or
// nothing and returns false when the free pool is too small. Shrinking frees
// the most recently allocated blocks first; a footprint of zero releases the
// request.
func (a *BlockAllocator) Resize(requestID string, tokens int64) bool {
	if tokens <= 0 {
		a.Release(requestID)
		return true
	}
	blocks := a.owned[requestID]
	have := int64(len(blocks))
	need := blocksFor(tokens, a.blockSize)
	switch {
	case need > have:
		if need-have > a.FreeBlocks() {
			return false
		}
		for i := have; i < need; i++ {
			blocks = append(blocks, a.free.PopFront())
		}
	case need < have:
		for i := have - 1; i >= need; i-- {
			a.free.PushBack(blocks[i])
		}
		blocks = blocks[:need]
	}
	a.owned[requestID] = blocks
	a.tokens[requestID] = tokens
	return true
}

// Release returns every block held by the request to the free list.
// Releasing an unknown request is a no-op.
func (a *BlockAllocator) Release(requestID string) {
	blocks := a.owned[requestID]
	// most recently allocated blocks are freed first
	for i := len(blocks) - 1; i >= 0; i-- {
		a.free.PushBack(blocks[i])
	}
	delete(a.owned, requestID)
	delete(a.tokens, requestID)
}

func blocksFor(n, blockSize int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}
