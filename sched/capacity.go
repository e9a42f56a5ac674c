package sched

import "context"

// CapacityProvider reports the memory available to the next batch.
// Implemented by the KV-cache allocator, which is external to the scheduler.
type CapacityProvider interface {
	FreeBlocks() int64 // blocks available for new tokens this tick
	BlockSize() int64  // tokens per block (> 0)
}

// ExecutionEngine runs a batch and reports per-request progress.
// Implementations MUST NOT mutate scheduler-owned request fields.
type ExecutionEngine interface {
	RunBatch(ctx context.Context, batch *Batch) (*CompletionReport, error)
}

// Releaser is optionally implemented by engines that hold per-request state
// (e.g. KV blocks). The scheduler calls Release when it drops a request that
// did not finish through a completion report.
type Releaser interface {
	Release(requestID string)
}

// Rollbacker is optionally implemented by engines that commit per-request
// state inside RunBatch. The scheduler calls Rollback when it discards a batch
// without applying its report, so the engine can undo that state.
type Rollbacker interface {
	Rollback(batch *Batch)
}

// blocksFor returns the number of blocks needed to hold n tokens.
func blocksFor(n, blockSize int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}

// newBlocksNeeded returns the additional blocks req needs to grow by tokens.
func newBlocksNeeded(req *Request, tokens, blockSize int64) int64 {
	held := req.ProcessedTokens()
	return blocksFor(held+tokens, blockSize) - blocksFor(held, blockSize)
}

// memoryBudget tracks free blocks while a batch is being composed.
type memoryBudget struct {
	free      int64
	blockSize int64
}

func newMemoryBudget(capacity CapacityProvider) memoryBudget {
	bs := capacity.BlockSize()
	if bs <= 0 {
		panic("CapacityProvider: BlockSize must be > 0")
	}
	return memoryBudget{free: capacity.FreeBlocks(), blockSize: bs}
}

// reserve claims blocks for req to grow by tokens. Returns false, reserving
// nothing, when the free pool is too small.
func (m *memoryBudget) reserve(req *Request, tokens int64) bool {
	need := newBlocksNeeded(req, tokens, m.blockSize)
	if need > m.free {
		return false
	}
	m.free -= need
	return true
}

// maxTokensFor returns the largest token growth of req (<= limit) that fits the free pool.
func (m *memoryBudget) maxTokensFor(req *Request, limit int64) int64 {
	held := req.ProcessedTokens()
	capacityTokens := (blocksFor(held, m.blockSize)+m.free)*m.blockSize - held
	return max(min(limit, capacityTokens), 0)
}
