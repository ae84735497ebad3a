// internal/pipeline/queue.go
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

// QueuedBlock is a block tagged with its arrival order. Seq counts every
// accepted push from zero, so a jump between consecutive received blocks is
// the number of blocks dropped in between.
type QueuedBlock struct {
	Seq   int64
	Block dsp.AudioBlock
}

// BlockQueue hands audio blocks from an acquisition goroutine to the
// processing goroutine. When full, the oldest queued block is discarded so
// the newest audio is always kept.
type BlockQueue struct {
	mu      sync.Mutex
	blocks  chan QueuedBlock
	seq     int64
	closed  bool
	dropped atomic.Int64
}

// NewBlockQueue creates a queue holding up to depth blocks.
func NewBlockQueue(depth int) *BlockQueue {
	return &BlockQueue{blocks: make(chan QueuedBlock, max(depth, 1))}
}

// Push enqueues block without blocking. It reports false if an older block
// had to be dropped or the queue is closed.
func (q *BlockQueue) Push(block dsp.AudioBlock) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	item := QueuedBlock{Seq: q.seq, Block: block}
	q.seq++
	accepted := true
	for {
		select {
		case q.blocks <- item:
			return accepted
		default:
		}
		select {
		case <-q.blocks:
			q.dropped.Add(1)
			accepted = false
		default:
		}
	}
}

// Blocks returns the receive side of the queue. It is closed by Close once
// every queued block has been received.
func (q *BlockQueue) Blocks() <-chan QueuedBlock {
	return q.blocks
}

// Close stops accepting blocks. Blocks already queued remain readable.
func (q *BlockQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.blocks)
	}
}

// Len returns the number of queued blocks.
func (q *BlockQueue) Len() int {
	return len(q.blocks)
}

// Dropped returns the number of blocks discarded because the queue was full.
func (q *BlockQueue) Dropped() int64 {
	return q.dropped.Load()
}
