// internal/pipeline/runner.go
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/metrics"
)

// Stats is a snapshot of runner counters.
type Stats struct {
	BlocksProcessed int64 `json:"blocks_processed"`
	BlocksRejected  int64 `json:"blocks_rejected"`
	BlocksDropped   int64 `json:"blocks_dropped"`
	Overruns        int64 `json:"overruns"`
	Detections      int64 `json:"detections"`
	QueueLength     int   `json:"queue_length"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerMetrics publishes runner counters to m.
func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// Runner is the single processing task: it drains a BlockQueue into a
// Pipeline until the queue closes or the context is cancelled. A block
// already being processed always completes.
type Runner struct {
	pipeline *Pipeline
	queue    *BlockQueue
	metrics  *metrics.Metrics
	budget   time.Duration

	blocks     atomic.Int64
	rejected   atomic.Int64
	overruns   atomic.Int64
	detections atomic.Int64
	nextSeq    int64
}

// NewRunner creates a runner for p fed from q.
func NewRunner(p *Pipeline, q *BlockQueue, opts ...RunnerOption) *Runner {
	spec := p.Config().Digitizer
	r := &Runner{
		pipeline: p,
		queue:    q,
		metrics:  metrics.Noop(),
		budget:   time.Duration(float64(spec.BlockSize) / spec.Spec.SampleRate * float64(time.Second)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes blocks until the queue is closed and drained, or ctx is
// cancelled. Deferred detections are flushed on the way out.
func (r *Runner) Run(ctx context.Context) error {
	defer r.flush()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case item, ok := <-r.queue.Blocks():
			if !ok {
				return nil
			}
			if lost := item.Seq - r.nextSeq; lost > 0 {
				r.skip(lost)
			}
			r.nextSeq = item.Seq + 1
			r.process(item.Block)
		}
	}
}

func (r *Runner) process(block dsp.AudioBlock) {
	start := time.Now()
	events, err := r.pipeline.Process(block)
	elapsed := time.Since(start)
	if err != nil {
		r.rejected.Add(1)
		glog.Warningf("skipping block: %v", err)
		return
	}

	r.blocks.Add(1)
	r.detections.Add(int64(len(events)))
	if elapsed > r.budget {
		r.overruns.Add(1)
		glog.Warningf("block took %v, over the %v real-time budget", elapsed, r.budget)
	}
	r.metrics.BlockProcessed(elapsed, r.budget)
}

// skip moves the pipeline past blocks the queue dropped.
func (r *Runner) skip(lost int64) {
	r.metrics.BlocksDroppedBy(lost)
	glog.Warningf("queue full, skipping %d blocks (%d dropped so far)", lost, r.queue.Dropped())
	events := r.pipeline.Skip(int(lost))
	r.detections.Add(int64(len(events)))
}

func (r *Runner) flush() {
	events := r.pipeline.Flush()
	r.detections.Add(int64(len(events)))
}

// Budget is the real-time processing budget of one block.
func (r *Runner) Budget() time.Duration {
	return r.budget
}

// Stats returns the current counters. Safe for concurrent use.
func (r *Runner) Stats() Stats {
	return Stats{
		BlocksProcessed: r.blocks.Load(),
		BlocksRejected:  r.rejected.Load(),
		BlocksDropped:   r.queue.Dropped(),
		Overruns:        r.overruns.Load(),
		Detections:      r.detections.Load(),
		QueueLength:     r.queue.Len(),
	}
}
