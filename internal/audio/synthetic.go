// internal/audio/synthetic.go
package audio

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/ColonelBlimp/pingfinder/internal/sim"
)

// Synthetic produces blocks from a simulated scenario, either paced at the
// real sample rate or as fast as the sink accepts them.
type Synthetic struct {
	generator *sim.Generator
	blockSize int
	realtime  bool
	maxBlocks int64

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	done    chan struct{}

	blocks   atomic.Int64
	overruns atomic.Int64
}

// SyntheticOption configures a Synthetic source.
type SyntheticOption func(*Synthetic)

// WithRealtime paces blocks at the scenario sample rate.
func WithRealtime(realtime bool) SyntheticOption {
	return func(s *Synthetic) {
		s.realtime = realtime
	}
}

// WithMaxBlocks stops the source after n blocks; 0 runs until stopped.
func WithMaxBlocks(n int64) SyntheticOption {
	return func(s *Synthetic) {
		s.maxBlocks = n
	}
}

// NewSynthetic creates a source rendering scenario in blocks of blockSize.
func NewSynthetic(scenario sim.Scenario, blockSize int, opts ...SyntheticOption) (*Synthetic, error) {
	g, err := sim.NewGenerator(scenario)
	if err != nil {
		return nil, err
	}
	s := &Synthetic{
		generator: g,
		blockSize: blockSize,
		realtime:  true,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins generating blocks into sink.
func (s *Synthetic) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return ErrAlreadyRunning
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.generateLoop(ctx, sink, s.stopCh, s.done)

	scenario := s.generator.Scenario()
	glog.Infof("synthetic source started: bearing %.1f° range %.1fm interval %.3gs realtime %t",
		scenario.Bearing*180/math.Pi, scenario.Range, scenario.PingInterval, s.realtime)
	return nil
}

func (s *Synthetic) generateLoop(ctx context.Context, sink Sink, stopCh, done chan struct{}) {
	defer close(done)
	defer s.markStopped()

	var tick <-chan time.Time
	if s.realtime {
		period := time.Duration(float64(s.blockSize) / s.generator.Scenario().SampleRate * float64(time.Second))
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for s.maxBlocks == 0 || s.blocks.Load() < s.maxBlocks {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}
		}

		s.blocks.Add(1)
		if !sink.Push(s.generator.Next(s.blockSize)) {
			s.overruns.Add(1)
		}
	}
}

func (s *Synthetic) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// Stop halts generation.
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	return nil
}

// Done is closed once generation has ended.
func (s *Synthetic) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stats returns generation counters.
func (s *Synthetic) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		Blocks:   s.blocks.Load(),
		Overruns: s.overruns.Load(),
		Running:  running,
		Backend:  s.Name(),
	}
}

// Name returns "synthetic".
func (s *Synthetic) Name() string {
	return "synthetic"
}

// Close stops generation; the source cannot be restarted.
func (s *Synthetic) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
