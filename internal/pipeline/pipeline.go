// internal/pipeline/pipeline.go
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/metrics"
)

// ErrHistoryTooSmall indicates the history cannot hold the beamformer snapshots plus the detector lookback
var ErrHistoryTooSmall = fmt.Errorf("%w: history must hold at least num_beamform_snapshots + 1 samples", dsp.ErrConfiguration)

// Config holds configuration for a Pipeline. All values come from the
// application config file.
type Config struct {
	Digitizer  dsp.DigitizerConfig
	Detector   dsp.DetectorConfig
	Beamformer dsp.BeamformerConfig
	// HistorySize is the number of samples retained; 0 picks a size that
	// covers two blocks plus the snapshot window (from config: history_size)
	HistorySize int
	// DeferBearing holds a detection until the samples after it arrive
	// instead of emitting it without a bearing (from config: defer_bearing)
	DeferBearing bool
	// TimeBase is added to every sample time, in seconds
	TimeBase float64
}

// DetectionCallback is called for every emitted detection.
// Must be non-blocking and fast - called from the processing goroutine.
type DetectionCallback func(event dsp.DetectionEvent)

// SampleRecorder receives every digitized sample, e.g. for an amplitude log.
type SampleRecorder interface {
	Record(samples []dsp.Sample) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics publishes block and detection counters to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRecorder sends every digitized sample to r.
func WithRecorder(r SampleRecorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithLevelMeter measures the centre frequency level of every block.
func WithLevelMeter() Option {
	return func(p *Pipeline) {
		p.meterLevels = true
	}
}

// Pipeline turns audio blocks into detection events: digitize, keep a
// rolling history, detect, and beamform on detection.
//
// A Pipeline is owned by a single goroutine; only SetCallback may be called
// concurrently.
type Pipeline struct {
	config     Config
	digitizer  *dsp.Digitizer
	detector   *dsp.PingDetector
	beamformer *dsp.Beamformer
	history    *dsp.History
	level      *dsp.Goertzel

	metrics     *metrics.Metrics
	recorder    SampleRecorder
	meterLevels bool

	pending    []dsp.DetectionEvent // awaiting trailing snapshots
	afterGap   bool                 // the latest history sample precedes a gap
	sampleStep float64
	levels     []float64

	callbackPtr atomic.Pointer[DetectionCallback]
}

// New creates a pipeline with the given configuration.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	digitizer, err := dsp.NewDigitizer(cfg.Digitizer)
	if err != nil {
		return nil, fmt.Errorf("digitizer: %w", err)
	}
	detector, err := dsp.NewPingDetector(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	if cfg.Detector.ReferenceChannel >= cfg.Digitizer.NumChannels {
		return nil, fmt.Errorf("detector: %w", dsp.ErrInvalidReferenceChannel)
	}
	if len(cfg.Beamformer.Positions) != cfg.Digitizer.NumChannels {
		return nil, fmt.Errorf("beamformer: %w: %d positions for %d channels",
			dsp.ErrInvalidPositions, len(cfg.Beamformer.Positions), cfg.Digitizer.NumChannels)
	}
	beamformer, err := dsp.NewBeamformer(cfg.Beamformer)
	if err != nil {
		return nil, fmt.Errorf("beamformer: %w", err)
	}
	level, err := dsp.NewGoertzel(dsp.GoertzelConfig{
		TargetFrequency: cfg.Digitizer.Spec.CenterFreq,
		SampleRate:      cfg.Digitizer.Spec.SampleRate,
		BlockSize:       cfg.Digitizer.BlockSize,
	})
	if err != nil {
		return nil, fmt.Errorf("level meter: %w", err)
	}

	historySize := cfg.HistorySize
	if historySize == 0 {
		historySize = 2*digitizer.MaxSamplesPerBlock() + cfg.Beamformer.NumSnapshots + 1
	}
	if historySize < cfg.Beamformer.NumSnapshots+1 {
		return nil, ErrHistoryTooSmall
	}
	cfg.HistorySize = historySize

	p := &Pipeline{
		config:     cfg,
		digitizer:  digitizer,
		detector:   detector,
		beamformer: beamformer,
		history:    dsp.NewHistory(historySize),
		level:      level,
		metrics:    metrics.Noop(),
		sampleStep: float64(digitizer.Step()) / cfg.Digitizer.Spec.SampleRate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetCallback sets the callback for detection events.
func (p *Pipeline) SetCallback(cb DetectionCallback) {
	if cb == nil {
		p.callbackPtr.Store(nil)
	} else {
		p.callbackPtr.Store(&cb)
	}
}

// Process digitizes one block and returns the detections it completed.
// A malformed block is rejected with dsp.ErrShapeMismatch and leaves all
// state untouched.
func (p *Pipeline) Process(block dsp.AudioBlock) ([]dsp.DetectionEvent, error) {
	samples, err := p.digitizer.Process(block)
	if err != nil {
		p.metrics.BlockRejected()
		return nil, err
	}

	if p.meterLevels {
		p.levels = p.level.Levels(block)
		p.metrics.ToneLevels(p.levels)
		if glog.V(2) {
			glog.Infof("tone levels %.4g", p.levels)
		}
	}

	return p.ProcessSamples(samples), nil
}

// ProcessSamples runs detection and beamforming on already digitized
// samples, which must continue the stream seen so far.
func (p *Pipeline) ProcessSamples(samples []dsp.Sample) []dsp.DetectionEvent {
	if p.recorder != nil && len(samples) > 0 {
		if err := p.recorder.Record(samples); err != nil {
			glog.Warningf("unable to record %d samples: %v", len(samples), err)
		}
	}

	lookback, hasLookback := p.history.Latest()
	if p.afterGap {
		hasLookback = false
		p.afterGap = len(samples) == 0
	}
	start := p.history.Next()
	p.history.Append(samples...)

	events := p.resolvePending()

	window := samples
	if hasLookback {
		window = make([]dsp.Sample, 0, len(samples)+1)
		window = append(window, lookback)
		window = append(window, samples...)
		start--
	}
	if len(window) == 0 {
		return p.emit(events)
	}

	ev, ok := p.detector.ProcessSampleWindow(window, p.SampleTime(window[0].Position), p.sampleStep)
	if !ok {
		return p.emit(events)
	}
	ev.SnapshotStart += start

	if p.attachBearing(&ev) {
		events = append(events, ev)
	} else {
		p.pending = append(p.pending, ev)
	}
	return p.emit(events)
}

// attachBearing beamforms ev from history. It reports false when the event
// has been deferred until more samples arrive.
func (p *Pipeline) attachBearing(ev *dsp.DetectionEvent) bool {
	snapshots, err := p.history.Window(ev.SnapshotStart, p.config.Beamformer.NumSnapshots)
	switch {
	case err == nil:
		ev.Bearing = p.beamformer.Beamform(dsp.Snapshots(snapshots))
		return true
	case errors.Is(err, dsp.ErrInsufficientHistory) && p.config.DeferBearing && ev.SnapshotStart >= p.history.First():
		return false
	default:
		glog.V(1).Infof("detection at %.6fs emitted without bearing: %v", ev.ArrivalTime, err)
		ev.Bearing = dsp.Unset
		return true
	}
}

func (p *Pipeline) resolvePending() []dsp.DetectionEvent {
	if len(p.pending) == 0 {
		return nil
	}
	var ready []dsp.DetectionEvent
	kept := p.pending[:0]
	for _, ev := range p.pending {
		if p.attachBearing(&ev) {
			ready = append(ready, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	p.pending = kept
	return ready
}

// Skip tells the pipeline that n blocks were lost upstream. Later arrival
// times still count the lost audio, the detector does not interpolate
// across the gap and deferred detections are emitted without a bearing
// because their trailing snapshots are gone.
func (p *Pipeline) Skip(n int) []dsp.DetectionEvent {
	if n <= 0 {
		return nil
	}
	p.digitizer.Skip(n)
	p.afterGap = p.history.Len() > 0
	return p.Flush()
}

// Flush emits every deferred detection without a bearing.
func (p *Pipeline) Flush() []dsp.DetectionEvent {
	events := make([]dsp.DetectionEvent, 0, len(p.pending))
	for _, ev := range p.pending {
		ev.Bearing = dsp.Unset
		events = append(events, ev)
	}
	p.pending = p.pending[:0]
	return p.emit(events)
}

func (p *Pipeline) emit(events []dsp.DetectionEvent) []dsp.DetectionEvent {
	if len(events) == 0 {
		return nil
	}
	cb := p.callbackPtr.Load()
	for _, ev := range events {
		p.metrics.Detection(ev.Bearing.Valid)
		if glog.V(1) {
			glog.Infof("ping at %.6fs bearing %v magnitude %.4g", ev.ArrivalTime, ev.Bearing, ev.Magnitude)
		}
		if cb != nil {
			(*cb)(ev)
		}
	}
	return events
}

// SampleTime returns the time in seconds of the window starting at position.
func (p *Pipeline) SampleTime(position int64) float64 {
	return p.config.TimeBase + p.digitizer.SampleTime(position)
}

// Step returns the number of raw samples between digitized samples.
func (p *Pipeline) Step() int {
	return p.digitizer.Step()
}

// Levels returns the tone levels of the last block, when metering is enabled.
func (p *Pipeline) Levels() []float64 {
	return p.levels
}

// Pending returns the number of detections waiting for trailing snapshots.
func (p *Pipeline) Pending() int {
	return len(p.pending)
}

// Reset clears all stream state. The callback is kept.
func (p *Pipeline) Reset() {
	p.digitizer.Reset()
	p.detector.Reset()
	p.history.Reset()
	p.pending = p.pending[:0]
	p.afterGap = false
	p.levels = nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.config
}
