// internal/dsp/detector.go
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

var (
	// ErrInvalidThreshold indicates threshold must be positive
	ErrInvalidThreshold = fmt.Errorf("%w: detection threshold must be positive", ErrConfiguration)
	// ErrInvalidDeadTime indicates dead time must be non-negative
	ErrInvalidDeadTime = fmt.Errorf("%w: dead time must be non-negative", ErrConfiguration)
	// ErrInvalidReferenceChannel indicates the reference channel index is out of range
	ErrInvalidReferenceChannel = fmt.Errorf("%w: reference channel out of range", ErrConfiguration)
)

// Bearing is an optional angle of arrival in radians, measured clockwise
// from array broadside. The zero value is Unset.
type Bearing struct {
	Radians float64
	Valid   bool
}

// Unset is the bearing of an event whose snapshots were not available.
var Unset = Bearing{}

// BearingOf returns a valid bearing of r radians.
func BearingOf(r float64) Bearing {
	return Bearing{Radians: r, Valid: true}
}

// Degrees returns the bearing in degrees, or NaN when unset.
func (b Bearing) Degrees() float64 {
	if !b.Valid {
		return math.NaN()
	}
	return b.Radians * 180 / math.Pi
}

func (b Bearing) String() string {
	if !b.Valid {
		return "unset"
	}
	return fmt.Sprintf("%.1f°", b.Degrees())
}

// DetectionEvent is a single ping detection.
type DetectionEvent struct {
	// ArrivalTime is the interpolated threshold crossing time in seconds
	ArrivalTime float64
	// Bearing is filled in by the beamformer, Unset otherwise
	Bearing Bearing
	// SnapshotStart is the index of the first sample at or above threshold.
	// The detector reports it relative to the window it was given; the
	// pipeline rebases it to the absolute sample sequence number.
	SnapshotStart int64
	// Magnitude is the reference channel magnitude at SnapshotStart
	Magnitude float64
}

// DetectorConfig holds configuration for the ping detector.
type DetectorConfig struct {
	// Threshold is the magnitude that marks a ping, in input amplitude units (from config: detection_threshold)
	Threshold float64
	// DeadTime is the minimum spacing between detections in seconds (from config: dead_time_seconds)
	DeadTime float64
	// ReferenceChannel is the channel whose magnitude is thresholded (from config: reference_channel)
	ReferenceChannel int
}

// Validate checks the detector configuration.
func (c DetectorConfig) Validate() error {
	if !(c.Threshold > 0) || math.IsInf(c.Threshold, 1) {
		return ErrInvalidThreshold
	}
	if !(c.DeadTime >= 0) {
		return ErrInvalidDeadTime
	}
	if c.ReferenceChannel < 0 {
		return ErrInvalidReferenceChannel
	}
	return nil
}

// PingDetector finds the first threshold crossing in a window of samples,
// refines its time by linear interpolation and suppresses detections that
// follow the previous one by less than the dead time.
type PingDetector struct {
	config      DetectorConfig
	lastArrival float64
	hasLast     bool
}

// NewPingDetector creates a detector with the given configuration.
func NewPingDetector(cfg DetectorConfig) (*PingDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PingDetector{config: cfg}, nil
}

// ProcessSampleWindow scans samples for the first reference channel
// magnitude at or above threshold. windowStartTime is the time of samples[0]
// and sampleStep the time between consecutive samples.
func (d *PingDetector) ProcessSampleWindow(samples []Sample, windowStartTime, sampleStep float64) (DetectionEvent, bool) {
	ref := d.config.ReferenceChannel

	idx := -1
	var mag float64
	for i, s := range samples {
		if ref >= len(s.Values) {
			continue
		}
		if m := cmplx.Abs(s.Values[ref]); m >= d.config.Threshold {
			idx, mag = i, m
			break
		}
	}
	if idx < 0 {
		return DetectionEvent{}, false
	}

	arrival := windowStartTime
	if idx > 0 {
		prev := magnitudeAt(samples[idx-1], ref)
		frac := 0.0
		if mag != prev {
			frac = (d.config.Threshold - prev) / (mag - prev)
		}
		arrival = windowStartTime + (float64(idx-1)+frac)*sampleStep
	}

	if d.hasLast && arrival-d.lastArrival < d.config.DeadTime {
		return DetectionEvent{}, false
	}
	d.lastArrival = arrival
	d.hasLast = true

	return DetectionEvent{
		ArrivalTime:   arrival,
		Bearing:       Unset,
		SnapshotStart: int64(idx),
		Magnitude:     mag,
	}, true
}

func magnitudeAt(s Sample, ch int) float64 {
	if ch >= len(s.Values) {
		return 0
	}
	return cmplx.Abs(s.Values[ch])
}

// LastArrival returns the arrival time of the most recent accepted detection.
func (d *PingDetector) LastArrival() (float64, bool) {
	return d.lastArrival, d.hasLast
}

// Reset forgets the previous detection
func (d *PingDetector) Reset() {
	d.lastArrival = 0
	d.hasLast = false
}

// Config returns the current configuration
func (d *PingDetector) Config() DetectorConfig {
	return d.config
}
