// internal/dsp/goertzel.go
package dsp

import (
	"fmt"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = fmt.Errorf("%w: block size must be positive", ErrConfiguration)
	// ErrInsufficientSamples indicates not enough samples for the configured block size
	ErrInsufficientSamples = fmt.Errorf("insufficient samples for block size")
)

// GoertzelConfig holds configuration for the tone level meter.
type GoertzelConfig struct {
	// TargetFrequency is the frequency to measure in Hz (from config: center_freq_hz)
	TargetFrequency float64
	// SampleRate is the audio sample rate in Hz (from config: sample_rate_hz)
	SampleRate float64
	// BlockSize is the number of samples per measurement (from config: block_size_samples)
	BlockSize int
}

// Goertzel measures the level of a single frequency over a whole block.
// The pipeline uses it as a cheap per-channel level meter alongside the
// windowed digitizer; it plays no part in detection.
type Goertzel struct {
	config      GoertzelConfig
	coefficient float64 // 2 * cos(omega)
	normalizer  float64 // 2 / blockSize
}

// NewGoertzel creates a new level meter with the given configuration.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.TargetFrequency <= 0 || cfg.TargetFrequency >= cfg.SampleRate/2 {
		return nil, ErrInvalidFrequency
	}

	// The target need not sit on a bin centre; the power formula below holds
	// for any omega.
	omega := 2 * math.Pi * cfg.TargetFrequency / cfg.SampleRate

	return &Goertzel{
		config:      cfg,
		coefficient: 2 * math.Cos(omega),
		normalizer:  2 / float64(cfg.BlockSize),
	}, nil
}

// Magnitude computes the level of the target frequency in samples.
// A full-scale sine on a bin centre returns approximately 1.0.
func (g *Goertzel) Magnitude(samples []float32) (float64, error) {
	if len(samples) < g.config.BlockSize {
		return 0, ErrInsufficientSamples
	}
	return g.computeMagnitude(samples), nil
}

// Levels returns the target frequency level of every channel in block.
// Channels shorter than BlockSize report zero.
func (g *Goertzel) Levels(block AudioBlock) []float64 {
	levels := make([]float64, len(block))
	for ch, samples := range block {
		if len(samples) < g.config.BlockSize {
			continue
		}
		levels[ch] = g.computeMagnitude(samples)
	}
	return levels
}

func (g *Goertzel) computeMagnitude(samples []float32) float64 {
	var s0, s1, s2 float64
	coeff := g.coefficient

	for i := 0; i < g.config.BlockSize; i++ {
		s0 = float64(samples[i]) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	// power = s1² + s2² - coefficient * s1 * s2
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}

	return math.Sqrt(power) * g.normalizer
}

// Config returns the current configuration
func (g *Goertzel) Config() GoertzelConfig {
	return g.config
}

// Coefficient returns the pre-computed Goertzel coefficient
func (g *Goertzel) Coefficient() float64 {
	return g.coefficient
}
