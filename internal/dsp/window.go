// internal/dsp/window.go
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrConfiguration is wrapped by every construction-time validation error in this package
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvalidWindowWidth indicates the window width must be even and at least 2
	ErrInvalidWindowWidth = fmt.Errorf("%w: window width must be even and at least 2", ErrConfiguration)
	// ErrInvalidOverlap indicates the overlap fraction must be in [0, 1)
	ErrInvalidOverlap = fmt.Errorf("%w: overlap fraction must be in [0, 1)", ErrConfiguration)
	// ErrInvalidStep indicates the overlap leaves no room to advance the window
	ErrInvalidStep = fmt.Errorf("%w: window step must be positive", ErrConfiguration)
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = fmt.Errorf("%w: sample rate must be positive", ErrConfiguration)
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = fmt.Errorf("%w: center frequency must be positive and less than Nyquist frequency", ErrConfiguration)
	// ErrUnknownWindow indicates an unsupported window function name
	ErrUnknownWindow = fmt.Errorf("%w: unknown window function", ErrConfiguration)
)

// CosineSum holds the coefficients a_k of a cosine-sum window
// w(x) = sum_k a_k cos(k x), sampled over x in [-pi, pi].
type CosineSum []float64

// Window coefficients from Heinzel et al., "Spectrum and spectral density
// estimation by the Discrete Fourier transform (DFT)".
var (
	// Nuttall3b is the 3-term Nuttall window, optimal overlap 59.8%
	Nuttall3b = CosineSum{0.4243801, 0.4973406, 0.0782793}
	// Nuttall4c is the 4-term Nuttall window, optimal overlap 65.6%
	Nuttall4c = CosineSum{0.3635819, 0.4891775, 0.1365995, 0.0106411}
)

// WindowByName returns the named cosine-sum window.
func WindowByName(name string) (CosineSum, error) {
	switch strings.ToLower(name) {
	case "", "nuttall3b":
		return Nuttall3b, nil
	case "nuttall4c":
		return Nuttall4c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWindow, name)
	}
}

// Sample evaluates the window at width evenly spaced points from -pi to pi
// inclusive. The result is symmetric about (width-1)/2.
func (c CosineSum) Sample(width int) []float64 {
	w := make([]float64, width)
	if width < 2 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	x := make([]float64, width)
	floats.Span(x, -math.Pi, math.Pi)
	for n, xn := range x {
		for k, a := range c {
			w[n] += a * math.Cos(float64(k)*xn)
		}
	}
	return w
}

// WindowSpec describes the sliding analysis window.
type WindowSpec struct {
	// CenterFreq is the frequency of interest in Hz (from config: center_freq_hz)
	CenterFreq float64
	// SampleRate is the raw audio sample rate in Hz (from config: sample_rate_hz)
	SampleRate float64
	// Width is the window length in samples, must be even (from config: window_width_samples)
	Width int
	// Overlap is the fraction of a window shared with the next one (from config: window_overlap_fraction)
	Overlap float64
}

// Step returns the number of samples between consecutive window starts.
func (s WindowSpec) Step() int {
	return s.Width - int(math.Ceil(float64(s.Width)*s.Overlap))
}

// Validate checks the window geometry and frequency plan.
func (s WindowSpec) Validate() error {
	if s.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if s.CenterFreq <= 0 || s.CenterFreq >= s.SampleRate/2 {
		return ErrInvalidFrequency
	}
	if s.Width < 2 || s.Width%2 != 0 {
		return ErrInvalidWindowWidth
	}
	if s.Overlap < 0 || s.Overlap >= 1 || math.IsNaN(s.Overlap) {
		return ErrInvalidOverlap
	}
	if s.Step() <= 0 {
		return ErrInvalidStep
	}
	return nil
}

// WindowCoefficients is the precomputed window and twiddle vector for one
// frequency of interest. It is never mutated after construction.
type WindowCoefficients struct {
	// Window is the raw cosine-sum window
	Window []float64
	// Twiddle is exp(-i*2*pi*fc/fs*n) * Window[n] * Gain. Because of Gain,
	// sample magnitudes and detection thresholds are in input amplitude units.
	Twiddle []complex128
	// Gain is 2/sum(Window): a full-window sinusoid of amplitude A at the
	// center frequency produces a sample of magnitude A.
	Gain float64
}

// NewWindowCoefficients builds the window and twiddle vector for spec.
func NewWindowCoefficients(spec WindowSpec, fn CosineSum) (*WindowCoefficients, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(fn) == 0 {
		fn = Nuttall3b
	}

	window := fn.Sample(spec.Width)
	sum := floats.Sum(window)
	if sum <= 0 {
		return nil, fmt.Errorf("%w: window has non-positive sum", ErrConfiguration)
	}
	gain := 2 / sum

	omega := 2 * math.Pi * spec.CenterFreq / spec.SampleRate
	twiddle := make([]complex128, spec.Width)
	for n, w := range window {
		twiddle[n] = cmplx.Rect(w*gain, -omega*float64(n))
	}

	return &WindowCoefficients{
		Window:  window,
		Twiddle: twiddle,
		Gain:    gain,
	}, nil
}
