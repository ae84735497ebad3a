// internal/sim/scenario.go
package sim

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidScenario is wrapped by every scenario validation error
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrUnknownEnvelope indicates an unsupported pulse envelope name
	ErrUnknownEnvelope = fmt.Errorf("%w: unknown pulse envelope", ErrInvalidScenario)
)

// Envelope shapes the amplitude of a pulse over its duration.
type Envelope int

const (
	// Rect switches the tone fully on for the pulse width
	Rect Envelope = iota
	// Hann tapers the pulse with a raised cosine
	Hann
)

// ParseEnvelope returns the named envelope.
func ParseEnvelope(name string) (Envelope, error) {
	switch strings.ToLower(name) {
	case "rect", "rectangular":
		return Rect, nil
	case "", "hann":
		return Hann, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEnvelope, name)
	}
}

func (e Envelope) String() string {
	switch e {
	case Rect:
		return "rect"
	case Hann:
		return "hann"
	default:
		return fmt.Sprintf("Envelope(%d)", int(e))
	}
}

// at returns the envelope gain at fraction u of the pulse, 0 <= u < 1.
func (e Envelope) at(u float64) float64 {
	if e == Hann {
		return 0.5 * (1 - math.Cos(2*math.Pi*u))
	}
	return 1
}

// Scenario describes a pinger and a line array. Bearings are clockwise
// from broadside with element positions increasing toward port; range and
// bearing are measured from the array centre.
type Scenario struct {
	// CenterFreq is the pinger frequency in Hz
	CenterFreq float64
	// SampleRate of the generated audio in Hz
	SampleRate float64
	// Positions of the elements along the array axis in metres
	Positions []float64
	// SoundSpeed in m/s
	SoundSpeed float64
	// Bearing of the source in radians
	Bearing float64
	// Range is the horizontal distance to the source in metres
	Range float64
	// PulseWidth in seconds
	PulseWidth float64
	// PingInterval is the time between emissions; 0 emits a single ping
	PingInterval float64
	// EmissionOffset is the time of the first emission in seconds
	EmissionOffset float64
	// Amplitude of the direct arrival at 1 m
	Amplitude float64
	// Envelope of each pulse
	Envelope Envelope
	// NoiseStdDev of additive Gaussian noise; 0 disables noise
	NoiseStdDev float64
	// Seed for the noise generator
	Seed uint64
	// SourceDepth and ReceiverDepth below the surface in metres
	SourceDepth   float64
	ReceiverDepth float64
	// WaterDepth enables surface and bottom reflections when positive
	WaterDepth float64
}

// Validate checks the scenario.
func (s Scenario) Validate() error {
	switch {
	case !(s.SampleRate > 0):
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidScenario)
	case !(s.CenterFreq > 0) || s.CenterFreq >= s.SampleRate/2:
		return fmt.Errorf("%w: frequency must be positive and below Nyquist", ErrInvalidScenario)
	case len(s.Positions) == 0:
		return fmt.Errorf("%w: at least one element is required", ErrInvalidScenario)
	case !(s.SoundSpeed > 0):
		return fmt.Errorf("%w: sound speed must be positive", ErrInvalidScenario)
	case !(s.Range >= 0):
		return fmt.Errorf("%w: range must be non-negative", ErrInvalidScenario)
	case !(s.PulseWidth > 0):
		return fmt.Errorf("%w: pulse width must be positive", ErrInvalidScenario)
	case s.PingInterval < 0 || (s.PingInterval > 0 && s.PingInterval < s.PulseWidth):
		return fmt.Errorf("%w: ping interval must be zero or at least the pulse width", ErrInvalidScenario)
	case s.NoiseStdDev < 0:
		return fmt.Errorf("%w: noise standard deviation must be non-negative", ErrInvalidScenario)
	case s.WaterDepth < 0:
		return fmt.Errorf("%w: water depth must be non-negative", ErrInvalidScenario)
	case s.WaterDepth > 0 && (s.SourceDepth > s.WaterDepth || s.ReceiverDepth > s.WaterDepth):
		return fmt.Errorf("%w: source and receiver must be above the bottom", ErrInvalidScenario)
	}
	return nil
}

// Path is one propagation path from the source to an element.
type Path struct {
	// Length in metres
	Length float64
	// Delay in seconds
	Delay float64
	// Gain is the signed amplitude factor, Amplitude/Length for the direct path
	Gain float64
}

// arrayCentre is the mean element position.
func (s Scenario) arrayCentre() float64 {
	var sum float64
	for _, x := range s.Positions {
		sum += x
	}
	return sum / float64(len(s.Positions))
}

// pathLength is the distance from the source at depth sourceDepth to element ch.
func (s Scenario) pathLength(ch int, sourceDepth float64) float64 {
	forward := s.Range * math.Cos(s.Bearing)
	port := -s.Range*math.Sin(s.Bearing) - (s.Positions[ch] - s.arrayCentre())
	vertical := sourceDepth - s.ReceiverDepth
	return math.Sqrt(forward*forward + port*port + vertical*vertical)
}

// DirectPath returns the straight line path from the source to element ch.
func (s Scenario) DirectPath(ch int) Path {
	length := s.pathLength(ch, s.SourceDepth)
	return Path{Length: length, Delay: length / s.SoundSpeed, Gain: s.Amplitude / math.Max(length, 1e-3)}
}

// Paths returns every propagation path to element ch: the direct path and,
// when a water depth is set, the surface and bottom reflections. Each
// reflection inverts the sign of the arrival.
func (s Scenario) Paths(ch int) []Path {
	paths := []Path{s.DirectPath(ch)}
	if s.WaterDepth <= 0 {
		return paths
	}
	for _, imageDepth := range []float64{-s.SourceDepth, 2*s.WaterDepth - s.SourceDepth} {
		length := s.pathLength(ch, imageDepth)
		paths = append(paths, Path{Length: length, Delay: length / s.SoundSpeed, Gain: -s.Amplitude / math.Max(length, 1e-3)})
	}
	return paths
}

// ArrivalTime returns when the direct path of ping k reaches element ch.
func (s Scenario) ArrivalTime(ch, k int) float64 {
	return s.EmissionOffset + float64(k)*s.PingInterval + s.DirectPath(ch).Delay
}
