// internal/dsp/beamformer.go
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidPositions indicates at least one channel position is required
	ErrInvalidPositions = fmt.Errorf("%w: at least one channel position is required", ErrConfiguration)
	// ErrInvalidSoundSpeed indicates sound speed must be positive
	ErrInvalidSoundSpeed = fmt.Errorf("%w: sound speed must be positive", ErrConfiguration)
	// ErrInvalidLookDirections indicates at least two look directions are required
	ErrInvalidLookDirections = fmt.Errorf("%w: at least two look directions are required", ErrConfiguration)
	// ErrInvalidSnapshots indicates at least one snapshot is required
	ErrInvalidSnapshots = fmt.Errorf("%w: at least one snapshot is required", ErrConfiguration)
)

// BeamformerConfig holds configuration for the Bartlett beamformer.
type BeamformerConfig struct {
	// Positions are the element positions along the array axis in metres,
	// increasing toward port (from config: channel_positions_m)
	Positions []float64
	// SoundSpeed in m/s (from config: sound_speed_m_s)
	SoundSpeed float64
	// CenterFreq in Hz (from config: center_freq_hz)
	CenterFreq float64
	// NumLookDirections is the size of the bearing grid (from config: num_look_directions)
	NumLookDirections int
	// NumSnapshots is the number of samples averaged into the covariance (from config: num_beamform_snapshots)
	NumSnapshots int
}

// Validate checks the beamformer configuration.
func (c BeamformerConfig) Validate() error {
	if len(c.Positions) == 0 {
		return ErrInvalidPositions
	}
	if !(c.SoundSpeed > 0) {
		return ErrInvalidSoundSpeed
	}
	if !(c.CenterFreq > 0) {
		return ErrInvalidFrequency
	}
	if c.NumLookDirections < 2 {
		return ErrInvalidLookDirections
	}
	if c.NumSnapshots < 1 {
		return ErrInvalidSnapshots
	}
	return nil
}

// SteeringTable holds a unit-magnitude steering vector per look direction.
type SteeringTable struct {
	// Directions are the look angles in radians, d*pi/N - pi/2
	Directions []float64
	// Vectors[d][ch] = exp(i * 2*pi*fc/c * sin(Directions[d]) * x_ch)
	Vectors [][]complex128
}

// NewSteeringTable builds the steering vectors for numLooks directions
// evenly covering [-pi/2, pi/2).
func NewSteeringTable(positions []float64, soundSpeed, centerFreq float64, numLooks int) SteeringTable {
	k := 2 * math.Pi * centerFreq / soundSpeed
	table := SteeringTable{
		Directions: make([]float64, numLooks),
		Vectors:    make([][]complex128, numLooks),
	}
	backing := make([]complex128, numLooks*len(positions))
	for d := range numLooks {
		theta := float64(d)*math.Pi/float64(numLooks) - math.Pi/2
		table.Directions[d] = theta
		v := backing[d*len(positions) : (d+1)*len(positions) : (d+1)*len(positions)]
		for ch, x := range positions {
			v[ch] = cmplx.Rect(1, k*math.Sin(theta)*x)
		}
		table.Vectors[d] = v
	}
	return table
}

// Beamformer estimates bearing from a short run of multichannel samples.
// It is immutable after construction and safe for concurrent use.
type Beamformer struct {
	config   BeamformerConfig
	steering SteeringTable
}

// NewBeamformer creates a beamformer with the given configuration.
func NewBeamformer(cfg BeamformerConfig) (*Beamformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	positions := append([]float64(nil), cfg.Positions...)
	cfg.Positions = positions
	return &Beamformer{
		config:   cfg,
		steering: NewSteeringTable(positions, cfg.SoundSpeed, cfg.CenterFreq, cfg.NumLookDirections),
	}, nil
}

// Snapshots returns the per-channel values of samples as snapshot rows.
func Snapshots(samples []Sample) [][]complex128 {
	rows := make([][]complex128, len(samples))
	for i, s := range samples {
		rows[i] = s.Values
	}
	return rows
}

// Covariance returns the C×C sample covariance, row-major, of the first
// NumSnapshots rows: K[i][j] = mean(conj(s_i) * s_j). It returns nil when
// there are too few rows or a row has the wrong width.
func (b *Beamformer) Covariance(snapshots [][]complex128) []complex128 {
	n := b.config.NumSnapshots
	c := len(b.config.Positions)
	if len(snapshots) < n {
		return nil
	}
	for _, row := range snapshots[:n] {
		if len(row) != c {
			return nil
		}
	}

	cov := make([]complex128, c*c)
	for _, row := range snapshots[:n] {
		for i := range c {
			si := cmplx.Conj(row[i])
			for j := range c {
				cov[i*c+j] += si * row[j]
			}
		}
	}
	scale := complex(1/float64(n), 0)
	for i := range cov {
		cov[i] *= scale
	}
	return cov
}

// Power returns the Bartlett output Re(v^H K v) for every look direction,
// or nil when the covariance cannot be formed.
func (b *Beamformer) Power(snapshots [][]complex128) []float64 {
	cov := b.Covariance(snapshots)
	if cov == nil {
		return nil
	}
	return b.power(cov)
}

func (b *Beamformer) power(cov []complex128) []float64 {
	c := len(b.config.Positions)
	power := make([]float64, len(b.steering.Vectors))
	for d, v := range b.steering.Vectors {
		var acc complex128
		for i := range c {
			var kv complex128
			for j := range c {
				kv += cov[i*c+j] * v[j]
			}
			acc += cmplx.Conj(v[i]) * kv
		}
		power[d] = real(acc)
	}
	return power
}

// Beamform returns the look direction with the largest Bartlett power.
// Too few snapshots, a zero-energy covariance or non-finite values give Unset.
func (b *Beamformer) Beamform(snapshots [][]complex128) Bearing {
	cov := b.Covariance(snapshots)
	if cov == nil {
		return Unset
	}

	c := len(b.config.Positions)
	var trace float64
	for i := range c {
		trace += real(cov[i*c+i])
	}
	if !(trace > 0) || math.IsInf(trace, 0) {
		return Unset
	}

	power := b.power(cov)
	for _, p := range power {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return Unset
		}
	}
	return BearingOf(b.steering.Directions[floats.MaxIdx(power)])
}

// LookDirections returns the bearing grid in radians.
func (b *Beamformer) LookDirections() []float64 {
	return b.steering.Directions
}

// Resolution is the spacing of the bearing grid in radians.
func (b *Beamformer) Resolution() float64 {
	return math.Pi / float64(b.config.NumLookDirections)
}

// Config returns the current configuration
func (b *Beamformer) Config() BeamformerConfig {
	return b.config
}
