// internal/sim/generator.go
package sim

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

// Generator renders a Scenario into consecutive audio blocks. It is owned by
// a single goroutine.
type Generator struct {
	scenario Scenario
	paths    [][]Path
	noise    *distuv.Normal
	position int64
}

// NewGenerator validates s and prepares a generator starting at sample zero.
func NewGenerator(s Scenario) (*Generator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Positions = append([]float64(nil), s.Positions...)

	paths := make([][]Path, len(s.Positions))
	for ch := range paths {
		paths[ch] = s.Paths(ch)
	}

	g := &Generator{scenario: s, paths: paths}
	if s.NoiseStdDev > 0 {
		g.noise = &distuv.Normal{
			Mu:    0,
			Sigma: s.NoiseStdDev,
			Src:   rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15),
		}
	}
	return g, nil
}

// Next renders the next blockSize samples of every channel.
func (g *Generator) Next(blockSize int) dsp.AudioBlock {
	s := g.scenario
	block := dsp.NewAudioBlock(len(s.Positions), blockSize)
	omega := 2 * math.Pi * s.CenterFreq

	for ch, out := range block {
		for i := range out {
			t := float64(g.position+int64(i)) / s.SampleRate
			var v float64
			for _, p := range g.paths[ch] {
				v += p.Gain * g.pulseTrain(t-p.Delay, omega)
			}
			out[i] = float32(v)
		}
	}
	if g.noise != nil {
		for _, out := range block {
			for i := range out {
				out[i] += float32(g.noise.Rand())
			}
		}
	}

	g.position += int64(blockSize)
	return block
}

// pulseTrain is the unit source signal at emission-relative time t.
func (g *Generator) pulseTrain(t, omega float64) float64 {
	s := g.scenario
	t -= s.EmissionOffset
	if t < 0 {
		return 0
	}

	k := 0.0
	if s.PingInterval > 0 {
		k = math.Floor(t / s.PingInterval)
	}
	local := t - k*s.PingInterval
	if local >= s.PulseWidth {
		return 0
	}
	return s.Envelope.at(local/s.PulseWidth) * math.Sin(omega*local)
}

// Position returns the index of the next sample to be generated.
func (g *Generator) Position() int64 {
	return g.position
}

// Scenario returns the scenario being rendered.
func (g *Generator) Scenario() Scenario {
	return g.scenario
}
