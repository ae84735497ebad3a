// internal/dsp/window_test.go
package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSpec mirrors the default configuration: 2 ms windows at 96 kHz.
var testSpec = WindowSpec{
	CenterFreq: 30000,
	SampleRate: 96000,
	Width:      192,
	Overlap:    0.598,
}

func TestWindowByName(t *testing.T) {
	tests := []struct {
		name    string
		want    CosineSum
		wantErr bool
	}{
		{"", Nuttall3b, false},
		{"nuttall3b", Nuttall3b, false},
		{"Nuttall4C", Nuttall4c, false},
		{"hann", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WindowByName(tt.name)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownWindow)
				require.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCosineSum_Sample(t *testing.T) {
	for _, fn := range []CosineSum{Nuttall3b, Nuttall4c} {
		w := fn.Sample(192)
		require.Len(t, w, 192)

		for n := range w {
			assert.InDelta(t, w[n], w[len(w)-1-n], 1e-12, "window not symmetric at %d", n)
		}

		var edge float64
		for k, a := range fn {
			edge += a * math.Cos(float64(k)*math.Pi)
		}
		assert.InDelta(t, edge, w[0], 1e-12)
		assert.Less(t, w[0], w[96])
	}
}

func TestWindowSpec_Step(t *testing.T) {
	tests := []struct {
		name string
		spec WindowSpec
		want int
	}{
		{"default", testSpec, 77},
		{"no overlap", WindowSpec{Width: 192, Overlap: 0}, 192},
		{"half overlap", WindowSpec{Width: 10, Overlap: 0.5}, 5},
		{"dense", WindowSpec{Width: 192, Overlap: 0.95}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Step())
		})
	}
}

func TestWindowSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WindowSpec)
		wantErr error
	}{
		{"valid", func(*WindowSpec) {}, nil},
		{"odd width", func(s *WindowSpec) { s.Width = 191 }, ErrInvalidWindowWidth},
		{"zero width", func(s *WindowSpec) { s.Width = 0 }, ErrInvalidWindowWidth},
		{"negative overlap", func(s *WindowSpec) { s.Overlap = -0.1 }, ErrInvalidOverlap},
		{"full overlap", func(s *WindowSpec) { s.Overlap = 1 }, ErrInvalidOverlap},
		{"overlap leaves no step", func(s *WindowSpec) { s.Width = 2; s.Overlap = 0.9 }, ErrInvalidStep},
		{"zero sample rate", func(s *WindowSpec) { s.SampleRate = 0 }, ErrInvalidSampleRate},
		{"frequency at nyquist", func(s *WindowSpec) { s.CenterFreq = 48000 }, ErrInvalidFrequency},
		{"zero frequency", func(s *WindowSpec) { s.CenterFreq = 0 }, ErrInvalidFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestNewWindowCoefficients(t *testing.T) {
	coeffs, err := NewWindowCoefficients(testSpec, nil)
	require.NoError(t, err)
	require.Len(t, coeffs.Twiddle, testSpec.Width)

	var sum float64
	for _, w := range coeffs.Window {
		sum += w
	}
	assert.InDelta(t, 2/sum, coeffs.Gain, 1e-15)

	for n, tw := range coeffs.Twiddle {
		assert.InDelta(t, coeffs.Window[n]*coeffs.Gain, cmplx.Abs(tw), 1e-12)
	}

	t.Run("full window tone has its amplitude", func(t *testing.T) {
		const amplitude = 0.3
		var acc complex128
		for n, tw := range coeffs.Twiddle {
			x := amplitude * math.Cos(2*math.Pi*testSpec.CenterFreq/testSpec.SampleRate*float64(n)+0.7)
			acc += tw * complex(x, 0)
		}
		assert.InDelta(t, amplitude, cmplx.Abs(acc), 1e-3)
	})

	t.Run("invalid spec", func(t *testing.T) {
		spec := testSpec
		spec.Width = 3
		_, err := NewWindowCoefficients(spec, nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
