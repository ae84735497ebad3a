// internal/audio/framer.go
package audio

import (
	"encoding/binary"
	"math"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

// Framer regroups interleaved frames of arbitrary length into fixed size
// deinterleaved blocks.
type Framer struct {
	channels  int
	blockSize int
	block     dsp.AudioBlock
	fill      int
}

// NewFramer creates a framer for the given channel count and block size.
func NewFramer(channels, blockSize int) *Framer {
	return &Framer{
		channels:  channels,
		blockSize: blockSize,
		block:     dsp.NewAudioBlock(channels, blockSize),
	}
}

// Write consumes interleaved samples and calls emit for every completed
// block. Emitted blocks are owned by the receiver. A trailing partial frame
// is discarded.
func (f *Framer) Write(interleaved []float32, emit func(dsp.AudioBlock)) {
	frames := len(interleaved) / f.channels
	for i := range frames {
		frame := interleaved[i*f.channels : (i+1)*f.channels]
		for ch, v := range frame {
			f.block[ch][f.fill] = v
		}
		f.fill++
		if f.fill == f.blockSize {
			emit(f.block)
			f.block = dsp.NewAudioBlock(f.channels, f.blockSize)
			f.fill = 0
		}
	}
}

// Buffered returns the number of frames waiting for a full block.
func (f *Framer) Buffered() int {
	return f.fill
}

// bytesToFloat32 converts raw little-endian float32 bytes to samples
func bytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}
