// internal/dsp/digitizer.go
package dsp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChannels indicates at least one channel is required
	ErrInvalidChannels = fmt.Errorf("%w: at least one channel is required", ErrConfiguration)
	// ErrWindowTooWide indicates the window does not fit inside one block
	ErrWindowTooWide = fmt.Errorf("%w: window width must be smaller than the block size", ErrConfiguration)
	// ErrShapeMismatch indicates an audio block with the wrong channel count or length
	ErrShapeMismatch = errors.New("audio block shape mismatch")
)

// AudioBlock is one block of raw audio indexed [channel][sample], values
// normalized to [-1, 1].
type AudioBlock [][]float32

// NewAudioBlock allocates a zeroed block.
func NewAudioBlock(channels, size int) AudioBlock {
	backing := make([]float32, channels*size)
	block := make(AudioBlock, channels)
	for ch := range block {
		block[ch] = backing[ch*size : (ch+1)*size : (ch+1)*size]
	}
	return block
}

// Sample is the complex amplitude of every channel at one window position.
type Sample struct {
	// Position is the absolute index of the first raw sample in the window
	Position int64
	// Values holds one complex amplitude per channel
	Values []complex128
}

// DigitizerConfig holds configuration for the narrowband digitizer.
type DigitizerConfig struct {
	Spec WindowSpec
	// Window is the cosine-sum window, Nuttall3b when nil (from config: window_function)
	Window CosineSum
	// NumChannels is the number of hydrophone channels (from config: num_channels)
	NumChannels int
	// BlockSize is the number of samples per channel per block (from config: block_size_samples)
	BlockSize int
}

// Validate checks the digitizer configuration.
func (c DigitizerConfig) Validate() error {
	if err := c.Spec.Validate(); err != nil {
		return err
	}
	if c.NumChannels < 1 {
		return ErrInvalidChannels
	}
	if c.BlockSize < 1 {
		return ErrInvalidBlockSize
	}
	if c.Spec.Width >= c.BlockSize {
		return ErrWindowTooWide
	}
	return nil
}

// blockPlan is the precomputed window layout for a block that starts with
// oldTailSize carried samples still awaiting evaluation.
type blockPlan struct {
	oldTailSize int   // samples carried over from the previous block
	newTailSize int   // samples taken from the head of this block to complete tail windows
	tailOffsets []int // window starts relative to the carried tail
	mainOffsets []int // window starts relative to the block
	next        int   // plan index for the following block
}

// Digitizer turns raw audio blocks into a continuous stream of complex
// amplitude samples at one frequency. Windows start every Step() samples on
// a grid anchored at the first sample of the stream; windows that straddle a
// block boundary are completed from the carried tail on the next call.
//
// A Digitizer is owned by a single goroutine.
type Digitizer struct {
	config DigitizerConfig
	coeffs *WindowCoefficients
	step   int

	plans []blockPlan
	plan  int

	tail     [][]float32 // per channel, capacity Width
	scratch  []float32   // tail windows are evaluated on tail ++ block head
	consumed int64       // absolute index of the next block's first sample
	gap      bool        // blocks were skipped, so the tail is not adjacent
}

// NewDigitizer creates a digitizer with the given configuration.
func NewDigitizer(cfg DigitizerConfig) (*Digitizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	coeffs, err := NewWindowCoefficients(cfg.Spec, cfg.Window)
	if err != nil {
		return nil, err
	}

	step := cfg.Spec.Step()
	tail := make([][]float32, cfg.NumChannels)
	for ch := range tail {
		tail[ch] = make([]float32, 0, cfg.Spec.Width)
	}

	return &Digitizer{
		config:  cfg,
		coeffs:  coeffs,
		step:    step,
		plans:   buildPlans(cfg.BlockSize, cfg.Spec.Width, step),
		tail:    tail,
		scratch: make([]float32, 2*cfg.Spec.Width),
	}, nil
}

// buildPlans lays out window offsets for every tail length reachable from
// an empty tail. When the block size is a multiple of the step there is one
// plan; otherwise the grid phase drifts and the plans form a short cycle.
func buildPlans(blockSize, width, step int) []blockPlan {
	var plans []blockPlan
	var nextTail []int
	index := make(map[int]int)

	for old := 0; ; {
		if _, seen := index[old]; seen {
			break
		}
		index[old] = len(plans)

		p := blockPlan{oldTailSize: old}
		r := 0
		for ; r < old; r += step {
			p.tailOffsets = append(p.tailOffsets, r)
		}
		if n := len(p.tailOffsets); n > 0 {
			p.newTailSize = p.tailOffsets[n-1] + width - old
		}

		off := r - old
		for ; off+width <= blockSize; off += step {
			p.mainOffsets = append(p.mainOffsets, off)
		}

		plans = append(plans, p)
		old = blockSize - off
		nextTail = append(nextTail, old)
	}

	for i := range plans {
		plans[i].next = index[nextTail[i]]
	}
	return plans
}

// Process digitizes one block and returns the samples for every window that
// completed inside it, in position order.
func (d *Digitizer) Process(block AudioBlock) ([]Sample, error) {
	if err := d.checkShape(block); err != nil {
		return nil, err
	}

	p := &d.plans[d.plan]
	numChannels := d.config.NumChannels
	width := d.config.Spec.Width

	tailOffsets := p.tailOffsets
	if d.gap {
		tailOffsets = nil
	}
	count := len(tailOffsets) + len(p.mainOffsets)

	out := make([]Sample, count)
	values := make([]complex128, count*numChannels)
	for i := range out {
		out[i].Values = values[i*numChannels : (i+1)*numChannels : (i+1)*numChannels]
	}

	tailStart := d.consumed - int64(p.oldTailSize)
	for i, off := range tailOffsets {
		out[i].Position = tailStart + int64(off)
	}
	base := len(tailOffsets)
	for i, off := range p.mainOffsets {
		out[base+i].Position = d.consumed + int64(off)
	}

	for ch, samples := range block {
		if base > 0 {
			joined := d.scratch[:p.oldTailSize+p.newTailSize]
			copy(joined, d.tail[ch])
			copy(joined[p.oldTailSize:], samples[:p.newTailSize])
			for i, off := range tailOffsets {
				out[i].Values[ch] = d.evaluate(joined[off : off+width])
			}
		}
		for i, off := range p.mainOffsets {
			out[base+i].Values[ch] = d.evaluate(samples[off : off+width])
		}
	}

	next := d.plans[p.next].oldTailSize
	for ch, samples := range block {
		d.tail[ch] = append(d.tail[ch][:0], samples[len(samples)-next:]...)
	}
	d.plan = p.next
	d.consumed += int64(d.config.BlockSize)
	d.gap = false

	return out, nil
}

// Skip accounts for n blocks that were lost before reaching the digitizer.
// Positions keep counting the lost audio and the window grid keeps its
// phase. The carried tail is discarded, so the windows that would have
// straddled the gap are never produced.
func (d *Digitizer) Skip(n int) {
	if n <= 0 {
		return
	}
	for range n {
		d.plan = d.plans[d.plan].next
	}
	for ch := range d.tail {
		d.tail[ch] = d.tail[ch][:0]
	}
	d.consumed += int64(n) * int64(d.config.BlockSize)
	d.gap = true
}

// evaluate is the windowed single-bin DFT of one window of raw samples.
func (d *Digitizer) evaluate(x []float32) complex128 {
	var re, im float64
	for n, t := range d.coeffs.Twiddle {
		v := float64(x[n])
		re += real(t) * v
		im += imag(t) * v
	}
	return complex(re, im)
}

func (d *Digitizer) checkShape(block AudioBlock) error {
	if len(block) != d.config.NumChannels {
		return fmt.Errorf("%w: got %d channels, want %d", ErrShapeMismatch, len(block), d.config.NumChannels)
	}
	for ch, samples := range block {
		if len(samples) != d.config.BlockSize {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrShapeMismatch, ch, len(samples), d.config.BlockSize)
		}
	}
	return nil
}

// Reset clears the tail and restarts the stream at position zero.
func (d *Digitizer) Reset() {
	for ch := range d.tail {
		d.tail[ch] = d.tail[ch][:0]
	}
	d.plan = 0
	d.consumed = 0
	d.gap = false
}

// Step returns the number of raw samples between consecutive windows.
func (d *Digitizer) Step() int {
	return d.step
}

// SampleTime returns the time in seconds of the centre of the window
// starting at position.
func (d *Digitizer) SampleTime(position int64) float64 {
	spec := d.config.Spec
	return (float64(position) + float64(spec.Width-1)/2) / spec.SampleRate
}

// MaxSamplesPerBlock is the largest number of samples one Process call returns.
func (d *Digitizer) MaxSamplesPerBlock() int {
	n := 0
	for _, p := range d.plans {
		n = max(n, len(p.tailOffsets)+len(p.mainOffsets))
	}
	return n
}

// Coefficients returns the window and twiddle vector in use.
func (d *Digitizer) Coefficients() *WindowCoefficients {
	return d.coeffs
}

// Config returns the current configuration
func (d *Digitizer) Config() DigitizerConfig {
	return d.config
}
