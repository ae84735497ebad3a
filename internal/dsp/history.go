// internal/dsp/history.go
package dsp

import (
	"errors"
	"fmt"
)

// ErrInsufficientHistory indicates the requested samples are not (or no longer) held
var ErrInsufficientHistory = errors.New("insufficient sample history")

// History is a bounded FIFO of the most recent samples. Samples are
// addressed by sequence number: the first sample ever appended is 0, and
// numbers stay valid while older samples roll out.
type History struct {
	buf   []Sample
	head  int   // ring index of the oldest sample
	size  int   // samples held
	first int64 // sequence number of the oldest sample
}

// NewHistory creates a history holding up to capacity samples.
func NewHistory(capacity int) *History {
	return &History{buf: make([]Sample, max(capacity, 1))}
}

// Append adds samples, evicting the oldest when full.
func (h *History) Append(samples ...Sample) {
	capacity := len(h.buf)
	for _, s := range samples {
		if h.size < capacity {
			h.buf[(h.head+h.size)%capacity] = s
			h.size++
			continue
		}
		h.buf[h.head] = s
		h.head = (h.head + 1) % capacity
		h.first++
	}
}

// Len returns the number of samples held.
func (h *History) Len() int {
	return h.size
}

// Cap returns the maximum number of samples held.
func (h *History) Cap() int {
	return len(h.buf)
}

// First returns the sequence number of the oldest sample held.
func (h *History) First() int64 {
	return h.first
}

// Next returns the sequence number the next appended sample will receive.
func (h *History) Next() int64 {
	return h.first + int64(h.size)
}

// At returns the sample with sequence number seq.
func (h *History) At(seq int64) (Sample, bool) {
	if seq < h.first || seq >= h.Next() {
		return Sample{}, false
	}
	return h.buf[(h.head+int(seq-h.first))%len(h.buf)], true
}

// Latest returns the most recently appended sample.
func (h *History) Latest() (Sample, bool) {
	return h.At(h.Next() - 1)
}

// Window returns n consecutive samples starting at sequence number from.
func (h *History) Window(from int64, n int) ([]Sample, error) {
	if from < h.first || from+int64(n) > h.Next() {
		return nil, fmt.Errorf("%w: want [%d, %d), have [%d, %d)",
			ErrInsufficientHistory, from, from+int64(n), h.first, h.Next())
	}
	out := make([]Sample, n)
	for i := range out {
		out[i] = h.buf[(h.head+int(from-h.first)+i)%len(h.buf)]
	}
	return out, nil
}

// Reset drops every sample and restarts numbering at zero.
func (h *History) Reset() {
	clear(h.buf)
	h.head = 0
	h.size = 0
	h.first = 0
}
