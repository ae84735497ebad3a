// internal/audio/source.go
package audio

import (
	"context"
	"io"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

// Sink accepts audio blocks from a source. Push must not block; it reports
// false when a block was lost.
type Sink interface {
	Push(block dsp.AudioBlock) bool
}

// Source produces multichannel audio blocks of a fixed size.
type Source interface {
	// Start begins producing blocks into sink. It returns once production
	// has started; blocks are pushed from another goroutine.
	Start(ctx context.Context, sink Sink) error

	// Stop halts production. It is safe to call Stop more than once.
	Stop() error

	// Done is closed once the source has stopped producing.
	Done() <-chan struct{}

	// Stats returns production counters.
	Stats() SourceStats

	// Name returns the backend name.
	Name() string

	io.Closer
}

// SourceStats contains statistics about an audio source.
type SourceStats struct {
	// Blocks is the number of blocks pushed to the sink.
	Blocks int64 `json:"blocks"`

	// Overruns is the number of pushes that lost a block.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently producing.
	Running bool `json:"running"`

	// Backend is the name of the source backend.
	Backend string `json:"backend"`
}
