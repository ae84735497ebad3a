// internal/export/export.go
package export

import (
	"context"
	"time"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

// Record is a detection as handed to exporters.
type Record struct {
	StreamID      string
	Detected      time.Time
	ArrivalTime   float64
	Bearing       dsp.Bearing
	SnapshotStart int64
	Magnitude     float64
}

// NewRecord stamps event with the stream it came from and the wall clock
// time it was emitted.
func NewRecord(streamID string, detected time.Time, event dsp.DetectionEvent) Record {
	return Record{
		StreamID:      streamID,
		Detected:      detected,
		ArrivalTime:   event.ArrivalTime,
		Bearing:       event.Bearing,
		SnapshotStart: event.SnapshotStart,
		Magnitude:     event.Magnitude,
	}
}

// Exporter consumes records until the channel is closed.
type Exporter interface {
	Write(context.Context, <-chan Record) error
}
