// internal/metrics/metrics.go
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Namespace prefixes every metric name.
const Namespace = "pingfinder."

// Metric names
const (
	BlocksProcessed = "blocks.processed"
	BlocksDropped   = "blocks.dropped"
	BlocksRejected  = "blocks.rejected"
	BlockOverruns   = "blocks.overruns"
	BlockDuration   = "blocks.duration"
	Detections      = "detections"
	BearingsUnset   = "detections.bearing_unset"
	ToneLevel       = "tone.level"
)

// Metrics publishes pipeline counters through a statsd client.
// The zero value is not usable; use New or Noop.
type Metrics struct {
	client statsd.ClientInterface
	tags   []string
}

// New connects to the statsd agent at address. An empty address yields a
// no-op client.
func New(address string, tags ...string) (*Metrics, error) {
	if address == "" {
		return Noop(), nil
	}
	client, err := statsd.New(address, statsd.WithNamespace(Namespace), statsd.WithTags(tags))
	if err != nil {
		return nil, fmt.Errorf("unable to create statsd client for %q: %w", address, err)
	}
	return &Metrics{client: client}, nil
}

// NewWithClient wraps an existing client; tags are added to every metric.
func NewWithClient(client statsd.ClientInterface, tags ...string) *Metrics {
	return &Metrics{client: client, tags: tags}
}

// Noop returns metrics that discard everything.
func Noop() *Metrics {
	return &Metrics{client: &statsd.NoOpClient{}}
}

// BlockProcessed records one processed block and whether it overran its
// real-time budget.
func (m *Metrics) BlockProcessed(elapsed, budget time.Duration) {
	_ = m.client.Incr(BlocksProcessed, m.tags, 1)
	_ = m.client.Timing(BlockDuration, elapsed, m.tags, 1)
	if budget > 0 && elapsed > budget {
		_ = m.client.Incr(BlockOverruns, m.tags, 1)
	}
}

// BlockRejected records a block that failed the shape check.
func (m *Metrics) BlockRejected() {
	_ = m.client.Incr(BlocksRejected, m.tags, 1)
}

// BlocksDroppedBy records blocks discarded by a full queue.
func (m *Metrics) BlocksDroppedBy(n int64) {
	if n <= 0 {
		return
	}
	_ = m.client.Count(BlocksDropped, n, m.tags, 1)
}

// Detection records an emitted detection.
func (m *Metrics) Detection(hasBearing bool) {
	_ = m.client.Incr(Detections, m.tags, 1)
	if !hasBearing {
		_ = m.client.Incr(BearingsUnset, m.tags, 1)
	}
}

// ToneLevels publishes the per-channel level at the centre frequency.
func (m *Metrics) ToneLevels(levels []float64) {
	for ch, level := range levels {
		tags := append(append(make([]string, 0, len(m.tags)+1), m.tags...), "channel:"+strconv.Itoa(ch))
		_ = m.client.Gauge(ToneLevel, level, tags, 1)
	}
}

// Close flushes and closes the underlying client.
func (m *Metrics) Close() error {
	return m.client.Close()
}
