// internal/pipeline/runner_test.go
package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/metrics"
	"github.com/ColonelBlimp/pingfinder/internal/sim"
)

func TestBlockQueue_DropsOldest(t *testing.T) {
	q := NewBlockQueue(2)
	blocks := make([]dsp.AudioBlock, 4)
	for i := range blocks {
		blocks[i] = dsp.AudioBlock{{float32(i)}}
	}

	assert.True(t, q.Push(blocks[0]))
	assert.True(t, q.Push(blocks[1]))
	assert.False(t, q.Push(blocks[2]))
	assert.False(t, q.Push(blocks[3]))
	assert.Equal(t, int64(2), q.Dropped())
	assert.Equal(t, 2, q.Len())

	q.Close()
	var got []float32
	var seqs []int64
	for item := range q.Blocks() {
		got = append(got, item.Block[0][0])
		seqs = append(seqs, item.Seq)
	}
	assert.Equal(t, []float32{2, 3}, got)
	assert.Equal(t, []int64{2, 3}, seqs)
	assert.False(t, q.Push(blocks[0]), "push after close")
	q.Close()
}

func TestBlockQueue_ConcurrentPush(t *testing.T) {
	q := NewBlockQueue(8)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				q.Push(dsp.AudioBlock{})
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for range q.Blocks() {
			received++
		}
		close(done)
	}()

	wg.Wait()
	q.Close()
	<-done
	assert.Equal(t, int64(400), int64(received)+q.Dropped())
}

func TestRunner_DrainsQueue(t *testing.T) {
	s := pingScenario()
	s.PingInterval = 0.25
	p, err := New(testConfig(1024, 0.5*s.DirectPath(0).Gain))
	require.NoError(t, err)

	q := NewBlockQueue(64)
	g, err := sim.NewGenerator(s)
	require.NoError(t, err)
	for range 40 {
		require.True(t, q.Push(g.Next(1024)))
	}
	require.True(t, q.Push(dsp.NewAudioBlock(1, 1024)), "malformed block")
	q.Close()

	r := NewRunner(p, q, WithRunnerMetrics(metrics.Noop()))
	assert.InDelta(t, float64(1024)/96000, r.Budget().Seconds(), 1e-9)
	require.NoError(t, r.Run(context.Background()))

	stats := r.Stats()
	assert.Equal(t, int64(40), stats.BlocksProcessed)
	assert.Equal(t, int64(1), stats.BlocksRejected)
	assert.Equal(t, int64(2), stats.Detections)
	assert.Equal(t, 0, stats.QueueLength)
}

func TestRunner_DroppedBlocksKeepStreamTime(t *testing.T) {
	const blockSize = 1024
	s := pingScenario()
	// direct arrival at channel 0 half way into the eighth block
	s.EmissionOffset = (7*blockSize+300.5)/testSampleRate - s.DirectPath(0).Delay
	p, err := New(testConfig(blockSize, 0.5*s.DirectPath(0).Gain))
	require.NoError(t, err)

	var events []dsp.DetectionEvent
	p.SetCallback(func(ev dsp.DetectionEvent) {
		events = append(events, ev)
	})

	q := NewBlockQueue(2)
	g, err := sim.NewGenerator(s)
	require.NoError(t, err)
	for range 8 {
		q.Push(g.Next(blockSize))
	}
	q.Close()

	r := NewRunner(p, q)
	require.NoError(t, r.Run(context.Background()))

	stats := r.Stats()
	assert.Equal(t, int64(6), stats.BlocksDropped)
	assert.Equal(t, int64(2), stats.BlocksProcessed)
	require.Len(t, events, 1)
	assert.InDelta(t, s.ArrivalTime(0, 0), events[0].ArrivalTime, 1/testSampleRate)
	assert.True(t, events[0].Bearing.Valid)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	p, err := New(testConfig(1024, 0.1))
	require.NoError(t, err)
	q := NewBlockQueue(4)
	r := NewRunner(p, q)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	q.Push(dsp.NewAudioBlock(3, 1024))
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunner_DeadlineIsReported(t *testing.T) {
	p, err := New(testConfig(1024, 0.1))
	require.NoError(t, err)
	r := NewRunner(p, NewBlockQueue(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}
