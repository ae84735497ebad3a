// cmd/session.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ColonelBlimp/pingfinder/internal/audio"
	"github.com/ColonelBlimp/pingfinder/internal/config"
	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/export"
	"github.com/ColonelBlimp/pingfinder/internal/metrics"
	"github.com/ColonelBlimp/pingfinder/internal/pipeline"
	"github.com/ColonelBlimp/pingfinder/internal/recorder"
	"github.com/ColonelBlimp/pingfinder/internal/server"
	"github.com/ColonelBlimp/pingfinder/internal/sim"
)

// recordBuffer is the depth of the channel between the processing task
// and the exporters.
const recordBuffer = 256

// session wires one pipeline to its exporters, metrics, recorder and
// status API.
type session struct {
	settings *config.Settings
	streamID string
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
	recorder *recorder.Writer
	store    *server.Store

	exporters []export.Exporter
	closers   []func() error
	records   chan export.Record
	exported  chan struct{}
	blocking  bool
}

// newSession builds the pipeline described by settings. When blocking is
// set, detections wait for the exporters instead of being dropped.
func newSession(settings *config.Settings, blocking bool) (*session, error) {
	s := &session{
		settings: settings,
		streamID: settings.StreamID,
		records:  make(chan export.Record, recordBuffer),
		exported: make(chan struct{}),
		blocking: blocking,
	}
	if s.streamID == "" {
		s.streamID = uuid.NewString()
	}

	m, err := metrics.New(settings.StatsdAddress, "stream:"+s.streamID)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	s.closers = append(s.closers, m.Close)

	cfg, err := settings.PipelineConfig()
	if err != nil {
		s.Close()
		return nil, err
	}
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if settings.Debug {
		opts = append(opts, pipeline.WithLevelMeter())
	}
	if settings.RecordDir != "" {
		w, err := recorder.Create(settings.RecordDir, settings.NumChannels, time.Now())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.recorder = w
		s.closers = append(s.closers, w.Close)
		opts = append(opts, pipeline.WithRecorder(w))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.pipeline = p
	p.SetCallback(s.onDetection)

	if err := s.openExporters(); err != nil {
		s.Close()
		return nil, err
	}

	glog.Infof("stream %s: %d channels at %.0f Hz, %.0f Hz centre, sample step %d",
		s.streamID, settings.NumChannels, settings.SampleRateHz, settings.CenterFreqHz, p.Step())
	return s, nil
}

func (s *session) openExporters() error {
	switch strings.ToLower(s.settings.Output) {
	case config.OutputNone, "":
	case config.OutputCSV:
		s.exporters = append(s.exporters, &export.CSV{})
	case config.OutputSQLite:
		e, err := export.OpenSQLite(s.settings.SQLiteFile)
		if err != nil {
			return err
		}
		s.exporters = append(s.exporters, e)
		s.closers = append(s.closers, e.DB.Close)
	case config.OutputMySQL:
		e, err := export.OpenMySQL(s.settings.MySQLConfig())
		if err != nil {
			return err
		}
		s.exporters = append(s.exporters, e)
		s.closers = append(s.closers, e.DB.Close)
	default:
		return fmt.Errorf("%q is not a supported export method, pick one of: none, csv, sqlite, mysql", s.settings.Output)
	}

	if s.settings.HTTPListen != "" {
		s.store = server.NewStore(server.DefaultStoreSize)
		s.exporters = append(s.exporters, s.store)
	}
	return nil
}

func (s *session) onDetection(ev dsp.DetectionEvent) {
	r := export.NewRecord(s.streamID, time.Now(), ev)
	if s.blocking {
		select {
		case s.records <- r:
		case <-s.exported:
		}
		return
	}
	select {
	case s.records <- r:
	default:
		glog.Warningf("exporters behind, dropping detection at %.6fs", ev.ArrivalTime)
	}
}

// serve runs process and the exporters until process returns and every
// record has been exported, or until ctx is cancelled. The status API, if
// configured, runs for the same span.
func (s *session) serve(ctx context.Context, process func(context.Context) error, stats server.StatsFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(s.records)
		return process(gctx)
	})
	g.Go(func() error {
		// Exporters drain whatever was detected even after cancellation.
		defer cancel()
		defer close(s.exported)
		return export.Fan(context.WithoutCancel(gctx), s.records, s.exporters...)
	})
	if s.store != nil {
		g.Go(func() error {
			return server.Serve(gctx, s.settings.HTTPListen, server.New(s.store, stats))
		})
	}
	return g.Wait()
}

// runSource streams blocks from src through the pipeline.
func (s *session) runSource(ctx context.Context, src audio.Source) error {
	queue := pipeline.NewBlockQueue(s.settings.QueueDepth)
	runner := pipeline.NewRunner(s.pipeline, queue, pipeline.WithRunnerMetrics(s.metrics))

	stats := func() any {
		return struct {
			StreamID string            `json:"stream_id"`
			Runner   pipeline.Stats    `json:"runner"`
			Source   audio.SourceStats `json:"source"`
			Budget   string            `json:"block_budget"`
		}{s.streamID, runner.Stats(), src.Stats(), runner.Budget().String()}
	}

	process := func(ctx context.Context) error {
		if err := src.Start(ctx, queue); err != nil {
			return fmt.Errorf("start %s source: %w", src.Name(), err)
		}
		go func() {
			<-src.Done()
			queue.Close()
		}()
		err := runner.Run(ctx)
		_ = src.Stop()

		st := runner.Stats()
		glog.Infof("processed %d blocks (%d rejected, %d dropped, %d over budget), %d detections",
			st.BlocksProcessed, st.BlocksRejected, st.BlocksDropped, st.Overruns, st.Detections)
		return err
	}
	return s.serve(ctx, process, stats)
}

// Close releases every resource the session opened.
func (s *session) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// newSource creates the acquisition backend named by settings.
func newSource(settings *config.Settings, opts ...audio.SyntheticOption) (audio.Source, error) {
	switch settings.Source {
	case config.SourceSynthetic:
		scenario, err := settings.Scenario()
		if err != nil {
			return nil, err
		}
		opts = append([]audio.SyntheticOption{audio.WithRealtime(settings.Synthetic.Realtime)}, opts...)
		return audio.NewSynthetic(scenario, settings.BlockSizeSamples, opts...)
	case config.SourceHardware:
		c := audio.New(audio.Config{
			DeviceIndex: settings.DeviceIndex,
			SampleRate:  uint32(settings.SampleRateHz),
			Channels:    uint32(settings.NumChannels),
			BlockSize:   uint32(settings.BlockSizeSamples),
		})
		if err := c.Init(); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown source %q", settings.Source)
}

// scenarioSummary describes a scenario for logs.
func scenarioSummary(sc sim.Scenario) string {
	return fmt.Sprintf("%.0f Hz pinger at %.1f m, bearing %v", sc.CenterFreq, sc.Range, dsp.BearingOf(sc.Bearing))
}

// runBlocks feeds n blocks from next straight into the pipeline, without
// a queue or real-time pacing.
func (s *session) runBlocks(ctx context.Context, n int64, next func() dsp.AudioBlock) error {
	process := func(ctx context.Context) error {
		defer s.pipeline.Flush()
		var rejected int64
		for i := int64(0); i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			if _, err := s.pipeline.Process(next()); err != nil {
				rejected++
				glog.Warningf("skipping block %d: %v", i, err)
			}
		}
		glog.Infof("processed %d blocks (%d rejected)", n, rejected)
		return nil
	}
	return s.serve(ctx, process, nil)
}

// runSamples feeds already digitized samples into the pipeline in chunks.
func (s *session) runSamples(ctx context.Context, samples []dsp.Sample, chunk int) error {
	if chunk < 1 {
		chunk = 1
	}
	process := func(ctx context.Context) error {
		defer s.pipeline.Flush()
		for start := 0; start < len(samples); start += chunk {
			if ctx.Err() != nil {
				break
			}
			s.pipeline.ProcessSamples(samples[start:min(start+chunk, len(samples))])
		}
		return nil
	}
	return s.serve(ctx, process, nil)
}
