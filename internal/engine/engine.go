// Package engine wires a capture source to the analyzer and fans the
// analyzer's output out to the event bus, reporters, metrics and API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/api"
	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/eventbus"
	"firestige.xyz/flowscope/internal/metrics"
	"firestige.xyz/flowscope/internal/report"
	"firestige.xyz/flowscope/internal/source"
	"firestige.xyz/flowscope/internal/source/afpacket"
	"firestige.xyz/flowscope/internal/source/file"
	"firestige.xyz/flowscope/internal/tracker"
)

const busStatsInterval = 30 * time.Second

// Options adjust a run beyond the configuration.
type Options struct {
	// Duration stops the run after this much wall-clock time; 0 runs until
	// the source is exhausted or the context is cancelled.
	Duration time.Duration
	// Source replaces the source built from the capture configuration.
	Source source.Source
	// SourceName labels capture metrics when Source is set.
	SourceName string
}

// Engine runs one capture to completion.
type Engine struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	src        source.Source
	srcName    string
	analyzer   *analyzer.Analyzer
	bus        *eventbus.InMemoryEventBus
	dispatcher *report.Dispatcher
	publisher  *report.Publisher
	store      *report.Store

	metricsServer *metrics.Server
	apiServer     *api.Server

	lastReport   time.Time
	lastCapStats source.Stats
}

// New builds every component but starts nothing.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		opts:    opts,
		logger:  slog.Default().With("component", "engine"),
		store:   report.NewStore(),
		src:     opts.Source,
		srcName: opts.SourceName,
	}

	e.analyzer = analyzer.New(analyzerOptions(cfg.Analyzer))
	if _, err := e.analyzer.Register(analyzer.AllEvents, metrics.Observe); err != nil {
		return nil, err
	}

	now := time.Now()
	for i, ac := range cfg.Analyzer.Aggregates {
		def, err := ac.Def()
		if err != nil {
			return nil, fmt.Errorf("aggregate %d: %w", i, err)
		}
		c, err := e.analyzer.AddAggregate(def, now)
		if err != nil {
			return nil, fmt.Errorf("aggregate %d: %w", i, err)
		}
		e.logger.Info("static aggregate added", "id", c.ID, "type", c.Type(), "addrs", c.AddressString())
	}

	if e.src == nil {
		var err error
		if e.src, e.srcName, err = newSource(cfg.Capture); err != nil {
			return nil, err
		}
	}

	d, err := report.NewDispatcher(cfg.Reporters)
	if err != nil {
		return nil, err
	}
	e.dispatcher = d
	e.bus = eventbus.NewInMemoryEventBus(cfg.EventBus.Partitions, cfg.EventBus.QueueSize)
	e.publisher = report.NewPublisher(e.bus, d.Mask())
	if mask := d.Mask(); mask != 0 {
		if _, err := e.analyzer.Register(mask, e.publisher.Handle); err != nil {
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewStatsCollector(e.analyzer.Stats()))
		e.metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path,
			prometheus.Gatherers{prometheus.DefaultGatherer, reg})
	}
	if cfg.API.Enabled {
		st := e.analyzer.Stats()
		e.apiServer = api.NewServer(cfg.API.Listen, e.store, st.Snapshot)
	}
	return e, nil
}

func analyzerOptions(cfg config.AnalyzerConfig) analyzer.Options {
	return analyzer.Options{
		Table: connection.Options{
			InitialSize:    cfg.InitialTableSize,
			MaxConnections: cfg.MaxConnections,
			Timeouts: connection.Timeouts{
				Closed:       cfg.Timeouts.Closed,
				Establishing: cfg.Timeouts.Establishing,
				Inactive:     cfg.Timeouts.Inactive,
			},
		},
		RTTFilter: tracker.RTTFilter{
			Enabled: cfg.RTTFilter.Enabled,
			Percent: cfg.RTTFilter.Percentage,
		},
		ExtraMeasurement: cfg.Extra,
	}
}

func newSource(cfg config.CaptureConfig) (source.Source, string, error) {
	switch {
	case cfg.File != "":
		s, err := file.NewSource(file.Config{Path: cfg.File, BPFFilter: cfg.BPFFilter, SnapLen: cfg.SnapLen})
		return s, file.Name, err
	case cfg.Interface != "":
		s, err := afpacket.NewSource(afpacket.Config{
			Interface:   cfg.Interface,
			SnapLen:     cfg.SnapLen,
			BufferBytes: cfg.BufferBytes,
			Timeout:     cfg.Timeout,
			FanoutID:    uint16(cfg.FanoutID),
			BPFFilter:   cfg.BPFFilter,
		})
		return s, afpacket.Name, err
	}
	return nil, "", fmt.Errorf("no capture source: set capture.file or capture.interface")
}

// Analyzer exposes the analyzer, mostly for tests.
func (e *Engine) Analyzer() *analyzer.Analyzer { return e.analyzer }

// Store holds the latest table snapshot.
func (e *Engine) Store() *report.Store { return e.store }

// Run starts everything, processes packets until the source is exhausted,
// the duration elapses or ctx is cancelled, and then shuts down in order:
// final report, bus drain, reporters, servers, source.
func (e *Engine) Run(ctx context.Context) (err error) {
	if e.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Duration)
		defer cancel()
	}

	if e.metricsServer != nil {
		if err := e.metricsServer.Start(ctx); err != nil {
			return err
		}
		defer e.stopServer("metrics", e.metricsServer.Stop)
	}
	if e.apiServer != nil {
		if err := e.apiServer.Start(ctx); err != nil {
			return err
		}
		defer e.stopServer("api", e.apiServer.Stop)
	}

	if err := e.dispatcher.Start(ctx); err != nil {
		e.bus.Close()
		return err
	}
	if err := e.dispatcher.Subscribe(e.bus); err != nil {
		e.bus.Close()
		return err
	}
	defer func() {
		// Reporters stop after the bus has delivered everything queued.
		if cerr := e.bus.Close(); cerr != nil {
			e.logger.Warn("event bus close", "error", cerr)
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := e.dispatcher.Stop(stopCtx); serr != nil {
			e.logger.Warn("reporters stopped with errors", "error", serr)
		}
	}()

	if err := e.src.Start(ctx); err != nil {
		return fmt.Errorf("start %s source: %w", e.srcName, err)
	}
	defer func() {
		if serr := e.src.Stop(); serr != nil {
			e.logger.Warn("source stop", "error", serr)
		}
	}()

	e.logger.Info("engine started", "source", e.srcName, "link_type", e.src.LinkType(),
		"report_interval", e.cfg.Analyzer.ReportInterval)

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, loopDone := context.WithCancel(gctx)
	g.Go(func() error {
		defer loopDone()
		return e.loop(loopCtx)
	})
	g.Go(func() error {
		e.watchBus(loopCtx)
		return nil
	})
	err = g.Wait()

	s := e.analyzer.Stats()
	e.logger.Info("engine stopped",
		"connections", e.analyzer.Table().Count(),
		"frames", s.Snapshot()["receivedFrames"],
		"bus_dropped", e.publisher.Dropped())
	return err
}

// loop owns the analyzer. Everything that touches the table runs here.
func (e *Engine) loop(ctx context.Context) error {
	var last time.Time
	defer func() {
		if !last.IsZero() {
			e.report(last)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		pkt, err := e.src.ReadPacket()
		switch {
		case errors.Is(err, source.ErrTimeout):
			// Idle live capture: keep timeouts and reports moving.
			last = time.Now()
			e.tick(last)
			continue
		case errors.Is(err, io.EOF):
			e.logger.Info("capture source exhausted")
			return nil
		case err != nil:
			return fmt.Errorf("read packet: %w", err)
		}

		e.analyzer.Process(pkt)
		last = pkt.Timestamp
		e.tick(last)
	}
}

// tick runs the sweep and, every report interval, the periodic report. Both
// follow packet time so that replayed captures age like live ones.
func (e *Engine) tick(now time.Time) {
	e.analyzer.PeriodicCheck(now)
	if e.lastReport.IsZero() {
		e.lastReport = now
		return
	}
	if now.Sub(e.lastReport) >= e.cfg.Analyzer.ReportInterval {
		e.report(now)
	}
}

// report snapshots the table for the API and snapshot reporters and
// refreshes the gauges.
func (e *Engine) report(now time.Time) {
	e.lastReport = now
	snap := report.TakeSnapshot(e.analyzer.Table(), e.analyzer.Stats().Snapshot(), now)
	e.store.Set(snap)

	counts := make(map[connection.Type]int)
	e.analyzer.Table().Range(func(c *connection.Connection) bool {
		counts[c.Type()]++
		return true
	})
	metrics.SetConnections(counts)
	e.captureStats()

	if err := e.publisher.PublishSnapshot(snap); err != nil {
		e.logger.Debug("snapshot not published", "error", err)
	}
}

// captureStats adds the source counters accumulated since the last call.
func (e *Engine) captureStats() {
	sr, ok := e.src.(source.StatsReporter)
	if !ok {
		return
	}
	st, err := sr.Stats()
	if err != nil {
		e.logger.Debug("capture stats unavailable", "error", err)
		return
	}
	if st.Packets >= e.lastCapStats.Packets {
		metrics.CapturePacketsTotal.WithLabelValues(e.srcName).Add(float64(st.Packets - e.lastCapStats.Packets))
	}
	if st.Drops >= e.lastCapStats.Drops {
		metrics.CaptureDropsTotal.WithLabelValues(e.srcName).Add(float64(st.Drops - e.lastCapStats.Drops))
	}
	e.lastCapStats = st
}

func (e *Engine) watchBus(ctx context.Context) {
	t := time.NewTicker(busStatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := e.bus.GetStats()
			e.logger.Info("event bus status",
				"published", st.PublishedCount, "processed", st.ProcessedCount,
				"dropped", st.DroppedCount, "failed", st.FailedCount, "queued", st.QueuedCount)
		}
	}
}

func (e *Engine) stopServer(name string, stop func(context.Context) error) {
	if err := stop(context.Background()); err != nil {
		e.logger.Warn("server stop", "server", name, "error", err)
	}
}
