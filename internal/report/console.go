package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ConsoleConfig configures the console reporter.
type ConsoleConfig struct {
	// Format is json or text.
	Format string `mapstructure:"format"`
	// Summary prints a one-line table summary for every periodic report.
	Summary bool `mapstructure:"summary"`
}

// ConsoleReporter writes events to stdout, one per line.
type ConsoleReporter struct {
	cfg      ConsoleConfig
	encoding Encoding

	mu  sync.Mutex
	out io.Writer

	reportedCount atomic.Uint64
}

func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{
		cfg:      ConsoleConfig{Format: "text", Summary: true},
		encoding: EncodingText,
		out:      os.Stdout,
	}
}

// SetOutput redirects the reporter, mostly for tests.
func (r *ConsoleReporter) SetOutput(w io.Writer) {
	r.mu.Lock()
	r.out = w
	r.mu.Unlock()
}

func (r *ConsoleReporter) Name() string { return "console" }

func (r *ConsoleReporter) Init(cfg map[string]any) error {
	if err := decodeConfig(cfg, &r.cfg); err != nil {
		return err
	}
	if r.cfg.Format != "json" && r.cfg.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text", r.cfg.Format)
	}
	r.encoding = Encoding(r.cfg.Format)
	return nil
}

func (r *ConsoleReporter) Start(ctx context.Context) error {
	slog.Info("console reporter started", "format", r.cfg.Format)
	return nil
}

func (r *ConsoleReporter) Report(ctx context.Context, e *Event) error {
	if e == nil {
		return fmt.Errorf("nil event")
	}
	line, err := Encode(e, r.encoding)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	r.reportedCount.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = fmt.Fprintf(r.out, "%s\n", line)
	return err
}

// ReportSnapshot prints the connection count per type.
func (r *ConsoleReporter) ReportSnapshot(ctx context.Context, s *Snapshot) error {
	if !r.cfg.Summary || s == nil {
		return nil
	}
	counts := s.CountByType()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s report: %d connections", s.Time.UTC().Format(time.TimeOnly), len(s.Connections))
	for _, t := range types {
		fmt.Fprintf(r.out, " %s=%d", t, counts[t])
	}
	_, err := fmt.Fprintln(r.out)
	return err
}

// Flush is a no-op; every line is written immediately.
func (r *ConsoleReporter) Flush(ctx context.Context) error { return nil }

func (r *ConsoleReporter) Stop(ctx context.Context) error {
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return nil
}
