package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS reporter.
type NATSConfig struct {
	URL string `mapstructure:"url"`
	// Subject is the prefix; the event kind is appended, e.g.
	// flowscope.events.measurement.
	Subject       string        `mapstructure:"subject"`
	Encoding      string        `mapstructure:"encoding"`
	ConnectWait   time.Duration `mapstructure:"connect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// NATSReporter publishes events to per-kind NATS subjects.
type NATSReporter struct {
	cfg      NATSConfig
	encoding Encoding
	nc       *nats.Conn

	reportedCount atomic.Uint64
}

func NewNATSReporter() *NATSReporter {
	return &NATSReporter{
		cfg: NATSConfig{
			URL:           nats.DefaultURL,
			Subject:       "flowscope.events",
			ConnectWait:   2 * time.Second,
			MaxReconnects: nats.DefaultMaxReconnect,
		},
	}
}

func (r *NATSReporter) Name() string { return "nats" }

func (r *NATSReporter) Init(cfg map[string]any) error {
	if err := decodeConfig(cfg, &r.cfg); err != nil {
		return err
	}
	if r.cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	r.cfg.Subject = strings.TrimSuffix(r.cfg.Subject, ".")
	if r.cfg.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	enc, err := ParseEncoding(r.cfg.Encoding)
	if err != nil {
		return err
	}
	r.encoding = enc
	return nil
}

// Subject is the subject an event is published on.
func (r *NATSReporter) Subject(e *Event) string {
	return r.cfg.Subject + "." + e.Kind
}

func (r *NATSReporter) Start(ctx context.Context) error {
	nc, err := nats.Connect(r.cfg.URL,
		nats.Name("flowscope"),
		nats.Timeout(r.cfg.ConnectWait),
		nats.MaxReconnects(r.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.URL, err)
	}
	r.nc = nc
	slog.Info("nats reporter started", "url", r.cfg.URL, "subject", r.cfg.Subject, "encoding", r.encoding)
	return nil
}

func (r *NATSReporter) Report(ctx context.Context, e *Event) error {
	if r.nc == nil {
		return fmt.Errorf("nats reporter not started")
	}
	data, err := Encode(e, r.encoding)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.nc.Publish(r.Subject(e), data); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

func (r *NATSReporter) Flush(ctx context.Context) error {
	if r.nc == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		return r.nc.Flush()
	}
	return r.nc.FlushWithContext(ctx)
}

func (r *NATSReporter) Stop(ctx context.Context) error {
	if r.nc == nil {
		return nil
	}
	err := r.nc.Drain()
	slog.Info("nats reporter stopped", "total_reported", r.reportedCount.Load())
	return err
}
