package report

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/flowscope/internal/metrics"
)

const (
	defaultKafkaBatchSize    = 100
	defaultKafkaBatchTimeout = 100 * time.Millisecond
	defaultKafkaCompression  = "snappy"
	defaultKafkaMaxAttempts  = 3
)

// KafkaConfig configures the Kafka reporter.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// Compression is none, gzip, snappy, lz4 or zstd.
	Compression string `mapstructure:"compression"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	Encoding    string `mapstructure:"encoding"`
}

// KafkaReporter writes events to a Kafka topic keyed by connection ID, so
// that all events of one connection land in the same partition.
type KafkaReporter struct {
	cfg      KafkaConfig
	encoding Encoding
	writer   *kafka.Writer

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

func NewKafkaReporter() *KafkaReporter {
	return &KafkaReporter{
		cfg: KafkaConfig{
			BatchSize:    defaultKafkaBatchSize,
			BatchTimeout: defaultKafkaBatchTimeout,
			Compression:  defaultKafkaCompression,
			MaxAttempts:  defaultKafkaMaxAttempts,
		},
	}
}

func (r *KafkaReporter) Name() string { return "kafka" }

func (r *KafkaReporter) Init(cfg map[string]any) error {
	if cfg == nil {
		return fmt.Errorf("kafka reporter requires configuration")
	}
	if err := decodeConfig(cfg, &r.cfg); err != nil {
		return err
	}
	if len(r.cfg.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if r.cfg.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if r.cfg.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	enc, err := ParseEncoding(r.cfg.Encoding)
	if err != nil {
		return err
	}
	r.encoding = enc
	codec, err := kafkaCompression(r.cfg.Compression)
	if err != nil {
		return err
	}

	r.writer = &kafka.Writer{
		Addr:         kafka.TCP(r.cfg.Brokers...),
		Topic:        r.cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    r.cfg.BatchSize,
		BatchTimeout: r.cfg.BatchTimeout,
		MaxAttempts:  r.cfg.MaxAttempts,
		Compression:  codec,
		Async:        true,
		Completion:   r.completion,
	}
	return nil
}

func kafkaCompression(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("invalid compression type: %s", name)
}

// completion runs once per async batch.
func (r *KafkaReporter) completion(messages []kafka.Message, err error) {
	metrics.ReporterBatchSize.WithLabelValues(r.Name()).Observe(float64(len(messages)))
	if err != nil {
		r.errorCount.Add(uint64(len(messages)))
		metrics.ReporterErrorsTotal.WithLabelValues(r.Name(), "write").Inc()
		slog.Warn("kafka batch failed", "messages", len(messages), "error", err)
		return
	}
	r.reportedCount.Add(uint64(len(messages)))
}

func (r *KafkaReporter) Start(ctx context.Context) error {
	slog.Info("kafka reporter started",
		"brokers", r.cfg.Brokers,
		"topic", r.cfg.Topic,
		"batch_size", r.cfg.BatchSize,
		"batch_timeout", r.cfg.BatchTimeout,
		"compression", r.cfg.Compression,
		"encoding", r.encoding,
	)
	return nil
}

// Message builds the Kafka message for an event.
func (r *KafkaReporter) Message(e *Event) (kafka.Message, error) {
	value, err := Encode(e, r.encoding)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Time:  time.UnixMicro(e.Ts),
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Name())},
			{Key: "type", Value: []byte(e.Type)},
			{Key: "encoding", Value: []byte(r.encoding)},
			{Key: "id", Value: []byte(strconv.FormatUint(e.ID, 10))},
		},
	}, nil
}

func (r *KafkaReporter) Report(ctx context.Context, e *Event) error {
	if e == nil {
		return fmt.Errorf("nil event")
	}
	msg, err := r.Message(e)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize event failed: %w", err)
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Flush is a no-op; the writer flushes by batch size and timeout, and Stop
// drains what is left.
func (r *KafkaReporter) Flush(ctx context.Context) error { return nil }

func (r *KafkaReporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}
	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return nil
}
