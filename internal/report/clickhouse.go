package report

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cenkalti/backoff/v5"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp   DateTime64(6),
    ID          UInt64,
    Type        LowCardinality(String),
    State       LowCardinality(String),
    Side1       String,
    Side2       String,
    Session     String,
    Created     DateTime64(6),
    Packets1    UInt64,
    Packets2    UInt64,
    Bytes1      UInt64,
    Bytes2      UInt64,
    LeftRTT     UInt32,
    RightRTT    UInt32,
    AvgLeftRTT  UInt32,
    AvgRightRTT UInt32,
    FullRTT1    UInt32,
    FullRTT2    UInt32,
    CE1         UInt64,
    CE2         UInt64,
    IdleMicros  Int64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Type, Timestamp, ID);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ClickHouseConfig configures the snapshot writer.
type ClickHouseConfig struct {
	Addr        []string      `mapstructure:"addr"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Table       string        `mapstructure:"table"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	MaxTries    uint          `mapstructure:"max_tries"`
}

// ClickHouseReporter stores every periodic snapshot as one row per
// connection. Individual events are ignored.
type ClickHouseReporter struct {
	cfg  ClickHouseConfig
	conn driver.Conn
}

func NewClickHouseReporter() *ClickHouseReporter {
	return &ClickHouseReporter{
		cfg: ClickHouseConfig{
			Addr:        []string{"127.0.0.1:9000"},
			Database:    "default",
			Username:    "default",
			Table:       "flowscope_connections",
			DialTimeout: 5 * time.Second,
			MaxTries:    3,
		},
	}
}

func (r *ClickHouseReporter) Name() string { return "clickhouse" }

func (r *ClickHouseReporter) Init(cfg map[string]any) error {
	if err := decodeConfig(cfg, &r.cfg); err != nil {
		return err
	}
	if len(r.cfg.Addr) == 0 {
		return fmt.Errorf("addr is required")
	}
	if !tableName.MatchString(r.cfg.Table) {
		return fmt.Errorf("invalid table name %q", r.cfg.Table)
	}
	if r.cfg.MaxTries == 0 {
		r.cfg.MaxTries = 1
	}
	return nil
}

func (r *ClickHouseReporter) Start(ctx context.Context) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: r.cfg.Addr,
		Auth: clickhouse.Auth{
			Database: r.cfg.Database,
			Username: r.cfg.Username,
			Password: r.cfg.Password,
		},
		DialTimeout: r.cfg.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createSnapshotTable, r.cfg.Table)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create table: %w", err)
	}
	r.conn = conn
	slog.Info("clickhouse reporter started", "addr", r.cfg.Addr, "table", r.cfg.Table)
	return nil
}

func (r *ClickHouseReporter) Report(ctx context.Context, e *Event) error { return nil }

// snapshotRow lays out one connection in column order.
func snapshotRow(ts time.Time, c ConnectionSnapshot) []any {
	return []any{
		ts, c.ID, c.Type, c.State, c.Addrs[0], c.Addrs[1], c.Session, c.Created,
		c.Packets1, c.Packets2, c.Bytes1, c.Bytes2,
		c.LeftRTT, c.RightRTT, c.AvgLeft, c.AvgRight, c.FullRTT1, c.FullRTT2,
		c.CE1, c.CE2, c.IdleMicro,
	}
}

// ReportSnapshot inserts the snapshot as one batch, retrying the whole batch
// on failure.
func (r *ClickHouseReporter) ReportSnapshot(ctx context.Context, s *Snapshot) error {
	if r.conn == nil {
		return fmt.Errorf("clickhouse reporter not started")
	}
	if len(s.Connections) == 0 {
		return nil
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.insert(ctx, s)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(r.cfg.MaxTries))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	slog.Debug("wrote snapshot to clickhouse", "connections", len(s.Connections))
	return nil
}

func (r *ClickHouseReporter) insert(ctx context.Context, s *Snapshot) error {
	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+r.cfg.Table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, c := range s.Connections {
		if err := batch.Append(snapshotRow(s.Time, c)...); err != nil {
			batch.Abort()
			return backoff.Permanent(fmt.Errorf("failed to append connection %d: %w", c.ID, err))
		}
	}
	return batch.Send()
}

func (r *ClickHouseReporter) Flush(ctx context.Context) error { return nil }

func (r *ClickHouseReporter) Stop(ctx context.Context) error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
