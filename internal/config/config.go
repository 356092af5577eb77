// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/viper"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/core"
)

// Config is the static configuration of one flowscope process. It maps to
// the `flowscope:` root key in YAML.
type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	API       APIConfig        `mapstructure:"api"`
	Capture   CaptureConfig    `mapstructure:"capture"`
	Analyzer  AnalyzerConfig   `mapstructure:"analyzer"`
	EventBus  EventBusConfig   `mapstructure:"eventbus"`
	Reporters []ReporterConfig `mapstructure:"reporters"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout time.Duration     `mapstructure:"batch_timeout"`
}

// ─── Metrics & API ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// APIConfig contains the HTTP snapshot API settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ─── Capture ───

// CaptureConfig selects the packet source. Exactly one of File and
// Interface must be set by the time the engine starts; the CLI flags may
// fill them in.
type CaptureConfig struct {
	File       string        `mapstructure:"file"`
	Interface  string        `mapstructure:"interface"`
	SnapLen    int           `mapstructure:"snap_len"`
	BufferSize string        `mapstructure:"buffer_size"` // e.g. "64MB"
	Timeout    time.Duration `mapstructure:"timeout"`
	FanoutID   int           `mapstructure:"fanout_id"`
	BPFFilter  string        `mapstructure:"bpf_filter"`

	// BufferBytes is BufferSize resolved by ValidateAndApplyDefaults.
	BufferBytes uint64 `mapstructure:"-"`
}

// ─── Analyzer ───

// AnalyzerConfig configures the connection table and measurements.
type AnalyzerConfig struct {
	InitialTableSize int               `mapstructure:"initial_table_size"`
	MaxConnections   int               `mapstructure:"max_connections"`
	Timeouts         TimeoutsConfig    `mapstructure:"timeouts"`
	RTTFilter        RTTFilterConfig   `mapstructure:"rtt_filter"`
	ExtraMeasurement string            `mapstructure:"extra_measurement"`
	ReportInterval   time.Duration     `mapstructure:"report_interval"`
	AggregatesFile   string            `mapstructure:"aggregates_file"`
	Aggregates       []AggregateConfig `mapstructure:"aggregates"`

	// Extra is ExtraMeasurement resolved by ValidateAndApplyDefaults.
	Extra analyzer.ExtraMeasurement `mapstructure:"-"`
}

// TimeoutsConfig holds the sweep grace periods.
type TimeoutsConfig struct {
	Closed       time.Duration `mapstructure:"closed"`
	Establishing time.Duration `mapstructure:"establishing"`
	Inactive     time.Duration `mapstructure:"inactive"`
}

// RTTFilterConfig enables the moving average outlier filter.
type RTTFilterConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Percentage int  `mapstructure:"percentage"`
}

// AggregateConfig is one static aggregate. Multicast groups use Group
// instead of the sides.
type AggregateConfig struct {
	Type  string `mapstructure:"type" yaml:"type" json:"type"`
	Side1 string `mapstructure:"side1" yaml:"side1" json:"side1"`
	Side2 string `mapstructure:"side2" yaml:"side2" json:"side2"`
	Group string `mapstructure:"group" yaml:"group" json:"group"`
}

// Def parses the entry into an analyzer aggregate definition.
func (a AggregateConfig) Def() (analyzer.AggregateDef, error) {
	if strings.ToLower(a.Type) == "multicastgroup" {
		group := a.Group
		if group == "" {
			group = a.Side1
		}
		return analyzer.ParseAggregateDef("multicastgroup", group, "")
	}
	return analyzer.ParseAggregateDef(strings.ToLower(a.Type), a.Side1, a.Side2)
}

// ─── Event bus & reporters ───

// EventBusConfig sizes the partitioned event bus.
type EventBusConfig struct {
	Partitions int `mapstructure:"partitions"`
	QueueSize  int `mapstructure:"queue_size"`
}

// ReporterConfig names a reporter, the events it receives and its own
// settings. Config is decoded by the reporter itself.
type ReporterConfig struct {
	Name   string         `mapstructure:"name"`
	Events []string       `mapstructure:"events"`
	Config map[string]any `mapstructure:"config"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `flowscope: ...`.
type configRoot struct {
	Flowscope Config `mapstructure:"flowscope"`
}

// Load loads configuration from file. Environment variables override file
// values through the key path, e.g. FLOWSCOPE_LOG_LEVEL for
// flowscope.log.level. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Flowscope

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "flowscope." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("flowscope.log.level", "info")
	v.SetDefault("flowscope.log.format", "json")
	v.SetDefault("flowscope.log.outputs.file.enabled", false)
	v.SetDefault("flowscope.log.outputs.file.path", "/var/log/flowscope/flowscope.log")
	v.SetDefault("flowscope.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("flowscope.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("flowscope.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("flowscope.log.outputs.file.rotation.compress", true)
	v.SetDefault("flowscope.log.outputs.loki.enabled", false)
	v.SetDefault("flowscope.log.outputs.loki.batch_size", 100)
	v.SetDefault("flowscope.log.outputs.loki.batch_timeout", "5s")

	// Metrics & API defaults
	v.SetDefault("flowscope.metrics.enabled", true)
	v.SetDefault("flowscope.metrics.listen", ":9091")
	v.SetDefault("flowscope.metrics.path", "/metrics")
	v.SetDefault("flowscope.api.enabled", false)
	v.SetDefault("flowscope.api.listen", ":8080")

	// Capture defaults
	v.SetDefault("flowscope.capture.file", "")
	v.SetDefault("flowscope.capture.interface", "")
	v.SetDefault("flowscope.capture.snap_len", 65535)
	v.SetDefault("flowscope.capture.buffer_size", "64MB")
	v.SetDefault("flowscope.capture.timeout", "100ms")
	v.SetDefault("flowscope.capture.fanout_id", 0)
	v.SetDefault("flowscope.capture.bpf_filter", "")

	// Analyzer defaults
	v.SetDefault("flowscope.analyzer.initial_table_size", 1000)
	v.SetDefault("flowscope.analyzer.max_connections", 0)
	v.SetDefault("flowscope.analyzer.timeouts.closed", "10s")
	v.SetDefault("flowscope.analyzer.timeouts.establishing", "30s")
	v.SetDefault("flowscope.analyzer.timeouts.inactive", "180s")
	v.SetDefault("flowscope.analyzer.rtt_filter.enabled", false)
	v.SetDefault("flowscope.analyzer.rtt_filter.percentage", 10)
	v.SetDefault("flowscope.analyzer.extra_measurement", "none")
	v.SetDefault("flowscope.analyzer.report_interval", "5s")
	v.SetDefault("flowscope.analyzer.aggregates_file", "")

	// Event bus defaults
	v.SetDefault("flowscope.eventbus.partitions", 4)
	v.SetDefault("flowscope.eventbus.queue_size", 4096)

	// Reporter defaults
	v.SetDefault("flowscope.reporters", []map[string]any{
		{"name": "console", "events": []string{"*"}, "config": map[string]any{"format": "text"}},
	})
}

// ValidateAndApplyDefaults validates configuration and resolves derived
// values. Static aggregates from AggregatesFile are appended to Aggregates.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.Loki.Enabled && cfg.Log.Outputs.Loki.Endpoint == "" {
		return fmt.Errorf("%w: log.outputs.loki.endpoint is required when loki is enabled", core.ErrConfigInvalid)
	}

	// ── Capture ──
	if cfg.Capture.File != "" && cfg.Capture.Interface != "" {
		return fmt.Errorf("%w: capture.file and capture.interface are mutually exclusive", core.ErrConfigInvalid)
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snap_len must be positive", core.ErrConfigInvalid)
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(cfg.Capture.BufferSize)); err != nil {
		return fmt.Errorf("%w: capture.buffer_size %q: %v", core.ErrConfigInvalid, cfg.Capture.BufferSize, err)
	}
	cfg.Capture.BufferBytes = size.Bytes()

	// ── Analyzer ──
	a := &cfg.Analyzer
	if a.InitialTableSize <= 0 {
		a.InitialTableSize = 1000
	}
	if a.MaxConnections < 0 {
		return fmt.Errorf("%w: analyzer.max_connections must not be negative", core.ErrConfigInvalid)
	}
	if a.Timeouts.Closed <= 0 || a.Timeouts.Establishing <= 0 || a.Timeouts.Inactive <= 0 {
		return fmt.Errorf("%w: analyzer.timeouts must be positive", core.ErrConfigInvalid)
	}
	if a.RTTFilter.Enabled && (a.RTTFilter.Percentage <= 0 || a.RTTFilter.Percentage > 100) {
		return fmt.Errorf("%w: analyzer.rtt_filter.percentage must be in 1..100", core.ErrConfigInvalid)
	}
	if a.ReportInterval <= 0 {
		return fmt.Errorf("%w: analyzer.report_interval must be positive", core.ErrConfigInvalid)
	}
	extra, err := analyzer.ParseExtraMeasurement(a.ExtraMeasurement)
	if err != nil {
		return err
	}
	a.Extra = extra

	if a.AggregatesFile != "" {
		more, err := LoadAggregates(a.AggregatesFile)
		if err != nil {
			return err
		}
		a.Aggregates = append(a.Aggregates, more...)
	}
	for i, agg := range a.Aggregates {
		if _, err := agg.Def(); err != nil {
			return fmt.Errorf("analyzer.aggregates[%d]: %w", i, err)
		}
	}

	// ── Event bus ──
	if cfg.EventBus.Partitions <= 0 {
		cfg.EventBus.Partitions = 1
	}
	if cfg.EventBus.QueueSize <= 0 {
		return fmt.Errorf("%w: eventbus.queue_size must be positive", core.ErrConfigInvalid)
	}

	// ── Reporters ──
	seen := make(map[string]bool, len(cfg.Reporters))
	for i, r := range cfg.Reporters {
		if r.Name == "" {
			return fmt.Errorf("%w: reporters[%d].name is required", core.ErrConfigInvalid, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate reporter %q", core.ErrConfigInvalid, r.Name)
		}
		seen[r.Name] = true
		if len(r.Events) == 0 {
			cfg.Reporters[i].Events = []string{"*"}
		}
	}
	return nil
}
