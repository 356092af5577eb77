package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/flowscope/internal/core"
)

// Reporter delivers events somewhere outside the process. Report is called
// from event bus partitions, so implementations must be safe for concurrent
// use.
type Reporter interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Report(ctx context.Context, e *Event) error
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SnapshotReporter is implemented by reporters that also take the periodic
// connection table snapshot.
type SnapshotReporter interface {
	ReportSnapshot(ctx context.Context, s *Snapshot) error
}

// Factory creates an uninitialised reporter.
type Factory func() Reporter

var factories = map[string]Factory{
	"console":    func() Reporter { return NewConsoleReporter() },
	"kafka":      func() Reporter { return NewKafkaReporter() },
	"nats":       func() Reporter { return NewNATSReporter() },
	"npy":        func() Reporter { return NewNPYReporter() },
	"clickhouse": func() Reporter { return NewClickHouseReporter() },
}

// Names lists the built-in reporters.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New creates and initialises a reporter by name.
func New(name string, cfg map[string]any) (Reporter, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrReporterNotFound, name)
	}
	r := f()
	if err := r.Init(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrReporterInitFailed, name, err)
	}
	return r, nil
}

// decodeConfig fills out from a reporter's config map. Strings are
// converted where the target type needs it, durations included.
func decodeConfig(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
