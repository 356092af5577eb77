package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sbinet/npyio"
)

const defaultNPYMaxSamples = 1 << 20

// NPYConfig configures the npy reporter.
type NPYConfig struct {
	// Path of the output file; a .zst suffix compresses it with zstd.
	Path       string `mapstructure:"path"`
	MaxSamples int    `mapstructure:"max_samples"`
}

// NPYReporter collects RTT measurements in microseconds and writes them as a
// one dimensional float64 NumPy array. Only measurement events are kept;
// samples beyond MaxSamples are counted and dropped.
type NPYReporter struct {
	cfg NPYConfig

	mu      sync.Mutex
	samples []float64
	dropped uint64
}

func NewNPYReporter() *NPYReporter {
	return &NPYReporter{cfg: NPYConfig{MaxSamples: defaultNPYMaxSamples}}
}

func (r *NPYReporter) Name() string { return "npy" }

func (r *NPYReporter) Init(cfg map[string]any) error {
	if err := decodeConfig(cfg, &r.cfg); err != nil {
		return err
	}
	if r.cfg.Path == "" {
		return fmt.Errorf("path is required")
	}
	if r.cfg.MaxSamples <= 0 {
		return fmt.Errorf("max_samples must be positive")
	}
	return nil
}

func (r *NPYReporter) Start(ctx context.Context) error {
	slog.Info("npy reporter started", "path", r.cfg.Path, "max_samples", r.cfg.MaxSamples)
	return nil
}

func (r *NPYReporter) Report(ctx context.Context, e *Event) error {
	rtt, ok := e.RTT()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) >= r.cfg.MaxSamples {
		r.dropped++
		return nil
	}
	r.samples = append(r.samples, float64(rtt))
	return nil
}

// Samples returns a copy of what has been collected.
func (r *NPYReporter) Samples() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.samples...)
}

// Flush rewrites the output file with every sample collected so far.
func (r *NPYReporter) Flush(ctx context.Context) error {
	samples := r.Samples()

	f, err := os.Create(r.cfg.Path)
	if err != nil {
		return err
	}
	if err := writeNPY(f, r.cfg.Path, samples); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", r.cfg.Path, err)
	}
	return f.Close()
}

func writeNPY(w io.Writer, path string, samples []float64) error {
	if !strings.HasSuffix(path, ".zst") {
		return npyio.Write(w, samples)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := npyio.Write(zw, samples); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (r *NPYReporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	slog.Info("npy reporter stopped", "path", r.cfg.Path, "samples", len(r.samples), "dropped", r.dropped)
	return nil
}
