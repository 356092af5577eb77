package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/engine"
	"firestige.xyz/flowscope/internal/log"
)

var analyzeCmd = newAnalyzeCmd()

func newAnalyzeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a capture file or a live interface",
		Long: `Run the analyzer on a pcap/pcapng file or on a live interface.

Flags override the corresponding configuration values.

Examples:
  flowscope analyze -r trace.pcapng
  flowscope analyze -c flowscope.yml -i eth0 --filter "udp port 443"
  flowscope analyze -i eth0 --duration 10m --report-interval 1s`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runAnalyze(cmd); err != nil {
				exitWithError("analyze failed", err)
			}
		},
	}
	c.Flags().StringVarP(&analyzeRead, "read", "r", "", "read packets from a pcap or pcapng file")
	c.Flags().StringVarP(&analyzeInterface, "interface", "i", "", "capture live from an interface")
	c.Flags().StringVar(&analyzeFilter, "filter", "", "BPF filter expression")
	c.Flags().DurationVar(&analyzeDuration, "duration", 0, "stop after this long (0 runs until done)")
	c.Flags().DurationVar(&analyzeReportInterval, "report-interval", 0, "periodic report interval")
	c.MarkFlagsMutuallyExclusive("read", "interface")
	return c
}

var (
	analyzeRead           string
	analyzeInterface      string
	analyzeFilter         string
	analyzeDuration       time.Duration
	analyzeReportInterval time.Duration
)

// applyFlags overrides the loaded configuration with the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("read") {
		cfg.Capture.File, cfg.Capture.Interface = analyzeRead, ""
	}
	if flags.Changed("interface") {
		cfg.Capture.Interface, cfg.Capture.File = analyzeInterface, ""
	}
	if flags.Changed("filter") {
		cfg.Capture.BPFFilter = analyzeFilter
	}
	if flags.Changed("report-interval") {
		if analyzeReportInterval <= 0 {
			return fmt.Errorf("%w: --report-interval must be positive", core.ErrConfigInvalid)
		}
		cfg.Analyzer.ReportInterval = analyzeReportInterval
	}
	if analyzeDuration < 0 {
		return fmt.Errorf("%w: --duration must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Capture.File == "" && cfg.Capture.Interface == "" {
		return fmt.Errorf("%w: one of --read or --interface is required", core.ErrConfigInvalid)
	}
	return nil
}

func runAnalyze(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer log.Close()

	e, err := engine.New(cfg, engine.Options{Duration: analyzeDuration})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("flowscope starting", "file", cfg.Capture.File, "interface", cfg.Capture.Interface,
		"filter", cfg.Capture.BPFFilter, "reporters", len(cfg.Reporters))
	return e.Run(ctx)
}
