package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/flowscope/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate the configuration file given with --config, including
the static aggregates file it references, without capturing anything.

Examples:
  flowscope validate -c flowscope.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func runValidateCommand() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(summary(cfg))
}

// summary describes a valid configuration in a few lines.
func summary(cfg *config.Config) string {
	var b strings.Builder
	source := "none (use --read or --interface)"
	switch {
	case cfg.Capture.File != "":
		source = "file " + cfg.Capture.File
	case cfg.Capture.Interface != "":
		source = "interface " + cfg.Capture.Interface
	}
	fmt.Fprintf(&b, "VALID: capture from %s\n", source)
	fmt.Fprintf(&b, "  analyzer: extra measurement %s, report every %s, %d static aggregate(s)\n",
		cfg.Analyzer.Extra, cfg.Analyzer.ReportInterval, len(cfg.Analyzer.Aggregates))
	names := make([]string, 0, len(cfg.Reporters))
	for _, r := range cfg.Reporters {
		names = append(names, fmt.Sprintf("%s[%s]", r.Name, strings.Join(r.Events, ",")))
	}
	fmt.Fprintf(&b, "  reporters: %s\n", strings.Join(names, " "))
	if cfg.Metrics.Enabled {
		fmt.Fprintf(&b, "  metrics: %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	if cfg.API.Enabled {
		fmt.Fprintf(&b, "  api: %s\n", cfg.API.Listen)
	}
	return b.String()
}
