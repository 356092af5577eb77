// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowscope",
	Short: "flowscope - passive network flow and latency analyzer",
	Long: `flowscope observes live or captured traffic and, without taking part in it,
tracks connections (TCP, UDP, DNS, CoAP, QUIC, ICMP, SCTP and configured
aggregates) and measures their round-trip times, spin bit behaviour, ECN marks
and loss signals.

Measurements are published as events to the console, Kafka, NATS or a NumPy
file, and periodic connection table snapshots are served over HTTP and can be
stored in ClickHouse.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults are used when empty)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
