package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitSuccess = 0
	exitError   = 1
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chaos-engine",
		Short:         "Fault injection, resilient routing and SLO governance for a RAG pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $MIRADOR_CHAOS_CONFIG)")
	root.AddCommand(newServeCmd(), newReplayCmd(), newSLOCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chaos-engine: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
