package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

type globalOptions struct {
	verbose bool
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	options := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cachestat",
		Short: "Exercise a span cache and report its statistics",
		Long: `cachestat drives a synthetic allocation workload through a span cache and
prints the resulting central free list and transfer cache statistics.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&options.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&options.jsonOut, "json", false, "Output in JSON format")

	rootCmd.AddCommand(newRunCmd(options))
	return rootCmd
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
