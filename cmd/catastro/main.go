package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "catastro",
		Short:         "Cadastre parcel enrichment",
		Long:          `Adds construction year and street address to tables of cadastral reference codes and writes them into GeoJSON parcel layers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default catastro.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "log file (overrides log.file)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(createProcessCmd(opts))
	rootCmd.AddCommand(createMergeCmd(opts, false))
	rootCmd.AddCommand(createMergeCmd(opts, true))
	rootCmd.AddCommand(createLookupCmd(opts))
	rootCmd.AddCommand(createServeCmd(opts))

	return rootCmd
}
