package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/config"
	"github.com/catastro-enricher/internal/etl"
	"github.com/catastro-enricher/internal/refcat"
	"github.com/catastro-enricher/internal/web"
	"github.com/catastro-enricher/internal/web/handlers"
)

// DefaultOutput is written by process when no output path is given
const DefaultOutput = "resultado.csv"

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func addLookupFlags(cmd *cobra.Command, f *lookupFlags) {
	cmd.Flags().DurationVar(&f.delay, "delay", etl.DefaultDelay, "pause between remote lookups")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "timeout of one remote lookup (default lookup.timeout)")
}

// createProcessCmd creates the process subcommand
func createProcessCmd(opts *globalOptions) *cobra.Command {
	flags := &lookupFlags{}

	cmd := &cobra.Command{
		Use:   "process <input-table> [output-table]",
		Short: "Add construction year and address to every RefCat row",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, opts, func(c *config.Config) { flags.apply(c, cmd.Flags().Changed) })
			if err != nil {
				return err
			}
			defer a.Close()

			out := DefaultOutput
			if len(args) == 2 {
				out = args[1]
			}

			stats, err := a.pipeline.ProcessFile(ctx, args[0], out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Procesadas %d filas (%d con año, %d consultas, %d fallidas). Resultados en %s\n",
				stats.Rows, stats.Resolved, stats.Lookups, stats.Failed, out)
			return nil
		},
	}
	addLookupFlags(cmd, flags)
	return cmd
}

// createMergeCmd creates merge-geojson, or update-json when yearOnly is set
func createMergeCmd(opts *globalOptions, yearOnly bool) *cobra.Command {
	flags := &lookupFlags{}

	use, short := "merge-geojson <input-table> <input-geojson>", "Write years and streets into a GeoJSON parcel layer"
	if yearOnly {
		use, short = "update-json <input-table> <input-json>", "Write only construction years into a GeoJSON parcel layer"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, opts, func(c *config.Config) { flags.apply(c, cmd.Flags().Changed) })
			if err != nil {
				return err
			}
			defer a.Close()

			gopts := web.FromConfig(a.cfg).MergeOptions
			if yearOnly {
				gopts = web.FromConfig(a.cfg).YearOptions
			}

			outPath, res, err := a.pipeline.MergeFile(ctx, args[0], args[1], gopts, yearOnly)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Actualizadas %d de %d parcelas (%d sin coincidencia, %d sin referencia). Archivo: %s\n",
				res.Stats.Matched, res.Stats.Features, res.Stats.Unmatched, res.Stats.Malformed, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.refcatKey, "refcat-key", "", "feature property holding the reference code (default geojson.refcat_key)")
	return cmd
}

// createLookupCmd creates a diagnostic command resolving codes one by one
func createLookupCmd(opts *globalOptions) *cobra.Command {
	flags := &lookupFlags{}

	cmd := &cobra.Command{
		Use:   "lookup <refcat>...",
		Short: "Resolve reference codes and print year and address",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, opts, func(c *config.Config) { flags.apply(c, cmd.Flags().Changed) })
			if err != nil {
				return err
			}
			defer a.Close()

			codes := make([]refcat.Code, len(args))
			for i, arg := range args {
				codes[i] = refcat.Code(arg)
			}
			results, err := a.pipeline.Lookup(ctx, codes)

			out := cmd.OutOrStdout()
			for i, res := range results {
				if res.Outcome == etl.OutcomeEmpty {
					fmt.Fprintf(out, "%q\tRefCat vacía\n", args[i])
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", res.Code, res.Record.YearString(), res.Record.Address)
			}
			return err
		},
	}
	addLookupFlags(cmd, flags)
	return cmd
}

// createServeCmd creates the upload front end command
func createServeCmd(opts *globalOptions) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, opts, func(c *config.Config) {
				if cmd.Flags().Changed("host") {
					c.Web.Host = host
				}
				if cmd.Flags().Changed("port") {
					c.Web.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			deps := web.Deps{
				Pipeline: a.pipeline,
				Log:      a.log,
				Metrics:  a.metrics,
				Gatherer: a.registry,
			}
			// a nil *audit.Tracker must not become a non-nil interface
			var runs handlers.RunLister
			if a.tracker != nil {
				runs = a.tracker
			}
			deps.Runs = runs

			a.log.Info("Interfaz web", zap.String("addr", a.cfg.Web.Addr()), zap.Bool("audit", a.tracker != nil))
			return web.NewServer(web.FromConfig(a.cfg), deps).Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default web.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default web.port)")
	return cmd
}
