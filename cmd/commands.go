package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"region-latency/internal/config"
	"region-latency/internal/core"
	"region-latency/internal/probe"
)

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newProbeCommand(withApp appRunner) *cobra.Command {
	var (
		repeat   int
		interval time.Duration
		parallel bool
	)
	cmd := &cobra.Command{
		Use:   "probe [probe names...]",
		Short: "Run probes and record their latency",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.registerProbes(); err != nil {
				return err
			}
			a.serveMetrics(cmd.Context())

			names := args
			if len(names) == 0 {
				names = a.service.Probes()
			}
			out := cmd.OutOrStdout()

			var failed error
			for i := 0; i < repeat; i++ {
				if i > 0 && interval > 0 {
					select {
					case <-time.After(interval):
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					}
				}

				if parallel && len(args) == 0 {
					results, err := a.service.RunAll(cmd.Context())
					for _, res := range results {
						printResult(out, res)
					}
					if err != nil {
						printFailure(cmd.ErrOrStderr(), err)
						failed = errors.Join(failed, err)
					}
					continue
				}

				for _, name := range names {
					res, err := a.service.Run(cmd.Context(), name)
					if errors.Is(err, core.ErrUnknownProbe) {
						return err
					}
					if err != nil {
						printFailure(cmd.ErrOrStderr(), err)
						failed = errors.Join(failed, err)
					}
					printResult(out, res)
				}
			}

			if a.cfg.MetricsAddr != "" {
				a.log.Info("probes finished, serving metrics until interrupted")
				<-cmd.Context().Done()
			}
			return failed
		}),
	}
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "number of rounds")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between rounds")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "run all probes of a round concurrently")
	return cmd
}

func printResult(w io.Writer, res core.ProbeResult) {
	if res.Metric.Name == "" {
		return
	}
	m := res.Metric
	fmt.Fprintf(w, "%-28s %10s  %-17s %s\n", m.Name, core.FormatValue(m.Millis()), core.Rate(m.Millis()), m.Region)
	if res.TTFB != nil {
		fmt.Fprintf(w, "  %-26s %10s\n", "ttfb", core.FormatValue(res.TTFB.Millis()))
	}
}

// printFailure reports err, with the duration of the attempt when the
// request never got a response.
func printFailure(w io.Writer, err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			printFailure(w, e)
		}
		return
	}
	var reqErr *probe.RequestError
	if errors.As(err, &reqErr) {
		m := reqErr.Metric()
		fmt.Fprintf(w, "%-28s %10s  %v\n", m.Name, core.FormatValue(m.Millis()), reqErr.Err)
		return
	}
	fmt.Fprintf(w, "%v\n", err)
}

// selectMetrics applies the shared --filter and --category flags.
func selectMetrics(metrics []core.Metric, filter, category string) ([]core.Metric, error) {
	if category != "" {
		c, err := core.ParseCategory(category)
		if err != nil {
			return nil, err
		}
		metrics = core.ByCategory(metrics, c)
	}
	return core.Filter(metrics, filter), nil
}

func newListCommand(withApp appRunner) *cobra.Command {
	var (
		filter   string
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded metrics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			metrics, err := selectMetrics(a.registry.Metrics(), filter, category)
			if err != nil {
				return err
			}
			metrics = core.Recent(metrics, limit)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tNAME\tVALUE\tRATING\tREGION")
			for _, m := range metrics {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(m.Time()), m.Name, core.FormatValue(m.Millis()), core.Rate(m.Millis()), m.Region)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only names containing this text")
	cmd.Flags().StringVar(&category, "category", "", "page-load, server-action, api-route, database-api or other")
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the most recent entries")
	return cmd
}

func newSummaryCommand(withApp appRunner) *cobra.Command {
	var (
		filter string
		window int
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show latest, mean, min and max per category",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			all := core.Filter(a.registry.Metrics(), filter)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tCOUNT\tLATEST\tMEAN\tMIN\tMAX\tRATING\tUPDATED")
			for _, c := range append(core.Categories, core.CategoryOther) {
				s := core.Summarize(core.Recent(core.ByCategory(all, c), window))
				if s.Count == 0 {
					fmt.Fprintf(tw, "%s\t0\t-\t-\t-\t-\t-\t-\n", c)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					c,
					humanize.Comma(int64(s.Count)),
					core.FormatValue(s.Latest.Millis()),
					core.FormatValue(s.Mean),
					core.FormatValue(s.Min),
					core.FormatValue(s.Max),
					core.Rate(s.Latest.Millis()),
					humanize.Time(s.Latest.Time()),
				)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only names containing this text")
	cmd.Flags().IntVar(&window, "window", 0, "aggregate only the most recent N entries per category (0 = all)")
	return cmd
}

func newExportCommand(withApp appRunner) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded metrics as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			w := cmd.OutOrStdout()
			if output != "-" {
				if output == "" {
					output = fmt.Sprintf("performance-metrics-%d.%s", time.Now().UnixMilli(), format)
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "json":
				data, err := a.service.Export()
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(w, data); err != nil {
					return err
				}
			case "csv":
				if err := core.WriteCSV(w, a.registry.Metrics()); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			if output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout, empty for a timestamped name")
	return cmd
}

func newClearCommand(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded metrics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.service.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "metrics cleared")
			return nil
		}),
	}
}

func newRegionCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "region",
		Short: "Print the region and deployment measurements are tagged with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "region:     %s\ndeployment: %s\n", cfg.Region, cfg.ShortDeployment())
			return nil
		},
	}
}
