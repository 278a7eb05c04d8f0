package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"region-latency/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := newRootCommand(viper.New())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "latency",
		Short:         "Measure and compare request latency across deployment regions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	if err := config.Bind(root, v); err != nil {
		return nil, err
	}

	// withApp builds the app from the resolved config and restores saved metrics.
	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.service.Load(cmd.Context()); err != nil {
				return err
			}
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newProbeCommand(withApp),
		newListCommand(withApp),
		newSummaryCommand(withApp),
		newExportCommand(withApp),
		newClearCommand(withApp),
		newRegionCommand(v),
	)
	return root, nil
}
