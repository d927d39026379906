package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	flags := &simFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and print its coverage report",
		Example: `  meshsim run --nodes 8 --topology ring --messages 3
  meshsim run --config bluemesh.toml --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			sim, err := newSimulation(cfg)
			if err != nil {
				return err
			}
			defer sim.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := sim.run(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if n := r.Errors(); n > 0 {
				return fmt.Errorf("%d deliveries missing", n)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
