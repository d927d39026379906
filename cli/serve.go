package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/bluemesh/api"
	"github.com/user/bluemesh/logger"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	flags := &simFlags{}
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulation behind the HTTP API",
		Long: `Run a simulation and expose its nodes over HTTP until interrupted.
The configured messages are broadcast as with run; more can be sent with
POST /api/nodes/{name}/broadcast.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.API.Host = host
			}
			if port > 0 {
				cfg.API.Port = port
			}

			sim, err := newSimulation(cfg)
			if err != nil {
				return err
			}
			defer sim.Close()

			srv := api.NewServer(sim.net, sim.store)
			srv.EnableMetrics()
			httpServer := &http.Server{
				Addr:              cfg.API.Addr(),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				logger.Info("meshsim", "API listening on http://%s", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("api server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				_, err := sim.run(ctx, cmd.OutOrStdout())
				return err
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&host, "host", "", "Host to listen on (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")
	return cmd
}
