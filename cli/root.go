// Package cli implements the meshsim command-line interface using Cobra
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/bluemesh/logger"
)

// simFlags are shared by run and serve
type simFlags struct {
	configPath string
	nodes      int
	topology   string
	messages   int
	duration   string
	traceDir   string
	logLevel   string
}

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "meshsim",
		Short: "meshsim - simulate a radio flooding mesh",
		Long: `meshsim runs many mesh engines over a simulated short-range radio.
Nodes discover each other, exchange configurations and flood messages,
and every delivery is traced so coverage can be reported.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newServeCmd(), newVersionCmd(version))
	return root
}

func (f *simFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().IntVarP(&f.nodes, "nodes", "n", 0, "Number of nodes (overrides config)")
	cmd.Flags().StringVarP(&f.topology, "topology", "t", "", "Link layout: line, ring, full or grid (overrides config)")
	cmd.Flags().IntVarP(&f.messages, "messages", "m", -1, "Number of messages to broadcast (overrides config)")
	cmd.Flags().StringVarP(&f.duration, "duration", "d", "", "How long to run, e.g. 20s (overrides config)")
	cmd.Flags().StringVar(&f.traceDir, "trace-dir", "", "Directory for the trace database and report (overrides config)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "trace, debug, info, warn or error (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	err := newRootCmd(version).Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
