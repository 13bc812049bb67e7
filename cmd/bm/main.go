package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/botminter/internal/daemon"
)

func main() {
	log, closer := newCLILogger()
	root := buildRoot(os.Stdout, &command{log: log})
	err := root.Execute()
	_ = closer.Close()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRoot creates the command tree writing to out.
func buildRoot(out io.Writer, c *command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c.out = out
	c.global = globalFlags

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createStartCommand(c),
		createStopCommand(c, &StopFlags{}),
		createStatusCommand(c),
		createDaemonCommand(c, &DaemonStartFlags{}),
		createDaemonRunCommand(c, &DaemonRunFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "bm",
		Short: "Run a team of coding agents on this machine",
		Long: `bm supervises the worker processes of a team: it starts one worker per
member in the member's workspace, stops them, reports their state, and can
run a background daemon that launches the team whenever GitHub activity
arrives.

Examples:
  bm start -t alpha
  bm status
  bm stop --force
  bm daemon start --mode poll --interval 120`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config.yml (default $BM_HOME/config.yml or ~/.botminter/config.yml)")
	root.PersistentFlags().StringVarP(&flags.Team, "team", "t", "", "team name (default: default_team from the config)")
	return root
}

func createStartCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start every member that is not already running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context())
		},
	}
}

func createStopCommand(c *command, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the team's members",
		Long: `Stop asks each worker to wind down and waits up to 60s. Workers that do
not stop in time are reported and left running; use --force to kill them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), StopFlags{Force: flags.Force})
		},
	}
	cmd.Flags().BoolVarP(&flags.Force, "force", "f", false, "kill workers immediately")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show member states and clean up crashed entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context())
		},
	}
}

func createDaemonCommand(c *command, flags *DaemonStartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background event daemon",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in webhook or poll mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DaemonStart(*flags)
		},
	}
	start.Flags().StringVar(&flags.Mode, "mode", daemon.ModeWebhook, "webhook or poll")
	start.Flags().IntVar(&flags.Port, "port", daemon.DefaultPort, "webhook listen port")
	start.Flags().IntVar(&flags.Interval, "interval", int(daemon.DefaultInterval.Seconds()), "poll interval in seconds")
	start.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9090)")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DaemonStop()
		},
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.DaemonStatus()
		},
	}
	cmd.AddCommand(start, stop, status)
	return cmd
}

func createDaemonRunCommand(c *command, flags *DaemonRunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "daemon-run",
		Short:  "Run the daemon in the foreground (used by daemon start)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return c.DaemonRun(ctx, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Mode, "mode", daemon.ModeWebhook, "webhook or poll")
	cmd.Flags().IntVar(&flags.Port, "port", daemon.DefaultPort, "webhook listen port")
	cmd.Flags().IntVar(&flags.Interval, "interval", int(daemon.DefaultInterval.Seconds()), "poll interval in seconds")
	cmd.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	return cmd
}
