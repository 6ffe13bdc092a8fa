// Command taskpilot is the taskpilot CLI client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskpilot/client"
	"github.com/GoCodeAlone/taskpilot/internal/version"
)

// app carries the resolved global flags into subcommands.
type app struct {
	server   string
	token    string
	timezone string

	client *client.Client
	loc    *time.Location
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "taskpilot",
		Short:         "taskpilot - tasks and an assistant from the terminal",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.server, "server", envOr("TASKPILOT_SERVER", client.DefaultServer), "taskpilot server URL")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("TASKPILOT_TOKEN"), "JWT auth token")
	root.PersistentFlags().StringVar(&a.timezone, "tz", os.Getenv("TASKPILOT_TIMEZONE"), "timezone for due dates (default: local)")

	root.AddCommand(
		versionCmd(),
		a.statusCmd(),
		a.tasksCmd(),
		a.chatCmd(),
	)
	return root
}

func (a *app) init() error {
	a.loc = time.Local
	if a.timezone != "" {
		loc, err := time.LoadLocation(a.timezone)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", a.timezone, err)
		}
		a.loc = loc
	}
	a.client = client.New(a.server, a.token)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "taskpilot %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status:  %s\n", result["status"])
			fmt.Fprintf(out, "version: %s\n", result["version"])
			return nil
		},
	}
}
