package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gleaner/internal/daemonctl"
	"gleaner/internal/daemonrun"
	"gleaner/internal/logging"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the background daemon",
	}
	cmd.AddCommand(newDaemonRunCommand(ctx))
	cmd.AddCommand(newDaemonStartCommand(ctx))
	cmd.AddCommand(newDaemonStopCommand(ctx))
	cmd.AddCommand(newDaemonLogsCommand(ctx))
	cmd.AddCommand(newDaemonRetryCommand(ctx))
	return cmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var level string
			if ctx.logLevelFlag != nil {
				level = *ctx.logLevelFlag
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: level, Development: development})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath()}
			if ctx.logLevelFlag != nil {
				opts.LogLevel = *ctx.logLevelFlag
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), cfg, exe, opts, wait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "How long to wait for the daemon API")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pid, killed, err := daemonctl.Stop(cmd.Context(), cfg, grace)
			out := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon not running")
				return nil
			}
			if err != nil {
				return err
			}
			if killed {
				fmt.Fprintf(out, "Daemon (pid %d) did not stop in %s and was killed\n", pid, grace)
				return nil
			}
			fmt.Fprintf(out, "Daemon (pid %d) stopped\n", pid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 30*time.Second, "Time allowed for running jobs to stop before killing")
	return cmd
}

func newDaemonLogsCommand(ctx *commandContext) *cobra.Command {
	var q daemonctl.LogQuery
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.daemonClient(cmd.Context())
			if err != nil {
				return err
			}
			if client == nil {
				cfg, _ := ctx.ensureConfig()
				return fmt.Errorf("daemon not running; file logs are in %s", cfg.Paths.LogDir)
			}
			out := cmd.OutOrStdout()
			q.Tail = !q.Follow
			printed := false
			for {
				resp, err := client.Logs(cmd.Context(), q)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, evt := range resp.Events {
					fmt.Fprintln(out, formatLogEvent(evt))
					printed = true
				}
				if !q.Follow {
					if !printed {
						fmt.Fprintln(out, "No log entries available")
					}
					return nil
				}
				q.Since = resp.Next
			}
		},
	}
	cmd.Flags().IntVarP(&q.Limit, "lines", "n", 50, "Number of events to show")
	cmd.Flags().BoolVarP(&q.Follow, "follow", "f", false, "Keep printing new events")
	cmd.Flags().StringVarP(&q.Interview, "interview", "i", "", "Only events for this interview")
	cmd.Flags().StringVar(&q.Component, "component", "", "Only events from this component")
	return cmd
}

func formatLogEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("15:04:05"))
	b.WriteString(" ")
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(evt.Level))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteString(" " + evt.Message)
	if evt.InterviewID != "" {
		b.WriteString(" interview=" + evt.InterviewID)
	}
	if evt.Step != "" {
		b.WriteString(" step=" + evt.Step)
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, evt.Fields[k])
	}
	return b.String()
}

func newDaemonRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs (all when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.daemonClient(cmd.Context())
			if err != nil {
				return err
			}
			var n int64
			if client != nil {
				n, err = client.Retry(cmd.Context(), args...)
			} else {
				rt, rtErr := ctx.ensureRuntime(cmd.Context())
				if rtErr != nil {
					return rtErr
				}
				n, err = rt.Store.RetryFailedJobs(cmd.Context(), args...)
			}
			if err != nil {
				return err
			}
			printRetried(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func printRetried(w io.Writer, n int64) {
	switch n {
	case 0:
		fmt.Fprintln(w, "No failed jobs to retry")
	case 1:
		fmt.Fprintln(w, "Requeued 1 job")
	default:
		fmt.Fprintf(w, "Requeued %d jobs\n", n)
	}
}
