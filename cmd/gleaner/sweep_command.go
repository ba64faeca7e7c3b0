package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gleaner/internal/daemon"
	"gleaner/internal/scheduler"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Queue deferred steps for recently processed interviews now",
		Long: "Runs the deferred-batch sweep immediately. With a daemon running the sweep happens\n" +
			"there; otherwise jobs are queued locally for the next daemon start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.daemonClient(cmd.Context())
			if err != nil {
				return err
			}
			var resp daemon.SweepResponse
			if client != nil {
				remote, err := client.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				resp = *remote
			} else {
				rt, err := ctx.ensureRuntime(cmd.Context())
				if err != nil {
					return err
				}
				sched, err := scheduler.New(rt.Config, rt.Store, rt.Notifier, rt.Logger)
				if err != nil {
					return err
				}
				report, err := sched.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				resp = daemon.SweepResponse{
					Scanned:   report.Scanned,
					Eligible:  report.Eligible,
					Enqueued:  report.Enqueued,
					Duplicate: report.Duplicate,
					Busy:      report.Busy,
					Capped:    report.Capped,
					Bucket:    report.Bucket,
				}
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d interviews, %d eligible\n", resp.Scanned, resp.Eligible)
			fmt.Fprintf(out, "Queued %d jobs (%d already queued, %d busy)\n", resp.Enqueued, resp.Duplicate, resp.Busy)
			if resp.Capped {
				fmt.Fprintln(out, "Batch limit reached; remaining interviews go in the next sweep")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
