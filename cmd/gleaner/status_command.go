package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/config"
	"gleaner/internal/daemon"
	"gleaner/internal/store"
)

type statusView struct {
	Daemon     *daemon.StatusResponse `json:"daemon,omitempty"`
	Jobs       daemon.JobCounts       `json:"jobs"`
	Interviews []interviewRow         `json:"interviews"`
}

type interviewRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"currentStep,omitempty"`
	Updated     string `json:"updated"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and recent interviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			view, err := buildStatusView(cmd.Context(), ctx, rt.Store, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printLines(out, renderSectionHeader("Daemon", colorize)...)
			printLines(out, daemonLines(view.Daemon, view.Jobs, colorize)...)
			fmt.Fprintln(out)
			printLines(out, renderSectionHeader("Configuration", colorize)...)
			printLines(out, configLines(rt.Config, colorize)...)
			fmt.Fprintln(out)
			printLines(out, renderSectionHeader("Recent interviews", colorize)...)
			printInterviews(out, view.Interviews)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of recent interviews to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func buildStatusView(ctx context.Context, cmdCtx *commandContext, st *store.Store, limit int) (statusView, error) {
	var view statusView
	client, err := cmdCtx.daemonClient(ctx)
	if err != nil {
		return view, err
	}
	if client != nil {
		if view.Daemon, err = client.Status(ctx); err != nil {
			return view, err
		}
		view.Jobs = view.Daemon.Workflow.Jobs
	} else {
		stats, err := st.JobStats(ctx)
		if err != nil {
			return view, err
		}
		view.Jobs = daemon.JobCounts{Pending: stats.Pending, Running: stats.Running, Done: stats.Done, Failed: stats.Failed}
	}

	interviews, err := st.ListInterviews(ctx, limit)
	if err != nil {
		return view, err
	}
	view.Interviews = make([]interviewRow, 0, len(interviews))
	for _, iv := range interviews {
		row := interviewRow{
			ID:      iv.ID,
			Title:   iv.Title,
			Status:  string(iv.Status),
			Updated: formatTime(iv.UpdatedAt),
		}
		if analysis, ok, err := st.GetAnalysis(ctx, iv.ID); err == nil && ok {
			row.Progress = analysis.Progress
			row.CurrentStep = analysis.CurrentStep
		}
		view.Interviews = append(view.Interviews, row)
	}
	return view, nil
}

func daemonLines(status *daemon.StatusResponse, jobs daemon.JobCounts, colorize bool) []string {
	lines := make([]string, 0, 8)
	if status == nil || !status.Running {
		lines = append(lines, renderStatusLine("Gleaner", statusWarn, "Not running (run `gleaner daemon start`)", colorize))
	} else {
		lines = append(lines, renderStatusLine("Gleaner", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
		if status.NextSweep != nil {
			lines = append(lines, renderStatusLine("Next sweep", statusInfo, formatTime(*status.NextSweep), colorize))
		}
		if status.Workflow.LastError != "" {
			lines = append(lines, renderStatusLine("Last error", statusError, truncate(status.Workflow.LastError, 80), colorize))
		}
		names := make([]string, 0, len(status.Workflow.Health))
		for name := range status.Workflow.Health {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h := status.Workflow.Health[name]
			kind, detail := statusOK, "Ready"
			if !h.Ready {
				kind, detail = statusError, h.Detail
			}
			lines = append(lines, renderStatusLine(healthLabel(name), kind, detail, colorize))
		}
	}

	jobKind := statusOK
	switch {
	case jobs.Failed > 0:
		jobKind = statusError
	case jobs.Pending > 0 || jobs.Running > 0:
		jobKind = statusWarn
	}
	summary := fmt.Sprintf("%d pending, %d running, %d done, %d failed", jobs.Pending, jobs.Running, jobs.Done, jobs.Failed)
	lines = append(lines, renderStatusLine("Jobs", jobKind, summary, colorize))
	return lines
}

func healthLabel(name string) string {
	switch name {
	case "llm":
		return "LLM"
	case "":
		return "Dependency"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func configLines(cfg *config.Config, colorize bool) []string {
	lines := make([]string, 0, 5)
	if strings.TrimSpace(cfg.GetLLM().APIKey) != "" {
		lines = append(lines, renderStatusLine("LLM", statusOK, cfg.GetLLM().Model, colorize))
	} else {
		lines = append(lines, renderStatusLine("LLM", statusError, "API key missing (set llm.api_key)", colorize))
	}
	if strings.TrimSpace(cfg.Embeddings.APIKey) != "" {
		lines = append(lines, renderStatusLine("Embeddings", statusOK, cfg.Embeddings.Model, colorize))
	} else {
		lines = append(lines, renderStatusLine("Embeddings", statusInfo, "Local fingerprints", colorize))
	}
	if cfg.Transcription.Enabled {
		lines = append(lines, renderStatusLine("Transcription", statusOK, "WhisperX "+cfg.Transcription.Model, colorize))
	} else {
		lines = append(lines, renderStatusLine("Transcription", statusInfo, "Disabled", colorize))
	}
	if cfg.Scheduler.Enabled {
		lines = append(lines, renderStatusLine("Deferred sweep", statusOK, cfg.Scheduler.Cron, colorize))
	} else {
		lines = append(lines, renderStatusLine("Deferred sweep", statusInfo, "Disabled", colorize))
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, renderStatusLine("Notifications", statusOK, "Configured", colorize))
	} else {
		lines = append(lines, renderStatusLine("Notifications", statusWarn, "Not configured", colorize))
	}
	return lines
}

func printInterviews(w io.Writer, rows []interviewRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No interviews yet")
		return
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.ID, truncate(r.Title, 40), r.Status, strconv.Itoa(r.Progress) + "%", r.CurrentStep, r.Updated})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"ID", "Title", "Status", "Progress", "Step", "Updated"},
		table,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}
