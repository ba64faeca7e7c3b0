package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/daemonrun"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

type showView struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title"`
	Status              string        `json:"status"`
	Source              string        `json:"source,omitempty"`
	Language            string        `json:"language,omitempty"`
	InteractionContext  string        `json:"interactionContext,omitempty"`
	SpeakerReviewNeeded bool          `json:"speakerReviewNeeded"`
	Progress            int           `json:"progress"`
	StatusDetail        string        `json:"statusDetail,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
	CompletedSteps      []string      `json:"completedSteps"`
	Evidence            int           `json:"evidence"`
	NextRun             []plannedView `json:"nextRun"`
	People              []personRow   `json:"people"`
	Tasks               []taskRow     `json:"tasks"`
	Jobs                []jobRow      `json:"jobs"`
}

type personRow struct {
	PersonID    string `json:"personId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Label       string `json:"transcriptKey,omitempty"`
}

type taskRow struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type jobRow struct {
	ID         string `json:"id"`
	Interview  string `json:"interviewId"`
	Status     string `json:"status"`
	ResumeFrom string `json:"resumeFrom,omitempty"`
	Attempts   int    `json:"attempts"`
	Created    string `json:"created"`
	Finished   string `json:"finished,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <interview-id>",
		Short: "Show an interview's progress, people, tasks, and jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			view, err := buildShowView(cmd.Context(), rt, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			renderShow(cmd.OutOrStdout(), view, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func buildShowView(ctx context.Context, rt *daemonrun.Runtime, id string) (showView, error) {
	st := rt.Store
	iv, err := st.GetInterview(ctx, id)
	if err != nil {
		return showView{}, err
	}
	view := showView{
		ID:                  iv.ID,
		Title:               iv.Title,
		Status:              string(iv.Status),
		Source:              iv.SourcePath,
		Language:            iv.Language,
		InteractionContext:  iv.InteractionContext,
		SpeakerReviewNeeded: iv.SpeakerReviewNeeded,
		CompletedSteps:      []string{},
	}
	if analysis, ok, err := st.GetAnalysis(ctx, id); err != nil {
		return view, err
	} else if ok {
		view.Progress = analysis.Progress
		view.StatusDetail = analysis.StatusDetail
		view.LastError = analysis.LastError
	}

	state, ok, err := rt.Orchestrator.States().Load(ctx, id)
	if err != nil {
		return view, err
	}
	if !ok {
		state = &workflow.State{InterviewID: id}
	}
	view.CompletedSteps = stepStrings(state.CompletedSteps)
	for _, p := range rt.Orchestrator.Plan(state, workflow.RunRequest{InterviewID: id}) {
		view.NextRun = append(view.NextRun, plannedView{Step: string(p.Step), Action: p.Action})
	}

	if view.Evidence, err = st.CountEvidence(ctx, id); err != nil {
		return view, err
	}

	links, err := st.ListInterviewPeople(ctx, id)
	if err != nil {
		return view, err
	}
	view.People = make([]personRow, 0, len(links))
	for _, l := range links {
		view.People = append(view.People, personRow{PersonID: l.PersonID, DisplayName: l.DisplayName, Role: l.Role, Label: l.TranscriptKey})
	}

	tasks, err := st.ListTasks(ctx, id)
	if err != nil {
		return view, err
	}
	view.Tasks = make([]taskRow, 0, len(tasks))
	for _, t := range tasks {
		view.Tasks = append(view.Tasks, taskRow{Kind: t.Kind, Title: t.Title, Status: t.Status})
	}

	jobs, err := st.ListJobs(ctx, id, 10)
	if err != nil {
		return view, err
	}
	view.Jobs = jobRows(jobs)
	return view, nil
}

func jobRows(jobs []*store.Job) []jobRow {
	rows := make([]jobRow, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, jobRow{
			ID:         j.ID,
			Interview:  j.InterviewID,
			Status:     string(j.Status),
			ResumeFrom: j.ResumeFrom,
			Attempts:   j.Attempts,
			Created:    formatTime(j.CreatedAt),
			Finished:   formatTimePtr(j.FinishedAt),
			LastError:  j.LastError,
		})
	}
	return rows
}

func renderShow(w io.Writer, v showView, colorize bool) {
	printLines(w, renderSectionHeader(v.Title, colorize)...)
	printLines(w,
		renderStatusLine("ID", statusInfo, v.ID, colorize),
		renderStatusLine("Status", interviewStatusKind(v.Status), fmt.Sprintf("%s (%d%%)", v.Status, v.Progress), colorize),
	)
	if v.StatusDetail != "" {
		printLines(w, renderStatusLine("Detail", statusInfo, v.StatusDetail, colorize))
	}
	if v.LastError != "" {
		printLines(w, renderStatusLine("Last error", statusError, truncate(v.LastError, 100), colorize))
	}
	if v.Source != "" {
		printLines(w, renderStatusLine("Source", statusInfo, v.Source, colorize))
	}
	if v.InteractionContext != "" {
		printLines(w, renderStatusLine("Context", statusInfo, v.InteractionContext, colorize))
	}
	if v.SpeakerReviewNeeded {
		printLines(w, renderStatusLine("Speakers", statusWarn, "Review needed", colorize))
	}
	printLines(w, renderStatusLine("Evidence", statusInfo, strconv.Itoa(v.Evidence)+" units", colorize))

	fmt.Fprintln(w)
	rows := make([][]string, 0, len(v.NextRun))
	for _, p := range v.NextRun {
		rows = append(rows, []string{p.Step, strings.ReplaceAll(p.Action, "_", " ")})
	}
	fmt.Fprintln(w, "Next run")
	fmt.Fprintln(w, renderTable([]string{"Step", "Plan"}, rows, nil))

	if len(v.People) > 0 {
		rows = rows[:0]
		for _, p := range v.People {
			rows = append(rows, []string{p.DisplayName, p.Role, p.Label, p.PersonID})
		}
		fmt.Fprintln(w, "People")
		fmt.Fprintln(w, renderTable([]string{"Name", "Role", "Speaker", "Person ID"}, rows, nil))
	}
	if len(v.Tasks) > 0 {
		rows = rows[:0]
		for _, t := range v.Tasks {
			rows = append(rows, []string{t.Kind, truncate(t.Title, 60), t.Status})
		}
		fmt.Fprintln(w, "Tasks")
		fmt.Fprintln(w, renderTable([]string{"Kind", "Title", "Status"}, rows, nil))
	}
	if len(v.Jobs) > 0 {
		fmt.Fprintln(w, "Jobs")
		printJobs(w, v.Jobs)
	}
}

func printJobs(w io.Writer, jobs []jobRow) {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{j.ID, j.Interview, j.Status, j.ResumeFrom, strconv.Itoa(j.Attempts), j.Created, truncate(j.LastError, 50)})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Job", "Interview", "Status", "From", "Attempts", "Created", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var interviewID string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List queued and finished pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			jobs, err := rt.Store.ListJobs(cmd.Context(), strings.TrimSpace(interviewID), limit)
			if err != nil {
				return err
			}
			rows := jobRows(jobs)
			if jsonOutput {
				return writeJSON(cmd, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			printJobs(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&interviewID, "interview", "i", "", "Only jobs for this interview")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum jobs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}
