package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gleaner/internal/daemon"
	"gleaner/internal/inbox"
	"gleaner/internal/services"
	"gleaner/internal/store"
	"gleaner/internal/workflow"
)

type runOptions struct {
	file         string
	from         string
	skip         []string
	instructions string
	queue        bool
	deferSteps   bool
	jsonOutput   bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [interview-id]",
		Short: "Run the pipeline for an interview",
		Long: "Run the pipeline for an existing interview, or upload a transcript or media file with --file.\n" +
			"Completed steps are skipped unless --from forces a rerun from that step.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" && strings.TrimSpace(opts.file) == "" {
				return fmt.Errorf("an interview id or --file is required")
			}
			if id != "" && strings.TrimSpace(opts.file) != "" {
				return fmt.Errorf("pass either an interview id or --file, not both")
			}
			return runInterview(cmd, ctx, id, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Upload a transcript (.txt, .md, .json) or media file and run it")
	addRunFlags(cmd, &opts)
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "resume <interview-id>",
		Short: "Resume an interview from its last incomplete step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterview(cmd, ctx, args[0], opts)
		},
	}

	addRunFlags(cmd, &opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVar(&opts.from, "from", "", "Rerun from this step: "+stepList())
	cmd.Flags().StringSliceVar(&opts.skip, "skip", nil, "Steps to skip (repeatable or comma separated)")
	cmd.Flags().StringVar(&opts.instructions, "instructions", "", "Extra instructions passed to evidence and insight prompts")
	cmd.Flags().BoolVar(&opts.queue, "queue", false, "Queue the run for the daemon instead of running in-process")
	cmd.Flags().BoolVar(&opts.deferSteps, "defer", false, "Leave scheduler.deferred_steps for the batch sweep")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output JSON")
}

func stepList() string {
	names := make([]string, 0, len(workflow.Order))
	for _, step := range workflow.Order {
		names = append(names, string(step))
	}
	return strings.Join(names, ", ")
}

func runInterview(cmd *cobra.Command, ctx *commandContext, id string, opts runOptions) error {
	from, err := parseResumeStep(opts.from)
	if err != nil {
		return err
	}
	skip, err := workflow.ParseSteps(opts.skip)
	if err != nil {
		return err
	}
	rt, err := ctx.ensureRuntime(cmd.Context())
	if err != nil {
		return err
	}

	if strings.TrimSpace(opts.file) != "" {
		iv, err := uploadFile(cmd.Context(), rt.Store, rt.Config.Account.ID, rt.Config.Account.ProjectID, opts.file)
		if err != nil {
			return err
		}
		id = iv.ID
		if !opts.jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s\n", filepath.Base(opts.file), iv.ID)
		}
	} else if _, err := rt.Store.GetInterview(cmd.Context(), id); err != nil {
		return err
	}

	if opts.queue {
		return queueRun(cmd, ctx, rt.Store, daemon.SubmitRequest{
			InterviewID:  id,
			ResumeFrom:   string(from),
			SkipSteps:    stepStrings(skip),
			Instructions: opts.instructions,
		}, opts.jsonOutput)
	}

	result, runErr := rt.Orchestrator.Run(cmd.Context(), workflow.RunRequest{
		InterviewID:  id,
		ResumeFrom:   from,
		SkipSteps:    skip,
		Instructions: opts.instructions,
		Defer:        opts.deferSteps,
	})
	if opts.jsonOutput {
		if err := writeJSON(cmd, runResultView(id, result, runErr)); err != nil {
			return err
		}
		return runErr
	}
	if result != nil {
		printPlan(cmd.OutOrStdout(), result.Plan, result.Executed)
	}
	if runErr != nil {
		if step := failedStep(result); step != "" {
			return fmt.Errorf("run failed at %s: %w (resume with `gleaner resume %s`)", step, runErr, id)
		}
		return runErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Interview %s: %s\n", id, summarizeExecuted(result))
	return nil
}

func parseResumeStep(value string) (workflow.Step, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return workflow.ParseStep(value)
}

func uploadFile(ctx context.Context, st *store.Store, accountID, projectID, path string) (*store.Interview, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	kind := inbox.Classify(abs)
	if kind == inbox.KindUnknown {
		return nil, services.Wrap(services.ErrValidation, "upload", "classify", "unsupported file type: "+filepath.Base(abs), nil)
	}
	doc, err := inbox.Read(abs, kind)
	if err != nil {
		return nil, err
	}
	return st.CreateInterview(ctx, doc.Interview(accountID, projectID, abs))
}

// queueRun hands the run to a live daemon, or writes the job straight to the
// queue for the next daemon start.
func queueRun(cmd *cobra.Command, ctx *commandContext, st *store.Store, req daemon.SubmitRequest, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	client, err := ctx.daemonClient(cmd.Context())
	if err != nil {
		return err
	}
	if client != nil {
		resp, err := client.Submit(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd, resp)
		}
		printQueued(out, resp.Job.ID, resp.Job.InterviewID, resp.Created, true)
		return nil
	}

	job, created, err := st.EnqueueJob(cmd.Context(), store.JobRequest{
		InterviewID:    req.InterviewID,
		IdempotencyKey: req.IdempotencyKey,
		ResumeFrom:     req.ResumeFrom,
		SkipSteps:      req.SkipSteps,
		Instructions:   req.Instructions,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, map[string]any{"jobId": job.ID, "interviewId": job.InterviewID, "created": created, "daemon": false})
	}
	printQueued(out, job.ID, job.InterviewID, created, false)
	return nil
}

func printQueued(w io.Writer, jobID, interviewID string, created, daemonRunning bool) {
	verb := "Queued"
	if !created {
		verb = "Already queued"
	}
	fmt.Fprintf(w, "%s job %s for interview %s\n", verb, jobID, interviewID)
	if !daemonRunning {
		fmt.Fprintln(w, "Daemon not running; the job starts with `gleaner daemon start`.")
	}
}

func printPlan(w io.Writer, plan []workflow.PlannedStep, executed []workflow.Step) {
	ran := make(map[workflow.Step]bool, len(executed))
	for _, step := range executed {
		ran[step] = true
	}
	rows := make([][]string, 0, len(plan))
	for _, p := range plan {
		outcome := ""
		if p.Action == workflow.ActionRun {
			outcome = "not reached"
			if ran[p.Step] {
				outcome = "done"
			}
		}
		rows = append(rows, []string{string(p.Step), strings.ReplaceAll(p.Action, "_", " "), outcome})
	}
	fmt.Fprintln(w, renderTable([]string{"Step", "Plan", "Outcome"}, rows, nil))
}

func summarizeExecuted(result *workflow.RunResult) string {
	if result == nil || len(result.Executed) == 0 {
		return "nothing to run"
	}
	msg := "ran " + strings.Join(stepStrings(result.Executed), ", ")
	if result.State != nil && !result.State.Completed(workflow.StepFinalize) {
		msg += " (not finalized yet)"
	}
	return msg
}

func stepStrings(steps []workflow.Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s))
	}
	return out
}

type runView struct {
	InterviewID string          `json:"interviewId"`
	RunID       string          `json:"runId,omitempty"`
	Plan        []plannedView   `json:"plan,omitempty"`
	Executed    []string        `json:"executed"`
	Completed   []string        `json:"completedSteps,omitempty"`
	Error       string          `json:"error,omitempty"`
	Failure     *failureSummary `json:"failure,omitempty"`
}

type plannedView struct {
	Step   string `json:"step"`
	Action string `json:"action"`
}

type failureSummary struct {
	Step string `json:"step,omitempty"`
	Kind string `json:"kind"`
}

// failedStep is the step the run stopped on. A failed step keeps the cursor.
func failedStep(result *workflow.RunResult) string {
	if result == nil || result.State == nil {
		return ""
	}
	return string(result.State.CurrentStep)
}

func runResultView(id string, result *workflow.RunResult, runErr error) runView {
	view := runView{InterviewID: id, Executed: []string{}}
	if result != nil {
		view.RunID = result.RunID
		for _, p := range result.Plan {
			view.Plan = append(view.Plan, plannedView{Step: string(p.Step), Action: p.Action})
		}
		view.Executed = stepStrings(result.Executed)
		if result.State != nil {
			view.Completed = stepStrings(result.State.CompletedSteps)
		}
	}
	if runErr != nil {
		view.Error = runErr.Error()
		view.Failure = &failureSummary{Step: failedStep(result), Kind: services.ErrorKind(runErr)}
	}
	return view
}
