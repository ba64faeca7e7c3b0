package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gleaner/internal/people"
)

func newParityCommand(ctx *commandContext) *cobra.Command {
	var heal bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "parity <interview-id>",
		Short: "Check facet mention attribution against evidence people",
		Long: "Compares each facet mention's person with the people linked to its evidence unit.\n" +
			"Exits non-zero while mismatches remain. --heal re-syncs drifted rows from evidence_people.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := rt.Store.GetInterview(cmd.Context(), args[0]); err != nil {
				return err
			}
			report, err := people.CheckParity(cmd.Context(), rt.Store, args[0], heal, rt.Logger)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				renderParity(cmd, report)
			}
			if !report.Passed {
				return fmt.Errorf("parity check failed: %d mismatches", len(report.Mismatches))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&heal, "heal", false, "Re-sync mismatched facet mentions")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	return cmd
}

func renderParity(cmd *cobra.Command, report people.ParityReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	kind, msg := statusOK, fmt.Sprintf("%d facet mentions consistent", report.Checked)
	if !report.Passed {
		kind, msg = statusError, fmt.Sprintf("%d of %d facet mentions mismatched", len(report.Mismatches), report.Checked)
	}
	printLines(out, renderStatusLine("Parity", kind, msg, colorize))
	if report.Healed > 0 {
		printLines(out, renderStatusLine("Healed", statusInfo, fmt.Sprintf("%d rows", report.Healed), colorize))
	}
	if len(report.Mismatches) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.Mismatches))
	for _, m := range report.Mismatches {
		rows = append(rows, []string{m.EvidenceID, m.FacetID, m.FacetPersonID, m.EvidencePersonID})
	}
	fmt.Fprintln(out, renderTable([]string{"Evidence", "Facet", "Facet person", "Evidence person"}, rows, nil))
}
