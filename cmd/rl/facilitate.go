package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raciline/internal/domain"
	"raciline/internal/engine"
)

func assignCmd() *cobra.Command {
	as := &cobra.Command{
		Use:   "assign",
		Short: "Capture RACI assignments",
		Long:  "Rows are role=LETTER[:confidence], e.g. --row ciso=A --row ops=R:low. Letters are R, A, C or I; confidence is low, med or high (default high).",
	}
	as.AddCommand(assignSetCmd())
	as.AddCommand(assignClearCmd())
	as.AddCommand(assignAcceptCmd())
	return as
}

// parseRow reads role=LETTER[:confidence[:notes]].
func parseRow(in string) (engine.AssignmentInput, error) {
	role, rest, ok := strings.Cut(in, "=")
	if !ok || strings.TrimSpace(role) == "" || strings.TrimSpace(rest) == "" {
		return engine.AssignmentInput{}, fmt.Errorf("invalid row %q, want role=LETTER[:confidence]", in)
	}
	parts := strings.SplitN(rest, ":", 3)
	row := engine.AssignmentInput{RoleID: strings.TrimSpace(role), Value: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		row.Confidence = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		row.Notes = strings.TrimSpace(parts[2])
	}
	return row, nil
}

func assignSetCmd() *cobra.Command {
	var rows []string
	cmd := &cobra.Command{
		Use:   "set <activity-id>",
		Short: "Replace the rows of one activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := make([]engine.AssignmentInput, 0, len(rows))
			for _, r := range rows {
				in, err := parseRow(r)
				if err != nil {
					return err
				}
				inputs = append(inputs, in)
			}
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				res, err := e.SetAssignments(ctx, engine.SetAssignmentsOptions{
					WorkshopID: id,
					ActivityID: args[0],
					Rows:       inputs,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				return printFindings(res.Findings)
			})
		},
	}
	cmd.Flags().StringArrayVar(&rows, "row", nil, "role=LETTER[:confidence[:notes]] (repeatable)")
	return cmd
}

func assignClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <activity-id>",
		Short: "Remove the rows of one activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				res, err := e.ClearAssignments(ctx, id, args[0], actorID())
				if err != nil {
					return err
				}
				return printFindings(res.Findings)
			})
		},
	}
}

func assignAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-recommended [activity-id...]",
		Short: "Seed template defaults for activities without rows",
		Long:  "Copies the template's recommended rows as medium confidence. Activities that already have rows are left alone; with no ids every in-scope activity is considered.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, seeded, err := e.AcceptRecommended(ctx, id, args, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workshop": ws.ID, "seeded": seeded})
				}
				fmt.Printf("Seeded recommended rows for %d activities\n", seeded)
				return nil
			})
		},
	}
}

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{Use: "decision", Short: "Record activity decisions"}
	var rationale string
	set := &cobra.Command{
		Use:   "set <activity-id> <done|disputed|deferred|followup>",
		Short: "Record the decision for an activity (last write wins)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				res, err := e.SetDecision(ctx, id, args[0], args[1], rationale, actorID())
				if err != nil {
					return err
				}
				return printFindings(res.Findings)
			})
		},
	}
	set.Flags().StringVar(&rationale, "rationale", "", "why")
	dec.AddCommand(set)
	return dec
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{Use: "action", Short: "Track follow-up actions"}
	var opts engine.ActionOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an action (owner or notes required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				opts.WorkshopID = id
				opts.ActorID = actorID()
				a, err := e.AddAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	add.Flags().StringVar(&opts.ActivityID, "activity", "", "related activity id")
	add.Flags().StringVar(&opts.Owner, "owner", "", "owner")
	add.Flags().StringVar(&opts.Due, "due", "", "due date (YYYY-MM-DD)")
	add.Flags().StringVar(&opts.Notes, "notes", "", "notes")

	var reopen bool
	closeCmd := &cobra.Command{
		Use:   "close <action-id>",
		Short: "Mark an action done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := "done"
			if reopen {
				status = "open"
			}
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				a, err := e.SetActionStatus(ctx, id, args[0], status, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	closeCmd.Flags().BoolVar(&reopen, "reopen", false, "set the action back to open")
	act.AddCommand(add, closeCmd)
	return act
}

func gapsCmd() *cobra.Command {
	var severity string
	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List gap findings, danger first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				a, err := e.Analyze(ctx, id)
				if err != nil {
					return err
				}
				findings := a.Findings
				if severity != "" {
					filtered := []domain.Finding{}
					for _, f := range findings {
						if string(f.Severity) == severity {
							filtered = append(filtered, f)
						}
					}
					findings = filtered
				}
				return printFindings(findings)
			})
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "only danger or warning")
	return cmd
}

func conflictsCmd() *cobra.Command {
	var templateID string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Compare Accountables across workshops of a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Conflicts(ctx, templateID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("No conflicting Accountables")
					return nil
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Activity", "Workshop", "Accountable"})
				for _, c := range items {
					for _, w := range c.Workshops {
						tw.AppendRow(table.Row{c.Activity, w.WorkshopName, strings.Join(w.Accountable, ", ")})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Show coverage, milestones and the completion gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				a, err := e.Analyze(ctx, id)
				if err != nil {
					return err
				}
				s := a.Score
				if viper.GetBool("json") {
					return printJSON(s)
				}
				gate := "closed"
				if s.GateMet {
					gate = "open"
				}
				fmt.Printf("Coverage: %d%% (%d/%d clear), gate %s at %d%%\n", s.Percent, s.Clear, s.Total, gate, s.Threshold)
				fmt.Printf("Steps: %d/%d (%d%%)\n", s.Steps.Completed, s.Steps.Total, s.Steps.Percent)
				tw := newTable()
				tw.AppendHeader(table.Row{"Milestone", "Done", "Hint"})
				for _, m := range s.Milestones {
					done := ""
					if m.Done {
						done = "yes"
					}
					tw.AppendRow(table.Row{m.Key, done, m.Hint})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Executive summary of the current workshop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				a, err := e.Analyze(ctx, id)
				if err != nil {
					return err
				}
				s := a.Summary
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s [%s]: %d%% coverage, %d findings\n", s.Workshop.Name, s.Workshop.Status, s.Percent, s.FindingCount)
				tw := newTable()
				tw.AppendHeader(table.Row{"Domain", "Complete", "Total", "%", "Danger", "Warning"})
				for _, d := range s.Domains {
					tw.AppendRow(table.Row{d.Domain, d.Complete, d.Total, d.Percent, d.Danger, d.Warning})
				}
				tw.Render()
				if len(s.TopRisks) > 0 {
					fmt.Println("Top risks:")
					for _, f := range s.TopRisks {
						fmt.Printf("  - %s: %s\n", f.Activity, f.Message)
					}
				}
				if len(s.TopMisalignments) > 0 {
					fmt.Println("Top misalignments:")
					for _, f := range s.TopMisalignments {
						fmt.Printf("  - %s: %s\n", f.Activity, f.Message)
					}
				}
				if len(s.RoleLoad) > 0 {
					fmt.Println("Role load (A/R):")
					for _, r := range s.RoleLoad {
						fmt.Printf("  - %s: %d\n", r.Name, r.Count)
					}
				}
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var format, out string
	var final bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render an export (matrix, gaps, actions, json, summary)",
		Long:  "Exports never change the workshop. --final renders the published pack and requires the completion gate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				res, err := e.Export(ctx, engine.ExportOptions{
					WorkshopID: id,
					Format:     format,
					Final:      final,
					ActorID:    actorID(),
				})
				if err != nil {
					return err
				}
				if out == "" {
					_, err := os.Stdout.Write(res.Body)
					return err
				}
				if out == "." {
					out = res.Filename
				}
				if err := os.WriteFile(out, res.Body, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", out, len(res.Body))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "matrix", "matrix, gaps, actions, json, summary or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file ('.' uses the suggested name; stdout when empty)")
	cmd.Flags().BoolVar(&final, "final", false, "render the final pack (gate required)")
	return cmd
}

func printFindings(findings []domain.Finding) error {
	if viper.GetBool("json") {
		return printJSON(findings)
	}
	if len(findings) == 0 {
		fmt.Println("No gaps")
		return nil
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Severity", "Domain", "Activity", "Issue", "Message"})
	for _, f := range findings {
		tw.AppendRow(table.Row{f.Severity, f.Domain, f.Activity, f.Issue, f.Message})
	}
	tw.Render()
	return nil
}
