package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"recurplan/internal/app"
	"recurplan/internal/calendar"
	"recurplan/internal/dispatch"
	"recurplan/internal/domain"
)

const dateLayout = "2006-01-02"

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "generate <template-id>",
		Short: "Generate a project from a template now",
		Long: `Generates one project and its tasks from the template.

Without --date the next occurrence of the recurrence rule is used and the
due check is skipped. With --date the rule is ignored and the project starts
on that date, even when it is not a working day.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var explicit domain.Date
			if strings.TrimSpace(date) != "" {
				d, err := domain.ParseDate(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				if err := calendar.CheckYear(d.In(time.UTC)); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				explicit = d
			}
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					out dispatch.Outcome
					err error
				)
				if explicit.IsZero() {
					out, err = a.Dispatcher().GenerateNow(ctx, args[0])
				} else {
					out, err = a.Dispatcher().GenerateExplicit(ctx, args[0], explicit)
				}
				if out.Exhausted {
					fmt.Fprintln(cmd.OutOrStdout(), styleWarning.Render("Recurrence ended; template "+args[0]+" was deactivated."))
				}
				if err != nil {
					return err
				}
				printOutcome(cmd, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "generate for this day (YYYY-MM-DD) instead of the next occurrence")
	return cmd
}

func printOutcome(cmd *cobra.Command, out dispatch.Outcome) {
	w := cmd.OutOrStdout()
	p := out.Result.Project
	fmt.Fprintln(w, styleTitle.Render(p.Name))
	fmt.Fprintf(w, "%s %s  %s %s to %s (%d working days, %s)\n",
		styleSubtle.Render("project"), out.Receipt.ProjectID,
		styleSubtle.Render("window"), p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout),
		p.DurationDays, out.Result.DurationSource)

	rows := make([][]string, 0, len(out.Result.Tasks))
	for i, t := range out.Result.Tasks {
		id := ""
		if i < len(out.Receipt.TaskIDs) {
			id = out.Receipt.TaskIDs[i]
		}
		rows = append(rows, []string{id, t.Title, string(t.Priority), t.DueDate.Format(dateLayout), t.AssignedUserID})
	}
	renderTable(w, []string{"ID", "TASK", "PRIORITY", "DUE", "ASSIGNEE"}, rows)
}
