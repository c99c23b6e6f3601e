package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"recurplan/internal/app"
)

func newProjectsCmd(opts *rootOptions) *cobra.Command {
	var withTasks bool
	cmd := &cobra.Command{
		Use:   "projects <template-id>",
		Short: "List projects generated from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projects, err := a.Store().ListProjects(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(projects) == 0 {
					fmt.Fprintln(w, "No projects generated yet.")
					return nil
				}
				rows := make([][]string, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, []string{
						p.ID, p.Name, string(p.Priority),
						p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout),
						fmt.Sprint(p.DurationDays), string(p.Status),
					})
				}
				renderTable(w, []string{"ID", "NAME", "PRIORITY", "START", "END", "DAYS", "STATUS"}, rows)
				if !withTasks {
					return nil
				}
				for _, p := range projects {
					tasks, err := a.Store().ListTasks(ctx, p.ID)
					if err != nil {
						return err
					}
					fmt.Fprintln(w, styleTitle.Render(p.Name+" "+p.StartDate.Format(dateLayout)))
					trows := make([][]string, 0, len(tasks))
					for _, t := range tasks {
						trows = append(trows, []string{t.ID, t.Title, string(t.Priority), t.DueDate.Format(dateLayout), string(t.Status)})
					}
					renderTable(w, []string{"ID", "TASK", "PRIORITY", "DUE", "STATUS"}, trows)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withTasks, "tasks", false, "also list each project's tasks")
	return cmd
}
