package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recurplan/internal/app"
	"recurplan/internal/recurrence"
)

func newNextCmd(opts *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next <template-id>",
		Short: "Preview the next occurrences of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loc, err := a.Config().Scheduler.Location()
				if err != nil {
					return err
				}
				tpl, err := a.Store().GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if err := tpl.Recurrence.Validate(); err != nil {
					return err
				}
				next, err := recurrence.Upcoming(tpl.Recurrence, time.Now().In(loc), count)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s  %s\n", styleTitle.Render(tpl.Name), styleSubtle.Render(tpl.Recurrence.String()))
				if !tpl.Active {
					fmt.Fprintln(w, styleWarning.Render("template is inactive"))
				}
				rows := make([][]string, 0, len(next))
				for i, t := range next {
					rows = append(rows, []string{fmt.Sprint(i + 1), t.Format("Mon 2006-01-02 15:04 MST")})
				}
				renderTable(w, []string{"#", "OCCURRENCE"}, rows)
				if len(next) < count {
					fmt.Fprintln(w, styleSubtle.Render("recurrence ends after these occurrences"))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences")
	return cmd
}
