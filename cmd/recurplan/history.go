package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recurplan/internal/app"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		templateID string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runs, err := a.Store().ListRuns(ctx, templateID, limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					status := styleSuccess.Render("ok")
					if !r.OK {
						status = styleError.Render("failed")
					}
					rows = append(rows, []string{
						r.At.Local().Format(time.DateTime), r.TemplateID, r.Mode, status,
						r.ProjectID, r.Error, fmt.Sprintf("%dms", r.TookMS),
					})
				}
				renderTable(cmd.OutOrStdout(), []string{"AT", "TEMPLATE", "MODE", "STATUS", "PROJECT", "ERROR", "TOOK"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "only runs of this template")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}
