package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"recurplan/internal/app"
	"recurplan/internal/config"
	"recurplan/internal/domain"
)

func newTemplatesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "Manage recurring templates",
	}
	cmd.AddCommand(
		newTemplatesListCmd(opts),
		newTemplatesImportCmd(opts),
		newTemplatesActiveCmd(opts, "enable", true),
		newTemplatesActiveCmd(opts, "disable", false),
	)
	return cmd
}

func newTemplatesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tpls, err := a.Store().ListTemplates(ctx)
				if err != nil {
					return err
				}
				if len(tpls) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates found.")
					return nil
				}
				rows := make([][]string, 0, len(tpls))
				for _, t := range tpls {
					last := "-"
					if t.LastGeneratedAt != nil {
						last = t.LastGeneratedAt.Local().Format(time.DateTime)
					}
					rows = append(rows, []string{t.ID, t.Name, t.Recurrence.String(), yesNo(t.Active), fmt.Sprint(len(t.Tasks)), last})
				}
				renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "RECURRENCE", "ACTIVE", "TASKS", "LAST GENERATED"}, rows)
				return nil
			})
		},
	}
}

func newTemplatesImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load templates from a JSON or YAML file",
		Long: `Reads one template or a list of templates and saves each into the store,
replacing templates with the same id. Unknown fields are rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := readTemplates(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, t := range tpls {
					if err := a.Store().SaveTemplate(ctx, t); err != nil {
						return fmt.Errorf("save %s: %w", t.ID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", styleSuccess.Render("imported"), t.ID, t.Name)
				}
				return nil
			})
		},
	}
}

// readTemplates decodes and validates every template in path.
func readTemplates(path string) ([]domain.Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := config.ToJSON(path, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var tpls []domain.Template
	if trimmed := bytes.TrimSpace(jb); len(trimmed) > 0 && trimmed[0] == '[' {
		err = config.DecodeStrict(jb, &tpls)
	} else {
		var one domain.Template
		err = config.DecodeStrict(jb, &one)
		tpls = append(tpls, one)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, t := range tpls {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%s: template %d: %w", path, i, err)
		}
		if err := t.Recurrence.Validate(); err != nil {
			return nil, fmt.Errorf("%s: template %s: %w", path, t.ID, err)
		}
	}
	return tpls, nil
}

func newTemplatesActiveCmd(opts *rootOptions, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <template-id>",
		Short: verb + " automatic generation for a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Store().SetTemplateActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleSuccess.Render(verb+"d"), args[0])
				return nil
			})
		},
	}
}
