package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"recurplan/internal/app"
	"recurplan/internal/config"
)

const defaultConfigPath = "recurplan.yaml"

type rootOptions struct {
	configPath string
	envFile    string
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "recurplan",
		Short: "Generate projects and tasks from recurring templates",
		Long: `recurplan turns recurring project templates into dated projects and tasks.

Run "recurplan serve" to keep generating on schedule, or use the one-shot
commands to generate, preview occurrences and inspect the store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadEnv()
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+config.EnvConfigPath+" or ./"+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default ./.env if present)")

	root.AddCommand(
		newServeCmd(opts),
		newGenerateCmd(opts),
		newNextCmd(opts),
		newCalendarCmd(opts),
		newTemplatesCmd(opts),
		newProjectsCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

func (o *rootOptions) loadEnv() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// path resolves the config file: flag, then environment, then the default.
func (o *rootOptions) path() string {
	if p := strings.TrimSpace(o.configPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

func (o *rootOptions) manager() *config.Manager { return config.NewManager(o.path()) }

// openApp builds the app for a one-shot command. Nothing is started; the
// caller must Close it.
func (o *rootOptions) openApp() (*app.App, error) {
	return app.New(o.manager(), app.Options{DisableWatch: true})
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func (o *rootOptions) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := o.openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}
