package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"recurplan/internal/domain"
	logx "recurplan/pkg/logx"
)

// Store is the persistence API used by the dispatcher and the CLI.
type Store interface {
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	GetTemplate(ctx context.Context, id string) (domain.Template, error)
	// SaveTemplate inserts or replaces a template, marker included.
	SaveTemplate(ctx context.Context, tpl domain.Template) error
	SetTemplateActive(ctx context.Context, id string, active bool) error

	CommitGeneration(ctx context.Context, c Commit) (Receipt, error)
	ListProjects(ctx context.Context, templateID string) ([]Project, error)
	ListTasks(ctx context.Context, projectID string) ([]Task, error)

	AppendRun(ctx context.Context, r Run) error
	// ListRuns returns the newest runs first; templateID "" means all.
	ListRuns(ctx context.Context, templateID string, limit int) ([]Run, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func newID() string { return uuid.NewString() }

func checkCommit(c Commit) error {
	if strings.TrimSpace(c.TemplateID) == "" {
		return errors.New("commit: template id is required")
	}
	if c.LastGeneratedAt.IsZero() {
		return errors.New("commit: last generated marker is required")
	}
	return nil
}
