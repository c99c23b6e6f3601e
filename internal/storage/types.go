package storage

import (
	"errors"
	"time"

	"github.com/spf13/afero"

	"recurplan/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	// ErrConflict means the template's marker moved since the caller read it.
	ErrConflict = errors.New("last-generated marker changed concurrently")
	ErrClosed   = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + runs journal (Path is the snapshot file)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs backs the file driver; nil means the OS filesystem.
	Fs afero.Fs
}

// Project is a persisted GeneratedProject.
type Project struct {
	ID string `json:"id"`
	domain.GeneratedProject
	CreatedAt time.Time `json:"created_at"`
}

// Task is a persisted GeneratedTask, attached to its project.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	domain.GeneratedTask
}

// Commit is one generation to persist: the project, then its tasks, then the
// template marker.
//
// ExpectedLastGeneratedAt is the marker the caller read before generating;
// nil means "never generated". The commit fails with ErrConflict if the
// stored marker differs.
type Commit struct {
	TemplateID              string
	ExpectedLastGeneratedAt *time.Time
	LastGeneratedAt         time.Time
	Project                 domain.GeneratedProject
	Tasks                   []domain.GeneratedTask
}

// Receipt carries the IDs assigned by a successful commit.
type Receipt struct {
	ProjectID string
	TaskIDs   []string
}

// Run records the outcome of one generation attempt.
// Keep it compact and schema-stable.
type Run struct {
	At         time.Time `json:"at"`
	TemplateID string    `json:"template_id"`
	Mode       string    `json:"mode"`
	OK         bool      `json:"ok"`
	ProjectID  string    `json:"project_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
}

func sameMarker(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
