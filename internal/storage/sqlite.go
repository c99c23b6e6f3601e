package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recurplan/internal/domain"
	logx "recurplan/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

const tsLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes CommitGeneration.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body, active, last_generated_at FROM templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body, active, last_generated_at FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return t, err
}

type scanner interface{ Scan(dest ...any) error }

// scanTemplate decodes a row; the active and marker columns win over the body.
func scanTemplate(sc scanner) (domain.Template, error) {
	var (
		body   string
		active int
		marker sql.NullString
	)
	if err := sc.Scan(&body, &active, &marker); err != nil {
		return domain.Template{}, err
	}
	var t domain.Template
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return domain.Template{}, fmt.Errorf("decode template: %w", err)
	}
	t.Active = active != 0
	t.LastGeneratedAt = nil
	if marker.Valid {
		ts, err := time.Parse(tsLayout, marker.String)
		if err != nil {
			return domain.Template{}, fmt.Errorf("decode marker: %w", err)
		}
		t.LastGeneratedAt = &ts
	}
	return t, nil
}

func (s *sqliteStore) SaveTemplate(ctx context.Context, tpl domain.Template) error {
	if strings.TrimSpace(tpl.ID) == "" {
		return errors.New("template id is required")
	}
	body, err := json.Marshal(tpl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates(id, name, active, body, last_generated_at, updated_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, active=excluded.active, body=excluded.body,
		   last_generated_at=excluded.last_generated_at, updated_at=excluded.updated_at`,
		tpl.ID, tpl.Name, boolInt(tpl.Active), string(body), nullTime(tpl.LastGeneratedAt), time.Now().UTC().Format(tsLayout),
	)
	return err
}

func (s *sqliteStore) SetTemplateActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), time.Now().UTC().Format(tsLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) CommitGeneration(ctx context.Context, c Commit) (rc Receipt, err error) {
	if err := checkCommit(c); err != nil {
		return Receipt{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var marker sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT last_generated_at FROM templates WHERE id = ?`, c.TemplateID).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, fmt.Errorf("template %q: %w", c.TemplateID, ErrNotFound)
	}
	if err != nil {
		return Receipt{}, err
	}
	var stored *time.Time
	if marker.Valid {
		ts, perr := time.Parse(tsLayout, marker.String)
		if perr != nil {
			return Receipt{}, fmt.Errorf("decode marker: %w", perr)
		}
		stored = &ts
	}
	if !sameMarker(stored, c.ExpectedLastGeneratedAt) {
		return Receipt{}, fmt.Errorf("template %q: %w", c.TemplateID, ErrConflict)
	}

	var seq int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM projects`).Scan(&seq); err != nil {
		return Receipt{}, err
	}
	pbody, err := json.Marshal(c.Project)
	if err != nil {
		return Receipt{}, err
	}
	rc = Receipt{ProjectID: newID(), TaskIDs: make([]string, 0, len(c.Tasks))}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO projects(id, template_id, name, start_date, end_date, status, body, created_at, seq) VALUES(?,?,?,?,?,?,?,?,?)`,
		rc.ProjectID, c.TemplateID, c.Project.Name,
		c.Project.StartDate.Format(tsLayout), c.Project.EndDate.Format(tsLayout), string(c.Project.Status),
		string(pbody), c.LastGeneratedAt.UTC().Format(tsLayout), seq,
	); err != nil {
		return Receipt{}, err
	}
	for i, gt := range c.Tasks {
		tbody, merr := json.Marshal(gt)
		if merr != nil {
			err = merr
			return Receipt{}, err
		}
		id := newID()
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO tasks(id, project_id, position, title, due_date, status, body) VALUES(?,?,?,?,?,?,?)`,
			id, rc.ProjectID, i, gt.Title, gt.DueDate.Format(tsLayout), string(gt.Status), string(tbody),
		); err != nil {
			return Receipt{}, err
		}
		rc.TaskIDs = append(rc.TaskIDs, id)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE templates SET last_generated_at = ?, updated_at = ? WHERE id = ? AND last_generated_at IS ?`,
		c.LastGeneratedAt.Format(tsLayout), time.Now().UTC().Format(tsLayout), c.TemplateID, marker)
	if err != nil {
		return Receipt{}, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		err = fmt.Errorf("template %q: %w", c.TemplateID, ErrConflict)
		return Receipt{}, err
	}
	if err = tx.Commit(); err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

func (s *sqliteStore) ListProjects(ctx context.Context, templateID string) ([]Project, error) {
	q := `SELECT id, body, created_at FROM projects ORDER BY seq`
	args := []any{}
	if templateID != "" {
		q = `SELECT id, body, created_at FROM projects WHERE template_id = ? ORDER BY seq`
		args = append(args, templateID)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var (
			p       Project
			body    string
			created string
		)
		if err := rows.Scan(&p.ID, &body, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &p.GeneratedProject); err != nil {
			return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(tsLayout, created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM tasks WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var (
			t    Task
			body string
		)
		if err := rows.Scan(&t.ID, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &t.GeneratedTask); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
		}
		t.ProjectID = projectID
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, template_id, mode, ok, project_id, err, took_ms) VALUES(?,?,?,?,?,?,?)`,
		r.At.UTC().Format(tsLayout), r.TemplateID, r.Mode, boolInt(r.OK), nullStr(r.ProjectID), nullStr(r.Error), r.TookMS,
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, templateID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT at, template_id, mode, ok, project_id, err, took_ms FROM runs ORDER BY id DESC LIMIT ?`
	args := []any{limit}
	if templateID != "" {
		q = `SELECT at, template_id, mode, ok, project_id, err, took_ms FROM runs WHERE template_id = ? ORDER BY id DESC LIMIT ?`
		args = []any{templateID, limit}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r         Run
			at        string
			ok        int
			projectID sql.NullString
			errStr    sql.NullString
		)
		if err := rows.Scan(&at, &r.TemplateID, &r.Mode, &ok, &projectID, &errStr, &r.TookMS); err != nil {
			return nil, err
		}
		if r.At, err = time.Parse(tsLayout, at); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		r.ProjectID = projectID.String
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(tsLayout)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
