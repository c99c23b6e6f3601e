package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"recurplan/internal/domain"
	logx "recurplan/pkg/logx"
)

// fileStore keeps everything in memory and persists it through fs.
//
// Files:
//   - <path>                       (JSON snapshot, rewritten atomically)
//   - <prefix>.runs.jsonl          (append-only JSON Lines)
type fileStore struct {
	fs  afero.Fs
	log logx.Logger

	mu       sync.Mutex
	closed   bool
	snapPath string
	runsPath string
	data     snapshot
}

type snapshot struct {
	Version   int                        `json:"version"`
	Templates map[string]domain.Template `json:"templates"`
	Projects  []Project                  `json:"projects"`
	Tasks     []Task                     `json:"tasks"`
}

const snapshotVersion = 1

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	s := &fileStore{
		fs:       fs,
		log:      log,
		snapPath: path,
		runsPath: filepath.Join(dir, base+".runs.jsonl"),
		data:     snapshot{Version: snapshotVersion, Templates: map[string]domain.Template{}},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	log.Debug("file store opened",
		logx.String("path", path),
		logx.Int("templates", len(s.data.Templates)),
		logx.Int("projects", len(s.data.Projects)),
	)
	return s, nil
}

func (s *fileStore) load() error {
	b, err := afero.ReadFile(s.fs, s.snapPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("read snapshot %s: %w", s.snapPath, err)
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("snapshot %s: unsupported version %d", s.snapPath, snap.Version)
	}
	if snap.Templates == nil {
		snap.Templates = map[string]domain.Template{}
	}
	snap.Version = snapshotVersion
	s.data = snap
	return nil
}

// persistLocked writes the snapshot to a temp file and renames it over the
// old one, so readers never see a partial write.
func (s *fileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapPath + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.snapPath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.Template, 0, len(s.data.Templates))
	for _, t := range s.data.Templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Template{}, ErrClosed
	}
	t, ok := s.data.Templates[id]
	if !ok {
		return domain.Template{}, fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (s *fileStore) SaveTemplate(ctx context.Context, tpl domain.Template) error {
	_ = ctx
	if strings.TrimSpace(tpl.ID) == "" {
		return errors.New("template id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.data.Templates[tpl.ID]
	s.data.Templates[tpl.ID] = cloneTemplate(tpl)
	if err := s.persistLocked(); err != nil {
		if had {
			s.data.Templates[tpl.ID] = prev
		} else {
			delete(s.data.Templates, tpl.ID)
		}
		return err
	}
	return nil
}

func (s *fileStore) SetTemplateActive(ctx context.Context, id string, active bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t, ok := s.data.Templates[id]
	if !ok {
		return fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	if t.Active == active {
		return nil
	}
	prev := t
	t.Active = active
	s.data.Templates[id] = t
	if err := s.persistLocked(); err != nil {
		s.data.Templates[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) CommitGeneration(ctx context.Context, c Commit) (Receipt, error) {
	_ = ctx
	if err := checkCommit(c); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Receipt{}, ErrClosed
	}
	t, ok := s.data.Templates[c.TemplateID]
	if !ok {
		return Receipt{}, fmt.Errorf("template %q: %w", c.TemplateID, ErrNotFound)
	}
	if !sameMarker(t.LastGeneratedAt, c.ExpectedLastGeneratedAt) {
		return Receipt{}, fmt.Errorf("template %q: %w", c.TemplateID, ErrConflict)
	}

	prevTpl := t
	nProjects, nTasks := len(s.data.Projects), len(s.data.Tasks)

	rc := Receipt{ProjectID: newID(), TaskIDs: make([]string, 0, len(c.Tasks))}
	s.data.Projects = append(s.data.Projects, Project{ID: rc.ProjectID, GeneratedProject: c.Project, CreatedAt: c.LastGeneratedAt})
	for _, gt := range c.Tasks {
		id := newID()
		rc.TaskIDs = append(rc.TaskIDs, id)
		s.data.Tasks = append(s.data.Tasks, Task{ID: id, ProjectID: rc.ProjectID, GeneratedTask: gt})
	}
	marker := c.LastGeneratedAt
	t.LastGeneratedAt = &marker
	s.data.Templates[c.TemplateID] = t

	if err := s.persistLocked(); err != nil {
		s.data.Projects = s.data.Projects[:nProjects]
		s.data.Tasks = s.data.Tasks[:nTasks]
		s.data.Templates[c.TemplateID] = prevTpl
		return Receipt{}, err
	}
	return rc, nil
}

func (s *fileStore) ListProjects(ctx context.Context, templateID string) ([]Project, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Project
	for _, p := range s.data.Projects {
		if templateID == "" || p.TemplateID == templateID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fileStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Task
	for _, t := range s.data.Tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r Run) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	f, err := s.fs.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) ListRuns(ctx context.Context, templateID string, limit int) ([]Run, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	f, err := s.fs.Open(s.runsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []Run
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Run
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping corrupt run record", logx.Err(err))
			continue
		}
		if templateID == "" || r.TemplateID == templateID {
			all = append(all, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// cloneTemplate copies the slices and pointers so callers cannot mutate
// stored state.
func cloneTemplate(t domain.Template) domain.Template {
	out := t
	if t.Tasks != nil {
		out.Tasks = append([]domain.TaskBlueprint(nil), t.Tasks...)
	}
	if t.ExplicitDurationDays != nil {
		d := *t.ExplicitDurationDays
		out.ExplicitDurationDays = &d
	}
	if t.LastGeneratedAt != nil {
		m := *t.LastGeneratedAt
		out.LastGeneratedAt = &m
	}
	if t.Recurrence.DayOfWeek != nil {
		wd := *t.Recurrence.DayOfWeek
		out.Recurrence.DayOfWeek = &wd
	}
	if t.Recurrence.EndDate != nil {
		ed := *t.Recurrence.EndDate
		out.Recurrence.EndDate = &ed
	}
	return out
}
