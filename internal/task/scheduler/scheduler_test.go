package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"recurplan/internal/task/engine"
	logx "recurplan/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		spec     string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", spec: "*/5 * * * *"},
		{name: "cron with seconds", raw: "0 30 8 * * MON-FRI", kind: SpecCron, source: "cron", spec: "0 30 8 * * MON-FRI"},
		{name: "descriptor", raw: "@every 1m", kind: SpecCron, source: "cron", spec: "@every 1m"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", spec: "0 0 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute, spec: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second, spec: "@every 45s"},
		{name: "every prefix", raw: "every:2h", kind: SpecInterval, source: "duration", duration: 2 * time.Hour, spec: "@every 2h0m0s"},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute, spec: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if got.Spec() != tt.spec {
				t.Fatalf("Spec = %q, want %q", got.Spec(), tt.spec)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "61 * * * *", "cron:", "interval:-5m", "00:75", "00:00"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestNextRuns(t *testing.T) {
	t.Parallel()
	from := time.Date(2025, time.March, 3, 8, 10, 0, 0, time.UTC)
	got, err := NextRuns("0 9 * * MON", from, 2)
	if err != nil {
		t.Fatalf("NextRuns error: %v", err)
	}
	want := []time.Time{
		time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) || !got[0].Equal(want[0]) || !got[1].Equal(want[1]) {
		t.Fatalf("NextRuns = %v, want %v", got, want)
	}
}

type recorder struct {
	mu    sync.Mutex
	names []string
	fired chan struct{}
}

func (r *recorder) Enqueue(t engine.Task) error {
	r.mu.Lock()
	r.names = append(r.names, t.Name)
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
	return nil
}

func TestServiceFiresIntoEngine(t *testing.T) {
	t.Parallel()
	rec := &recorder{fired: make(chan struct{}, 1)}
	s := New(Config{Enabled: true, Location: time.UTC}, rec, logx.Nop())
	if err := s.AddSchedule("dispatch.tick", "* * * * * *", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.AddSchedule("bad", "nope nope", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected invalid schedule error")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Name != "dispatch.tick" || infos[0].Next.IsZero() {
		t.Fatalf("Schedules = %+v", infos)
	}
	select {
	case <-rec.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.names[0] != "dispatch.tick" {
		t.Fatalf("enqueued %q", rec.names[0])
	}
}

func TestDisabledDoesNotStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &recorder{fired: make(chan struct{}, 1)}, logx.Nop())
	_ = s.AddSchedule("x", "@every 1m", 0, func(context.Context) error { return nil })
	s.Start(context.Background())
	if infos := s.Schedules(); len(infos) != 1 || !infos[0].Next.IsZero() {
		t.Fatalf("Schedules = %+v, want registered but unarmed", infos)
	}
	if !s.Remove("x") || s.Remove("x") {
		t.Fatal("Remove should report existence once")
	}
}
