package config

import (
	"recurplan/internal/calendar"
	"recurplan/internal/domain"
	logx "recurplan/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls when the dispatcher looks for due templates.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls how generation jobs are executed.
	// If omitted, defaults apply (see TaskEngineConfig).
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Calendar          CalendarConfig          `json:"calendar"`
	PriorityDurations PriorityDurationsConfig `json:"priority_durations"`
	Storage           *StorageConfig          `json:"storage,omitempty"`
	Notifier          *NotifierConfig         `json:"notifier,omitempty"`
	HTTP              *HTTPConfig             `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,loglevel"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// Logx converts the section to the logger's own config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// SchedulerConfig controls the tick trigger.
//
// Tick is a cron spec (5 or 6 fields, or a descriptor such as "@every 1m").
// LeadTime is a Go duration string: a template becomes due once its next
// occurrence is at most this far away. Unset or zero means 24h.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	LeadTime string `json:"lead_time,omitempty"`
}

// TaskEngineConfig controls the generation job engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "30s"
//   - history_size: 100
//   - retry_max: 3
//   - retry_base: "1s"
//   - retry_max_delay: "1m"
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=0,lte=20"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// CalendarConfig adds local fixed holidays on top of the national ones.
//
// Example:
//
//	"calendar": { "extra_holidays": ["06-24"] }
type CalendarConfig struct {
	ExtraHolidays []string `json:"extra_holidays,omitempty"`
}

// Build returns the business calendar described by the section.
func (c CalendarConfig) Build() (*calendar.Calendar, error) {
	if len(c.ExtraHolidays) == 0 {
		return calendar.Default, nil
	}
	extra := make([]calendar.MonthDay, 0, len(c.ExtraHolidays))
	for _, s := range c.ExtraHolidays {
		md, err := calendar.ParseMonthDay(s)
		if err != nil {
			return nil, err
		}
		extra = append(extra, md)
	}
	return calendar.New(extra...), nil
}

// PriorityDurationsConfig is the default project length, in working days,
// per priority. Zero means "not configured".
type PriorityDurationsConfig struct {
	Low      int `json:"low,omitempty" validate:"gte=0"`
	Medium   int `json:"medium,omitempty" validate:"gte=0"`
	High     int `json:"high,omitempty" validate:"gte=0"`
	Critical int `json:"critical,omitempty" validate:"gte=0"`
}

// Table converts the section to a lookup table, leaving unset entries out.
func (p PriorityDurationsConfig) Table() domain.PriorityDurationTable {
	t := domain.PriorityDurationTable{}
	for prio, days := range map[domain.Priority]int{
		domain.PriorityLow:      p.Low,
		domain.PriorityMedium:   p.Medium,
		domain.PriorityHigh:     p.High,
		domain.PriorityCritical: p.Critical,
	} {
		if days > 0 {
			t[prio] = days
		}
	}
	return t
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./recurplan.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls outbound notifications about generation events.
type NotifierConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool `json:"enabled"`
	// Token may be left empty and provided via RECURPLAN_TELEGRAM_TOKEN.
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty" validate:"required_if=Enabled true"`
	ThreadID   int    `json:"thread_id,omitempty" validate:"gte=0"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// HTTPConfig controls the status server (/healthz, /status and optional pprof).
//
// Example:
//
//	"http": { "enabled": true, "addr": "127.0.0.1:8089", "pprof": true }
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
