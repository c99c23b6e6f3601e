package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTick           = "@every 1m"
	DefaultLeadTime       = 24 * time.Hour
	DefaultWorkers        = 2
	DefaultQueueSize      = 64
	DefaultJobTimeout     = 30 * time.Second
	DefaultHistorySize    = 100
	DefaultRetryMax       = 3
	DefaultRetryBase      = time.Second
	DefaultRetryMaxDelay  = time.Minute
	DefaultSQLiteBusyWait = 5 * time.Second
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// TickSpec returns the configured tick or DefaultTick.
func (s SchedulerConfig) TickSpec() string {
	if t := strings.TrimSpace(s.Tick); t != "" {
		return t
	}
	return DefaultTick
}

// Location resolves the scheduler timezone; empty means the process local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Lead returns the lead time, DefaultLeadTime when unset or zero.
func (s SchedulerConfig) Lead() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.lead_time", s.LeadTime, DefaultLeadTime)
}

// EngineSettings is TaskEngineConfig with defaults applied and durations parsed.
type EngineSettings struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	HistorySize    int
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
}

// Engine resolves the task_engine section. A nil section yields the defaults.
func (c *Config) Engine() (EngineSettings, error) {
	out := EngineSettings{
		Workers:        DefaultWorkers,
		QueueSize:      DefaultQueueSize,
		DefaultTimeout: DefaultJobTimeout,
		HistorySize:    DefaultHistorySize,
		RetryMax:       DefaultRetryMax,
		RetryBase:      DefaultRetryBase,
		RetryMaxDelay:  DefaultRetryMaxDelay,
	}
	te := c.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, DefaultJobTimeout); err != nil {
		return EngineSettings{}, err
	}
	if out.RetryBase, err = ParseDurationOrDefault("task_engine.retry_base", te.RetryBase, DefaultRetryBase); err != nil {
		return EngineSettings{}, err
	}
	if out.RetryMaxDelay, err = ParseDurationOrDefault("task_engine.retry_max_delay", te.RetryMaxDelay, DefaultRetryMaxDelay); err != nil {
		return EngineSettings{}, err
	}
	if out.RetryMaxDelay < out.RetryBase {
		out.RetryMaxDelay = out.RetryBase
	}
	return out, nil
}
