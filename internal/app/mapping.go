package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/afero"

	"recurplan/internal/config"
	"recurplan/internal/dispatch"
	"recurplan/internal/notifier"
	"recurplan/internal/observability/status"
	"recurplan/internal/storage"
	"recurplan/internal/task/engine"
	"recurplan/internal/task/scheduler"
)

// dedupWindow suppresses repeated identical alerts, e.g. a template that
// fails on every tick.
const dedupWindow = 30 * time.Minute

func mapStorageConfig(cfg *config.Config, fs afero.Fs) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultSQLiteBusyWait)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy, Fs: fs}, true, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	es, err := cfg.Engine()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		// The engine also runs manual jobs, so it stays up when the scheduler is off.
		Enabled:        true,
		Workers:        es.Workers,
		QueueSize:      es.QueueSize,
		DefaultTimeout: es.DefaultTimeout,
		HistorySize:    es.HistorySize,
		RetryMax:       es.RetryMax,
		RetryBase:      es.RetryBase,
		RetryMaxDelay:  es.RetryMaxDelay,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Location: loc}, nil
}

func mapDispatchSettings(cfg *config.Config) (dispatch.Settings, error) {
	cal, err := cfg.Calendar.Build()
	if err != nil {
		return dispatch.Settings{}, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return dispatch.Settings{}, err
	}
	lead, err := cfg.Scheduler.Lead()
	if err != nil {
		return dispatch.Settings{}, err
	}
	return dispatch.Settings{
		Calendar:  cal,
		Durations: cfg.PriorityDurations.Table(),
		LeadTime:  lead,
		Location:  loc,
	}, nil
}

// mapNotifierConfig returns the pipeline config and the bot token.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, string, error) {
	if cfg == nil || cfg.Notifier == nil || !cfg.Notifier.Telegram.Enabled {
		return notifier.Config{}, "", nil
	}
	tg := cfg.Notifier.Telegram
	token := strings.TrimSpace(tg.Token)
	if token == "" {
		return notifier.Config{}, "", errors.New("notifier.telegram.token is required when enabled (or set " + config.EnvTelegramToken + ")")
	}
	return notifier.Config{
		Enabled:     true,
		Target:      notifier.Target{ChatID: tg.ChatID, ThreadID: tg.ThreadID},
		RatePerSec:  tg.RatePerSec,
		RetryMax:    3,
		DedupWindow: dedupWindow,
	}, token, nil
}

// mapStatusConfig validates the http section. It never starts the server.
func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	if cfg == nil || cfg.HTTP == nil {
		return status.Config{}, nil
	}
	h := cfg.HTTP
	out := status.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
	}
	if out.Addr == "" {
		out.Addr = status.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	// Zero keeps writes unbounded, which pprof profile/trace need.
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 2*time.Minute); err != nil {
		return out, err
	}
	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("http.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !status.IsLoopbackAddr(out.Addr) {
			return out, errors.New("http: binding to a non-loopback addr requires token or allow_insecure")
		}
	}
	return out, nil
}
