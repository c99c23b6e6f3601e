package config

import (
	"reflect"
	"sort"
	"strings"

	logx "recurplan/pkg/logx"
)

// Summarize returns the sorted list of changed top-level sections and safe
// structured attrs for logging. Tokens are never included.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", newCfg.Scheduler.TickSpec()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.lead_time", strings.TrimSpace(newCfg.Scheduler.LeadTime)),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		if es, err := newCfg.Engine(); err == nil {
			attrs = append(attrs,
				logx.Int("task_engine.workers", es.Workers),
				logx.Int("task_engine.retry_max", es.RetryMax),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Calendar.ExtraHolidays, newCfg.Calendar.ExtraHolidays) {
		changed = append(changed, "calendar")
		attrs = append(attrs, logx.Int("calendar.extra_holidays", len(newCfg.Calendar.ExtraHolidays)))
	}

	if oldCfg.PriorityDurations != newCfg.PriorityDurations {
		changed = append(changed, "priority_durations")
		attrs = append(attrs, logx.Any("priority_durations", newCfg.PriorityDurations.Table()))
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	oT, nT := derefTelegram(oldCfg.Notifier), derefTelegram(newCfg.Notifier)
	oTokenSet, nTokenSet := oT.Token != "", nT.Token != ""
	oT.Token, nT.Token = "", ""
	if oT != nT || oTokenSet != nTokenSet {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.telegram.enabled", nT.Enabled),
			logx.Bool("notifier.telegram.token_set", nTokenSet),
			logx.Int("notifier.telegram.rate_per_sec", nT.RatePerSec),
		)
	}

	oH, nH := derefHTTP(oldCfg.HTTP), derefHTTP(newCfg.HTTP)
	if oH != nH {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nH.Enabled),
			logx.String("http.addr", strings.TrimSpace(nH.Addr)),
			logx.Bool("http.pprof", nH.Pprof),
			logx.Bool("http.token_set", nH.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefTelegram(n *NotifierConfig) TelegramConfig {
	if n == nil {
		return TelegramConfig{}
	}
	return n.Telegram
}

func derefHTTP(h *HTTPConfig) HTTPConfig {
	if h == nil {
		return HTTPConfig{}
	}
	return *h
}
