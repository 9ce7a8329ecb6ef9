package config

import (
	"reflect"
	"sort"
	"strings"
	logx "zvonbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or API keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Engine (scheduling policy)
	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.retry_delay", strings.TrimSpace(newCfg.Engine.RetryDelay)),
			logx.String("engine.min_interval", strings.TrimSpace(newCfg.Engine.MinInterval)),
		)
	}

	// Storage (driver switch needs a restart; surface it loudly in the summary)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Notifier. Section may be nil (omitted); treat nil as runtime defaults
	// for a more accurate summary.
	defN := &NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
	oldN := oldCfg.Notifier
	newN := newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
		)
	}

	// Housekeeping (nil means disabled)
	oH := derefHousekeeping(oldCfg.Housekeeping)
	nH := derefHousekeeping(newCfg.Housekeeping)
	if oH != nH {
		changed = append(changed, "housekeeping")
		attrs = append(attrs,
			logx.Bool("housekeeping.enabled", nH.Enabled),
			logx.String("housekeeping.timezone", strings.TrimSpace(nH.Timezone)),
		)
	}

	// Pprof (never log token)
	oP := derefPprof(oldCfg.Pprof)
	nP := derefPprof(newCfg.Pprof)
	if oP.Enabled != nP.Enabled ||
		strings.TrimSpace(oP.Addr) != strings.TrimSpace(nP.Addr) ||
		oP.AllowInsecure != nP.AllowInsecure ||
		(strings.TrimSpace(oP.Token) != "") != (strings.TrimSpace(nP.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", nP.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(nP.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(nP.Token) != ""),
		)
	}

	// Features (never log API keys)
	if !reflect.DeepEqual(oldCfg.Features, newCfg.Features) {
		changed = append(changed, "features")
		attrs = append(attrs,
			logx.Bool("features.reminder", newCfg.Features.Reminder.Enabled),
			logx.Bool("features.price_watch", newCfg.Features.PriceWatch.Enabled),
			logx.Bool("features.weather", newCfg.Features.Weather.Enabled),
			logx.Bool("features.currency", newCfg.Features.Currency.Enabled),
			logx.Bool("features.movies", newCfg.Features.Movies.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefHousekeeping(h *HousekeepingConfig) HousekeepingConfig {
	if h == nil {
		return HousekeepingConfig{}
	}
	return *h
}

func derefPprof(p *PprofConfig) PprofConfig {
	if p == nil {
		return PprofConfig{}
	}
	return *p
}
