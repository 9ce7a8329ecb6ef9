package app

import (
	"fmt"
	"strings"
	"time"

	"zvonbot/internal/config"
	"zvonbot/internal/engine"
	"zvonbot/internal/feature/pricewatch"
	"zvonbot/internal/notifier"
	"zvonbot/internal/observability/pprof"
	"zvonbot/internal/services/housekeeping"
	"zvonbot/internal/storage"
)

// Mapping helpers translate the raw string-heavy config structs into the
// typed configs the services take, validating durations on the way. They are
// also reused by the hot-reload validator so a bad edit is rejected before
// commit.

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	retry, err := config.ParseDurationOrDefault("engine.retry_delay", cfg.Engine.RetryDelay, time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	minIv, err := config.ParseDurationOrDefault("engine.min_interval", cfg.Engine.MinInterval, time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{RetryDelay: retry, MinInterval: minIv}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		// Omitted section means enabled with runtime defaults.
		return notifier.Config{Enabled: true}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	if p == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled:       p.Enabled,
		Addr:          strings.TrimSpace(p.Addr),
		Token:         p.Token,
		AllowInsecure: p.AllowInsecure,
	}
}

func mapHousekeepingConfig(cfg *config.Config) housekeeping.Config {
	h := cfg.Housekeeping
	if h == nil {
		return housekeeping.Config{}
	}
	return housekeeping.Config{
		Enabled:        h.Enabled,
		Timezone:       h.Timezone,
		BackupSchedule: h.BackupSchedule,
		PruneSchedule:  h.PruneSchedule,
		StatsSchedule:  h.StatsSchedule,
	}
}

func mapPriceWatchOptions(cfg *config.Config) (pricewatch.Options, time.Duration, error) {
	pw := cfg.Features.PriceWatch
	poll, err := config.ParseDurationOrDefault("features.price_watch.poll_interval", pw.PollInterval, 6*time.Hour)
	if err != nil {
		return pricewatch.Options{}, 0, err
	}
	httpTimeout, err := config.ParseDurationOrDefault("features.price_watch.http_timeout", pw.HTTPTimeout, 10*time.Second)
	if err != nil {
		return pricewatch.Options{}, 0, err
	}
	return pricewatch.Options{MaxPerOwner: pw.MaxPerOwner, PollInterval: poll}, httpTimeout, nil
}
