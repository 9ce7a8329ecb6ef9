// Package app is the composition root: it loads config, builds every service
// and wires them together.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zvonbot/internal/config"
	"zvonbot/internal/engine"
	"zvonbot/internal/eventbus"
	"zvonbot/internal/feature/currency"
	"zvonbot/internal/feature/movies"
	"zvonbot/internal/feature/pricewatch"
	"zvonbot/internal/feature/reminder"
	"zvonbot/internal/feature/weather"
	"zvonbot/internal/notifier"
	"zvonbot/internal/observability/pprof"
	"zvonbot/internal/router"
	"zvonbot/internal/runtime/supervisor"
	"zvonbot/internal/services/housekeeping"
	"zvonbot/internal/storage"
	"zvonbot/internal/transport"
	telegram "zvonbot/internal/transport/telegram"
	logx "zvonbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter transport.Adapter

	engine *engine.Service
	notif  *notifier.Service
	house  *housekeeping.Service
	pprof  *pprof.Service
	router *router.Router

	msgs chan transport.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, logSvc.Logger().With(logx.String("comp", "notifier")), bus)

	// The engine delivers through the notifier pipeline when it is enabled,
	// or straight through the adapter otherwise.
	var sink engine.Sink = notif
	if !ncfg.Enabled {
		sink = directSink{ad: ad}
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, store, sink, logSvc.Logger().With(logx.String("comp", "engine")), bus)

	rt := router.New(logSvc.Logger().With(logx.String("comp", "router")), ad, cfgm)

	var cmds []router.Command
	if cfg.Features.Reminder.Enabled {
		f := reminder.New(eng, cfg.Features.Reminder.MaxPerOwner, logSvc.Logger().With(logx.String("comp", "reminder")))
		cmds = append(cmds, f.Commands()...)
	}
	if cfg.Features.PriceWatch.Enabled {
		opt, httpTimeout, err := mapPriceWatchOptions(cfg)
		if err != nil {
			return nil, err
		}
		pwLog := logSvc.Logger().With(logx.String("comp", "pricewatch"))
		f := pricewatch.New(eng, pricewatch.NewClient(httpTimeout, pwLog), opt, pwLog)
		cmds = append(cmds, f.Commands()...)
	}
	if cfg.Features.Weather.Enabled {
		f := weather.New(cfg.Features.Weather.APIKey, logSvc.Logger().With(logx.String("comp", "weather")))
		cmds = append(cmds, f.Commands()...)
	}
	if cfg.Features.Currency.Enabled {
		cmds = append(cmds, currency.New(logSvc.Logger().With(logx.String("comp", "currency"))).Commands()...)
	}
	if cfg.Features.Movies.Enabled {
		cmds = append(cmds, movies.New().Commands()...)
	}
	rt.Register(cmds)

	house := housekeeping.New(mapHousekeepingConfig(cfg), fileStorePath(sc), eng, notif,
		logSvc.Logger().With(logx.String("comp", "housekeeping")))

	pprofSvc := pprof.New(mapPprofConfig(cfg), logSvc.Logger().With(logx.String("comp", "pprof")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		notif:   notif,
		house:   house,
		pprof:   pprofSvc,
		router:  rt,
		msgs:    make(chan transport.Message, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapPriceWatchOptions(cfg); err != nil {
			return err
		}
		if h := cfg.Housekeeping; h != nil {
			if tz := strings.TrimSpace(h.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("housekeeping.timezone: invalid %q: %w", tz, err)
				}
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.msgs); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	a.engine.Start(a.sup.Context())
	if err := a.engine.ResumeAll(a.sup.Context()); err != nil {
		return err
	}

	if err := a.house.Start(a.sup.Context()); err != nil {
		return err
	}
	a.pprof.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.msgs)
	})

	// Event log for observability; components can also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.watchConfig()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// watchConfig applies hot-reloadable sections (logging, notifier tuning) and
// warns about the rest. Storage, engine and transport settings need a restart.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				for _, s := range sections {
					switch s {
					case "logging":
						// applied above
					case "notifier":
						// Rate, retry and dedup tuning apply live. Worker and
						// queue sizing only take effect on the next Start.
						if ncfg, err := mapNotifierConfig(newCfg); err == nil {
							a.notif.Apply(ncfg)
						}
					default:
						a.log.Warn("config section changed; restart required to apply",
							logx.String("section", s))
					}
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("app stopping")

	// Stop intake first so no new work arrives while services drain.
	_ = a.adapter.Stop(ctx)

	a.sup.Cancel()
	_ = a.sup.Wait(ctx)

	_ = a.engine.Stop(ctx)
	_ = a.notif.Stop(ctx)
	_ = a.house.Stop(ctx)
	a.pprof.Stop(ctx)

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("app stopped")
	_ = a.logs.Close()
	return nil
}

// directSink delivers straight through the adapter, for setups that run with
// the notifier pipeline disabled.
type directSink struct {
	ad transport.Adapter
}

func (d directSink) Send(ctx context.Context, target, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return fmt.Errorf("bad target %q: %w", target, err)
	}
	_, err = d.ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
	return err
}

// fileStorePath returns the backing file path for backup jobs, or "" for
// drivers with their own durability story.
func fileStorePath(sc storage.Config) string {
	switch sc.Driver {
	case "", "file":
		return sc.Path
	default:
		return ""
	}
}
