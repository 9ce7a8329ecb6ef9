// Package housekeeping runs the bot's cron-driven maintenance: periodic task
// store backups, notifier dedup pruning and a daily stats line in the log.
package housekeeping

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"zvonbot/internal/engine"
	logx "zvonbot/pkg/logx"
)

type Config struct {
	Enabled        bool
	Timezone       string
	BackupSchedule string // default "@every 6h"
	PruneSchedule  string // default "@every 1h"
	StatsSchedule  string // default "0 9 * * *"
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BackupSchedule) == "" {
		c.BackupSchedule = "@every 6h"
	}
	if strings.TrimSpace(c.PruneSchedule) == "" {
		c.PruneSchedule = "@every 1h"
	}
	if strings.TrimSpace(c.StatsSchedule) == "" {
		c.StatsSchedule = "0 9 * * *"
	}
	return c
}

// Pruner is what the notifier exposes for dedup-cache maintenance.
type Pruner interface {
	PruneDedup() int
}

type Service struct {
	cfg Config
	log logx.Logger

	storePath string // "" when the store is not file-backed
	eng       *engine.Service
	pruner    Pruner

	c *cron.Cron
}

func New(cfg Config, storePath string, eng *engine.Service, pruner Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		log:       log,
		storePath: storePath,
		eng:       eng,
		pruner:    pruner,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("housekeeping disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("bad housekeeping timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	s.c = cron.New(cron.WithLocation(loc))

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"store.backup", s.cfg.BackupSchedule, s.backup},
		{"notifier.prune", s.cfg.PruneSchedule, s.prune},
		{"engine.stats", s.cfg.StatsSchedule, s.stats},
	}
	for _, j := range jobs {
		job := j
		_, err := s.c.AddFunc(job.spec, func() {
			jctx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			job.run(jctx)
		})
		if err != nil {
			s.log.Warn("housekeeping job rejected", logx.String("job", job.name), logx.String("spec", job.spec), logx.Err(err))
			continue
		}
		s.log.Debug("housekeeping job scheduled", logx.String("job", job.name), logx.String("spec", job.spec))
	}

	s.c.Start()
	s.log.Info("housekeeping started", logx.Int("jobs", len(s.c.Entries())))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.c == nil {
		return nil
	}
	stopped := s.c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// backup copies the flat-file task store next to itself with a .bak suffix.
// Sqlite-backed stores have their own durability and are skipped.
func (s *Service) backup(ctx context.Context) {
	if s.storePath == "" {
		return
	}
	src, err := os.Open(s.storePath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("store backup open failed", logx.String("path", s.storePath), logx.Err(err))
		}
		return
	}
	defer src.Close()

	dstPath := s.storePath + ".bak"
	dst, err := os.CreateTemp(filepath.Dir(dstPath), ".bak-*")
	if err != nil {
		s.log.Warn("store backup create failed", logx.String("path", dstPath), logx.Err(err))
		return
	}
	tmp := dst.Name()
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		s.log.Warn("store backup copy failed", logx.String("path", dstPath), logx.Err(err))
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		s.log.Warn("store backup close failed", logx.String("path", dstPath), logx.Err(err))
		return
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		s.log.Warn("store backup rename failed", logx.String("path", dstPath), logx.Err(err))
		return
	}
	s.log.Debug("store backed up", logx.String("path", dstPath))
}

func (s *Service) prune(ctx context.Context) {
	if s.pruner == nil {
		return
	}
	if n := s.pruner.PruneDedup(); n > 0 {
		s.log.Debug("dedup cache pruned", logx.Int("removed", n))
	}
}

func (s *Service) stats(ctx context.Context) {
	if s.eng == nil {
		return
	}
	st := s.eng.Stats()
	fields := []logx.Field{
		logx.Int("tasks", st.Total),
		logx.Int("owners", st.Owners),
	}
	for kind, n := range st.PerKind {
		fields = append(fields, logx.Int("kind."+string(kind), n))
	}
	s.log.Info("scheduled task stats", fields...)
}
