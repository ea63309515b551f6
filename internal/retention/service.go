// Package retention prunes history rows that have aged out.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"wplacebot/internal/db"
)

const (
	DefaultDays     = 14
	DefaultSchedule = "@every 6h"
	runTimeout      = 2 * time.Minute
)

type Service struct {
	repo *db.Repository
	days int
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo *db.Repository, days int, logger *slog.Logger) *Service {
	if days <= 0 {
		days = DefaultDays
	}
	return &Service{repo: repo, days: days, log: logger, now: time.Now}
}

// Cutoff is the oldest timestamp still kept.
func (s *Service) Cutoff() time.Time {
	return s.now().UTC().AddDate(0, 0, -s.days)
}

func (s *Service) Run(ctx context.Context) error {
	cutoff := s.Cutoff()
	if err := s.repo.DeleteOlderThan(ctx, cutoff); err != nil {
		s.log.Error("retention cleanup failed", "err", err)
		return err
	}
	s.log.Info("retention cleanup completed", "cutoff", cutoff)
	return nil
}

// Schedule registers Run on a cron runner. The caller starts and stops it.
func (s *Service) Schedule(runner *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	id, err := runner.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_ = s.Run(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("retention schedule %q: %w", spec, err)
	}
	return id, nil
}
