// Package scheduler periodically syncs every linked item in the background.
package scheduler

import (
	"context"
	"errors"
	"time"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/plaidsync"

	"go.uber.org/zap"
)

type UserLister interface {
	ListUsersWithActiveItems(ctx context.Context) ([]int64, error)
}

type UserSyncer interface {
	SyncUser(ctx context.Context, userID int64) (*plaidsync.Result, error)
}

// Summary counts the outcome of one scheduled run.
type Summary struct {
	Users   int `json:"users"`
	Failed  int `json:"failed"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type Scheduler struct {
	users    UserLister
	syncer   UserSyncer
	interval time.Duration
	logger   *zap.Logger
}

func New(users UserLister, syncer UserSyncer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		users:    users,
		syncer:   syncer,
		interval: interval,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Run syncs all users every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled sync failed", zap.Error(err))
			}
		}
	}
}

// RunOnce syncs every user with an active item, one user at a time. A failing
// user is logged and counted; only listing users can fail the run.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	userIDs, err := s.users.ListUsersWithActiveItems(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		sum.Users++
		res, err := s.syncer.SyncUser(ctx, userID)
		switch {
		case errors.Is(err, apperr.ErrSyncInProgress):
			s.logger.Info("sync already running", zap.Int64("user_id", userID))
		case err != nil:
			sum.Failed++
			s.logger.Warn("user sync failed", zap.Int64("user_id", userID), zap.Error(err))
		default:
			sum.Added += res.Added
			sum.Removed += res.Removed
		}
	}

	s.logger.Info("scheduled sync finished",
		zap.Int("users", sum.Users),
		zap.Int("failed", sum.Failed),
		zap.Int("added", sum.Added),
		zap.Int("removed", sum.Removed))
	return sum, nil
}
