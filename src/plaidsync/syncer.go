package plaidsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/models"
	"budgeteer-server/src/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config bounds a single pass and the per-user fan-out.
type Config struct {
	PageSize    int
	MaxPages    int           // 0 = unlimited
	MaxDuration time.Duration // 0 = unlimited
	LeaseTTL    time.Duration
	MaxRestarts int
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		PageSize:    100,
		MaxPages:    50,
		MaxDuration: 2 * time.Minute,
		LeaseTTL:    10 * time.Minute,
		MaxRestarts: 2,
		Concurrency: 1,
	}
}

type Syncer struct {
	store    Store
	provider Provider
	cfg      Config
	metrics  *observability.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewSyncer(store Store, provider Provider, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:    store,
		provider: provider,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "plaidsync")),
		tracer:   otel.Tracer("budgeteer/plaidsync"),
		now:      time.Now,
	}
}

// SyncItem runs one pass for a linked item: from the stored cursor until the
// provider reports no more pages, or until a page/time cap is reached, in
// which case the applied pages are committed and Result.Incomplete is set.
// A failed pass leaves the ledger and cursor untouched.
func (s *Syncer) SyncItem(ctx context.Context, itemID int64) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "plaidsync.SyncItem", trace.WithAttributes(attribute.Int64("item.id", itemID)))
	defer span.End()

	start := s.now()
	logger := s.logger.With(zap.Int64("item_id", itemID), zap.String("sync_id", uuid.NewString()))

	result, err := s.syncItem(ctx, itemID, logger)
	if err != nil {
		s.metrics.RecordSyncPass(passStatus(err), s.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("sync pass failed", zap.Error(err))
		return nil, err
	}

	status := "success"
	if result.Incomplete {
		status = "incomplete"
	}
	s.metrics.RecordSyncPass(status, s.now().Sub(start))
	s.metrics.AddSyncRecords("added", result.Added)
	s.metrics.AddSyncRecords("modified", result.Modified)
	s.metrics.AddSyncRecords("removed", result.Removed)
	s.metrics.AddSyncRecords("skipped", result.Skipped)
	s.metrics.AddSyncRecords("unmatched", result.Unmatched)

	span.SetAttributes(
		attribute.Int("sync.added", result.Added),
		attribute.Int("sync.modified", result.Modified),
		attribute.Int("sync.removed", result.Removed),
		attribute.Int("sync.pages", result.Pages),
		attribute.Bool("sync.incomplete", result.Incomplete),
	)
	logger.Info("sync pass committed",
		zap.Int("added", result.Added),
		zap.Int("modified", result.Modified),
		zap.Int("removed", result.Removed),
		zap.Int("skipped", result.Skipped),
		zap.Int("unmatched", result.Unmatched),
		zap.Int("pages", result.Pages),
		zap.Bool("incomplete", result.Incomplete),
		zap.Duration("duration", s.now().Sub(start)))

	return result, nil
}

func (s *Syncer) syncItem(ctx context.Context, itemID int64, logger *zap.Logger) (*Result, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.IsActive() {
		return nil, fmt.Errorf("item %d is %s: %w", itemID, item.Status, apperr.ErrNotFound)
	}

	cursor, err := s.store.AcquireSyncLease(ctx, item, s.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.ReleaseSyncLease(releaseCtx, item.ID); err != nil {
			logger.Warn("failed to release sync lease", zap.Error(err))
		}
	}()

	for attempt := 0; ; attempt++ {
		result, err := s.runPass(ctx, item, cursor.Cursor, logger)
		if errors.Is(err, ErrRestartPagination) && attempt < s.cfg.MaxRestarts {
			logger.Warn("restarting sync pass", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return result, err
	}
}

func (s *Syncer) runPass(ctx context.Context, item *models.LinkedItem, startCursor string, logger *zap.Logger) (*Result, error) {
	result := &Result{ItemID: item.ID}
	deadline := s.now().Add(s.cfg.MaxDuration)

	err := s.store.WithTx(ctx, func(tx Tx) error {
		rec := newReconciler(tx, item, result, logger)
		cursor := startCursor

		for {
			page, err := s.provider.SyncTransactions(ctx, item.AccessToken, cursor, s.cfg.PageSize)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", result.Pages+1, err)
			}
			if err := rec.apply(ctx, page); err != nil {
				return err
			}
			result.Pages++
			if page.NextCursor != "" {
				cursor = page.NextCursor
			}
			if !page.HasMore {
				break
			}
			if s.capReached(result.Pages, deadline) {
				result.Incomplete = true
				logger.Warn("sync pass capped, committing partial progress", zap.Int("pages", result.Pages))
				break
			}
		}

		result.Cursor = cursor
		return tx.AdvanceSyncCursor(ctx, item.ID, cursor, result.Added, result.Modified, result.Removed)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Syncer) capReached(pages int, deadline time.Time) bool {
	if s.cfg.MaxPages > 0 && pages >= s.cfg.MaxPages {
		return true
	}
	return s.cfg.MaxDuration > 0 && !s.now().Before(deadline)
}

// SyncUser runs SyncItem for every active item of the user, at most
// Config.Concurrency at a time, and returns the summed counts.
func (s *Syncer) SyncUser(ctx context.Context, userID int64) (*Result, error) {
	items, err := s.store.ListActiveItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.Concurrency))
	for _, item := range items {
		g.Go(func() error {
			res, err := s.SyncItem(gctx, item.ID)
			if err != nil {
				return fmt.Errorf("sync item %d: %w", item.ID, err)
			}
			mu.Lock()
			total.merge(res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return total, nil
}

func passStatus(err error) string {
	switch {
	case errors.Is(err, apperr.ErrSyncInProgress):
		return "locked"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case apperr.IsUpstream(err):
		return "provider_error"
	default:
		return "error"
	}
}
