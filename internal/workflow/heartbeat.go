package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/store"
)

// HeartbeatMonitor keeps running jobs alive and reclaims stalled ones.
type HeartbeatMonitor struct {
	store             *store.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HeartbeatMonitor{
		store:             st,
		logger:            logging.NewComponentLogger(logger, "workflow-heartbeat"),
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               time.Now,
	}
}

// ReclaimStaleJobs returns running jobs whose heartbeat expired to pending.
func (h *HeartbeatMonitor) ReclaimStaleJobs(ctx context.Context) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logging.WarnWithContext(h.logger, "reclaimed stale jobs", "heartbeat_reclaim",
			logging.Int64("count", reclaimed),
			logging.Duration("timeout", h.heartbeatTimeout),
			logging.String(logging.FieldErrorHint, "a worker stopped without finishing its job"),
			logging.String(logging.FieldImpact, "reclaimed jobs run again from their last completed step"))
	}
	return reclaimed, nil
}

// StartLoop updates a job's heartbeat until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Info("daemon shutting down, heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}
}
