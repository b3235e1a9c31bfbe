package sync

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/store"
)

const scheduledRunTimeout = 2 * time.Minute

// Scheduler drives the two reconciliation cadences: the polling
// interval for polling-mode connections, and a slower backstop for
// every connected project. Webhooks can be silently dropped, so even
// webhook_active connections get the backstop.
type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	cron    *cron.Cron
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler",
		zap.String("pollingInterval", s.cfg.PollingInterval),
		zap.String("backstopInterval", s.cfg.BackstopInterval),
	)

	if _, err := s.cron.AddFunc(s.cfg.PollingInterval, s.pollingPass); err != nil {
		logger.Log.Error("Failed to schedule polling pass", zap.Error(err))
		return
	}
	if _, err := s.cron.AddFunc(s.cfg.BackstopInterval, s.backstopPass); err != nil {
		logger.Log.Error("Failed to schedule backstop pass", zap.Error(err))
		return
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) pollingPass() {
	s.runPass(ReasonScheduledPoll, func(c *store.Connection) bool {
		return c.ChannelMode == store.ChannelPolling
	})
}

func (s *Scheduler) backstopPass() {
	s.runPass(ReasonBackstop, func(c *store.Connection) bool {
		return c.ChannelMode != store.ChannelDisconnected
	})
}

func (s *Scheduler) runPass(reason string, include func(*store.Connection) bool) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	conns, err := s.manager.Store().ListConnections(ctx)
	if err != nil {
		logger.Log.Error("Failed to list connections for scheduled pass",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	for _, conn := range conns {
		if !include(conn) {
			continue
		}
		report, err := s.manager.TriggerSync(ctx, SyncRequest{ProjectID: conn.ProjectID, Reason: reason})
		if err != nil {
			logger.Log.Error("Scheduled sync failed",
				zap.String("projectID", conn.ProjectID),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}
		if report.Skipped {
			logger.Log.Info("Sync already running, skipping scheduled run",
				zap.String("projectID", conn.ProjectID),
			)
		}
	}
}
