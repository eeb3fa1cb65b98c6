package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"archive-sync-service/internal/config"
	"archive-sync-service/internal/logger"
)

// Scheduler triggers periodic incremental syncs for auto-sync tenants and,
// when a lease timeout is configured, sweeps stale leases.
type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *Manager
	cron    *cron.Cron
	syncID  cron.EntryID
	sweepID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, manager *Manager) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		manager: manager,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, s.triggerSync)
	if err != nil {
		return fmt.Errorf("failed to schedule tenant sync: %w", err)
	}
	s.syncID = id

	if s.cfg.LeaseTimeout > 0 {
		spec := fmt.Sprintf("@every %s", s.cfg.LeaseTimeout)
		id, err := s.cron.AddFunc(spec, s.sweepLeases)
		if err != nil {
			return fmt.Errorf("failed to schedule lease sweep: %w", err)
		}
		s.sweepID = id
		logger.Log.Info("Lease sweep enabled", zap.Duration("leaseTimeout", s.cfg.LeaseTimeout))
	}

	s.cron.Start()
	return nil
}

// Stop waits for running jobs and deregisters the entries, so a later
// Start registers them once.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	for _, id := range []cron.EntryID{s.syncID, s.sweepID} {
		if id != 0 {
			s.cron.Remove(id)
		}
	}
	s.syncID, s.sweepID = 0, 0
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	logger.Log.Info("Triggering scheduled sync")

	if !s.manager.IsRunning() {
		logger.Log.Info("Sync manager not running, skipping scheduled run")
		return
	}

	n, err := s.manager.SyncAutoTenants(context.Background())
	if err != nil {
		logger.Log.Error("Failed to start scheduled sync", zap.Error(err))
		return
	}
	logger.Log.Info("Scheduled sync enqueued", zap.Int("tenants", n))
}

func (s *Scheduler) sweepLeases() {
	if _, err := s.manager.SweepStaleLeases(context.Background(), s.cfg.LeaseTimeout); err != nil {
		logger.Log.Error("Lease sweep failed", zap.Error(err))
	}
}
