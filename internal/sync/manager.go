package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"archive-sync-service/internal/config"
	"archive-sync-service/internal/logger"
	"archive-sync-service/internal/platform"
	"archive-sync-service/internal/store"
)

// Manager owns the job queue and worker pool and exposes the tenant-level
// operations: enqueue, status, cancel, retry.
type Manager struct {
	cfg      config.SyncConfig
	store    store.Store
	registry *platform.Registry
	queue    *JobQueue
	worker   *ChannelWorker
	pool     *WorkerPool
	now      func() time.Time

	mu      sync.Mutex
	running bool

	cancelMu  sync.Mutex
	cancelled map[string]bool

	// aggMu serialises parent aggregation.
	aggMu sync.Mutex
}

func NewManager(cfg config.SyncConfig, st store.Store, registry *platform.Registry) *Manager {
	m := &Manager{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		queue:     NewJobQueue(cfg.QueueCapacity),
		now:       func() time.Time { return time.Now().UTC() },
		cancelled: make(map[string]bool),
	}
	m.worker = NewChannelWorker(st, registry, cfg.PageSize)
	m.worker.cancelled = m.isCancelled
	return m
}

// Start re-enqueues unfinished channel jobs and starts the pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("sync manager is already running")
	}

	logger.Log.Info("Starting sync manager",
		zap.Int("workers", m.cfg.Workers),
		zap.Int("pageSize", m.worker.pageSize),
		zap.Strings("platforms", m.registry.Platforms()),
	)

	recovered, err := m.recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if recovered > 0 {
		logger.Log.Info("Recovered unfinished channel jobs", zap.Int("count", recovered))
	}

	m.pool = NewWorkerPool(m.cfg.Workers, m.cfg.WorkerIDPrefix, m.queue, m.handle)
	m.pool.Start()
	m.running = true
	return nil
}

func (m *Manager) recover(ctx context.Context) (int, error) {
	jobs, err := m.store.ListChannelJobsByStatus(ctx, store.JobPending, store.JobInProgress)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		t := taskFromJob(j)
		if j.Status == store.JobInProgress {
			// Only jobs this process was running; same-id re-claim resumes them.
			if !m.ownWorker(j.WorkerID) {
				continue
			}
			t.WorkerID = *j.WorkerID
		} else {
			// A crash between claim and job start leaves a pending job whose
			// channel is still leased to one of our worker ids.
			p, err := m.store.GetSyncProgress(ctx, j.TenantID, j.ChannelID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return n, fmt.Errorf("read progress for job %s: %w", j.ID, err)
			}
			if p != nil && p.Status == store.ProgressInProgress && m.ownWorker(p.WorkerID) {
				t.WorkerID = *p.WorkerID
			}
		}
		if err := m.queue.Enqueue(t); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) ownWorker(workerID *string) bool {
	return workerID != nil && strings.HasPrefix(*workerID, m.cfg.WorkerIDPrefix+"-")
}

// Stop halts the pool, waiting for in-flight pages to finish or abort.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	pool := m.pool
	m.mu.Unlock()

	logger.Log.Info("Stopping sync manager")
	m.queue.Close()
	pool.Stop()
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// handle runs one delivery and applies the queue's retry policy.
func (m *Manager) handle(ctx context.Context, workerID string, task *Task) {
	task.Attempt++
	res, err := m.worker.Sync(ctx, task, workerID)

	var se *SyncError
	switch {
	case errors.As(err, &se) && se.Retry:
		delay := Backoff(task.Attempt, m.cfg.BackoffBase, m.cfg.BackoffMax)
		logger.Log.Info("Retrying channel job",
			zap.String("jobID", task.JobID),
			zap.Int("attempt", task.Attempt),
			zap.Int("maxAttempts", task.MaxAttempts),
			zap.Duration("delay", delay),
		)
		qErr := m.queue.EnqueueAfter(task, delay)
		switch {
		case qErr == nil:
		case errors.Is(qErr, ErrQueueClosed):
			// Shutting down; the pending row is recovered on the next start.
			return
		default:
			logger.Log.Error("Failed to requeue channel job", zap.String("jobID", task.JobID), zap.Error(qErr))
			m.abandonRetry(context.WithoutCancel(ctx), task, qErr)
			m.clearCancel(task.JobID)
		}
		m.aggregateParent(context.WithoutCancel(ctx), task.ParentJobID)
		return
	case err != nil && ctx.Err() != nil:
		return
	}

	m.clearCancel(task.JobID)
	if res != nil && res.Outcome == OutcomeAlreadyInProgress {
		logger.Log.Info("Channel skipped, lease held elsewhere",
			zap.String("jobID", task.JobID),
			zap.String("channelID", task.ChannelID),
		)
	}
	m.aggregateParent(context.WithoutCancel(ctx), task.ParentJobID)
}

// abandonRetry fails a job whose redelivery could not be queued.
func (m *Manager) abandonRetry(ctx context.Context, task *Task, qErr error) {
	job, err := m.store.GetChannelJob(ctx, task.JobID)
	if err != nil {
		logger.Log.Warn("Failed to load channel job", zap.String("jobID", task.JobID), zap.Error(err))
		return
	}
	now := m.now()
	job.Status = store.JobFailed
	job.CompletedAt = &now
	if job.ErrorDetails != nil {
		d := *job.ErrorDetails
		d.Message = fmt.Sprintf("%s (requeue failed: %v)", d.Message, qErr)
		job.ErrorDetails = &d
	}
	if err := m.store.UpdateChannelJob(ctx, job); err != nil && !errors.Is(err, store.ErrJobTerminal) {
		logger.Log.Warn("Failed to fail channel job", zap.String("jobID", task.JobID), zap.Error(err))
	}
}

func (m *Manager) isCancelled(jobID string) bool {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	return m.cancelled[jobID]
}

func (m *Manager) flagCancel(jobID string) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	m.cancelled[jobID] = true
}

func (m *Manager) clearCancel(jobID string) {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	delete(m.cancelled, jobID)
}

// EnqueueTenantSync discovers the tenant's channels, applies admission and
// fans out one channel job per admitted channel. It returns the parent id.
func (m *Manager) EnqueueTenantSync(ctx context.Context, tenantID string, opts SyncOptions) (string, error) {
	if !m.IsRunning() {
		return "", ErrNotRunning
	}
	if opts.SyncType == "" {
		opts.SyncType = store.SyncIncremental
	}
	if opts.SyncType != store.SyncFull && opts.SyncType != store.SyncIncremental {
		return "", fmt.Errorf("unsupported sync type %q", opts.SyncType)
	}

	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	channels, err := m.discoverChannels(ctx, tenant)
	if err != nil {
		return "", err
	}
	channels = filterChannels(channels, opts.ChannelIDs)

	admitted, skipped, err := m.admit(ctx, tenant.ID, channels, opts)
	if err != nil {
		return "", err
	}
	if free := m.cfg.QueueCapacity - m.queue.Depth(); m.cfg.QueueCapacity > 0 && len(admitted) > free {
		return "", ErrQueueFull
	}

	now := m.now()
	parent := &store.TenantSyncJob{
		ID:            store.NewJobID(),
		TenantID:      tenant.ID,
		SyncType:      opts.SyncType,
		Status:        store.JobPending,
		TotalChannels: len(admitted),
		Skipped:       skipped,
		CreatedAt:     now,
	}
	if len(admitted) == 0 {
		parent.Status = store.JobCompleted
		parent.CompletedAt = &now
	}
	if err := m.store.CreateTenantJob(ctx, parent); err != nil {
		return "", fmt.Errorf("create tenant job: %w", err)
	}

	children := make([]*store.ChannelSyncJob, 0, len(admitted))
	for _, ch := range admitted {
		children = append(children, m.newChannelJob(parent, tenant.Platform, ch.ID, ch.PlatformID, ""))
	}
	if err := m.dispatch(ctx, children); err != nil {
		return "", err
	}

	logger.Log.Info("Tenant sync enqueued",
		zap.String("jobID", parent.ID),
		zap.String("tenantID", tenant.ID),
		zap.String("syncType", string(opts.SyncType)),
		zap.Int("channels", len(admitted)),
		zap.Int("skipped", skipped),
	)
	return parent.ID, nil
}

func (m *Manager) newChannelJob(parent *store.TenantSyncJob, platformName, channelID, platformChannelID, cursor string) *store.ChannelSyncJob {
	return &store.ChannelSyncJob{
		ID:                store.NewJobID(),
		TenantID:          parent.TenantID,
		ChannelID:         channelID,
		PlatformChannelID: platformChannelID,
		Platform:          platformName,
		ParentJobID:       parent.ID,
		SyncType:          parent.SyncType,
		Status:            store.JobPending,
		MaxAttempts:       m.cfg.MaxAttempts,
		LastMessageID:     cursor,
		CreatedAt:         m.now(),
	}
}

func (m *Manager) dispatch(ctx context.Context, jobs []*store.ChannelSyncJob) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := m.store.CreateChannelJobs(ctx, jobs); err != nil {
		return fmt.Errorf("create channel jobs: %w", err)
	}
	for _, j := range jobs {
		if err := m.queue.Enqueue(taskFromJob(j)); err != nil {
			// The row stays pending and is picked up on the next start.
			logger.Log.Warn("Failed to enqueue channel job", zap.String("jobID", j.ID), zap.Error(err))
		}
	}
	return nil
}

// discoverChannels refreshes the channel directory from the platform.
func (m *Manager) discoverChannels(ctx context.Context, tenant *store.Tenant) ([]*store.Channel, error) {
	adapter, err := m.registry.Get(tenant.Platform)
	if err != nil {
		return nil, err
	}
	found, err := adapter.ListChannels(ctx, tenant.PlatformServerID)
	if err != nil {
		return nil, fmt.Errorf("list channels for tenant %s: %w", tenant.ID, err)
	}

	channels := make([]*store.Channel, 0, len(found))
	for _, c := range found {
		channels = append(channels, &store.Channel{
			ID:         store.ChannelRowID(tenant.ID, c.PlatformID),
			TenantID:   tenant.ID,
			PlatformID: c.PlatformID,
			Name:       c.Name,
			Type:       c.Type,
			ParentID:   c.ParentID,
			Position:   c.Position,
		})
	}
	if err := m.store.UpsertChannels(ctx, channels); err != nil {
		return nil, fmt.Errorf("store channels: %w", err)
	}
	return channels, nil
}

func filterChannels(channels []*store.Channel, ids []string) []*store.Channel {
	if len(ids) == 0 {
		return channels
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*store.Channel
	for _, c := range channels {
		if want[c.ID] || want[c.PlatformID] {
			out = append(out, c)
		}
	}
	return out
}

// admit is the cool-down check: an incremental run skips channels that
// completed within the window, unless forced.
func (m *Manager) admit(ctx context.Context, tenantID string, channels []*store.Channel, opts SyncOptions) ([]*store.Channel, int, error) {
	if opts.Force || opts.SyncType != store.SyncIncremental || m.cfg.Cooldown <= 0 {
		return channels, 0, nil
	}
	cutoff := m.now().Add(-m.cfg.Cooldown)
	var (
		admitted []*store.Channel
		skipped  int
	)
	for _, c := range channels {
		p, err := m.store.GetSyncProgress(ctx, tenantID, c.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, 0, fmt.Errorf("read progress for channel %s: %w", c.ID, err)
		}
		if p != nil && p.Status == store.ProgressCompleted && p.LastSyncedAt != nil && p.LastSyncedAt.After(cutoff) {
			skipped++
			continue
		}
		admitted = append(admitted, c)
	}
	return admitted, skipped, nil
}

// GetJobStatus resolves either a parent or a channel job id.
func (m *Manager) GetJobStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	parent, err := m.store.GetTenantJob(ctx, jobID)
	if err == nil {
		children, err := m.store.ListChannelJobs(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		return tenantView(parent, children), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	job, err := m.store.GetChannelJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return channelView(job), nil
}

// latestPerChannel keeps the newest child per channel; a retried child
// supersedes the failed one it replaced.
func latestPerChannel(children []*store.ChannelSyncJob) []*store.ChannelSyncJob {
	idx := make(map[string]int, len(children))
	var out []*store.ChannelSyncJob
	for _, c := range children {
		if i, ok := idx[c.ChannelID]; ok {
			out[i] = c
			continue
		}
		idx[c.ChannelID] = len(out)
		out = append(out, c)
	}
	return out
}

func tenantView(parent *store.TenantSyncJob, children []*store.ChannelSyncJob) *JobStatusView {
	v := &JobStatusView{
		ID:       parent.ID,
		Kind:     JobKindTenant,
		TenantID: parent.TenantID,
		SyncType: parent.SyncType,
		Status:   parent.Status,
		Children: children,
		Progress: Progress{TotalChannels: parent.TotalChannels, Skipped: parent.Skipped},
	}
	var failed []string
	for _, c := range latestPerChannel(children) {
		v.Progress.MessagesProcessed += c.MessagesProcessed
		if c.Attempts > v.Attempts {
			v.Attempts = c.Attempts
		}
		switch c.Status {
		case store.JobPending:
			v.Progress.Pending++
		case store.JobInProgress:
			v.Progress.Running++
		case store.JobCompleted:
			v.Progress.Completed++
		case store.JobFailed:
			v.Progress.Failed++
			failed = append(failed, c.PlatformChannelID)
		case store.JobCancelled:
			v.Progress.Cancelled++
		}
	}
	if len(failed) > 0 {
		v.FailedReason = fmt.Sprintf("%d channel(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	if parent.Status == store.JobCompleted {
		v.Result = &JobResult{MessagesProcessed: v.Progress.MessagesProcessed}
	}
	return v
}

func channelView(job *store.ChannelSyncJob) *JobStatusView {
	v := &JobStatusView{
		ID:          job.ID,
		Kind:        JobKindChannel,
		TenantID:    job.TenantID,
		ChannelID:   job.ChannelID,
		ParentJobID: job.ParentJobID,
		SyncType:    job.SyncType,
		Status:      job.Status,
		Attempts:    job.Attempts,
		Error:       job.ErrorDetails,
		Progress:    Progress{MessagesProcessed: job.MessagesProcessed},
	}
	if job.ErrorDetails != nil && job.Status == store.JobFailed {
		v.FailedReason = job.ErrorDetails.Message
	}
	if job.Status == store.JobCompleted {
		v.Result = &JobResult{MessagesProcessed: job.MessagesProcessed, LastMessageID: job.LastMessageID}
	}
	return v
}

// CancelJob removes a queued channel job, or flags a running one so it
// stops before its next page. A parent id cancels every open child.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	parent, err := m.store.GetTenantJob(ctx, jobID)
	if err == nil {
		if parent.Status.Terminal() {
			return store.ErrJobTerminal
		}
		children, err := m.store.ListChannelJobs(ctx, parent.ID)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Status.Terminal() {
				m.clearCancel(c.ID)
				continue
			}
			if err := m.cancelChannelJob(ctx, c); err != nil && !errors.Is(err, store.ErrJobTerminal) {
				return err
			}
		}
		m.aggregateParent(ctx, parent.ID)
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	job, err := m.store.GetChannelJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		m.clearCancel(job.ID)
		return store.ErrJobTerminal
	}
	if err := m.cancelChannelJob(ctx, job); err != nil {
		return err
	}
	m.aggregateParent(ctx, job.ParentJobID)
	return nil
}

func (m *Manager) cancelChannelJob(ctx context.Context, job *store.ChannelSyncJob) error {
	if !m.queue.Remove(job.ID) {
		m.flagCancel(job.ID)
		logger.Log.Info("Cancellation requested for running channel job", zap.String("jobID", job.ID))
		return nil
	}

	now := m.now()
	job.Status = store.JobCancelled
	job.CompletedAt = &now
	if err := m.store.UpdateChannelJob(ctx, job); err != nil {
		return err
	}
	logger.Log.Info("Queued channel job cancelled", zap.String("jobID", job.ID))
	return nil
}

// RetryJob re-runs a failed job. A channel job is retried under the same
// parent, resuming from its cursor; a parent is retried as a new parent
// covering only its failed channels.
func (m *Manager) RetryJob(ctx context.Context, jobID string) (string, error) {
	if !m.IsRunning() {
		return "", ErrNotRunning
	}

	parent, err := m.store.GetTenantJob(ctx, jobID)
	if err == nil {
		return m.retryParent(ctx, parent)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	job, err := m.store.GetChannelJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != store.JobFailed {
		return "", ErrInvalidRetry
	}
	parent, err = m.store.GetTenantJob(ctx, job.ParentJobID)
	if err != nil {
		return "", fmt.Errorf("parent of %s: %w", job.ID, err)
	}

	// Reopen the parent before dispatch so the retry's own aggregation
	// cannot be overwritten.
	if err := m.reopenParent(ctx, parent.ID); err != nil {
		return "", err
	}

	retry := m.newChannelJob(parent, job.Platform, job.ChannelID, job.PlatformChannelID, job.LastMessageID)
	retry.MessagesProcessed = job.MessagesProcessed
	if err := m.dispatch(ctx, []*store.ChannelSyncJob{retry}); err != nil {
		m.aggregateParent(context.WithoutCancel(ctx), parent.ID)
		return "", err
	}
	logger.Log.Info("Channel job retried", zap.String("jobID", job.ID), zap.String("newJobID", retry.ID))
	return retry.ID, nil
}

func (m *Manager) reopenParent(ctx context.Context, parentID string) error {
	m.aggMu.Lock()
	defer m.aggMu.Unlock()

	parent, err := m.store.GetTenantJob(ctx, parentID)
	if err != nil {
		return err
	}
	if !parent.Status.Terminal() {
		return nil
	}
	parent.Status = store.JobInProgress
	parent.CompletedAt = nil
	return m.store.UpdateTenantJob(ctx, parent)
}

func (m *Manager) retryParent(ctx context.Context, old *store.TenantSyncJob) (string, error) {
	if old.Status != store.JobFailed {
		return "", ErrInvalidRetry
	}
	children, err := m.store.ListChannelJobs(ctx, old.ID)
	if err != nil {
		return "", err
	}

	now := m.now()
	oldID := old.ID
	parent := &store.TenantSyncJob{
		ID:        store.NewJobID(),
		TenantID:  old.TenantID,
		SyncType:  old.SyncType,
		Status:    store.JobPending,
		RetryOf:   &oldID,
		CreatedAt: now,
	}
	var jobs []*store.ChannelSyncJob
	for _, c := range latestPerChannel(children) {
		if c.Status != store.JobFailed {
			continue
		}
		j := m.newChannelJob(parent, c.Platform, c.ChannelID, c.PlatformChannelID, c.LastMessageID)
		jobs = append(jobs, j)
	}
	parent.TotalChannels = len(jobs)
	if len(jobs) == 0 {
		return "", ErrInvalidRetry
	}

	if err := m.store.CreateTenantJob(ctx, parent); err != nil {
		return "", fmt.Errorf("create tenant job: %w", err)
	}
	if err := m.dispatch(ctx, jobs); err != nil {
		return "", err
	}
	logger.Log.Info("Tenant sync retried",
		zap.String("jobID", old.ID),
		zap.String("newJobID", parent.ID),
		zap.Int("channels", len(jobs)),
	)
	return parent.ID, nil
}

// aggregateParent moves the parent to in_progress once any child started
// and to a terminal state once every child is terminal: failed if any
// failed, cancelled if all were cancelled, completed otherwise.
func (m *Manager) aggregateParent(ctx context.Context, parentID string) {
	if parentID == "" {
		return
	}
	m.aggMu.Lock()
	defer m.aggMu.Unlock()

	parent, err := m.store.GetTenantJob(ctx, parentID)
	if err != nil {
		logger.Log.Warn("Failed to load parent job", zap.String("jobID", parentID), zap.Error(err))
		return
	}
	children, err := m.store.ListChannelJobs(ctx, parentID)
	if err != nil {
		logger.Log.Warn("Failed to list child jobs", zap.String("jobID", parentID), zap.Error(err))
		return
	}

	next := aggregateStatus(latestPerChannel(children))
	if next == parent.Status {
		return
	}
	parent.Status = next
	if next.Terminal() {
		now := m.now()
		parent.CompletedAt = &now
	}
	if err := m.store.UpdateTenantJob(ctx, parent); err != nil {
		logger.Log.Warn("Failed to update parent job", zap.String("jobID", parentID), zap.Error(err))
		return
	}
	if next.Terminal() {
		logger.Log.Info("Tenant sync finished", zap.String("jobID", parentID), zap.String("status", string(next)))
	}
}

func aggregateStatus(children []*store.ChannelSyncJob) store.JobStatus {
	if len(children) == 0 {
		return store.JobCompleted
	}
	var started, open, failed, cancelled int
	for _, c := range children {
		switch c.Status {
		case store.JobPending:
			open++
			if c.Attempts > 0 {
				started++
			}
		case store.JobInProgress:
			open++
			started++
		case store.JobFailed:
			failed++
		case store.JobCancelled:
			cancelled++
		}
	}
	switch {
	case open == len(children) && started == 0:
		return store.JobPending
	case open > 0:
		return store.JobInProgress
	case failed > 0:
		return store.JobFailed
	case cancelled == len(children):
		return store.JobCancelled
	default:
		return store.JobCompleted
	}
}

// ListProgress returns the tenant's per-channel progress rows.
func (m *Manager) ListProgress(ctx context.Context, tenantID string) ([]*store.SyncProgress, error) {
	return m.store.ListSyncProgress(ctx, tenantID)
}

// SyncAutoTenants enqueues an incremental run for every auto-sync tenant
// that has no open channel jobs.
func (m *Manager) SyncAutoTenants(ctx context.Context) (int, error) {
	tenants, err := m.store.ListTenants(ctx)
	if err != nil {
		return 0, err
	}
	open, err := m.store.ListChannelJobsByStatus(ctx, store.JobPending, store.JobInProgress)
	if err != nil {
		return 0, err
	}
	busy := make(map[string]bool)
	for _, j := range open {
		busy[j.TenantID] = true
	}

	n := 0
	for _, t := range tenants {
		if !t.AutoSync || busy[t.ID] {
			continue
		}
		if _, err := m.EnqueueTenantSync(ctx, t.ID, SyncOptions{SyncType: store.SyncIncremental}); err != nil {
			logger.Log.Error("Scheduled tenant sync failed", zap.String("tenantID", t.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// SweepStaleLeases returns leases idle for longer than timeout to pending.
func (m *Manager) SweepStaleLeases(ctx context.Context, timeout time.Duration) (int64, error) {
	n, err := m.store.SweepStaleLeases(ctx, m.now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Warn("Swept stale channel leases", zap.Int64("count", n), zap.Duration("timeout", timeout))
	}
	return n, nil
}
