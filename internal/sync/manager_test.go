package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archive-sync-service/internal/config"
	"archive-sync-service/internal/platform"
	"archive-sync-service/internal/store"
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Workers:        2,
		WorkerIDPrefix: "test",
		PageSize:       100,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
		QueueCapacity:  100,
	}
}

type managerFixture struct {
	store   *store.MemoryStore
	adapter *fakeAdapter
	manager *Manager
}

func newManagerFixture(t *testing.T, cfg config.SyncConfig) *managerFixture {
	t.Helper()
	st := store.NewMemoryStore()
	st.AddTenant(&store.Tenant{ID: "t1", Name: "Acme", Platform: "fake", PlatformServerID: "g1", AutoSync: true})

	ad := newFakeAdapter()
	ad.channels["g1"] = []platform.Channel{
		{PlatformID: "pc1", Name: "general", Type: "text", Position: 0},
		{PlatformID: "pc2", Name: "random", Type: "text", Position: 1},
	}
	ad.setMessages("pc1", makeMessages(1, 150))
	ad.setMessages("pc2", makeMessages(1, 20))

	return &managerFixture{
		store:   st,
		adapter: ad,
		manager: NewManager(cfg, st, platform.NewRegistry(ad)),
	}
}

func (f *managerFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Start(context.Background()))
	t.Cleanup(f.manager.Stop)
}

func (f *managerFixture) waitTerminal(t *testing.T, jobID string) *JobStatusView {
	t.Helper()
	ctx := context.Background()
	require.Eventually(t, func() bool {
		v, err := f.manager.GetJobStatus(ctx, jobID)
		return err == nil && v.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)

	v, err := f.manager.GetJobStatus(ctx, jobID)
	require.NoError(t, err)
	return v
}

func (f *managerFixture) waitStatus(t *testing.T, jobID string, status store.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := f.store.GetChannelJob(context.Background(), jobID)
		return err == nil && j.Status == status
	}, 5*time.Second, 5*time.Millisecond)
}

func childFor(t *testing.T, v *JobStatusView, platformChannelID string) *store.ChannelSyncJob {
	t.Helper()
	var found *store.ChannelSyncJob
	for _, c := range v.Children {
		if c.PlatformChannelID == platformChannelID {
			found = c
		}
	}
	require.NotNil(t, found, "no child for %s", platformChannelID)
	return found
}

func TestManagerTenantSyncCompletes(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.start(t)
	ctx := context.Background()

	id, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)

	v := f.waitTerminal(t, id)
	assert.Equal(t, JobKindTenant, v.Kind)
	assert.Equal(t, store.JobCompleted, v.Status)
	assert.Equal(t, 2, v.Progress.TotalChannels)
	assert.Equal(t, 2, v.Progress.Completed)
	assert.Equal(t, 170, v.Progress.MessagesProcessed)
	require.NotNil(t, v.Result)
	assert.Equal(t, 170, v.Result.MessagesProcessed)
	assert.Len(t, v.Children, 2)

	channels, err := f.store.ListChannels(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, channels, 2)

	progress, err := f.manager.ListProgress(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, progress, 2)
	for _, p := range progress {
		assert.Equal(t, store.ProgressCompleted, p.Status)
	}

	child := childFor(t, v, "pc1")
	cv, err := f.manager.GetJobStatus(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, JobKindChannel, cv.Kind)
	assert.Equal(t, id, cv.ParentJobID)
	require.NotNil(t, cv.Result)
	assert.Equal(t, "150", cv.Result.LastMessageID)
}

func TestManagerRetriesTransientUpToCap(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.adapter.failAlways["pc1"] = errors.New("dial tcp 10.0.0.1:443: connection refused")
	f.start(t)

	id, err := f.manager.EnqueueTenantSync(context.Background(), "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)

	v := f.waitTerminal(t, id)
	assert.Equal(t, store.JobFailed, v.Status)
	assert.Equal(t, 1, v.Progress.Failed)
	assert.Equal(t, 1, v.Progress.Completed)
	assert.Contains(t, v.FailedReason, "pc1")

	failed := childFor(t, v, "pc1")
	assert.Equal(t, store.JobFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Len(t, f.adapter.callsFor("pc1"), 3)
	require.NotNil(t, failed.ErrorDetails)
	assert.Equal(t, "NETWORK_ERROR", failed.ErrorDetails.Kind)
}

func TestManagerTransientFailureRecovers(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.adapter.failures["pc1"] = []error{errors.New("read: connection reset by peer")}
	f.start(t)

	id, err := f.manager.EnqueueTenantSync(context.Background(), "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)

	v := f.waitTerminal(t, id)
	assert.Equal(t, store.JobCompleted, v.Status)

	child := childFor(t, v, "pc1")
	assert.Equal(t, 2, child.Attempts)
	assert.Equal(t, 150, child.MessagesProcessed)
	assert.Equal(t, []string{"", "", "100"}, afterIDs(f.adapter.callsFor("pc1")))
}

func TestManagerRateLimitIsNotRetried(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.adapter.failAlways["pc1"] = &platform.RateLimitError{Platform: "fake", RetryAfter: time.Second}
	f.start(t)

	id, err := f.manager.EnqueueTenantSync(context.Background(), "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)

	v := f.waitTerminal(t, id)
	assert.Equal(t, store.JobFailed, v.Status)
	child := childFor(t, v, "pc1")
	assert.Equal(t, 1, child.Attempts)
	assert.Len(t, f.adapter.callsFor("pc1"), 1)
}

func TestManagerCancelQueuedAndRunningJobs(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Workers = 1
	f := newManagerFixture(t, cfg)
	gate := make(chan struct{})
	f.adapter.gate = gate
	f.start(t)
	ctx := context.Background()

	id, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)
	v, err := f.manager.GetJobStatus(ctx, id)
	require.NoError(t, err)
	running := childFor(t, v, "pc1")
	queued := childFor(t, v, "pc2")

	f.waitStatus(t, running.ID, store.JobInProgress)

	require.NoError(t, f.manager.CancelJob(ctx, queued.ID))
	j, err := f.store.GetChannelJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, j.Status)
	assert.ErrorIs(t, f.manager.CancelJob(ctx, queued.ID), store.ErrJobTerminal)

	require.NoError(t, f.manager.CancelJob(ctx, running.ID))
	close(gate)

	v = f.waitTerminal(t, id)
	assert.Equal(t, store.JobCancelled, v.Status)
	assert.Equal(t, 2, v.Progress.Cancelled)

	j, err = f.store.GetChannelJob(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, j.Status)
	assert.Equal(t, 100, j.MessagesProcessed)
	assert.Empty(t, f.adapter.callsFor("pc2"))
}

func TestManagerCancelParent(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Workers = 1
	f := newManagerFixture(t, cfg)
	gate := make(chan struct{})
	f.adapter.gate = gate
	f.start(t)
	ctx := context.Background()

	id, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)
	v, err := f.manager.GetJobStatus(ctx, id)
	require.NoError(t, err)
	f.waitStatus(t, childFor(t, v, "pc1").ID, store.JobInProgress)

	require.NoError(t, f.manager.CancelJob(ctx, id))
	close(gate)

	v = f.waitTerminal(t, id)
	assert.Equal(t, store.JobCancelled, v.Status)
	assert.ErrorIs(t, f.manager.CancelJob(ctx, id), store.ErrJobTerminal)
}

func TestManagerRetryChannelJob(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.adapter.failures["pc1"] = []error{&platform.HTTPError{Platform: "fake", Status: 403, Body: "Missing Access"}}
	f.start(t)
	ctx := context.Background()

	id, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)
	v := f.waitTerminal(t, id)
	require.Equal(t, store.JobFailed, v.Status)

	_, err = f.manager.RetryJob(ctx, childFor(t, v, "pc2").ID)
	assert.ErrorIs(t, err, ErrInvalidRetry)

	failed := childFor(t, v, "pc1")
	assert.Equal(t, 1, failed.Attempts)
	newID, err := f.manager.RetryJob(ctx, failed.ID)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, newID)

	v = f.waitTerminal(t, id)
	assert.Equal(t, store.JobCompleted, v.Status)
	assert.Equal(t, 2, v.Progress.Completed)
	assert.Equal(t, 0, v.Progress.Failed)
	assert.Len(t, v.Children, 3)

	rv, err := f.manager.GetJobStatus(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, rv.Status)
	assert.Equal(t, id, rv.ParentJobID)
}

func TestManagerRetryParent(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.adapter.failures["pc1"] = []error{&platform.HTTPError{Platform: "fake", Status: 404, Body: "Unknown Channel"}}
	f.start(t)
	ctx := context.Background()

	id, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, f.waitTerminal(t, id).Status)

	newID, err := f.manager.RetryJob(ctx, id)
	require.NoError(t, err)

	v := f.waitTerminal(t, newID)
	assert.Equal(t, store.JobCompleted, v.Status)
	assert.Equal(t, 1, v.Progress.TotalChannels)
	childFor(t, v, "pc1")

	parent, err := f.store.GetTenantJob(ctx, newID)
	require.NoError(t, err)
	require.NotNil(t, parent.RetryOf)
	assert.Equal(t, id, *parent.RetryOf)

	_, err = f.manager.RetryJob(ctx, newID)
	assert.ErrorIs(t, err, ErrInvalidRetry)
}

func TestManagerCooldownSkipsRecentChannels(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Cooldown = time.Hour
	f := newManagerFixture(t, cfg)
	f.start(t)
	ctx := context.Background()

	first, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, f.waitTerminal(t, first).Status)

	second, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{})
	require.NoError(t, err)
	v, err := f.manager.GetJobStatus(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, v.Status)
	assert.Equal(t, 0, v.Progress.TotalChannels)
	assert.Equal(t, 2, v.Progress.Skipped)

	forced, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{Force: true})
	require.NoError(t, err)
	v = f.waitTerminal(t, forced)
	assert.Equal(t, 2, v.Progress.TotalChannels)
	assert.Equal(t, 0, v.Progress.MessagesProcessed)
}

func TestManagerChannelFilter(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.start(t)

	id, err := f.manager.EnqueueTenantSync(context.Background(), "t1", SyncOptions{
		SyncType:   store.SyncFull,
		ChannelIDs: []string{"pc2"},
	})
	require.NoError(t, err)

	v := f.waitTerminal(t, id)
	assert.Equal(t, 1, v.Progress.TotalChannels)
	assert.Empty(t, f.adapter.callsFor("pc1"))
	assert.NotEmpty(t, f.adapter.callsFor("pc2"))
}

func TestManagerEnqueueErrors(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	ctx := context.Background()

	_, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{})
	assert.ErrorIs(t, err, ErrNotRunning)

	f.start(t)
	_, err = f.manager.EnqueueTenantSync(ctx, "missing", SyncOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: "delta"})
	assert.Error(t, err)

	_, err = f.manager.GetJobStatus(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, f.manager.Start(ctx))
}

func TestManagerRecoversUnfinishedJobs(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	f.adapter.setMessages("pc3", makeMessages(1, 150))
	ctx := context.Background()
	st := f.store

	parent := &store.TenantSyncJob{ID: "p1", TenantID: "t1", SyncType: store.SyncFull, Status: store.JobInProgress, TotalChannels: 3, CreatedAt: time.Now()}
	require.NoError(t, st.CreateTenantJob(ctx, parent))

	ownWorker := "test-0"
	foreignWorker := "other-1"
	pending := &store.ChannelSyncJob{ID: "j-pending", TenantID: "t1", ChannelID: "c1", PlatformChannelID: "pc1", Platform: "fake",
		ParentJobID: "p1", SyncType: store.SyncFull, Status: store.JobPending, MaxAttempts: 3}
	mine := &store.ChannelSyncJob{ID: "j-mine", TenantID: "t1", ChannelID: "c3", PlatformChannelID: "pc3", Platform: "fake",
		ParentJobID: "p1", SyncType: store.SyncFull, Status: store.JobInProgress, WorkerID: &ownWorker, MaxAttempts: 3,
		Attempts: 1, MessagesProcessed: 100, LastMessageID: "100"}
	foreign := &store.ChannelSyncJob{ID: "j-foreign", TenantID: "t1", ChannelID: "c2", PlatformChannelID: "pc2", Platform: "fake",
		ParentJobID: "p1", SyncType: store.SyncFull, Status: store.JobInProgress, WorkerID: &foreignWorker, MaxAttempts: 3, Attempts: 1}
	require.NoError(t, st.CreateChannelJobs(ctx, []*store.ChannelSyncJob{pending, mine, foreign}))

	lease, err := st.ClaimChannel(ctx, "t1", "c3", ownWorker)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.NoError(t, st.Checkpoint(ctx, "t1", "c3", ownWorker, store.Checkpoint{MessageID: "100", SyncedAt: time.Now()}))

	f.start(t)

	f.waitStatus(t, "j-pending", store.JobCompleted)
	f.waitStatus(t, "j-mine", store.JobCompleted)

	j, err := st.GetChannelJob(ctx, "j-mine")
	require.NoError(t, err)
	assert.Equal(t, 150, j.MessagesProcessed)
	assert.Equal(t, 2, j.Attempts)
	assert.Equal(t, []string{"100"}, afterIDs(f.adapter.callsFor("pc3")))

	j, err = st.GetChannelJob(ctx, "j-foreign")
	require.NoError(t, err)
	assert.Equal(t, store.JobInProgress, j.Status)
	assert.Empty(t, f.adapter.callsFor("pc2"))

	v, err := f.manager.GetJobStatus(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.JobInProgress, v.Status)
}

func TestManagerRecoversPendingJobWithOwnLease(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	ctx := context.Background()
	st := f.store

	require.NoError(t, st.CreateTenantJob(ctx, &store.TenantSyncJob{ID: "p1", TenantID: "t1", SyncType: store.SyncFull,
		Status: store.JobInProgress, TotalChannels: 1, CreatedAt: time.Now()}))
	require.NoError(t, st.CreateChannelJobs(ctx, []*store.ChannelSyncJob{{ID: "j1", TenantID: "t1", ChannelID: "c1",
		PlatformChannelID: "pc1", Platform: "fake", ParentJobID: "p1", SyncType: store.SyncFull,
		Status: store.JobPending, MaxAttempts: 3}}))

	// Claimed, then the process died before the job row was started.
	lease, err := st.ClaimChannel(ctx, "t1", "c1", "test-9")
	require.NoError(t, err)
	require.NotNil(t, lease)

	f.start(t)
	f.waitStatus(t, "j1", store.JobCompleted)

	j, err := st.GetChannelJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 150, j.MessagesProcessed)
	require.NotNil(t, j.WorkerID)
	assert.Equal(t, "test-9", *j.WorkerID)
	assert.Len(t, f.adapter.callsFor("pc1"), 2)

	p, err := st.GetSyncProgress(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, store.ProgressCompleted, p.Status)
	assert.Nil(t, p.WorkerID)

	assert.Equal(t, store.JobCompleted, f.waitTerminal(t, "p1").Status)
}

func TestManagerStopDuringRunningSync(t *testing.T) {
	cfg := testSyncConfig()
	cfg.Workers = 1
	f := newManagerFixture(t, cfg)
	fetching := make(chan struct{}, 1)
	f.adapter.onFetch = func(string, int) {
		select {
		case fetching <- struct{}{}:
		default:
		}
		time.Sleep(100 * time.Millisecond)
	}
	f.start(t)
	ctx := context.Background()

	id, err := f.manager.EnqueueTenantSync(ctx, "t1", SyncOptions{SyncType: store.SyncFull})
	require.NoError(t, err)
	select {
	case <-fetching:
	case <-time.After(3 * time.Second):
		t.Fatal("no fetch started")
	}

	stopped := make(chan struct{})
	go func() {
		f.manager.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a page was in flight")
	}
	assert.False(t, f.manager.IsRunning())

	// The queued channel never ran and stays open for the next start.
	v, err := f.manager.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, v.Status.Terminal())
	assert.Equal(t, store.JobPending, childFor(t, v, "pc2").Status)
	assert.Empty(t, f.adapter.callsFor("pc2"))
}

func TestManagerRequeueFailureFailsJob(t *testing.T) {
	cfg := testSyncConfig()
	cfg.QueueCapacity = 1
	f := newManagerFixture(t, cfg)
	f.adapter.failAlways["pc1"] = errors.New("dial tcp 10.0.0.1:443: connection refused")
	ctx := context.Background()

	require.NoError(t, f.store.CreateTenantJob(ctx, &store.TenantSyncJob{ID: "p1", TenantID: "t1", SyncType: store.SyncFull,
		Status: store.JobPending, TotalChannels: 1, CreatedAt: time.Now()}))
	job := &store.ChannelSyncJob{ID: "j1", TenantID: "t1", ChannelID: "c1", PlatformChannelID: "pc1", Platform: "fake",
		ParentJobID: "p1", SyncType: store.SyncFull, Status: store.JobPending, MaxAttempts: 3}
	require.NoError(t, f.store.CreateChannelJobs(ctx, []*store.ChannelSyncJob{job}))
	require.NoError(t, f.manager.queue.Enqueue(&Task{JobID: "filler"}))

	f.manager.handle(ctx, "test-0", taskFromJob(job))

	j, err := f.store.GetChannelJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, j.Status)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.ErrorDetails)
	assert.Contains(t, j.ErrorDetails.Message, ErrQueueFull.Error())

	parent, err := f.store.GetTenantJob(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, parent.Status)
}

func TestManagerCancelClearsFlagOnTerminalJob(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	ctx := context.Background()

	require.NoError(t, f.store.CreateTenantJob(ctx, &store.TenantSyncJob{ID: "p1", TenantID: "t1", SyncType: store.SyncFull,
		Status: store.JobPending, TotalChannels: 1, CreatedAt: time.Now()}))
	job := &store.ChannelSyncJob{ID: "j1", TenantID: "t1", ChannelID: "c1", PlatformChannelID: "pc1", Platform: "fake",
		ParentJobID: "p1", SyncType: store.SyncFull, Status: store.JobPending, MaxAttempts: 3}
	require.NoError(t, f.store.CreateChannelJobs(ctx, []*store.ChannelSyncJob{job}))

	// Not in the queue, so the request is recorded as a flag.
	require.NoError(t, f.manager.CancelJob(ctx, "j1"))
	assert.True(t, f.manager.isCancelled("j1"))

	now := time.Now()
	job.Status = store.JobCompleted
	job.CompletedAt = &now
	require.NoError(t, f.store.UpdateChannelJob(ctx, job))

	assert.ErrorIs(t, f.manager.CancelJob(ctx, "j1"), store.ErrJobTerminal)
	assert.False(t, f.manager.isCancelled("j1"))
}

func TestManagerSyncAutoTenants(t *testing.T) {
	cfg := testSyncConfig()
	f := newManagerFixture(t, cfg)
	f.store.AddTenant(&store.Tenant{ID: "t2", Name: "Manual", Platform: "fake", PlatformServerID: "g2"})
	gate := make(chan struct{})
	f.adapter.gate = gate
	f.start(t)
	ctx := context.Background()

	n, err := f.manager.SyncAutoTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// t1 still has open jobs.
	n, err = f.manager.SyncAutoTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	close(gate)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, testSyncConfig())
	require.NoError(t, f.manager.Start(context.Background()))
	assert.True(t, f.manager.IsRunning())
	f.manager.Stop()
	f.manager.Stop()
	assert.False(t, f.manager.IsRunning())
}

func TestAggregateStatus(t *testing.T) {
	job := func(status store.JobStatus, attempts int) *store.ChannelSyncJob {
		return &store.ChannelSyncJob{Status: status, Attempts: attempts}
	}
	tests := []struct {
		name     string
		children []*store.ChannelSyncJob
		want     store.JobStatus
	}{
		{"no children", nil, store.JobCompleted},
		{"all pending", []*store.ChannelSyncJob{job(store.JobPending, 0), job(store.JobPending, 0)}, store.JobPending},
		{"pending retry counts as started", []*store.ChannelSyncJob{job(store.JobPending, 1)}, store.JobInProgress},
		{"one running", []*store.ChannelSyncJob{job(store.JobInProgress, 1), job(store.JobPending, 0)}, store.JobInProgress},
		{"open with failure", []*store.ChannelSyncJob{job(store.JobFailed, 1), job(store.JobInProgress, 1)}, store.JobInProgress},
		{"any failed", []*store.ChannelSyncJob{job(store.JobFailed, 3), job(store.JobCompleted, 1)}, store.JobFailed},
		{"all cancelled", []*store.ChannelSyncJob{job(store.JobCancelled, 0), job(store.JobCancelled, 1)}, store.JobCancelled},
		{"some cancelled", []*store.ChannelSyncJob{job(store.JobCancelled, 0), job(store.JobCompleted, 1)}, store.JobCompleted},
		{"all completed", []*store.ChannelSyncJob{job(store.JobCompleted, 1)}, store.JobCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aggregateStatus(tt.children))
		})
	}
}

func TestLatestPerChannel(t *testing.T) {
	children := []*store.ChannelSyncJob{
		{ID: "a1", ChannelID: "a", Status: store.JobFailed},
		{ID: "b1", ChannelID: "b", Status: store.JobCompleted},
		{ID: "a2", ChannelID: "a", Status: store.JobCompleted},
	}
	latest := latestPerChannel(children)
	require.Len(t, latest, 2)
	assert.Equal(t, "a2", latest[0].ID)
	assert.Equal(t, "b1", latest[1].ID)
}
