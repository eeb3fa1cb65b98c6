package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestClaimChannelSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			lease, err := s.ClaimChannel(ctx, "t1", "c1", id)
			assert.NoError(t, err)
			if lease != nil {
				mu.Lock()
				owners = append(owners, id)
				mu.Unlock()
			}
		}(fmt.Sprintf("w-%d", i))
	}
	wg.Wait()

	require.Len(t, owners, 1)
	p, err := s.GetSyncProgress(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, ProgressInProgress, p.Status)
	require.NotNil(t, p.WorkerID)
	assert.Equal(t, owners[0], *p.WorkerID)
}

func TestClaimChannelSameWorkerReclaims(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.False(t, first.Reclaimed)

	require.NoError(t, s.Checkpoint(ctx, "t1", "c1", "w-0", Checkpoint{MessageID: "150", SyncedAt: time.Now()}))

	again, err := s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, again.Reclaimed)
	assert.Equal(t, "150", again.Checkpoint.MessageID)

	other, err := s.ClaimChannel(ctx, "t1", "c1", "w-1")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestReleaseChannelRequiresHolder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)

	ok, err := s.ReleaseChannel(ctx, "t1", "c1", "w-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ReleaseChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := s.GetSyncProgress(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, ProgressPending, p.Status)
	assert.Nil(t, p.WorkerID)

	lease, err := s.ClaimChannel(ctx, "t1", "c1", "w-1")
	require.NoError(t, err)
	assert.NotNil(t, lease)
}

func TestReleaseAfterCompletionKeepsStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, "t1", "c1", "w-0", Checkpoint{MessageID: "9", SyncedAt: time.Now()}))

	ok, err := s.ReleaseChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := s.GetSyncProgress(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, ProgressCompleted, p.Status)
	assert.Nil(t, p.WorkerID)
	assert.Equal(t, "9", p.LastSyncedMessageID)
}

func TestCheckpointIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint(ctx, "t1", "c1", "w-0", Checkpoint{MessageID: "1000", SyncedAt: now}))
	require.NoError(t, s.Checkpoint(ctx, "t1", "c1", "w-0", Checkpoint{MessageID: "999", SyncedAt: now.Add(time.Second)}))
	require.NoError(t, s.Checkpoint(ctx, "t1", "c1", "w-0", Checkpoint{MessageID: "", SyncedAt: now.Add(time.Second)}))

	p, err := s.GetSyncProgress(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "1000", p.LastSyncedMessageID)
	require.NotNil(t, p.LastSyncedAt)
	assert.True(t, p.LastSyncedAt.Equal(now))
}

func TestCheckpointWithoutLease(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Checkpoint(ctx, "t1", "c1", "w-0", Checkpoint{MessageID: "1"})
	assert.ErrorIs(t, err, ErrLeaseLost)

	_, err = s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Checkpoint(ctx, "t1", "c1", "w-1", Checkpoint{MessageID: "1"}), ErrLeaseLost)
	assert.ErrorIs(t, s.MarkFailed(ctx, "t1", "c1", "w-1", &ErrorDetails{Kind: "UNKNOWN"}), ErrLeaseLost)
}

func TestMarkFailedClearsWorker(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.ClaimChannel(ctx, "t1", "c1", "w-0")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "t1", "c1", "w-0", &ErrorDetails{Kind: "RATE_LIMIT", Class: "RATE_LIMIT", StatusCode: 429}))

	p, err := s.GetSyncProgress(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, ProgressFailed, p.Status)
	assert.Nil(t, p.WorkerID)
	require.NotNil(t, p.ErrorDetails)
	assert.Equal(t, 429, p.ErrorDetails.StatusCode)

	lease, err := s.ClaimChannel(ctx, "t1", "c1", "w-1")
	require.NoError(t, err)
	assert.NotNil(t, lease)
}

func TestSweepStaleLeases(t *testing.T) {
	s := NewMemoryStore()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	ctx := context.Background()

	_, err := s.ClaimChannel(ctx, "t1", "old", "w-0")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = s.ClaimChannel(ctx, "t1", "fresh", "w-1")
	require.NoError(t, err)

	n, err := s.SweepStaleLeases(ctx, clock.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := s.GetSyncProgress(ctx, "t1", "old")
	require.NoError(t, err)
	assert.Equal(t, ProgressPending, old.Status)
	assert.Nil(t, old.WorkerID)

	fresh, err := s.GetSyncProgress(ctx, "t1", "fresh")
	require.NoError(t, err)
	assert.Equal(t, ProgressInProgress, fresh.Status)
}

func TestListSyncProgress(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, c := range []string{"b", "a", "c"} {
		_, err := s.ClaimChannel(ctx, "t1", c, "w")
		require.NoError(t, err)
	}
	_, err := s.ClaimChannel(ctx, "t2", "z", "w")
	require.NoError(t, err)

	list, err := s.ListSyncProgress(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ChannelID)
	assert.Equal(t, "c", list[2].ChannelID)
}

func testMessages(channelID string, ids ...string) []*Message {
	out := make([]*Message, len(ids))
	for i, id := range ids {
		out[i] = &Message{
			ID:                MessageRowID(channelID, id),
			TenantID:          "t1",
			ChannelID:         channelID,
			PlatformMessageID: id,
			AuthorID:          "u1",
			Content:           "hello " + id,
			CreatedAt:         time.Now(),
		}
	}
	return out
}

func TestWritePageIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msgs := testMessages("c1", "1", "2", "3")
	mid := msgs[0].ID
	batch := &PageBatch{
		Messages: msgs,
		Reactions: []*MessageEmojiReaction{
			{MessageID: mid, UserID: "u1", Emoji: "👍"},
			{MessageID: mid, UserID: "u2", Emoji: "👍"},
		},
		Attachments: []*MessageAttachment{
			{ID: AttachmentRowID(mid, "a1"), MessageID: mid, PlatformAttachmentID: "a1", Filename: "x.png"},
		},
	}

	res, err := s.WritePage(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, res.Created)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 2, res.ReactionsCreated)
	assert.Equal(t, 1, res.AttachmentsCreated)

	res, err = s.WritePage(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 0, res.ReactionsCreated)
	assert.Equal(t, 0, res.AttachmentsCreated)

	assert.Len(t, s.Messages("c1"), 3)
	assert.Equal(t, 2, s.ReactionCount())
	assert.Equal(t, 1, s.AttachmentCount())
}

func TestBulkUpsertMessagesUpdatesContent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.BulkUpsertMessages(ctx, testMessages("c1", "1"))
	require.NoError(t, err)

	edited := testMessages("c1", "1")
	edited[0].Content = "edited"
	res, err := s.BulkUpsertMessages(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	stored := s.Messages("c1")
	require.Len(t, stored, 1)
	assert.Equal(t, "edited", stored[0].Content)
}

func TestMessagesOrderedByPlatformID(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.BulkUpsertMessages(context.Background(), testMessages("c1", "100", "9", "55"))
	require.NoError(t, err)

	var ids []string
	for _, m := range s.Messages("c1") {
		ids = append(ids, m.PlatformMessageID)
	}
	assert.Equal(t, []string{"9", "55", "100"}, ids)
}

func TestUpdateChannelJobTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := &ChannelSyncJob{ID: "j1", TenantID: "t1", ChannelID: "c1", ParentJobID: "p1", Status: JobPending}
	require.NoError(t, s.CreateChannelJobs(ctx, []*ChannelSyncJob{job}))

	job.Status = JobCompleted
	require.NoError(t, s.UpdateChannelJob(ctx, job))

	job.Status = JobInProgress
	assert.ErrorIs(t, s.UpdateChannelJob(ctx, job), ErrJobTerminal)

	got, err := s.GetChannelJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)

	assert.ErrorIs(t, s.UpdateChannelJob(ctx, &ChannelSyncJob{ID: "missing"}), ErrNotFound)
}

func TestListChannelJobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateChannelJobs(ctx, []*ChannelSyncJob{
		{ID: "j1", ParentJobID: "p1", Status: JobPending},
		{ID: "j2", ParentJobID: "p2", Status: JobInProgress},
		{ID: "j3", ParentJobID: "p1", Status: JobFailed},
	}))

	byParent, err := s.ListChannelJobs(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, byParent, 2)
	assert.Equal(t, "j1", byParent[0].ID)
	assert.Equal(t, "j3", byParent[1].ID)

	open, err := s.ListChannelJobsByStatus(ctx, JobPending, JobInProgress)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "j1", open[0].ID)
	assert.Equal(t, "j2", open[1].ID)
}

func TestTenants(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.AddTenant(&Tenant{ID: "b", Platform: "discord"})
	s.AddTenant(&Tenant{ID: "a", Platform: "discord", AutoSync: true})

	got, err := s.GetTenant(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.AutoSync)

	_, err = s.GetTenant(ctx, "zz")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
}

func TestRowIDsAreDeterministic(t *testing.T) {
	assert.Equal(t, ChannelRowID("t1", "42"), ChannelRowID("t1", "42"))
	assert.NotEqual(t, ChannelRowID("t1", "42"), ChannelRowID("t2", "42"))
	assert.Equal(t, MessageRowID("c", "1"), MessageRowID("c", "1"))
	assert.NotEqual(t, MessageRowID("c", "1"), MessageRowID("c", "2"))
	assert.NotEqual(t, NewJobID(), NewJobID())
}
