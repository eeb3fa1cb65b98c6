package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"archive-sync-service/internal/platform"
)

type progressKey struct {
	tenantID  string
	channelID string
}

type messageKey struct {
	channelID         string
	platformMessageID string
}

// MemoryStore is a process-local Store. A single mutex makes every
// operation atomic, which gives ClaimChannel its compare-and-set semantics.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	progress    map[progressKey]*SyncProgress
	tenantJobs  map[string]*TenantSyncJob
	channelJobs map[string]*ChannelSyncJob
	jobOrder    []string
	tenants     map[string]*Tenant
	channels    map[string]*Channel
	messages    map[messageKey]*Message
	reactions   map[MessageEmojiReaction]struct{}
	attachments map[string]*MessageAttachment
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		progress:    make(map[progressKey]*SyncProgress),
		tenantJobs:  make(map[string]*TenantSyncJob),
		channelJobs: make(map[string]*ChannelSyncJob),
		tenants:     make(map[string]*Tenant),
		channels:    make(map[string]*Channel),
		messages:    make(map[messageKey]*Message),
		reactions:   make(map[MessageEmojiReaction]struct{}),
		attachments: make(map[string]*MessageAttachment),
	}
}

func (s *MemoryStore) Close() error { return nil }

// AddTenant seeds the tenant directory.
func (s *MemoryStore) AddTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Leases

func (s *MemoryStore) ClaimChannel(ctx context.Context, tenantID, channelID, workerID string) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := progressKey{tenantID, channelID}
	p, ok := s.progress[k]
	if !ok {
		p = &SyncProgress{TenantID: tenantID, ChannelID: channelID, Status: ProgressPending}
		s.progress[k] = p
	}

	held := p.Status == ProgressInProgress
	mine := p.WorkerID != nil && *p.WorkerID == workerID
	if held && !mine {
		return nil, nil
	}

	now := s.now()
	w := workerID
	p.WorkerID = &w
	p.Status = ProgressInProgress
	p.StartedAt = &now
	p.UpdatedAt = now

	lease := &Lease{
		TenantID:  tenantID,
		ChannelID: channelID,
		WorkerID:  workerID,
		StartedAt: now,
		Reclaimed: held && mine,
	}
	lease.Checkpoint.MessageID = p.LastSyncedMessageID
	if p.LastSyncedAt != nil {
		lease.Checkpoint.SyncedAt = *p.LastSyncedAt
	}
	return lease, nil
}

func (s *MemoryStore) ReleaseChannel(ctx context.Context, tenantID, channelID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[progressKey{tenantID, channelID}]
	if !ok || p.WorkerID == nil || *p.WorkerID != workerID {
		return false, nil
	}
	p.WorkerID = nil
	if p.Status == ProgressInProgress {
		p.Status = ProgressPending
	}
	p.UpdatedAt = s.now()
	return true, nil
}

// heldLocked returns the row if workerID holds its lease.
func (s *MemoryStore) heldLocked(tenantID, channelID, workerID string) (*SyncProgress, error) {
	p, ok := s.progress[progressKey{tenantID, channelID}]
	if !ok || p.Status != ProgressInProgress || p.WorkerID == nil || *p.WorkerID != workerID {
		return nil, ErrLeaseLost
	}
	return p, nil
}

func advanceLocked(p *SyncProgress, cp Checkpoint) {
	if cp.MessageID == "" || !idAfter(cp.MessageID, p.LastSyncedMessageID) {
		return
	}
	at := cp.SyncedAt
	p.LastSyncedMessageID = cp.MessageID
	p.LastSyncedAt = &at
}

func (s *MemoryStore) Checkpoint(ctx context.Context, tenantID, channelID, workerID string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.heldLocked(tenantID, channelID, workerID)
	if err != nil {
		return err
	}
	advanceLocked(p, cp)
	p.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, tenantID, channelID, workerID string, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.heldLocked(tenantID, channelID, workerID)
	if err != nil {
		return err
	}
	advanceLocked(p, cp)
	if p.LastSyncedAt == nil || cp.SyncedAt.After(*p.LastSyncedAt) {
		at := cp.SyncedAt
		p.LastSyncedAt = &at
	}
	p.Status = ProgressCompleted
	p.WorkerID = nil
	p.ErrorDetails = nil
	p.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, tenantID, channelID, workerID string, details *ErrorDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.heldLocked(tenantID, channelID, workerID)
	if err != nil {
		return err
	}
	p.Status = ProgressFailed
	p.WorkerID = nil
	if details != nil {
		d := *details
		p.ErrorDetails = &d
	}
	p.UpdatedAt = s.now()
	return nil
}

func copyProgress(p *SyncProgress) *SyncProgress {
	cp := *p
	if p.WorkerID != nil {
		w := *p.WorkerID
		cp.WorkerID = &w
	}
	if p.ErrorDetails != nil {
		d := *p.ErrorDetails
		cp.ErrorDetails = &d
	}
	return &cp
}

func (s *MemoryStore) GetSyncProgress(ctx context.Context, tenantID, channelID string) (*SyncProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressKey{tenantID, channelID}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProgress(p), nil
}

func (s *MemoryStore) ListSyncProgress(ctx context.Context, tenantID string) ([]*SyncProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SyncProgress
	for k, p := range s.progress {
		if k.tenantID == tenantID {
			out = append(out, copyProgress(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *MemoryStore) SweepStaleLeases(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.progress {
		if p.Status == ProgressInProgress && p.UpdatedAt.Before(olderThan) {
			p.Status = ProgressPending
			p.WorkerID = nil
			p.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// Jobs

func (s *MemoryStore) CreateTenantJob(ctx context.Context, job *TenantSyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.tenantJobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateTenantJob(ctx context.Context, job *TenantSyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenantJobs[job.ID]; !ok {
		return ErrNotFound
	}
	cp := *job
	s.tenantJobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTenantJob(ctx context.Context, id string) (*TenantSyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.tenantJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func copyChannelJob(j *ChannelSyncJob) *ChannelSyncJob {
	cp := *j
	if j.WorkerID != nil {
		w := *j.WorkerID
		cp.WorkerID = &w
	}
	if j.ErrorDetails != nil {
		d := *j.ErrorDetails
		cp.ErrorDetails = &d
	}
	return &cp
}

func (s *MemoryStore) CreateChannelJobs(ctx context.Context, jobs []*ChannelSyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		if _, exists := s.channelJobs[j.ID]; !exists {
			s.jobOrder = append(s.jobOrder, j.ID)
		}
		s.channelJobs[j.ID] = copyChannelJob(j)
	}
	return nil
}

func (s *MemoryStore) UpdateChannelJob(ctx context.Context, job *ChannelSyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.channelJobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.Terminal() {
		return ErrJobTerminal
	}
	s.channelJobs[job.ID] = copyChannelJob(job)
	return nil
}

func (s *MemoryStore) GetChannelJob(ctx context.Context, id string) (*ChannelSyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.channelJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChannelJob(j), nil
}

func (s *MemoryStore) ListChannelJobs(ctx context.Context, parentJobID string) ([]*ChannelSyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ChannelSyncJob
	for _, id := range s.jobOrder {
		if j := s.channelJobs[id]; j.ParentJobID == parentJobID {
			out = append(out, copyChannelJob(j))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListChannelJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*ChannelSyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*ChannelSyncJob
	for _, id := range s.jobOrder {
		if j := s.channelJobs[id]; want[j.Status] {
			out = append(out, copyChannelJob(j))
		}
	}
	return out, nil
}

// Sink

func (s *MemoryStore) UpsertChannels(ctx context.Context, channels []*Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, ch := range channels {
		cp := *ch
		cp.UpdatedAt = now
		s.channels[ch.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) ListChannels(ctx context.Context, tenantID string) ([]*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Channel
	for _, ch := range s.channels {
		if ch.TenantID == tenantID {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) BulkUpsertMessages(ctx context.Context, msgs []*Message) (*UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertMessagesLocked(msgs), nil
}

func (s *MemoryStore) upsertMessagesLocked(msgs []*Message) *UpsertResult {
	res := &UpsertResult{}
	for _, m := range msgs {
		k := messageKey{m.ChannelID, m.PlatformMessageID}
		cp := *m
		if cur, ok := s.messages[k]; ok {
			cp.ID = cur.ID
			s.messages[k] = &cp
			res.Skipped++
			continue
		}
		s.messages[k] = &cp
		res.Created = append(res.Created, m.PlatformMessageID)
	}
	return res
}

func (s *MemoryStore) BulkCreateReactions(ctx context.Context, reactions []*MessageEmojiReaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReactionsLocked(reactions), nil
}

func (s *MemoryStore) createReactionsLocked(reactions []*MessageEmojiReaction) int {
	n := 0
	for _, r := range reactions {
		if _, ok := s.reactions[*r]; ok {
			continue
		}
		s.reactions[*r] = struct{}{}
		n++
	}
	return n
}

func (s *MemoryStore) BulkCreateAttachments(ctx context.Context, attachments []*MessageAttachment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAttachmentsLocked(attachments), nil
}

func (s *MemoryStore) createAttachmentsLocked(attachments []*MessageAttachment) int {
	n := 0
	for _, a := range attachments {
		if _, ok := s.attachments[a.ID]; ok {
			continue
		}
		cp := *a
		s.attachments[a.ID] = &cp
		n++
	}
	return n
}

func (s *MemoryStore) WritePage(ctx context.Context, batch *PageBatch) (*UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.upsertMessagesLocked(batch.Messages)
	res.ReactionsCreated = s.createReactionsLocked(batch.Reactions)
	res.AttachmentsCreated = s.createAttachmentsLocked(batch.Attachments)
	return res, nil
}

// Messages returns the stored messages of a channel ordered by platform id.
func (s *MemoryStore) Messages(channelID string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for k, m := range s.messages {
		if k.channelID == channelID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return idAfter(out[j].PlatformMessageID, out[i].PlatformMessageID)
	})
	return out
}

func (s *MemoryStore) ReactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reactions)
}

func (s *MemoryStore) AttachmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attachments)
}

func idAfter(a, b string) bool {
	return platform.CompareIDs(a, b) > 0
}
