package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrLeaseLost means the caller no longer holds the channel lease.
	ErrLeaseLost = errors.New("channel lease is no longer held by this worker")
	// ErrJobTerminal is returned when mutating a job that already finished.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// LeaseStore owns SyncProgress rows. Claim is a single compare-and-set.
type LeaseStore interface {
	// ClaimChannel returns nil, nil when another worker holds the lease.
	ClaimChannel(ctx context.Context, tenantID, channelID, workerID string) (*Lease, error)
	// ReleaseChannel clears the lease only if workerID still holds it.
	ReleaseChannel(ctx context.Context, tenantID, channelID, workerID string) (bool, error)
	// Checkpoint advances progress without touching lease fields. The
	// stored message id never moves backwards.
	Checkpoint(ctx context.Context, tenantID, channelID, workerID string, cp Checkpoint) error
	MarkCompleted(ctx context.Context, tenantID, channelID, workerID string, cp Checkpoint) error
	MarkFailed(ctx context.Context, tenantID, channelID, workerID string, details *ErrorDetails) error

	GetSyncProgress(ctx context.Context, tenantID, channelID string) (*SyncProgress, error)
	ListSyncProgress(ctx context.Context, tenantID string) ([]*SyncProgress, error)
	// SweepStaleLeases resets in_progress rows not updated since olderThan.
	SweepStaleLeases(ctx context.Context, olderThan time.Time) (int64, error)
}

type JobStore interface {
	CreateTenantJob(ctx context.Context, job *TenantSyncJob) error
	UpdateTenantJob(ctx context.Context, job *TenantSyncJob) error
	GetTenantJob(ctx context.Context, id string) (*TenantSyncJob, error)

	CreateChannelJobs(ctx context.Context, jobs []*ChannelSyncJob) error
	// UpdateChannelJob fails with ErrJobTerminal once the stored row is terminal.
	UpdateChannelJob(ctx context.Context, job *ChannelSyncJob) error
	GetChannelJob(ctx context.Context, id string) (*ChannelSyncJob, error)
	ListChannelJobs(ctx context.Context, parentJobID string) ([]*ChannelSyncJob, error)
	ListChannelJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*ChannelSyncJob, error)
}

// Sink writes domain entities idempotently.
type Sink interface {
	UpsertChannels(ctx context.Context, channels []*Channel) error
	ListChannels(ctx context.Context, tenantID string) ([]*Channel, error)
	// BulkUpsertMessages is keyed by (ChannelID, PlatformMessageID).
	BulkUpsertMessages(ctx context.Context, msgs []*Message) (*UpsertResult, error)
	// BulkCreateReactions and BulkCreateAttachments skip duplicates silently.
	BulkCreateReactions(ctx context.Context, reactions []*MessageEmojiReaction) (int, error)
	BulkCreateAttachments(ctx context.Context, attachments []*MessageAttachment) (int, error)
	// WritePage applies a whole page in one transaction.
	WritePage(ctx context.Context, batch *PageBatch) (*UpsertResult, error)
}

type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
}

type Store interface {
	LeaseStore
	JobStore
	Sink
	TenantStore

	Close() error
}
