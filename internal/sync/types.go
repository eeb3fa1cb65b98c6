package sync

import (
	"errors"
	"fmt"

	"archive-sync-service/internal/classify"
	"archive-sync-service/internal/store"
)

var (
	// ErrInvalidRetry is returned when retrying a job that has not failed.
	ErrInvalidRetry = errors.New("only failed jobs can be retried")
	ErrQueueFull    = errors.New("job queue is full")
	ErrQueueClosed  = errors.New("job queue is closed")
	ErrNotRunning   = errors.New("sync manager is not running")
)

// Task is one delivery of a channel job through the queue.
type Task struct {
	JobID             string
	TenantID          string
	ChannelID         string
	PlatformChannelID string
	Platform          string
	SyncType          store.SyncType
	ParentJobID       string

	// Attempt counts deliveries started so far.
	Attempt     int
	MaxAttempts int
	// WorkerID pins the lease identity for a job recovered mid-run, so the
	// restarted process re-claims its own lease.
	WorkerID string
}

func taskFromJob(j *store.ChannelSyncJob) *Task {
	return &Task{
		JobID:             j.ID,
		TenantID:          j.TenantID,
		ChannelID:         j.ChannelID,
		PlatformChannelID: j.PlatformChannelID,
		Platform:          j.Platform,
		SyncType:          j.SyncType,
		ParentJobID:       j.ParentJobID,
		Attempt:           j.Attempts,
		MaxAttempts:       j.MaxAttempts,
	}
}

// canRetry is the single retry rule: only transient failures are
// redelivered, and only below the attempt cap.
func (t *Task) canRetry(class classify.Class) bool {
	return class == classify.ClassTransient && t.Attempt < t.MaxAttempts
}

// SyncError is a classified channel sync failure.
type SyncError struct {
	Kind  classify.Kind
	Class classify.Class
	// Retry reports whether the job was put back for redelivery.
	Retry bool
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Class, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeFailed            Outcome = "failed"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
)

// Result summarises one worker invocation.
type Result struct {
	Outcome           Outcome
	Pages             int
	MessagesProcessed int
	LastMessageID     string
	Reclaimed         bool
}

// SyncOptions shape a tenant-level sync request.
type SyncOptions struct {
	SyncType store.SyncType `json:"syncType"`
	// ChannelIDs restricts the run; platform or internal ids are accepted.
	ChannelIDs []string `json:"channelIds,omitempty"`
	// Force bypasses the cool-down admission check.
	Force bool `json:"force,omitempty"`
}

// JobStatusView answers status queries for both parent and channel jobs.
type JobStatusView struct {
	ID           string                  `json:"id"`
	Kind         string                  `json:"kind"`
	TenantID     string                  `json:"tenantId"`
	ChannelID    string                  `json:"channelId,omitempty"`
	ParentJobID  string                  `json:"parentJobId,omitempty"`
	SyncType     store.SyncType          `json:"syncType"`
	Status       store.JobStatus         `json:"status"`
	Progress     Progress                `json:"progress"`
	Attempts     int                     `json:"attempts"`
	FailedReason string                  `json:"failedReason,omitempty"`
	Error        *store.ErrorDetails     `json:"error,omitempty"`
	Result       *JobResult              `json:"result,omitempty"`
	Children     []*store.ChannelSyncJob `json:"children,omitempty"`
}

const (
	JobKindTenant  = "tenant"
	JobKindChannel = "channel"
)

type Progress struct {
	TotalChannels     int `json:"totalChannels,omitempty"`
	Skipped           int `json:"skipped,omitempty"`
	Pending           int `json:"pending"`
	Running           int `json:"running"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`
	Cancelled         int `json:"cancelled"`
	MessagesProcessed int `json:"messagesProcessed"`
}

type JobResult struct {
	MessagesProcessed int    `json:"messagesProcessed"`
	LastMessageID     string `json:"lastMessageId,omitempty"`
}
