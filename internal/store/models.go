package store

import (
	"time"

	"github.com/google/uuid"
)

type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type SyncType string

const (
	SyncFull        SyncType = "full"
	SyncIncremental SyncType = "incremental"
)

// ErrorDetails is stored as JSON on progress and job rows.
type ErrorDetails struct {
	Kind       string        `json:"kind"`
	Class      string        `json:"class"`
	Message    string        `json:"message"`
	StatusCode int           `json:"statusCode,omitempty"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// SyncProgress is the per-channel lease and checkpoint row.
// WorkerID is set only while Status is in_progress.
type SyncProgress struct {
	TenantID            string         `db:"tenant_id" json:"tenantId"`
	ChannelID           string         `db:"channel_id" json:"channelId"`
	WorkerID            *string        `db:"worker_id" json:"workerId"`
	Status              ProgressStatus `db:"status" json:"status"`
	LastSyncedMessageID string         `db:"last_synced_message_id" json:"lastSyncedMessageId,omitempty"`
	LastSyncedAt        *time.Time     `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
	StartedAt           *time.Time     `db:"started_at" json:"startedAt,omitempty"`
	ErrorDetails        *ErrorDetails  `db:"error_details" json:"errorDetails,omitempty"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updatedAt"`
}

// Lease is the right of one worker to process one channel.
type Lease struct {
	TenantID  string
	ChannelID string
	WorkerID  string
	StartedAt time.Time
	// Reclaimed is true when the same worker already held the lease, e.g.
	// after a supervisor restart.
	Reclaimed bool
	// Checkpoint is the channel's last persisted position at claim time.
	Checkpoint Checkpoint
}

type Checkpoint struct {
	MessageID string
	SyncedAt  time.Time
}

// TenantSyncJob is the parent record of one tenant-level sync request.
type TenantSyncJob struct {
	ID            string     `db:"id" json:"id"`
	TenantID      string     `db:"tenant_id" json:"tenantId"`
	SyncType      SyncType   `db:"sync_type" json:"syncType"`
	Status        JobStatus  `db:"status" json:"status"`
	TotalChannels int        `db:"total_channels" json:"totalChannels"`
	Skipped       int        `db:"skipped_channels" json:"skippedChannels"`
	RetryOf       *string    `db:"retry_of" json:"retryOf,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// ChannelSyncJob is one per-channel unit of work fanned out from a parent.
type ChannelSyncJob struct {
	ID                string        `db:"id" json:"id"`
	TenantID          string        `db:"tenant_id" json:"tenantId"`
	ChannelID         string        `db:"channel_id" json:"channelId"`
	PlatformChannelID string        `db:"platform_channel_id" json:"platformChannelId"`
	Platform          string        `db:"platform" json:"platform"`
	ParentJobID       string        `db:"parent_job_id" json:"parentJobId"`
	SyncType          SyncType      `db:"sync_type" json:"syncType"`
	WorkerID          *string       `db:"worker_id" json:"workerId,omitempty"`
	Status            JobStatus     `db:"status" json:"status"`
	Attempts          int           `db:"attempts" json:"attempts"`
	MaxAttempts       int           `db:"max_attempts" json:"maxAttempts"`
	MessagesProcessed int           `db:"messages_processed" json:"messagesProcessed"`
	LastMessageID     string        `db:"last_message_id" json:"lastMessageId,omitempty"`
	StartedAt         *time.Time    `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt       *time.Time    `db:"completed_at" json:"completedAt,omitempty"`
	ErrorDetails      *ErrorDetails `db:"error_details" json:"errorDetails,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
}

type Tenant struct {
	ID               string `db:"id" json:"id"`
	Name             string `db:"name" json:"name"`
	Platform         string `db:"platform" json:"platform"`
	PlatformServerID string `db:"platform_server_id" json:"platformServerId"`
	AutoSync         bool   `db:"auto_sync" json:"autoSync"`
}

type Channel struct {
	ID         string    `db:"id"`
	TenantID   string    `db:"tenant_id"`
	PlatformID string    `db:"platform_channel_id"`
	Name       string    `db:"name"`
	Type       string    `db:"type"`
	ParentID   string    `db:"parent_platform_id"`
	Position   int       `db:"position"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type Message struct {
	ID                string     `db:"id"`
	TenantID          string     `db:"tenant_id"`
	ChannelID         string     `db:"channel_id"`
	PlatformMessageID string     `db:"platform_message_id"`
	AuthorID          string     `db:"author_id"`
	Content           string     `db:"content"`
	ReplyToID         string     `db:"reply_to_platform_id"`
	CreatedAt         time.Time  `db:"created_at"`
	EditedAt          *time.Time `db:"edited_at"`
}

type MessageEmojiReaction struct {
	MessageID string `db:"message_id"`
	UserID    string `db:"user_id"`
	Emoji     string `db:"emoji"`
}

type MessageAttachment struct {
	ID                   string `db:"id"`
	MessageID            string `db:"message_id"`
	PlatformAttachmentID string `db:"platform_attachment_id"`
	Filename             string `db:"filename"`
	URL                  string `db:"url"`
	ContentType          string `db:"content_type"`
	Size                 int64  `db:"size"`
}

// PageBatch is everything fetched in one page, written as one unit.
type PageBatch struct {
	Messages    []*Message
	Reactions   []*MessageEmojiReaction
	Attachments []*MessageAttachment
}

type UpsertResult struct {
	// Created holds platform message ids that did not exist before.
	Created            []string
	Skipped            int
	ReactionsCreated   int
	AttachmentsCreated int
}

var idNamespace = uuid.MustParse("6f1d8c3e-4b7a-5e21-9c0d-2a7f3b9e8d41")

// ChannelRowID derives a stable internal id so re-discovered channels map to
// the same row.
func ChannelRowID(tenantID, platformChannelID string) string {
	return uuid.NewSHA1(idNamespace, []byte("channel:"+tenantID+":"+platformChannelID)).String()
}

// MessageRowID derives the internal id from the idempotency key
// (channel, platform message id).
func MessageRowID(channelID, platformMessageID string) string {
	return uuid.NewSHA1(idNamespace, []byte("message:"+channelID+":"+platformMessageID)).String()
}

func AttachmentRowID(messageID, platformAttachmentID string) string {
	return uuid.NewSHA1(idNamespace, []byte("attachment:"+messageID+":"+platformAttachmentID)).String()
}

func NewJobID() string {
	return uuid.New().String()
}
