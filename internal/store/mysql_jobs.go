package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func (s *MySQLStore) CreateTenantJob(ctx context.Context, job *TenantSyncJob) error {
	query := `INSERT INTO tenant_sync_jobs (id, tenant_id, sync_type, status, total_channels, skipped_channels, retry_of, created_at, completed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		job.ID,
		job.TenantID,
		job.SyncType,
		job.Status,
		job.TotalChannels,
		job.Skipped,
		nullString(job.RetryOf),
		job.CreatedAt,
		nullTime(job.CompletedAt),
	)
	return err
}

func (s *MySQLStore) UpdateTenantJob(ctx context.Context, job *TenantSyncJob) error {
	query := `UPDATE tenant_sync_jobs SET status = ?, total_channels = ?, skipped_channels = ?, completed_at = ? WHERE id = ?`

	res, err := s.db.DB.ExecContext(ctx, query,
		job.Status,
		job.TotalChannels,
		job.Skipped,
		nullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return err
	}
	if rowsAffected("update_tenant_job", res) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) GetTenantJob(ctx context.Context, id string) (*TenantSyncJob, error) {
	query := `SELECT id, tenant_id, sync_type, status, total_channels, skipped_channels, retry_of, created_at, completed_at
			  FROM tenant_sync_jobs WHERE id = ?`

	var (
		j         TenantSyncJob
		retryOf   sql.NullString
		completed sql.NullTime
	)
	err := s.db.DB.QueryRowContext(ctx, query, id).Scan(
		&j.ID,
		&j.TenantID,
		&j.SyncType,
		&j.Status,
		&j.TotalChannels,
		&j.Skipped,
		&retryOf,
		&j.CreatedAt,
		&completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.RetryOf = stringPtr(retryOf)
	j.CompletedAt = timePtr(completed)
	return &j, nil
}

const channelJobColumns = `id, tenant_id, channel_id, platform_channel_id, platform, parent_job_id, sync_type, worker_id, status,
	attempts, max_attempts, messages_processed, last_message_id, started_at, completed_at, error_details, created_at`

func (s *MySQLStore) CreateChannelJobs(ctx context.Context, jobs []*ChannelSyncJob) error {
	if len(jobs) == 0 {
		return nil
	}
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, c := range chunks(len(jobs)) {
			part := jobs[c[0]:c[1]]
			args := make([]interface{}, 0, len(part)*17)
			for _, j := range part {
				details, err := encodeDetails(j.ErrorDetails)
				if err != nil {
					return err
				}
				args = append(args,
					j.ID, j.TenantID, j.ChannelID, j.PlatformChannelID, j.Platform, j.ParentJobID, j.SyncType,
					nullString(j.WorkerID), j.Status, j.Attempts, j.MaxAttempts, j.MessagesProcessed, j.LastMessageID,
					nullTime(j.StartedAt), nullTime(j.CompletedAt), details, j.CreatedAt,
				)
			}
			query := `INSERT INTO channel_sync_jobs (` + channelJobColumns + `) VALUES ` + placeholders(len(part), 17)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert channel jobs: %w", err)
			}
		}
		return nil
	})
}

func (s *MySQLStore) UpdateChannelJob(ctx context.Context, job *ChannelSyncJob) error {
	details, err := encodeDetails(job.ErrorDetails)
	if err != nil {
		return err
	}

	query := `UPDATE channel_sync_jobs SET worker_id = ?, status = ?, attempts = ?, messages_processed = ?, last_message_id = ?,
			  started_at = ?, completed_at = ?, error_details = ?
			  WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`

	res, err := s.db.DB.ExecContext(ctx, query,
		nullString(job.WorkerID),
		job.Status,
		job.Attempts,
		job.MessagesProcessed,
		job.LastMessageID,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		details,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel job: %w", err)
	}
	if rowsAffected("update_channel_job", res) > 0 {
		return nil
	}

	var status JobStatus
	err = s.db.DB.QueryRowContext(ctx, `SELECT status FROM channel_sync_jobs WHERE id = ?`, job.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrJobTerminal
}

func scanChannelJob(row rowScanner) (*ChannelSyncJob, error) {
	var (
		j         ChannelSyncJob
		worker    sql.NullString
		started   sql.NullTime
		completed sql.NullTime
		details   []byte
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.ChannelID, &j.PlatformChannelID, &j.Platform, &j.ParentJobID, &j.SyncType,
		&worker, &j.Status, &j.Attempts, &j.MaxAttempts, &j.MessagesProcessed, &j.LastMessageID,
		&started, &completed, &details, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.WorkerID = stringPtr(worker)
	j.StartedAt = timePtr(started)
	j.CompletedAt = timePtr(completed)
	if j.ErrorDetails, err = decodeDetails(details); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *MySQLStore) GetChannelJob(ctx context.Context, id string) (*ChannelSyncJob, error) {
	row := s.db.DB.QueryRowContext(ctx, `SELECT `+channelJobColumns+` FROM channel_sync_jobs WHERE id = ?`, id)
	j, err := scanChannelJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *MySQLStore) queryChannelJobs(ctx context.Context, query string, args ...interface{}) ([]*ChannelSyncJob, error) {
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ChannelSyncJob
	for rows.Next() {
		j, err := scanChannelJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *MySQLStore) ListChannelJobs(ctx context.Context, parentJobID string) ([]*ChannelSyncJob, error) {
	return s.queryChannelJobs(ctx,
		`SELECT `+channelJobColumns+` FROM channel_sync_jobs WHERE parent_job_id = ? ORDER BY created_at, id`,
		parentJobID,
	)
}

func (s *MySQLStore) ListChannelJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*ChannelSyncJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	return s.queryChannelJobs(ctx,
		`SELECT `+channelJobColumns+` FROM channel_sync_jobs WHERE status IN (`+in+`) ORDER BY created_at, id`,
		args...,
	)
}
