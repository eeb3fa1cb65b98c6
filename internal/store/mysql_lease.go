package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// idNewer is true when the first bound id orders after the stored
// last_synced_message_id. Ids compare by length, then bytewise (ascii_bin).
const idNewer = `(last_synced_message_id IS NULL
	OR CHAR_LENGTH(last_synced_message_id) < CHAR_LENGTH(?)
	OR (CHAR_LENGTH(last_synced_message_id) = CHAR_LENGTH(?) AND last_synced_message_id < ?))`

func idNewerArgs(id string) []interface{} {
	return []interface{}{id, id, id}
}

func (s *MySQLStore) ClaimChannel(ctx context.Context, tenantID, channelID, workerID string) (*Lease, error) {
	now := s.now()
	var lease *Lease

	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		// Upsert-on-claim: the row exists before the conditional update. The
		// no-op update takes the exclusive row lock up front, so concurrent
		// claimers queue on it instead of upgrading shared locks.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_progress (tenant_id, channel_id, status, updated_at) VALUES (?, ?, 'pending', ?) ON DUPLICATE KEY UPDATE tenant_id = tenant_id`,
			tenantID, channelID, now,
		); err != nil {
			return fmt.Errorf("ensure progress row: %w", err)
		}

		var (
			status string
			holder sql.NullString
			lastID sql.NullString
			lastAt sql.NullTime
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT status, worker_id, last_synced_message_id, last_synced_at FROM sync_progress
			 WHERE tenant_id = ? AND channel_id = ? FOR UPDATE`,
			tenantID, channelID,
		).Scan(&status, &holder, &lastID, &lastAt); err != nil {
			return fmt.Errorf("read progress row: %w", err)
		}

		// The compare-and-set. Only this statement decides ownership.
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_progress SET worker_id = ?, status = 'in_progress', started_at = ?, updated_at = ?
			 WHERE tenant_id = ? AND channel_id = ? AND (status <> 'in_progress' OR worker_id = ?)`,
			workerID, now, now, tenantID, channelID, workerID,
		)
		if err != nil {
			return fmt.Errorf("claim progress row: %w", err)
		}
		if rowsAffected("claim", res) == 0 {
			return nil
		}

		lease = &Lease{
			TenantID:  tenantID,
			ChannelID: channelID,
			WorkerID:  workerID,
			StartedAt: now,
			Reclaimed: status == string(ProgressInProgress) && holder.Valid && holder.String == workerID,
		}
		lease.Checkpoint.MessageID = lastID.String
		if lastAt.Valid {
			lease.Checkpoint.SyncedAt = lastAt.Time
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func (s *MySQLStore) ReleaseChannel(ctx context.Context, tenantID, channelID, workerID string) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE sync_progress SET worker_id = NULL, status = IF(status = 'in_progress', 'pending', status), updated_at = ?
		 WHERE tenant_id = ? AND channel_id = ? AND worker_id = ?`,
		s.now(), tenantID, channelID, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("release channel: %w", err)
	}
	return rowsAffected("release", res) > 0, nil
}

func (s *MySQLStore) Checkpoint(ctx context.Context, tenantID, channelID, workerID string, cp Checkpoint) error {
	// last_synced_at is assigned first so its IF still sees the old id.
	query := `UPDATE sync_progress SET
		last_synced_at = IF(` + idNewer + `, ?, last_synced_at),
		last_synced_message_id = IF(` + idNewer + `, ?, last_synced_message_id),
		updated_at = ?
		WHERE tenant_id = ? AND channel_id = ? AND worker_id = ? AND status = 'in_progress'`

	args := append(idNewerArgs(cp.MessageID), cp.SyncedAt)
	args = append(args, idNewerArgs(cp.MessageID)...)
	args = append(args, cp.MessageID, s.now(), tenantID, channelID, workerID)

	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if rowsAffected("checkpoint", res) == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *MySQLStore) MarkCompleted(ctx context.Context, tenantID, channelID, workerID string, cp Checkpoint) error {
	query := `UPDATE sync_progress SET
		last_synced_message_id = IF(? <> '' AND ` + idNewer + `, ?, last_synced_message_id),
		last_synced_at = ?,
		status = 'completed',
		worker_id = NULL,
		error_details = NULL,
		updated_at = ?
		WHERE tenant_id = ? AND channel_id = ? AND worker_id = ? AND status = 'in_progress'`

	args := []interface{}{cp.MessageID}
	args = append(args, idNewerArgs(cp.MessageID)...)
	args = append(args, cp.MessageID, cp.SyncedAt, s.now(), tenantID, channelID, workerID)

	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if rowsAffected("mark_completed", res) == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *MySQLStore) MarkFailed(ctx context.Context, tenantID, channelID, workerID string, details *ErrorDetails) error {
	raw, err := encodeDetails(details)
	if err != nil {
		return err
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE sync_progress SET status = 'failed', worker_id = NULL, error_details = ?, updated_at = ?
		 WHERE tenant_id = ? AND channel_id = ? AND worker_id = ? AND status = 'in_progress'`,
		raw, s.now(), tenantID, channelID, workerID,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if rowsAffected("mark_failed", res) == 0 {
		return ErrLeaseLost
	}
	return nil
}

const progressColumns = `tenant_id, channel_id, worker_id, status, last_synced_message_id, last_synced_at, started_at, error_details, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row rowScanner) (*SyncProgress, error) {
	var (
		p       SyncProgress
		worker  sql.NullString
		lastID  sql.NullString
		lastAt  sql.NullTime
		started sql.NullTime
		details []byte
	)
	if err := row.Scan(&p.TenantID, &p.ChannelID, &worker, &p.Status, &lastID, &lastAt, &started, &details, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.WorkerID = stringPtr(worker)
	p.LastSyncedMessageID = lastID.String
	p.LastSyncedAt = timePtr(lastAt)
	p.StartedAt = timePtr(started)
	d, err := decodeDetails(details)
	if err != nil {
		return nil, err
	}
	p.ErrorDetails = d
	return &p, nil
}

func (s *MySQLStore) GetSyncProgress(ctx context.Context, tenantID, channelID string) (*SyncProgress, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM sync_progress WHERE tenant_id = ? AND channel_id = ?`,
		tenantID, channelID,
	)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *MySQLStore) ListSyncProgress(ctx context.Context, tenantID string) ([]*SyncProgress, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+progressColumns+` FROM sync_progress WHERE tenant_id = ? ORDER BY channel_id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *MySQLStore) SweepStaleLeases(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE sync_progress SET worker_id = NULL, status = 'pending', updated_at = ?
		 WHERE status = 'in_progress' AND updated_at < ?`,
		s.now(), olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep stale leases: %w", err)
	}
	return rowsAffected("sweep", res), nil
}
