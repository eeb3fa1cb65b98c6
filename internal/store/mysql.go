package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"archive-sync-service/internal/config"
	"archive-sync-service/internal/database"
	"archive-sync-service/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

// maxRowsPerInsert keeps multi-row inserts well under the placeholder limit.
const maxRowsPerInsert = 500

type MySQLStore struct {
	db  *database.Database
	now func() time.Time
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ Store = (*MySQLStore)(nil)

func NewMySQLStore(cfg config.StateStorage) (*MySQLStore, error) {
	db, err := database.NewDatabase(cfg.DatabaseConnection, cfg.ConnectRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to init state store: %w", err)
	}
	return &MySQLStore{db: db, now: utcNow}, nil
}

// NewMySQLStoreFromDB wraps an open handle; the DSN must enable
// clientFoundRows (see database.DSN).
func NewMySQLStoreFromDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: database.Wrap(db), now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Log.Info("State store schema ready")
	return nil
}

func (s *MySQLStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	query := `SELECT id, name, platform, platform_server_id, auto_sync FROM tenants WHERE id = ?`

	var t Tenant
	err := s.db.DB.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.Platform, &t.PlatformServerID, &t.AutoSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *MySQLStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	query := `SELECT id, name, platform, platform_server_id, auto_sync FROM tenants ORDER BY id`

	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Platform, &t.PlatformServerID, &t.AutoSync); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// placeholders renders "(?, ?), (?, ?)" for rows x cols.
func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(row+", ", rows), ", ")
}

func chunks(n int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func encodeDetails(d *ErrorDetails) (interface{}, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode error details: %w", err)
	}
	return b, nil
}

func decodeDetails(raw []byte) (*ErrorDetails, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d ErrorDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode error details: %w", err)
	}
	return &d, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func rowsAffected(op string, res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		logger.Log.Warn("RowsAffected unavailable", zap.String("op", op), zap.Error(err))
		return 0
	}
	return n
}
