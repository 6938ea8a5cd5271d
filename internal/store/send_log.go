package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alumnihub/alumnihub/internal/model"
)

// SendLogStore is the append-only audit trail of individual push attempts.
type SendLogStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSendLogStore(db *sql.DB) *SendLogStore {
	return &SendLogStore{db: db, now: time.Now}
}

func (s *SendLogStore) Append(ctx context.Context, entry model.NotificationSendLog) error {
	var successInt int
	if entry.Success {
		successInt = 1
	}
	var status sql.NullInt64
	if entry.StatusCode != nil {
		status = sql.NullInt64{Int64: int64(*entry.StatusCode), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_send_logs (scheduled_log_id, success, status_code, attempt, endpoint_hash, endpoint_tail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(entry.ScheduledLogID), successInt, status, entry.Attempt, entry.EndpointHash, entry.EndpointTail, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append notification send log: %w", err)
	}
	return nil
}

// ListRecent returns the newest attempts first.
func (s *SendLogStore) ListRecent(ctx context.Context, limit int) ([]model.NotificationSendLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scheduled_log_id, success, status_code, attempt, endpoint_hash, endpoint_tail, created_at
		 FROM notification_send_logs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notification send logs: %w", err)
	}
	defer rows.Close()

	var logs []model.NotificationSendLog
	for rows.Next() {
		var l model.NotificationSendLog
		var scheduledLogID, status sql.NullInt64
		var successInt int
		if err := rows.Scan(&l.ID, &scheduledLogID, &successInt, &status, &l.Attempt, &l.EndpointHash, &l.EndpointTail, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification send log: %w", err)
		}
		l.Success = successInt != 0
		if scheduledLogID.Valid {
			l.ScheduledLogID = &scheduledLogID.Int64
		}
		if status.Valid {
			code := int(status.Int64)
			l.StatusCode = &code
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// PruneOlderThan deletes attempts recorded before the given time and
// returns the number removed.
func (s *SendLogStore) PruneOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_send_logs WHERE created_at < ?`, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune notification send logs: %w", err)
	}
	return result.RowsAffected()
}
