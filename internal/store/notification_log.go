package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alumnihub/alumnihub/internal/model"
)

var (
	// ErrAlreadyClaimed is returned when another run holds or completed the
	// same (event, window).
	ErrAlreadyClaimed = errors.New("notification window already claimed")
	// ErrInvalidTransition is returned for a status change the ledger does
	// not allow from the row's current status.
	ErrInvalidTransition = errors.New("invalid notification log transition")
)

// predecessors lists the statuses each status may be entered from.
var predecessors = map[model.LogStatus][]model.LogStatus{
	model.LogStatusInProgress: {model.LogStatusPending},
	model.LogStatusCompleted:  {model.LogStatusPending, model.LogStatusInProgress},
	model.LogStatusFailed:     {model.LogStatusPending, model.LogStatusInProgress},
}

const logColumns = `id, event_id, window_type, scheduled_at, status, accepted_count, failed_count, completed_at, created_at, updated_at`

// NotificationLogStore is the dedup ledger for scheduled notifications.
type NotificationLogStore struct {
	db *sql.DB
}

func NewNotificationLogStore(db *sql.DB) *NotificationLogStore {
	return &NotificationLogStore{db: db}
}

// IsAlreadySent reports whether (event, window) has a row that is in
// progress or completed.
func (s *NotificationLogStore) IsAlreadySent(ctx context.Context, eventID int64, window model.WindowType) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_notification_logs
		 WHERE event_id = ? AND window_type = ? AND status IN ('in_progress', 'completed')`,
		eventID, string(window),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check scheduled notification: %w", err)
	}
	return count > 0, nil
}

// CreateLog inserts a pending row.
func (s *NotificationLogStore) CreateLog(ctx context.Context, eventID int64, window model.WindowType, scheduledAt time.Time) (*model.ScheduledNotificationLog, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_notification_logs (event_id, window_type, scheduled_at, status)
		 VALUES (?, ?, ?, 'pending')`,
		eventID, string(window), scheduledAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduled notification log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// UpdateLog moves a row forward to status and records the counts.
// completed_at is set only when entering completed. Entering in_progress
// or completed while another row for the same (event, window) holds either
// status fails with ErrAlreadyClaimed.
func (s *NotificationLogStore) UpdateLog(ctx context.Context, log *model.ScheduledNotificationLog, status model.LogStatus, accepted, failed int) error {
	from, ok := predecessors[status]
	if !ok {
		return fmt.Errorf("%w: to %s", ErrInvalidTransition, status)
	}

	args := []any{string(status), accepted, failed, string(status), log.ID}
	for _, st := range from {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")

	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notification_logs
		 SET status = ?, accepted_count = ?, failed_count = ?,
			completed_at = CASE WHEN ? = 'completed' THEN CURRENT_TIMESTAMP ELSE completed_at END,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("update scheduled notification log: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: log %d to %s", ErrInvalidTransition, log.ID, status)
	}

	updated, err := s.GetByID(ctx, log.ID)
	if err != nil {
		return err
	}
	if updated != nil {
		*log = *updated
	}
	return nil
}

// DeleteLog removes a row that never got past pending.
func (s *NotificationLogStore) DeleteLog(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_notification_logs WHERE id = ? AND status = 'pending'`, id,
	)
	if err != nil {
		return fmt.Errorf("delete scheduled notification log: %w", err)
	}
	return nil
}

func (s *NotificationLogStore) GetByID(ctx context.Context, id int64) (*model.ScheduledNotificationLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM scheduled_notification_logs WHERE id = ?`, id,
	)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled notification log: %w", err)
	}
	return l, nil
}

// List returns the most recent ledger rows, newest first.
func (s *NotificationLogStore) List(ctx context.Context, limit int) ([]model.ScheduledNotificationLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM scheduled_notification_logs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list scheduled notification logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ScheduledNotificationLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled notification log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// Release marks an abandoned pending or in_progress row as failed so the
// window can be claimed again.
func (s *NotificationLogStore) Release(ctx context.Context, id int64) (*model.ScheduledNotificationLog, error) {
	l, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, nil
	}
	if err := s.UpdateLog(ctx, l, model.LogStatusFailed, l.AcceptedCount, l.FailedCount); err != nil {
		return nil, err
	}
	return l, nil
}

func scanLog(row rowScanner) (*model.ScheduledNotificationLog, error) {
	var l model.ScheduledNotificationLog
	var window, status string
	var completedAt sql.NullTime
	if err := row.Scan(&l.ID, &l.EventID, &window, &l.ScheduledAt, &status, &l.AcceptedCount, &l.FailedCount, &completedAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.WindowType = model.WindowType(window)
	l.Status = model.LogStatus(status)
	if completedAt.Valid {
		l.CompletedAt = &completedAt.Time
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
