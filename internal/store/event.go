package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alumnihub/alumnihub/internal/model"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Create(ctx context.Context, title, description, location string, startTime time.Time, endTime *time.Time) (*model.Event, error) {
	var end sql.NullTime
	if endTime != nil {
		end = sql.NullTime{Time: endTime.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (title, description, location, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?)`,
		title, description, location, startTime.UTC(), end,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *EventStore) GetByID(ctx context.Context, id int64) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, location, start_time, end_time, created_at, updated_at
		 FROM events WHERE id = ?`, id,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ListStartingBetween returns events whose start time is in [from, to),
// ordered by start time.
func (s *EventStore) ListStartingBetween(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, location, start_time, end_time, created_at, updated_at
		 FROM events
		 WHERE start_time >= ? AND start_time < ?
		 ORDER BY start_time ASC, id ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list events by start: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var end sql.NullTime
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.StartTime, &end, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if end.Valid {
		e.EndTime = &end.Time
	}
	return &e, nil
}
