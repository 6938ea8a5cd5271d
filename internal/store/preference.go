package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alumnihub/alumnihub/internal/model"
)

type PreferenceStore struct {
	db *sql.DB
}

func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// ListByMember returns the explicit preference rows for a member.
func (s *PreferenceStore) ListByMember(ctx context.Context, memberID int64) ([]model.NotificationPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, member_id, channel, topic, enabled, created_at, updated_at
		 FROM notification_preferences WHERE member_id = ? ORDER BY channel, topic`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notification preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		var p model.NotificationPreference
		var enabledInt int
		if err := rows.Scan(&p.ID, &p.MemberID, &p.Channel, &p.Topic, &enabledInt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		p.Enabled = enabledInt != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SetPreference upserts a notification preference.
func (s *PreferenceStore) SetPreference(ctx context.Context, memberID int64, channel, topic string, enabled bool) error {
	var enabledInt int
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (member_id, channel, topic, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(member_id, channel, topic) DO UPDATE SET enabled = excluded.enabled, updated_at = CURRENT_TIMESTAMP`,
		memberID, channel, topic, enabledInt,
	)
	if err != nil {
		return fmt.Errorf("set notification preference: %w", err)
	}
	return nil
}

// IsEnabled reports whether a member receives a topic on a channel.
// Returns true by default if no preference record exists.
func (s *PreferenceStore) IsEnabled(ctx context.Context, memberID int64, channel, topic string) (bool, error) {
	var enabledInt int
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM notification_preferences
		 WHERE member_id = ? AND channel = ? AND topic = ?`,
		memberID, channel, topic,
	).Scan(&enabledInt)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check notification preference: %w", err)
	}
	return enabledInt != 0, nil
}

// OptedOutMemberIDs returns members who explicitly disabled a topic on a
// channel.
func (s *PreferenceStore) OptedOutMemberIDs(ctx context.Context, channel, topic string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id FROM notification_preferences
		 WHERE channel = ? AND topic = ? AND enabled = 0`,
		channel, topic,
	)
	if err != nil {
		return nil, fmt.Errorf("list opted-out members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
