package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alumnihub/alumnihub/internal/model"
)

const subscriptionColumns = `id, member_id, endpoint, endpoint_hash, p256dh_key, auth_key, created_at, updated_at, revoked_at`

// SubscriptionStore persists push subscriptions. Endpoint and key columns
// hold ciphertext; callers encrypt before writing.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Upsert creates a subscription or, when the endpoint hash already exists,
// updates it in place and clears any revocation.
func (s *SubscriptionStore) Upsert(ctx context.Context, memberID *int64, endpointHash, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (member_id, endpoint, endpoint_hash, p256dh_key, auth_key)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint_hash) DO UPDATE SET
			member_id = excluded.member_id,
			endpoint = excluded.endpoint,
			p256dh_key = excluded.p256dh_key,
			auth_key = excluded.auth_key,
			revoked_at = NULL,
			updated_at = CURRENT_TIMESTAMP`,
		nullInt64(memberID), endpoint, endpointHash, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}
	return s.GetByHash(ctx, endpointHash)
}

func (s *SubscriptionStore) GetByHash(ctx context.Context, endpointHash string) (*model.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE endpoint_hash = ?`, endpointHash,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by hash: %w", err)
	}
	return sub, nil
}

// ListActive returns every subscription that has not been revoked.
func (s *SubscriptionStore) ListActive(ctx context.Context) ([]model.PushSubscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE revoked_at IS NULL ORDER BY id ASC`)
}

// ListAll includes revoked subscriptions.
func (s *SubscriptionStore) ListAll(ctx context.Context) ([]model.PushSubscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions ORDER BY id ASC`)
}

func (s *SubscriptionStore) ListByMember(ctx context.Context, memberID int64) ([]model.PushSubscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE member_id = ? ORDER BY id ASC`, memberID)
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...any) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// Revoke soft-deletes a subscription. It reports whether an active row was
// revoked.
func (s *SubscriptionStore) Revoke(ctx context.Context, endpointHash string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE endpoint_hash = ? AND revoked_at IS NULL`, endpointHash,
	)
	if err != nil {
		return false, fmt.Errorf("revoke push subscription: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeleteByHash hard-deletes a subscription. Deleting a missing row is not
// an error.
func (s *SubscriptionStore) DeleteByHash(ctx context.Context, endpointHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint_hash = ?`, endpointHash)
	if err != nil {
		return fmt.Errorf("delete push subscription by hash: %w", err)
	}
	return nil
}

// UpdateCiphertext replaces the encrypted columns of a subscription,
// leaving the endpoint hash untouched.
func (s *SubscriptionStore) UpdateCiphertext(ctx context.Context, id int64, endpoint, p256dh, auth string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET endpoint = ?, p256dh_key = ?, auth_key = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		endpoint, p256dh, auth, id,
	)
	if err != nil {
		return fmt.Errorf("update push subscription ciphertext: %w", err)
	}
	return nil
}

func scanSubscription(row rowScanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var memberID sql.NullInt64
	var revokedAt sql.NullTime
	if err := row.Scan(&sub.ID, &memberID, &sub.Endpoint, &sub.EndpointHash, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt, &sub.UpdatedAt, &revokedAt); err != nil {
		return nil, err
	}
	if memberID.Valid {
		sub.MemberID = &memberID.Int64
	}
	if revokedAt.Valid {
		sub.RevokedAt = &revokedAt.Time
	}
	return &sub, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
