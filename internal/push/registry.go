package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/vault"
)

// SubscriptionStore is the storage the registry and key rotation need.
type SubscriptionStore interface {
	Upsert(ctx context.Context, memberID *int64, endpointHash, endpoint, p256dh, auth string) (*model.PushSubscription, error)
	Revoke(ctx context.Context, endpointHash string) (bool, error)
	ListAll(ctx context.Context) ([]model.PushSubscription, error)
	UpdateCiphertext(ctx context.Context, id int64, endpoint, p256dh, auth string) error
}

// Registry stores browser subscriptions encrypted at rest.
type Registry struct {
	subs   SubscriptionStore
	keys   *vault.Keyring
	logger *slog.Logger
}

func NewRegistry(subs SubscriptionStore, keys *vault.Keyring, logger *slog.Logger) *Registry {
	return &Registry{subs: subs, keys: keys, logger: logger}
}

// Subscribe stores or refreshes a subscription. Re-subscribing the same
// endpoint updates the existing row.
func (r *Registry) Subscribe(ctx context.Context, memberID *int64, endpoint, p256dh, auth string) (*model.PushSubscription, error) {
	if endpoint == "" || p256dh == "" || auth == "" {
		return nil, errors.New("endpoint, p256dh, and auth are required")
	}

	encEndpoint, err := r.keys.Encrypt(endpoint)
	if err != nil {
		return nil, fmt.Errorf("encrypt endpoint: %w", err)
	}
	encP256dh, err := r.keys.Encrypt(p256dh)
	if err != nil {
		return nil, fmt.Errorf("encrypt p256dh: %w", err)
	}
	encAuth, err := r.keys.Encrypt(auth)
	if err != nil {
		return nil, fmt.Errorf("encrypt auth: %w", err)
	}

	return r.subs.Upsert(ctx, memberID, vault.HashEndpoint(endpoint), encEndpoint, encP256dh, encAuth)
}

// Unsubscribe revokes a subscription by its plaintext endpoint.
func (r *Registry) Unsubscribe(ctx context.Context, endpoint string) (bool, error) {
	return r.subs.Revoke(ctx, vault.HashEndpoint(endpoint))
}

// RotationResult summarizes a key rotation pass.
type RotationResult struct {
	Scanned int `json:"scanned"`
	Rotated int `json:"rotated"`
	Failed  int `json:"failed"`
}

// RotateKeys re-encrypts every stored subscription under the current key.
// Endpoint hashes are left as they are. Rows that fail to decrypt are
// counted and skipped.
func (r *Registry) RotateKeys(ctx context.Context) (RotationResult, error) {
	var result RotationResult

	subs, err := r.subs.ListAll(ctx)
	if err != nil {
		return result, err
	}

	for _, sub := range subs {
		result.Scanned++

		endpoint, c1, err1 := r.keys.Reencrypt(sub.Endpoint)
		p256dh, c2, err2 := r.keys.Reencrypt(sub.P256dhKey)
		auth, c3, err3 := r.keys.Reencrypt(sub.AuthKey)
		if err := errors.Join(err1, err2, err3); err != nil {
			result.Failed++
			r.logger.Warn("rotate subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		if !c1 && !c2 && !c3 {
			continue
		}

		if err := r.subs.UpdateCiphertext(ctx, sub.ID, endpoint, p256dh, auth); err != nil {
			return result, err
		}
		result.Rotated++
	}

	r.logger.Info("subscription keys rotated",
		"current", r.keys.CurrentVersion(),
		"scanned", result.Scanned,
		"rotated", result.Rotated,
		"failed", result.Failed,
	)
	return result, nil
}
