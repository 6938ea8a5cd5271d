package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/alumnihub/alumnihub/internal/metrics"
	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/vault"
)

// Decrypter opens stored subscription credentials.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// SubscriptionRemover deletes a subscription by endpoint hash.
type SubscriptionRemover interface {
	DeleteByHash(ctx context.Context, endpointHash string) error
}

// SendLogger appends one audit row per send attempt.
type SendLogger interface {
	Append(ctx context.Context, entry model.NotificationSendLog) error
}

type DispatcherConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	RetryBase  time.Duration
	MaxRetries int
}

// DefaultDispatcherConfig: batches of 50, 1s between batches, retries after
// 0.5s, 1s and 2s.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:  50,
		BatchDelay: time.Second,
		RetryBase:  500 * time.Millisecond,
		MaxRetries: 3,
	}
}

// DispatchResult counts subscriptions, not attempts.
type DispatchResult struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
}

// Dispatcher sends one payload to many subscriptions in sequential batches.
type Dispatcher struct {
	transport Transport
	subs      SubscriptionRemover
	sendLog   SendLogger
	keys      Decrypter
	cfg       DispatcherConfig
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

func NewDispatcher(transport Transport, subs SubscriptionRemover, sendLog SendLogger, keys Decrypter, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = def.BatchDelay
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Dispatcher{
		transport: transport,
		subs:      subs,
		sendLog:   sendLog,
		keys:      keys,
		cfg:       cfg,
		sleep:     sleepContext,
		logger:    logger,
	}
}

// Dispatch sends payload to every subscription and returns how many were
// accepted and how many failed. A failure for one subscription never stops
// the batch; only context cancellation does.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []model.PushSubscription, payload Payload, scheduledLogID *int64) (DispatchResult, error) {
	var result DispatchResult

	body, err := EncodePayload(payload)
	if err != nil {
		return result, err
	}

	for start := 0; start < len(subs); start += d.cfg.BatchSize {
		if start > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				return result, err
			}
		}

		end := min(start+d.cfg.BatchSize, len(subs))
		for _, sub := range subs[start:end] {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if d.sendOne(ctx, sub, body, scheduledLogID) {
				result.Accepted++
			} else {
				result.Failed++
			}
		}

		d.logger.Debug("batch sent", "from", start, "to", end, "total", len(subs))
	}

	return result, nil
}

var errPermanent = errors.New("permanent push failure")

// sendOne delivers to one subscription with retry and reports whether the
// push service accepted it.
func (d *Dispatcher) sendOne(ctx context.Context, sub model.PushSubscription, body []byte, scheduledLogID *int64) bool {
	target := d.reveal(sub)
	tail := vault.Tail(target.Endpoint)

	attempt := 0
	var last Result
	err := retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		attempt++
		res, err := d.transport.Send(ctx, target, body)
		last = res
		d.record(ctx, sub.EndpointHash, tail, attempt, res, scheduledLogID)

		if res.OK {
			metrics.PushAttempts.WithLabelValues(metrics.OutcomeAccepted).Inc()
			return nil
		}
		if err == nil {
			err = &SendError{StatusCode: res.StatusCode}
		}
		if isPermanent(res.StatusCode) {
			metrics.PushAttempts.WithLabelValues(metrics.OutcomePermanent).Inc()
			return fmt.Errorf("%w: %w", errPermanent, err)
		}
		metrics.PushAttempts.WithLabelValues(metrics.OutcomeTransient).Inc()
		d.logger.Debug("push attempt failed", "endpoint_tail", tail, "attempt", attempt, "status", res.StatusCode, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		metrics.PushDeliveries.WithLabelValues("accepted").Inc()
		return true
	}

	metrics.PushDeliveries.WithLabelValues("failed").Inc()
	d.logger.Warn("push delivery failed",
		"endpoint_tail", tail,
		"status", last.StatusCode,
		"attempts", attempt,
		"error", err,
	)

	if isGone(last.StatusCode) {
		if err := d.subs.DeleteByHash(ctx, sub.EndpointHash); err != nil {
			d.logger.Error("remove expired subscription", "endpoint_tail", tail, "error", err)
		} else {
			metrics.SubscriptionsRemoved.Inc()
			d.logger.Info("removed expired subscription", "endpoint_tail", tail, "status", last.StatusCode)
		}
	}
	return false
}

// backoff yields RetryBase, 2x, 4x ... for at most MaxRetries retries.
func (d *Dispatcher) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(d.cfg.MaxRetries), retry.NewExponential(d.cfg.RetryBase))
}

// reveal decrypts a subscription. A value that fails to decrypt is passed
// through as-is; the send then fails at the push service.
func (d *Dispatcher) reveal(sub model.PushSubscription) Target {
	return Target{
		Endpoint: d.open(sub, "endpoint", sub.Endpoint),
		P256dh:   d.open(sub, "p256dh", sub.P256dhKey),
		Auth:     d.open(sub, "auth", sub.AuthKey),
	}
}

func (d *Dispatcher) open(sub model.PushSubscription, field, ciphertext string) string {
	plain, err := d.keys.Decrypt(ciphertext)
	if err != nil {
		d.logger.Warn("decrypt subscription field", "subscription_id", sub.ID, "field", field, "error", err)
		return ciphertext
	}
	return plain
}

func (d *Dispatcher) record(ctx context.Context, hash, tail string, attempt int, res Result, scheduledLogID *int64) {
	entry := model.NotificationSendLog{
		ScheduledLogID: scheduledLogID,
		Success:        res.OK,
		Attempt:        attempt,
		EndpointHash:   hash,
		EndpointTail:   tail,
	}
	if res.StatusCode != 0 {
		code := res.StatusCode
		entry.StatusCode = &code
	}
	if err := d.sendLog.Append(ctx, entry); err != nil {
		d.logger.Error("append send log", "endpoint_tail", tail, "error", err)
	}
}

// isPermanent reports statuses that retrying cannot fix.
func isPermanent(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// isGone reports statuses meaning the subscription no longer exists.
func isGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
