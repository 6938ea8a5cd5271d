package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Target is a decrypted subscription ready to send to.
type Target struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// Result is the outcome of one send. StatusCode is 0 when no HTTP response
// was received.
type Result struct {
	OK         bool
	StatusCode int
}

// SendError is returned when the push service answered with a non-2xx
// status.
type SendError struct {
	StatusCode int
}

func (e *SendError) Error() string {
	return fmt.Sprintf("push service returned %d", e.StatusCode)
}

// Transport delivers one payload to one subscription.
type Transport interface {
	Send(ctx context.Context, target Target, payload []byte) (Result, error)
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subject is a mailto: or https: contact URL for the push service.
	Subject string
	TTL     time.Duration
}

// WebPushTransport sends notifications through the Web Push protocol.
type WebPushTransport struct {
	cfg    Config
	client webpush.HTTPClient
}

// NewWebPushTransport creates a transport with VAPID keys. A nil client
// uses a default http.Client with a 10s timeout.
func NewWebPushTransport(cfg Config, client webpush.HTTPClient) *WebPushTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &WebPushTransport{cfg: cfg, client: client}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (t *WebPushTransport) VAPIDPublicKey() string {
	return t.cfg.VAPIDPublicKey
}

func (t *WebPushTransport) Send(ctx context.Context, target Target, payload []byte) (Result, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys: webpush.Keys{
			P256dh: target.P256dh,
			Auth:   target.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.cfg.Subject,
		VAPIDPublicKey:  t.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: t.cfg.VAPIDPrivateKey,
		TTL:             int(t.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return Result{}, fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{OK: true, StatusCode: resp.StatusCode}, nil
	}
	return Result{StatusCode: resp.StatusCode}, &SendError{StatusCode: resp.StatusCode}
}

// EncodePayload marshals a payload for Transport.Send.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// GenerateVAPIDKeys generates a new P-256 key pair for VAPID.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate P-256 key: %w", err)
	}

	publicKey = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	privateKey = base64.RawURLEncoding.EncodeToString(key.Bytes())

	return publicKey, privateKey, nil
}
