package model

import "time"

// Delivery channels and topics for notification preferences.
const (
	ChannelWebPush = "webpush"

	TopicEvent = "event"
)

// PushSubscription is one browser push endpoint. Endpoint, P256dhKey and
// AuthKey hold ciphertext; EndpointHash is computed from the plaintext
// endpoint so it survives key rotation.
type PushSubscription struct {
	ID           int64      `json:"id"`
	MemberID     *int64     `json:"member_id"`
	Endpoint     string     `json:"-"`
	EndpointHash string     `json:"endpoint_hash"`
	P256dhKey    string     `json:"-"`
	AuthKey      string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

func (s PushSubscription) Active() bool {
	return s.RevokedAt == nil
}

type NotificationPreference struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	Channel   string    `json:"channel"`
	Topic     string    `json:"topic"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
