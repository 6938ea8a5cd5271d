package model

import "time"

// WindowType identifies which reminder a scheduled notification is.
type WindowType string

const (
	WindowThreeDaysBefore WindowType = "3-days-before"
	WindowOneDayBefore    WindowType = "1-day-before"
)

// DaysBefore returns how many days ahead of the event the window opens.
func (w WindowType) DaysBefore() int {
	switch w {
	case WindowThreeDaysBefore:
		return 3
	case WindowOneDayBefore:
		return 1
	}
	return 0
}

// Label is the human-readable lead time shown in notifications.
func (w WindowType) Label() string {
	switch w {
	case WindowThreeDaysBefore:
		return "3일"
	case WindowOneDayBefore:
		return "1일"
	}
	return ""
}

func (w WindowType) Valid() bool {
	return w == WindowThreeDaysBefore || w == WindowOneDayBefore
}

type LogStatus string

const (
	LogStatusPending    LogStatus = "pending"
	LogStatusInProgress LogStatus = "in_progress"
	LogStatusCompleted  LogStatus = "completed"
	// LogStatusFailed is set by an operator releasing an abandoned claim.
	LogStatusFailed LogStatus = "failed"
)

// ScheduledNotificationLog is the dedup ledger row for one (event, window).
type ScheduledNotificationLog struct {
	ID            int64      `json:"id"`
	EventID       int64      `json:"event_id"`
	WindowType    WindowType `json:"window_type"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	Status        LogStatus  `json:"status"`
	AcceptedCount int        `json:"accepted_count"`
	FailedCount   int        `json:"failed_count"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NotificationSendLog is the audit row for a single send attempt. It never
// carries the plaintext endpoint.
type NotificationSendLog struct {
	ID             int64     `json:"id"`
	ScheduledLogID *int64    `json:"scheduled_log_id,omitempty"`
	Success        bool      `json:"success"`
	StatusCode     *int      `json:"status_code,omitempty"`
	Attempt        int       `json:"attempt"`
	EndpointHash   string    `json:"endpoint_hash"`
	EndpointTail   string    `json:"endpoint_tail"`
	CreatedAt      time.Time `json:"created_at"`
}
