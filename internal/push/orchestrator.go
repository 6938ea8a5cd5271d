package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alumnihub/alumnihub/internal/metrics"
	"github.com/alumnihub/alumnihub/internal/model"
	"github.com/alumnihub/alumnihub/internal/runlock"
	"github.com/alumnihub/alumnihub/internal/store"
)

// ErrRunInProgress is returned when another run for the same day holds the
// run lock.
var ErrRunInProgress = errors.New("reminder run already in progress")

// runLockTTL outlives any realistic run. If a run does outlast it, the
// ledger's claim index still keeps a second run from sending the same window.
const runLockTTL = 6 * time.Hour

// Ledger records which (event, window) pairs have been sent.
type Ledger interface {
	IsAlreadySent(ctx context.Context, eventID int64, window model.WindowType) (bool, error)
	CreateLog(ctx context.Context, eventID int64, window model.WindowType, scheduledAt time.Time) (*model.ScheduledNotificationLog, error)
	UpdateLog(ctx context.Context, log *model.ScheduledNotificationLog, status model.LogStatus, accepted, failed int) error
	DeleteLog(ctx context.Context, id int64) error
}

// Outcome statuses for one (event, window).
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
)

type Outcome struct {
	EventID  int64            `json:"event_id"`
	Window   model.WindowType `json:"window"`
	Status   string           `json:"status"`
	LogID    int64            `json:"log_id,omitempty"`
	Accepted int              `json:"accepted"`
	Failed   int              `json:"failed"`
}

// RunResult aggregates one trigger run.
type RunResult struct {
	RunID       string    `json:"run_id"`
	Date        string    `json:"date"`
	TotalEvents int       `json:"total_events"`
	Processed   int       `json:"processed"`
	Skipped     int       `json:"skipped"`
	Accepted    int       `json:"accepted"`
	Failed      int       `json:"failed"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Orchestrator runs the D-3/D-1 event reminders for a day. The scheduled
// job and the admin trigger both call Run.
type Orchestrator struct {
	selector    *Selector
	ledger      Ledger
	eligibility *Eligibility
	dispatcher  *Dispatcher
	lock        runlock.Locker
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
}

func NewOrchestrator(selector *Selector, ledger Ledger, eligibility *Eligibility, dispatcher *Dispatcher, lock runlock.Locker, loc *time.Location, logger *slog.Logger) *Orchestrator {
	if lock == nil {
		lock = runlock.NewLocal()
	}
	return &Orchestrator{
		selector:    selector,
		ledger:      ledger,
		eligibility: eligibility,
		dispatcher:  dispatcher,
		lock:        lock,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}
}

// Trigger runs reminders for the current day.
func (o *Orchestrator) Trigger(ctx context.Context) (RunResult, error) {
	return o.Run(ctx, o.now())
}

// Run processes every due (event, window) for the calendar day of today.
// Pairs already in progress or completed are skipped, so running twice for
// the same day is safe. An error on one pair stops the run; that pair's
// ledger row stays in_progress until an operator releases it.
//
// Cancellation of ctx is ignored: a claimed window is always sent to every
// eligible subscriber, whether the run came from the scheduler, an HTTP
// request that went away, or the CLI.
func (o *Orchestrator) Run(ctx context.Context, today time.Time) (RunResult, error) {
	ctx = context.WithoutCancel(ctx)
	date := today.In(o.loc).Format(time.DateOnly)
	result := RunResult{RunID: uuid.NewString(), Date: date}
	logger := o.logger.With("run_id", result.RunID, "date", date)

	release, ok, err := o.lock.Acquire(ctx, "reminders:"+date, runLockTTL)
	if err != nil {
		return result, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return result, ErrRunInProgress
	}
	defer func() {
		if err := release(ctx); err != nil {
			logger.Warn("release run lock", "error", err)
		}
	}()

	started := time.Now()
	defer func() { metrics.ReminderRunDuration.Observe(time.Since(started).Seconds()) }()

	due, err := o.selector.Select(ctx, today)
	if err != nil {
		return result, err
	}
	pairs := due.Pairs()
	result.TotalEvents = len(pairs)
	logger.Info("reminder run started", "three_days", len(due.ThreeDaysBefore), "one_day", len(due.OneDayBefore))

	for _, pair := range pairs {
		outcome, err := o.processPair(ctx, pair, logger)
		if err != nil {
			return result, fmt.Errorf("event %d %s: %w", pair.Event.ID, pair.Window, err)
		}

		result.Outcomes = append(result.Outcomes, outcome)
		metrics.ReminderWindows.WithLabelValues(string(pair.Window), outcome.Status).Inc()
		if outcome.Status == OutcomeSkipped {
			result.Skipped++
			continue
		}
		result.Processed++
		result.Accepted += outcome.Accepted
		result.Failed += outcome.Failed
	}

	logger.Info("reminder run finished",
		"total", result.TotalEvents,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"accepted", result.Accepted,
		"failed", result.Failed,
	)
	return result, nil
}

func (o *Orchestrator) processPair(ctx context.Context, pair DuePair, logger *slog.Logger) (Outcome, error) {
	outcome := Outcome{EventID: pair.Event.ID, Window: pair.Window}
	logger = logger.With("event_id", pair.Event.ID, "window", pair.Window)

	sent, err := o.ledger.IsAlreadySent(ctx, pair.Event.ID, pair.Window)
	if err != nil {
		return outcome, err
	}
	if sent {
		logger.Info("reminder already sent, skipping")
		outcome.Status = OutcomeSkipped
		return outcome, nil
	}

	log, err := o.ledger.CreateLog(ctx, pair.Event.ID, pair.Window, o.now())
	if err != nil {
		return outcome, err
	}
	outcome.LogID = log.ID

	if err := o.ledger.UpdateLog(ctx, log, model.LogStatusInProgress, 0, 0); err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			// Another run claimed the window between our check and insert.
			if err := o.ledger.DeleteLog(ctx, log.ID); err != nil {
				logger.Warn("discard unclaimed log", "log_id", log.ID, "error", err)
			}
			logger.Info("reminder claimed by another run, skipping")
			outcome.Status = OutcomeSkipped
			outcome.LogID = 0
			return outcome, nil
		}
		return outcome, err
	}

	subs, err := o.eligibility.EligibleSubscriptions(ctx, model.TopicEvent)
	if err != nil {
		return outcome, err
	}

	var res DispatchResult
	if len(subs) > 0 {
		res, err = o.dispatcher.Dispatch(ctx, subs, EventReminderPayload(pair.Event, pair.Window), &log.ID)
		if err != nil {
			return outcome, err
		}
	}

	if err := o.ledger.UpdateLog(ctx, log, model.LogStatusCompleted, res.Accepted, res.Failed); err != nil {
		return outcome, err
	}

	outcome.Status = OutcomeCompleted
	outcome.Accepted = res.Accepted
	outcome.Failed = res.Failed
	logger.Info("reminder sent", "recipients", len(subs), "accepted", res.Accepted, "failed", res.Failed)
	return outcome, nil
}

// EventReminderPayload builds the notification for an event window.
func EventReminderPayload(event model.Event, window model.WindowType) Payload {
	label := window.Label()
	body := fmt.Sprintf("%s 후 행사가 열립니다.", label)
	if event.Location != "" {
		body = fmt.Sprintf("%s 후 %s에서 행사가 열립니다.", label, event.Location)
	}
	return Payload{
		Title: fmt.Sprintf("[%s 전] %s", label, event.Title),
		Body:  body,
		URL:   fmt.Sprintf("/events/%d", event.ID),
		Tag:   fmt.Sprintf("event-%d-%s", event.ID, window),
	}
}
