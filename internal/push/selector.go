package push

import (
	"context"
	"fmt"
	"time"

	"github.com/alumnihub/alumnihub/internal/model"
)

// Windows lists the reminder windows in the order a run processes them.
var Windows = []model.WindowType{model.WindowThreeDaysBefore, model.WindowOneDayBefore}

// EventLister reads events by start time range.
type EventLister interface {
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// DuePair is one (event, window) a run has to consider.
type DuePair struct {
	Event  model.Event
	Window model.WindowType
}

// DueSet holds the events due per window. The lists are disjoint because
// the windows cover different days.
type DueSet struct {
	ThreeDaysBefore []model.Event
	OneDayBefore    []model.Event
}

// Pairs flattens the set, D-3 first.
func (s DueSet) Pairs() []DuePair {
	pairs := make([]DuePair, 0, len(s.ThreeDaysBefore)+len(s.OneDayBefore))
	for _, e := range s.ThreeDaysBefore {
		pairs = append(pairs, DuePair{Event: e, Window: model.WindowThreeDaysBefore})
	}
	for _, e := range s.OneDayBefore {
		pairs = append(pairs, DuePair{Event: e, Window: model.WindowOneDayBefore})
	}
	return pairs
}

// Selector finds events that fall into the D-3 and D-1 windows.
type Selector struct {
	events EventLister
	loc    *time.Location
}

func NewSelector(events EventLister, loc *time.Location) *Selector {
	return &Selector{events: events, loc: loc}
}

// WindowRange returns the half-open [start, end) range of event start times
// for a window relative to the calendar day of today in loc.
func WindowRange(today time.Time, loc *time.Location, window model.WindowType) (time.Time, time.Time) {
	y, m, d := today.In(loc).Date()
	start := time.Date(y, m, d+window.DaysBefore(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// Select returns the events due for each window on today.
func (s *Selector) Select(ctx context.Context, today time.Time) (DueSet, error) {
	var set DueSet
	for _, w := range Windows {
		from, to := WindowRange(today, s.loc, w)
		events, err := s.events.ListStartingBetween(ctx, from, to)
		if err != nil {
			return DueSet{}, fmt.Errorf("select %s events: %w", w, err)
		}
		switch w {
		case model.WindowThreeDaysBefore:
			set.ThreeDaysBefore = events
		case model.WindowOneDayBefore:
			set.OneDayBefore = events
		}
	}
	return set, nil
}
