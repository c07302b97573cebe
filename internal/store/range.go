package store

import (
	"fmt"
	"time"
)

// Period is a named query window ending now
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Range is a half-open time window [From, To)
type Range struct {
	From time.Time
	To   time.Time
}

// NewRange builds a custom range, rejecting inverted bounds
func NewRange(from, to time.Time) (Range, error) {
	if to.Before(from) {
		return Range{}, fmt.Errorf("invalid range: from %s is after to %s", from, to)
	}
	return Range{From: from, To: to}, nil
}

// PeriodRange resolves a named period relative to now. Day means the last
// 24 hours; week, month and year cover the trailing 7/30/365 calendar days
// starting at midnight of the earliest day and ending after today.
func PeriodRange(p Period, now time.Time) (Range, error) {
	endOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	startOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}

	switch p {
	case PeriodDay:
		return Range{From: now.Add(-24 * time.Hour), To: now}, nil
	case PeriodWeek:
		return Range{From: startOfDay(now.AddDate(0, 0, -6)), To: endOfToday}, nil
	case PeriodMonth:
		return Range{From: startOfDay(now.AddDate(0, 0, -29)), To: endOfToday}, nil
	case PeriodYear:
		return Range{From: startOfDay(now.AddDate(0, 0, -364)), To: endOfToday}, nil
	default:
		return Range{}, fmt.Errorf("unknown period %q", p)
	}
}
