// Package scheduler drives time-triggered lifecycle transitions: a single
// beat loop computes which registered tasks are due and dispatches them to
// a bounded worker pool. Task results and run counters persist to the
// relational store so operators can observe cadence health without log
// archaeology.
package scheduler

import "time"

// Schedule computes a task's next run strictly after a given instant. All
// schedules operate in UTC.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every runs on a fixed interval, anchored to the Unix epoch so that
// restarts do not drift the cadence.
type Every struct {
	Interval time.Duration
}

func (s Every) Next(after time.Time) time.Time {
	after = after.UTC()
	elapsed := after.Unix() % int64(s.Interval/time.Second)
	next := after.Add(s.Interval - time.Duration(elapsed)*time.Second)
	return next.Truncate(time.Second)
}

// HourlyAt runs once an hour at a fixed minute past the hour.
type HourlyAt struct {
	Minute int
}

func (s HourlyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), s.Minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.Add(time.Hour)
	}
	return next
}

// DailyAt runs once a day at a fixed UTC time.
type DailyAt struct {
	Hour, Minute int
}

func (s DailyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// WeeklyAt runs once a week on a fixed weekday at a fixed UTC time.
type WeeklyAt struct {
	Weekday      time.Weekday
	Hour, Minute int
}

func (s WeeklyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	for next.Weekday() != s.Weekday || !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
