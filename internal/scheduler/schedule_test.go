package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) // a Monday
}

func TestHourlyAt(t *testing.T) {
	s := HourlyAt{Minute: 15}
	assert.Equal(t, at(10, 15), s.Next(at(10, 0)))
	assert.Equal(t, at(11, 15), s.Next(at(10, 15))) // strictly after
	assert.Equal(t, at(11, 15), s.Next(at(10, 59)))
}

func TestDailyAt(t *testing.T) {
	s := DailyAt{Hour: 9}
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), s.Next(at(2, 0)))
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), s.Next(at(9, 0)))
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), s.Next(at(23, 30)))
}

func TestWeeklyAt(t *testing.T) {
	s := WeeklyAt{Weekday: time.Sunday, Hour: 1}
	next := s.Next(at(10, 0)) // Monday -> following Sunday
	assert.Equal(t, time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Sunday, next.Weekday())

	// From that Sunday exactly, the next run is a week later.
	assert.Equal(t, time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC), s.Next(next))
}

func TestEveryAnchorsToEpoch(t *testing.T) {
	s := Every{Interval: 4 * time.Hour}
	next := s.Next(at(10, 7))
	assert.Equal(t, at(12, 0), next)
	assert.True(t, next.After(at(10, 7)))
}
