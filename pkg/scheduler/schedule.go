package scheduler

import (
	"fmt"
	"time"
)

// Schedule determines when a job should run next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// Slotted is implemented by schedules whose run times fall on fixed slots.
// Prev returns the latest slot at or before t. Instances that agree on the
// slot share one lock key, so a slot runs once across a fleet.
type Slotted interface {
	Prev(t time.Time) time.Time
}

// slotOf returns the slot t belongs to, or t itself for schedules
// without fixed slots.
func slotOf(s Schedule, t time.Time) time.Time {
	if sl, ok := s.(Slotted); ok {
		return sl.Prev(t)
	}
	return t
}

// intervalSchedule runs at fixed intervals
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) Prev(t time.Time) time.Time {
	return t.Truncate(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// dailySchedule runs once per day at the given wall-clock time
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

func (s dailySchedule) Next(from time.Time) time.Time {
	local := from.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) Prev(t time.Time) time.Time {
	local := t.In(s.loc)
	prev := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if prev.After(local) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", s.hour, s.minute, s.loc)
}

// hourlySchedule runs every hour at the given minute
type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) Prev(t time.Time) time.Time {
	prev := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), s.minute, 0, 0, t.Location())
	if prev.After(t) {
		prev = prev.Add(-time.Hour)
	}
	return prev
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

// EveryInterval creates a schedule that runs at fixed intervals.
// Non-positive durations fall back to one minute.
func EveryInterval(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Minute
	}
	return intervalSchedule{every: d}
}

// HourlyAt creates a schedule that runs every hour at the given minute.
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: clamp(minute, 0, 59)}
}

// DailyAt creates a schedule that runs daily at hour:minute UTC.
func DailyAt(hour, minute int) Schedule {
	return DailyAtIn(hour, minute, time.UTC)
}

// DailyAtIn is DailyAt in the given location.
func DailyAtIn(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return dailySchedule{hour: clamp(hour, 0, 23), minute: clamp(minute, 0, 59), loc: loc}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
