// Package schedule holds the recurring class schedule model and the
// expansion of schedules plus per-date exceptions into concrete class
// instances.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Exception statuses. A cancelled or deleted exception suppresses the
// instance for its date; a modified exception overrides individual fields.
const (
	ExceptionCancelled = "cancelled"
	ExceptionDeleted   = "deleted"
	ExceptionModified  = "modified"
)

var (
	ErrNoDays       = errors.New("schedule requires at least one weekday")
	ErrDateOrder    = errors.New("schedule start date must be on or before end date")
	ErrBadStartTime = errors.New("start time must be HH:MM")
)

// RecurringSchedule is a weekly recurring class slot. StartTime is a
// wall-clock template ("18:00"); instances re-anchor it onto each
// generated date rather than doing timestamp arithmetic, so occurrences
// stay at the same local time across DST changes.
type RecurringSchedule struct {
	ID              int64
	OrgID           int64
	LocationID      int64
	CoachID         int64
	ClassTypeID     int64
	Name            string
	DaysOfWeek      []int // ISO weekdays, 1=Monday .. 7=Sunday
	StartTime       string
	DurationMinutes int64
	MaxParticipants int64
	StartDate       time.Time
	EndDate         time.Time
	HasWaitlist     bool
}

// Validate checks the schedule invariants.
func (s RecurringSchedule) Validate() error {
	if len(s.DaysOfWeek) == 0 {
		return ErrNoDays
	}
	for _, d := range s.DaysOfWeek {
		if d < 1 || d > 7 {
			return fmt.Errorf("weekday %d out of range 1..7", d)
		}
	}
	if s.EndDate.Before(s.StartDate) {
		return ErrDateOrder
	}
	if _, _, err := ParseWallClock(s.StartTime); err != nil {
		return err
	}
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	return nil
}

// OccursOn reports whether the schedule recurs on the given weekday.
func (s RecurringSchedule) OccursOn(day time.Weekday) bool {
	iso := ISOWeekday(day)
	for _, d := range s.DaysOfWeek {
		if d == iso {
			return true
		}
	}
	return false
}

// Exception is a per-date override or cancellation layered onto a
// recurring schedule. At most one exists per (ScheduleID, Date).
type Exception struct {
	ID                 int64
	OrgID              int64
	ScheduleID         int64
	Date               time.Time
	Status             string
	NewStartTime       string
	NewDurationMinutes int64
	NewCoachID         int64
	NewMaxParticipants int64
}

// Suppresses reports whether the exception removes its instance entirely.
func (e Exception) Suppresses() bool {
	return e.Status == ExceptionCancelled || e.Status == ExceptionDeleted
}

// Instance is one concrete occurrence of a recurring class. Derived, never
// persisted.
type Instance struct {
	ScheduleID      int64
	CoachID         int64
	Name            string
	Date            time.Time
	Start           time.Time
	End             time.Time
	MaxParticipants int64
	HasWaitlist     bool
	Modified        bool
}

// ISOWeekday maps time.Weekday to ISO-8601 numbering (1=Monday .. 7=Sunday).
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// ParseWallClock parses an "HH:MM" template into hour and minute.
func ParseWallClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, ErrBadStartTime
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrBadStartTime
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrBadStartTime
	}
	return hour, minute, nil
}

// ParseDays parses a comma-separated weekday list ("1,3,5") as stored in
// the database.
func ParseDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrNoDays
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 1 || d > 7 {
			return nil, fmt.Errorf("invalid weekday %q", p)
		}
		days = append(days, d)
	}
	return days, nil
}

// FormatDays renders a weekday list back to its stored form.
func FormatDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
