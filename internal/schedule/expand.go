package schedule

import (
	"sort"
	"time"
)

// ExceptionKey identifies the single exception allowed per schedule and day.
type ExceptionKey struct {
	ScheduleID int64
	Date       string // "2006-01-02"
}

// DateKey formats a date the way exception keys and booking rows store it.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// IndexExceptions builds the per-day lookup map used by Expand.
func IndexExceptions(exceptions []Exception) map[ExceptionKey]Exception {
	index := make(map[ExceptionKey]Exception, len(exceptions))
	for _, e := range exceptions {
		index[ExceptionKey{ScheduleID: e.ScheduleID, Date: DateKey(e.Date)}] = e
	}
	return index
}

// Expand materializes the concrete instances of sched between from and to,
// inclusive of both boundaries. Days outside [StartDate, EndDate] or not in
// the schedule's weekday set produce nothing. A cancelled or deleted
// exception suppresses the day; a modified exception overrides only its set
// fields. Instance timestamps are built from (day, wall-clock hour, minute)
// in loc, never by adding durations across days.
func Expand(sched RecurringSchedule, exceptions map[ExceptionKey]Exception, from, to time.Time, loc *time.Location) []Instance {
	if loc == nil {
		loc = time.Local
	}
	from = truncateDate(from, loc)
	to = truncateDate(to, loc)
	if to.Before(from) {
		return nil
	}

	baseHour, baseMinute, err := ParseWallClock(sched.StartTime)
	if err != nil {
		return nil
	}
	schedStart := truncateDate(sched.StartDate, loc)
	schedEnd := truncateDate(sched.EndDate, loc)

	var instances []Instance
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if day.Before(schedStart) || day.After(schedEnd) {
			continue
		}
		if !sched.OccursOn(day.Weekday()) {
			continue
		}

		hour, minute := baseHour, baseMinute
		duration := sched.DurationMinutes
		capacity := sched.MaxParticipants
		coachID := sched.CoachID
		modified := false

		exc, ok := exceptions[ExceptionKey{ScheduleID: sched.ID, Date: DateKey(day)}]
		if ok {
			if exc.Suppresses() {
				continue
			}
			if exc.Status == ExceptionModified {
				modified = true
				if exc.NewStartTime != "" {
					if h, m, err := ParseWallClock(exc.NewStartTime); err == nil {
						hour, minute = h, m
					}
				}
				if exc.NewDurationMinutes > 0 {
					duration = exc.NewDurationMinutes
				}
				if exc.NewMaxParticipants > 0 {
					capacity = exc.NewMaxParticipants
				}
				if exc.NewCoachID > 0 {
					coachID = exc.NewCoachID
				}
			}
		}

		start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		instances = append(instances, Instance{
			ScheduleID:      sched.ID,
			CoachID:         coachID,
			Name:            sched.Name,
			Date:            day,
			Start:           start,
			End:             start.Add(time.Duration(duration) * time.Minute),
			MaxParticipants: capacity,
			HasWaitlist:     sched.HasWaitlist,
			Modified:        modified,
		})
	}
	return instances
}

// ExpandAll expands several schedules over the same window and returns the
// merged instances ordered by start time.
func ExpandAll(schedules []RecurringSchedule, exceptions []Exception, from, to time.Time, loc *time.Location) []Instance {
	index := IndexExceptions(exceptions)
	var all []Instance
	for _, sched := range schedules {
		all = append(all, Expand(sched, index, from, to, loc)...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Start.Equal(all[j].Start) {
			return all[i].ScheduleID < all[j].ScheduleID
		}
		return all[i].Start.Before(all[j].Start)
	})
	return all
}

// EffectiveStart returns the start timestamp of the (scheduleID, date)
// instance after applying any exception, or false if the instance is
// suppressed.
func EffectiveStart(sched RecurringSchedule, exc *Exception, date time.Time, loc *time.Location) (time.Time, bool) {
	index := map[ExceptionKey]Exception{}
	if exc != nil {
		index[ExceptionKey{ScheduleID: sched.ID, Date: DateKey(date)}] = *exc
	}
	instances := Expand(sched, index, date, date, loc)
	if len(instances) == 0 {
		return time.Time{}, false
	}
	return instances[0].Start, true
}

// truncateDate keeps the calendar day of t but re-anchors it at midnight in
// loc. The day is taken from t's own components: a date parsed as UTC
// midnight stays the same calendar day in any target zone.
func truncateDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
