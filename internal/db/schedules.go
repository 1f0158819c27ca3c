// internal/db/schedules.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studiobook/internal/schedule"
)

const dateLayout = "2006-01-02"

const scheduleColumns = `id, org_id, location_id, coach_id, class_type_id, name,
    days_of_week, start_time, duration_minutes, max_participants,
    start_date, end_date, has_waitlist`

type CreateScheduleParams struct {
	OrgID           int64
	LocationID      int64
	CoachID         int64
	ClassTypeID     int64
	Name            string
	DaysOfWeek      []int
	StartTime       string
	DurationMinutes int64
	MaxParticipants int64
	StartDate       time.Time
	EndDate         time.Time
	HasWaitlist     bool
}

func (q *Queries) CreateSchedule(ctx context.Context, arg CreateScheduleParams) (schedule.RecurringSchedule, error) {
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO group_class_schedules
            (org_id, location_id, coach_id, class_type_id, name, days_of_week,
             start_time, duration_minutes, max_participants, start_date, end_date, has_waitlist)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.OrgID, arg.LocationID, arg.CoachID, arg.ClassTypeID, arg.Name,
		schedule.FormatDays(arg.DaysOfWeek), arg.StartTime, arg.DurationMinutes,
		arg.MaxParticipants, arg.StartDate.Format(dateLayout), arg.EndDate.Format(dateLayout),
		arg.HasWaitlist,
	)
	if err != nil {
		return schedule.RecurringSchedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return schedule.RecurringSchedule{}, err
	}
	return q.GetSchedule(ctx, arg.OrgID, id)
}

func (q *Queries) GetSchedule(ctx context.Context, orgID, id int64) (schedule.RecurringSchedule, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT `+scheduleColumns+`
        FROM group_class_schedules
        WHERE org_id = ? AND id = ?`, orgID, id)
	return scanSchedule(row)
}

func (q *Queries) ListSchedulesByOrg(ctx context.Context, orgID int64) ([]schedule.RecurringSchedule, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT `+scheduleColumns+`
        FROM group_class_schedules
        WHERE org_id = ?
        ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (q *Queries) ListSchedulesByCoach(ctx context.Context, orgID, coachID int64) ([]schedule.RecurringSchedule, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT `+scheduleColumns+`
        FROM group_class_schedules
        WHERE org_id = ? AND coach_id = ?
        ORDER BY id`, orgID, coachID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

type UpsertExceptionParams struct {
	OrgID              int64
	ScheduleID         int64
	Date               time.Time
	Status             string
	NewStartTime       string
	NewDurationMinutes int64
	NewCoachID         int64
	NewMaxParticipants int64
}

// UpsertScheduleException writes the single exception allowed per
// (schedule, date); a second write for the same key replaces the first, so
// retried cancellations stay idempotent.
func (q *Queries) UpsertScheduleException(ctx context.Context, arg UpsertExceptionParams) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT INTO group_class_schedule_exceptions
            (org_id, schedule_id, date, status, new_start_time,
             new_duration_minutes, new_coach_id, new_max_participants)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (schedule_id, date) DO UPDATE SET
            status = excluded.status,
            new_start_time = excluded.new_start_time,
            new_duration_minutes = excluded.new_duration_minutes,
            new_coach_id = excluded.new_coach_id,
            new_max_participants = excluded.new_max_participants`,
		arg.OrgID, arg.ScheduleID, arg.Date.Format(dateLayout), arg.Status,
		arg.NewStartTime, arg.NewDurationMinutes, arg.NewCoachID, arg.NewMaxParticipants,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule exception: %w", err)
	}
	return nil
}

func (q *Queries) GetScheduleException(ctx context.Context, scheduleID int64, date time.Time) (schedule.Exception, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT id, org_id, schedule_id, date, status, new_start_time,
               new_duration_minutes, new_coach_id, new_max_participants
        FROM group_class_schedule_exceptions
        WHERE schedule_id = ? AND date = ?`, scheduleID, date.Format(dateLayout))
	return scanException(row)
}

// ListExceptionsInRange returns all exceptions for the org whose date falls
// in [from, to], for pre-indexing ahead of expansion.
func (q *Queries) ListExceptionsInRange(ctx context.Context, orgID int64, from, to time.Time) ([]schedule.Exception, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, org_id, schedule_id, date, status, new_start_time,
               new_duration_minutes, new_coach_id, new_max_participants
        FROM group_class_schedule_exceptions
        WHERE org_id = ? AND date >= ? AND date <= ?`,
		orgID, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exceptions []schedule.Exception
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, exc)
	}
	return exceptions, rows.Err()
}

// DeleteExpiredExceptions removes exceptions belonging to schedules whose
// end date is before cutoff. Used by the nightly maintenance job.
func (q *Queries) DeleteExpiredExceptions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
        DELETE FROM group_class_schedule_exceptions
        WHERE schedule_id IN (
            SELECT id FROM group_class_schedules WHERE end_date < ?
        )`, cutoff.Format(dateLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (schedule.RecurringSchedule, error) {
	var s schedule.RecurringSchedule
	var days, startDate, endDate string
	err := row.Scan(&s.ID, &s.OrgID, &s.LocationID, &s.CoachID, &s.ClassTypeID,
		&s.Name, &days, &s.StartTime, &s.DurationMinutes, &s.MaxParticipants,
		&startDate, &endDate, &s.HasWaitlist)
	if err != nil {
		return schedule.RecurringSchedule{}, err
	}
	if s.DaysOfWeek, err = schedule.ParseDays(days); err != nil {
		return schedule.RecurringSchedule{}, fmt.Errorf("schedule %d: %w", s.ID, err)
	}
	if s.StartDate, err = time.Parse(dateLayout, startDate); err != nil {
		return schedule.RecurringSchedule{}, fmt.Errorf("schedule %d start date: %w", s.ID, err)
	}
	if s.EndDate, err = time.Parse(dateLayout, endDate); err != nil {
		return schedule.RecurringSchedule{}, fmt.Errorf("schedule %d end date: %w", s.ID, err)
	}
	return s, nil
}

func scanSchedules(rows *sql.Rows) ([]schedule.RecurringSchedule, error) {
	var schedules []schedule.RecurringSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func scanException(row rowScanner) (schedule.Exception, error) {
	var e schedule.Exception
	var date string
	err := row.Scan(&e.ID, &e.OrgID, &e.ScheduleID, &date, &e.Status,
		&e.NewStartTime, &e.NewDurationMinutes, &e.NewCoachID, &e.NewMaxParticipants)
	if err != nil {
		return schedule.Exception{}, err
	}
	if e.Date, err = time.Parse(dateLayout, date); err != nil {
		return schedule.Exception{}, fmt.Errorf("exception %d date: %w", e.ID, err)
	}
	return e, nil
}
