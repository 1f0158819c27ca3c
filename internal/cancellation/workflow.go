// Package cancellation implements the coach-facing cancellation of one
// class instance: exception write, booking cancellation, clip refunds, and
// notification records, all in a single transaction, followed by
// best-effort push/email fan-out.
package cancellation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/db"
	"studiobook/internal/schedule"
)

const CancelReason = "coach_cancelled"

var ErrNotFound = errors.New("not found")

// Notifier delivers the post-commit fan-out. It must never fail the
// workflow; it reports how many participants were notified.
type Notifier interface {
	ClassCancelled(ctx context.Context, org db.Organization, sched schedule.RecurringSchedule, start time.Time, participants []db.Participant) int
}

type Result struct {
	CancelledCount    int
	NotificationsSent int
}

type Workflow struct {
	database *db.DB
	notifier Notifier
}

func NewWorkflow(database *db.DB, notifier Notifier) *Workflow {
	return &Workflow{database: database, notifier: notifier}
}

// CancelInstance cancels the (scheduleID, classDate) instance. The
// exception write is keyed on (schedule, date), so running the workflow
// twice leaves the same end state: bookings cancel once, clips refund
// once, and the second run finds nothing active to touch.
func (w *Workflow) CancelInstance(ctx context.Context, orgID, scheduleID int64, classDate time.Time) (Result, error) {
	logger := log.Ctx(ctx)

	org, err := w.database.Queries.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, fmt.Errorf("organization %d: %w", orgID, ErrNotFound)
		}
		return Result{}, err
	}
	sched, err := w.database.Queries.GetSchedule(ctx, orgID, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
		}
		return Result{}, err
	}

	// Resolve the instance start before the cancelled exception hides it;
	// a pre-existing modified exception may have moved the time.
	start := instanceStart(ctx, w.database.Queries, sched, classDate, org.Location())

	var affected []db.Participant
	var cancelledCount int
	err = w.database.RunInTx(ctx, func(txdb *db.DB) error {
		if err := txdb.Queries.UpsertScheduleException(ctx, db.UpsertExceptionParams{
			OrgID:      orgID,
			ScheduleID: scheduleID,
			Date:       classDate,
			Status:     schedule.ExceptionCancelled,
		}); err != nil {
			return err
		}

		bookings, err := txdb.Queries.ListActiveBookingsForInstance(ctx, orgID, scheduleID, schedule.DateKey(classDate))
		if err != nil {
			return err
		}
		if len(bookings) == 0 {
			return nil
		}

		for _, b := range bookings {
			occupiedSlot := b.Status == db.BookingBooked || b.Status == db.BookingCheckedIn

			if err := txdb.Queries.UpdateBookingStatus(ctx, db.UpdateBookingStatusParams{
				ID:           b.ID,
				Status:       db.BookingCancelled,
				CancelReason: CancelReason,
			}); err != nil {
				return err
			}
			cancelledCount++

			// Waitlisted members never consumed a clip; only refund
			// participants whose booking occupied a slot.
			if occupiedSlot {
				if _, err := txdb.Queries.RefundClip(ctx, b.ParticipantID); err != nil {
					return err
				}
			}

			participant, err := txdb.Queries.GetParticipant(ctx, orgID, b.ParticipantID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return err
			}
			affected = append(affected, participant)

			if err := txdb.Queries.CreateUserNotification(ctx, db.CreateUserNotificationParams{
				OrgID:            orgID,
				UserID:           participant.ID,
				NotificationType: "class_cancelled",
				Title:            fmt.Sprintf("%s cancelled", sched.Name),
				Body:             fmt.Sprintf("Your class on %s has been cancelled.", start.Format("Monday 2 Jan 15:04")),
			}); err != nil {
				return err
			}
		}

		return txdb.Queries.CreateCoachEvent(ctx, db.CreateCoachEventParams{
			OrgID:      orgID,
			LocationID: sched.LocationID,
			EventType:  "class_cancelled",
			Title:      fmt.Sprintf("%s cancelled", sched.Name),
			Body:       fmt.Sprintf("The %s class on %s was cancelled.", sched.Name, schedule.DateKey(classDate)),
		})
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{CancelledCount: cancelledCount}
	if len(affected) > 0 && w.notifier != nil {
		// Best effort, outside the transaction: a failed push never rolls
		// back or fails the cancellation.
		result.NotificationsSent = w.notifier.ClassCancelled(ctx, org, sched, start, affected)
	}

	logger.Info().
		Int64("schedule_id", scheduleID).
		Str("class_date", schedule.DateKey(classDate)).
		Int("cancelled", result.CancelledCount).
		Int("notified", result.NotificationsSent).
		Msg("Class instance cancelled")
	return result, nil
}

// instanceStart resolves the wall-clock start of the instance, falling back
// to the schedule's default template when the date has no materializable
// instance (already-cancelled exception, off-pattern date).
func instanceStart(ctx context.Context, q *db.Queries, sched schedule.RecurringSchedule, classDate time.Time, loc *time.Location) time.Time {
	var excPtr *schedule.Exception
	exc, err := q.GetScheduleException(ctx, sched.ID, classDate)
	if err == nil {
		excPtr = &exc
	}

	if start, ok := schedule.EffectiveStart(sched, excPtr, classDate, loc); ok {
		return start
	}

	hour, minute, err := schedule.ParseWallClock(sched.StartTime)
	if err != nil {
		hour, minute = 0, 0
	}
	y, m, d := classDate.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}
