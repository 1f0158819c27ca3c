// Package reminders schedules class reminders when bookings are confirmed
// and processes the later dispatch callbacks from the task queue.
package reminders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/db"
	"studiobook/internal/push"
	"studiobook/internal/schedule"
	"studiobook/internal/tasks"
)

// Dispatch outcomes, returned to the task-queue caller as the response
// body. Everything except "sent" is a benign nothing-to-do case: the
// booking state is allowed to change between enqueue and fire time.
const (
	OutcomeSent             = "sent"
	OutcomeBookingGone      = "booking not found"
	OutcomeBookingInactive  = "booking no longer active"
	OutcomeRemindersOff     = "reminders disabled for participant"
	OutcomeNoSubscriptions  = "no push subscriptions"
	OutcomeNothingScheduled = "no class instance"
)

type Scheduler struct {
	database *db.DB
	queue    tasks.Queue
	pusher   *push.Service
	now      func() time.Time
}

func NewScheduler(database *db.DB, queue tasks.Queue, pusher *push.Service) *Scheduler {
	return &Scheduler{
		database: database,
		queue:    queue,
		pusher:   pusher,
		now:      time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// BookingConfirmed enqueues a reminder task for a booking that just
// transitioned to booked. No task is created when the org has reminders
// off, when the booking is no longer booked, or when the send time has
// already passed.
func (s *Scheduler) BookingConfirmed(ctx context.Context, orgID, bookingID int64) error {
	settings, err := s.database.Queries.GetIntegrationSettings(ctx, orgID)
	if err != nil {
		return fmt.Errorf("load integration settings: %w", err)
	}
	if !settings.RemindersEnabled || settings.ReminderHours <= 0 {
		return nil
	}

	b, err := s.database.Queries.GetBooking(ctx, orgID, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if b.Status != db.BookingBooked {
		return nil
	}

	start, ok, err := s.classStart(ctx, orgID, b)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sendAt := start.Add(-time.Duration(settings.ReminderHours) * time.Hour)
	if !sendAt.After(s.now()) {
		return nil
	}

	task, err := s.database.Queries.CreateReminderTask(ctx, orgID, bookingID, sendAt)
	if err != nil {
		return err
	}
	if err := s.queue.EnqueueReminder(ctx, task); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Int64("booking_id", bookingID).
		Time("send_at", sendAt).
		Msg("Reminder scheduled")
	return nil
}

// Dispatch runs at fire time. The booking is re-validated from scratch
// because anything can have changed since enqueueing: the booking may be
// cancelled, the participant may have turned reminders off, subscriptions
// may be gone. All of those return a benign outcome, not an error.
func (s *Scheduler) Dispatch(ctx context.Context, orgID, bookingID int64) (string, error) {
	settle := func(outcome string) (string, error) {
		if err := s.database.Queries.MarkReminderTasksDispatchedForBooking(ctx, bookingID); err != nil {
			log.Ctx(ctx).Error().Err(err).Int64("booking_id", bookingID).Msg("Failed to settle reminder tasks")
		}
		return outcome, nil
	}

	b, err := s.database.Queries.GetBooking(ctx, orgID, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settle(OutcomeBookingGone)
		}
		return "", err
	}
	if b.Status != db.BookingBooked && b.Status != db.BookingCheckedIn {
		return settle(OutcomeBookingInactive)
	}

	participant, err := s.database.Queries.GetParticipant(ctx, orgID, b.ParticipantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settle(OutcomeBookingGone)
		}
		return "", err
	}
	if !participant.NotifyReminders || !participant.PushEnabled {
		return settle(OutcomeRemindersOff)
	}

	subs, err := s.database.Queries.ListPushSubscriptions(ctx, orgID, participant.ID)
	if err != nil {
		return "", err
	}
	if len(subs) == 0 {
		return settle(OutcomeNoSubscriptions)
	}

	sched, err := s.database.Queries.GetSchedule(ctx, orgID, b.ScheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settle(OutcomeNothingScheduled)
		}
		return "", err
	}
	start, ok, err := s.classStart(ctx, orgID, b)
	if err != nil {
		return "", err
	}
	if !ok {
		return settle(OutcomeNothingScheduled)
	}

	s.pusher.NotifyUser(ctx, orgID, participant.ID, push.Message{
		Title: fmt.Sprintf("Upcoming class: %s", sched.Name),
		Body:  fmt.Sprintf("%s starts at %s. See you there!", sched.Name, start.Format("15:04")),
	})
	return settle(OutcomeSent)
}

// classStart resolves the effective start of the booking's class instance.
func (s *Scheduler) classStart(ctx context.Context, orgID int64, b db.Booking) (time.Time, bool, error) {
	org, err := s.database.Queries.GetOrganization(ctx, orgID)
	if err != nil {
		return time.Time{}, false, err
	}
	sched, err := s.database.Queries.GetSchedule(ctx, orgID, b.ScheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	classDate, err := time.Parse("2006-01-02", b.ClassDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("booking %d class date: %w", b.ID, err)
	}

	var excPtr *schedule.Exception
	if exc, err := s.database.Queries.GetScheduleException(ctx, sched.ID, classDate); err == nil {
		excPtr = &exc
	} else if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, err
	}

	start, ok := schedule.EffectiveStart(sched, excPtr, classDate, org.Location())
	return start, ok, nil
}
