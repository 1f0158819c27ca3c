// Package notify is the best-effort fan-out layer: push and email to
// participants after the core transaction has committed. Nothing in this
// package returns an error to its caller; failures are logged and dropped.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/db"
	"studiobook/internal/email"
	"studiobook/internal/push"
	"studiobook/internal/reminders"
	"studiobook/internal/schedule"
)

const emailTimeout = 5 * time.Second

// Service implements booking.Hooks and cancellation.Notifier.
type Service struct {
	database  *db.DB
	pusher    *push.Service
	mailer    email.Sender // nil when email is not configured
	reminders *reminders.Scheduler
}

func NewService(database *db.DB, pusher *push.Service, mailer email.Sender, rem *reminders.Scheduler) *Service {
	return &Service{database: database, pusher: pusher, mailer: mailer, reminders: rem}
}

// BookingConfirmed schedules a class reminder for a booking that just
// became booked.
func (s *Service) BookingConfirmed(ctx context.Context, orgID, bookingID int64) {
	if s.reminders == nil {
		return
	}
	if err := s.reminders.BookingConfirmed(ctx, orgID, bookingID); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("booking_id", bookingID).Msg("Failed to schedule reminder")
	}
}

// SpotOpened tells a promoted participant they got in. Immediate, not
// scheduled; distinct from the class reminder.
func (s *Service) SpotOpened(ctx context.Context, orgID int64, promoted db.Booking) {
	logger := log.Ctx(ctx)

	sched, err := s.database.Queries.GetSchedule(ctx, orgID, promoted.ScheduleID)
	if err != nil {
		logger.Error().Err(err).Int64("booking_id", promoted.ID).Msg("Failed to load schedule for promotion notice")
		return
	}

	if err := s.database.Queries.CreateUserNotification(ctx, db.CreateUserNotificationParams{
		OrgID:            orgID,
		UserID:           promoted.ParticipantID,
		NotificationType: "waitlist_promoted",
		Title:            "You got a spot!",
		Body:             fmt.Sprintf("A spot opened up in %s on %s.", sched.Name, promoted.ClassDate),
	}); err != nil {
		logger.Error().Err(err).Int64("booking_id", promoted.ID).Msg("Failed to record promotion notification")
	}

	participant, err := s.database.Queries.GetParticipant(ctx, orgID, promoted.ParticipantID)
	if err != nil {
		return
	}
	if !participant.PushEnabled {
		return
	}
	s.pusher.NotifyUser(ctx, orgID, participant.ID, push.Message{
		Title: "You got a spot!",
		Body:  fmt.Sprintf("A spot opened up in %s on %s. You're booked in.", sched.Name, promoted.ClassDate),
	})
}

// ClassCancelled fans the cancellation out to every affected participant,
// skipping those who disabled class-cancellation alerts. Returns the
// number of participants reached on at least one channel.
func (s *Service) ClassCancelled(ctx context.Context, org db.Organization, sched schedule.RecurringSchedule, start time.Time, participants []db.Participant) int {
	logger := log.Ctx(ctx)
	message := email.BuildCancellationEmail(org.Name, sched.Name, start)

	sent := 0
	for _, p := range participants {
		if !p.NotifyClassCancelled {
			continue
		}

		reached := false
		if p.PushEnabled {
			reached = s.pusher.NotifyUser(ctx, org.ID, p.ID, push.Message{
				Title: fmt.Sprintf("%s cancelled", sched.Name),
				Body:  fmt.Sprintf("Your class on %s has been cancelled.", start.Format("Monday 2 Jan 15:04")),
			})
		}
		if s.mailer != nil && p.Email != "" {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailTimeout)
			if err := s.mailer.Send(sendCtx, p.Email, message.Subject, message.Body); err != nil {
				logger.Error().Err(err).Int64("participant_id", p.ID).Msg("Failed to send cancellation email")
			} else {
				reached = true
			}
			cancel()
		}
		if reached {
			sent++
		}
	}
	return sent
}

// FriendBooked notifies followers of a participant that their friend
// booked a class. No-ops silently when the org has sharing off, the
// participant doesn't share bookings, or nobody follows them.
func (s *Service) FriendBooked(ctx context.Context, orgID, participantID, scheduleID int64, classDate time.Time) int {
	logger := log.Ctx(ctx)

	settings, err := s.database.Queries.GetIntegrationSettings(ctx, orgID)
	if err != nil || !settings.FriendSharingEnabled {
		return 0
	}
	actor, err := s.database.Queries.GetParticipant(ctx, orgID, participantID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Error().Err(err).Int64("participant_id", participantID).Msg("Failed to load participant for friend notice")
		}
		return 0
	}
	if !actor.ShareBookings {
		return 0
	}
	sched, err := s.database.Queries.GetSchedule(ctx, orgID, scheduleID)
	if err != nil {
		return 0
	}
	followers, err := s.database.Queries.ListFollowers(ctx, orgID, participantID)
	if err != nil {
		logger.Error().Err(err).Int64("participant_id", participantID).Msg("Failed to list followers")
		return 0
	}

	sent := 0
	for _, follower := range followers {
		if !follower.PushEnabled {
			continue
		}
		if s.pusher.NotifyUser(ctx, orgID, follower.ID, push.Message{
			Title: fmt.Sprintf("%s booked a class", actor.FirstName),
			Body:  fmt.Sprintf("%s is going to %s on %s.", actor.FirstName, sched.Name, schedule.DateKey(classDate)),
		}) {
			sent++
		}
	}
	return sent
}
