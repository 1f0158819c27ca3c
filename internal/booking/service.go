// Package booking is the booking ledger: creation against instance
// capacity, the waitlist, and status transitions.
package booking

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

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateBooking  = errors.New("participant already has an active booking for this class")
	ErrCapacityExceeded  = errors.New("class is full")
	ErrInvalidTransition = errors.New("invalid booking status transition")
)

// Hooks receive post-commit booking events. Both calls are best effort;
// implementations must not fail the booking operation.
type Hooks interface {
	// BookingConfirmed fires on a transition to booked, whether by
	// creation or waitlist promotion. Reminder scheduling hangs off it.
	BookingConfirmed(ctx context.Context, orgID, bookingID int64)
	// SpotOpened fires when a waitlisted booking is promoted.
	SpotOpened(ctx context.Context, orgID int64, promoted db.Booking)
}

type Service struct {
	database *db.DB
	hooks    Hooks
}

func NewService(database *db.DB, hooks Hooks) *Service {
	return &Service{database: database, hooks: hooks}
}

// Create books a participant onto the class instance (scheduleID, classDate).
// When the instance is full and the schedule has a waitlist, a waitlisted
// booking is created instead; without a waitlist the call fails with
// ErrCapacityExceeded. The duplicate check and capacity count run in the
// same transaction as the insert.
func (s *Service) Create(ctx context.Context, orgID, participantID, scheduleID int64, classDate time.Time) (db.Booking, error) {
	instance, err := s.loadInstance(ctx, orgID, scheduleID, classDate)
	if err != nil {
		return db.Booking{}, err
	}
	if _, err := s.database.Queries.GetParticipant(ctx, orgID, participantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.Booking{}, fmt.Errorf("participant %d: %w", participantID, ErrNotFound)
		}
		return db.Booking{}, err
	}

	dateKey := schedule.DateKey(classDate)
	var created db.Booking
	err = s.database.RunInTx(ctx, func(txdb *db.DB) error {
		_, err := txdb.Queries.GetActiveBooking(ctx, participantID, scheduleID, dateKey)
		if err == nil {
			return ErrDuplicateBooking
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		confirmed, err := txdb.Queries.CountConfirmedBookings(ctx, scheduleID, dateKey)
		if err != nil {
			return err
		}

		status := db.BookingBooked
		if confirmed >= instance.MaxParticipants {
			if !instance.HasWaitlist {
				return ErrCapacityExceeded
			}
			status = db.BookingWaitlisted
		}

		created, err = txdb.Queries.CreateBooking(ctx, db.CreateBookingParams{
			OrgID:         orgID,
			ParticipantID: participantID,
			ScheduleID:    scheduleID,
			ClassDate:     dateKey,
			Status:        status,
		})
		return err
	})
	if err != nil {
		return db.Booking{}, err
	}

	if created.Status == db.BookingBooked && s.hooks != nil {
		s.hooks.BookingConfirmed(ctx, orgID, created.ID)
	}
	return created, nil
}

// Cancel marks a booking cancelled with the given reason. Cancelling an
// already-cancelled booking is a no-op, so retried requests are safe. When
// a booked slot frees up and the instance has waitlisted bookings, the
// earliest-created one (id as tie-break) is promoted to booked inside the
// same transaction.
func (s *Service) Cancel(ctx context.Context, orgID, bookingID int64, reason string) (db.Booking, error) {
	var cancelled db.Booking
	var promoted *db.Booking

	err := s.database.RunInTx(ctx, func(txdb *db.DB) error {
		b, err := txdb.Queries.GetBooking(ctx, orgID, bookingID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
			}
			return err
		}
		if b.Status == db.BookingCancelled {
			cancelled = b
			return nil
		}

		wasConfirmed := b.Status == db.BookingBooked
		if err := txdb.Queries.UpdateBookingStatus(ctx, db.UpdateBookingStatusParams{
			ID:           b.ID,
			Status:       db.BookingCancelled,
			CancelReason: reason,
		}); err != nil {
			return err
		}
		b.Status = db.BookingCancelled
		b.CancelReason = reason
		cancelled = b

		if !wasConfirmed {
			return nil
		}

		next, err := txdb.Queries.EarliestWaitlisted(ctx, b.ScheduleID, b.ClassDate)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if err := txdb.Queries.UpdateBookingStatus(ctx, db.UpdateBookingStatusParams{
			ID:     next.ID,
			Status: db.BookingBooked,
		}); err != nil {
			return err
		}
		next.Status = db.BookingBooked
		promoted = &next
		return nil
	})
	if err != nil {
		return db.Booking{}, err
	}

	if promoted != nil && s.hooks != nil {
		s.hooks.SpotOpened(ctx, orgID, *promoted)
		s.hooks.BookingConfirmed(ctx, orgID, promoted.ID)
	}
	return cancelled, nil
}

// CheckIn transitions booked to checked_in. Checking in twice is a no-op;
// any other starting status is rejected.
func (s *Service) CheckIn(ctx context.Context, orgID, bookingID int64) (db.Booking, error) {
	var result db.Booking
	err := s.database.RunInTx(ctx, func(txdb *db.DB) error {
		b, err := txdb.Queries.GetBooking(ctx, orgID, bookingID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("booking %d: %w", bookingID, ErrNotFound)
			}
			return err
		}
		switch b.Status {
		case db.BookingCheckedIn:
			result = b
			return nil
		case db.BookingBooked:
		default:
			return fmt.Errorf("cannot check in booking with status %s: %w", b.Status, ErrInvalidTransition)
		}

		if err := txdb.Queries.UpdateBookingStatus(ctx, db.UpdateBookingStatusParams{
			ID:     b.ID,
			Status: db.BookingCheckedIn,
		}); err != nil {
			return err
		}
		b.Status = db.BookingCheckedIn
		result = b
		return nil
	})
	if err != nil {
		return db.Booking{}, err
	}
	return result, nil
}

// loadInstance materializes the single class instance a booking refers to,
// applying any exception for the date. A suppressed or never-recurring
// date yields ErrNotFound.
func (s *Service) loadInstance(ctx context.Context, orgID, scheduleID int64, classDate time.Time) (schedule.Instance, error) {
	org, err := s.database.Queries.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.Instance{}, fmt.Errorf("organization %d: %w", orgID, ErrNotFound)
		}
		return schedule.Instance{}, err
	}
	sched, err := s.database.Queries.GetSchedule(ctx, orgID, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.Instance{}, fmt.Errorf("schedule %d: %w", scheduleID, ErrNotFound)
		}
		return schedule.Instance{}, err
	}

	index := map[schedule.ExceptionKey]schedule.Exception{}
	exc, err := s.database.Queries.GetScheduleException(ctx, scheduleID, classDate)
	if err == nil {
		index[schedule.ExceptionKey{ScheduleID: scheduleID, Date: schedule.DateKey(classDate)}] = exc
	} else if !errors.Is(err, sql.ErrNoRows) {
		return schedule.Instance{}, err
	}

	instances := schedule.Expand(sched, index, classDate, classDate, org.Location())
	if len(instances) == 0 {
		log.Ctx(ctx).Debug().
			Int64("schedule_id", scheduleID).
			Str("class_date", schedule.DateKey(classDate)).
			Msg("No class instance for requested date")
		return schedule.Instance{}, fmt.Errorf("no class on %s: %w", schedule.DateKey(classDate), ErrNotFound)
	}
	return instances[0], nil
}
