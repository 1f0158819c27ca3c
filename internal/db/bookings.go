// internal/db/bookings.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Booking statuses.
const (
	BookingBooked     = "booked"
	BookingWaitlisted = "waitlisted"
	BookingCancelled  = "cancelled"
	BookingCheckedIn  = "checked_in"
)

type Booking struct {
	ID            int64
	OrgID         int64
	ParticipantID int64
	ScheduleID    int64
	ClassDate     string // "YYYY-MM-DD"
	BookingDate   time.Time
	Status        string
	CancelReason  string
}

const bookingColumns = `id, org_id, participant_id, schedule_id, class_date,
    booking_date, status, cancel_reason`

type CreateBookingParams struct {
	OrgID         int64
	ParticipantID int64
	ScheduleID    int64
	ClassDate     string
	Status        string
}

func (q *Queries) CreateBooking(ctx context.Context, arg CreateBookingParams) (Booking, error) {
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO participant_bookings
            (org_id, participant_id, schedule_id, class_date, status)
        VALUES (?, ?, ?, ?, ?)`,
		arg.OrgID, arg.ParticipantID, arg.ScheduleID, arg.ClassDate, arg.Status)
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Booking{}, err
	}
	return q.GetBooking(ctx, arg.OrgID, id)
}

func (q *Queries) GetBooking(ctx context.Context, orgID, id int64) (Booking, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT `+bookingColumns+`
        FROM participant_bookings
        WHERE org_id = ? AND id = ?`, orgID, id)
	return scanBooking(row)
}

// GetActiveBooking returns the non-cancelled booking for a participant and
// instance, if one exists.
func (q *Queries) GetActiveBooking(ctx context.Context, participantID, scheduleID int64, classDate string) (Booking, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT `+bookingColumns+`
        FROM participant_bookings
        WHERE participant_id = ? AND schedule_id = ? AND class_date = ?
          AND status != ?`,
		participantID, scheduleID, classDate, BookingCancelled)
	return scanBooking(row)
}

// CountConfirmedBookings counts bookings occupying a slot (booked or
// checked in) for an instance.
func (q *Queries) CountConfirmedBookings(ctx context.Context, scheduleID int64, classDate string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `
        SELECT COUNT(*)
        FROM participant_bookings
        WHERE schedule_id = ? AND class_date = ? AND status IN (?, ?)`,
		scheduleID, classDate, BookingBooked, BookingCheckedIn).Scan(&count)
	return count, err
}

func (q *Queries) ListActiveBookingsForInstance(ctx context.Context, orgID, scheduleID int64, classDate string) ([]Booking, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT `+bookingColumns+`
        FROM participant_bookings
        WHERE org_id = ? AND schedule_id = ? AND class_date = ? AND status != ?
        ORDER BY booking_date, id`,
		orgID, scheduleID, classDate, BookingCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// EarliestWaitlisted returns the next booking in line for a freed slot:
// FIFO by creation time, id as tie-break.
func (q *Queries) EarliestWaitlisted(ctx context.Context, scheduleID int64, classDate string) (Booking, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT `+bookingColumns+`
        FROM participant_bookings
        WHERE schedule_id = ? AND class_date = ? AND status = ?
        ORDER BY booking_date, id
        LIMIT 1`,
		scheduleID, classDate, BookingWaitlisted)
	return scanBooking(row)
}

type UpdateBookingStatusParams struct {
	ID           int64
	Status       string
	CancelReason string
}

func (q *Queries) UpdateBookingStatus(ctx context.Context, arg UpdateBookingStatusParams) error {
	_, err := q.db.ExecContext(ctx, `
        UPDATE participant_bookings
        SET status = ?, cancel_reason = ?
        WHERE id = ?`,
		arg.Status, arg.CancelReason, arg.ID)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	return nil
}

// ListActiveBookingsForParticipant returns booked/waitlisted/checked-in
// bookings with class_date in [from, to], for the calendar feed.
func (q *Queries) ListActiveBookingsForParticipant(ctx context.Context, orgID, participantID int64, from, to string) ([]Booking, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT `+bookingColumns+`
        FROM participant_bookings
        WHERE org_id = ? AND participant_id = ?
          AND class_date >= ? AND class_date <= ?
          AND status != ?
        ORDER BY class_date, id`,
		orgID, participantID, from, to, BookingCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBooking(row rowScanner) (Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.OrgID, &b.ParticipantID, &b.ScheduleID,
		&b.ClassDate, &b.BookingDate, &b.Status, &b.CancelReason)
	if err != nil {
		return Booking{}, err
	}
	return b, nil
}

func scanBookings(rows *sql.Rows) ([]Booking, error) {
	var bookings []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
