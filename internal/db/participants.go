// internal/db/participants.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Membership types. Clip cards carry a countable balance of class credits;
// subscriptions do not.
const (
	MembershipClipCard     = "clip_card"
	MembershipSubscription = "subscription"
)

type Participant struct {
	ID                   int64
	OrgID                int64
	FirstName            string
	LastName             string
	Email                string
	Phone                string
	MembershipType       string
	ClipsRemaining       int64
	PushEnabled          bool
	NotifyClassCancelled bool
	NotifyReminders      bool
	NotifyFriendBookings bool
	ShareBookings        bool
	CreatedAt            time.Time
}

const participantColumns = `id, org_id, first_name, last_name, email, phone,
    membership_type, clips_remaining, push_enabled, notify_class_cancelled,
    notify_reminders, notify_friend_bookings, share_bookings, created_at`

type CreateParticipantParams struct {
	OrgID          int64
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	MembershipType string
	ClipsRemaining int64
}

func (q *Queries) CreateParticipant(ctx context.Context, arg CreateParticipantParams) (Participant, error) {
	membership := arg.MembershipType
	if membership == "" {
		membership = MembershipSubscription
	}
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO participants
            (org_id, first_name, last_name, email, phone, membership_type, clips_remaining)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.OrgID, arg.FirstName, arg.LastName, arg.Email, arg.Phone,
		membership, arg.ClipsRemaining)
	if err != nil {
		return Participant{}, fmt.Errorf("insert participant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Participant{}, err
	}
	return q.GetParticipant(ctx, arg.OrgID, id)
}

func (q *Queries) GetParticipant(ctx context.Context, orgID, id int64) (Participant, error) {
	row := q.db.QueryRowContext(ctx, `
        SELECT `+participantColumns+`
        FROM participants
        WHERE org_id = ? AND id = ?`, orgID, id)
	return scanParticipant(row)
}

type UpdateParticipantPreferencesParams struct {
	ID                   int64
	PushEnabled          bool
	NotifyClassCancelled bool
	NotifyReminders      bool
	NotifyFriendBookings bool
	ShareBookings        bool
}

func (q *Queries) UpdateParticipantPreferences(ctx context.Context, arg UpdateParticipantPreferencesParams) error {
	_, err := q.db.ExecContext(ctx, `
        UPDATE participants
        SET push_enabled = ?, notify_class_cancelled = ?, notify_reminders = ?,
            notify_friend_bookings = ?, share_bookings = ?
        WHERE id = ?`,
		arg.PushEnabled, arg.NotifyClassCancelled, arg.NotifyReminders,
		arg.NotifyFriendBookings, arg.ShareBookings, arg.ID)
	return err
}

// RefundClip returns one clip to a clip-card member. Subscriptions are
// unaffected; the WHERE clause keeps the refund membership-gated.
func (q *Queries) RefundClip(ctx context.Context, participantID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
        UPDATE participants
        SET clips_remaining = clips_remaining + 1
        WHERE id = ? AND membership_type = ?`,
		participantID, MembershipClipCard)
	if err != nil {
		return false, fmt.Errorf("refund clip: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *Queries) DisableParticipantPush(ctx context.Context, participantID int64) error {
	_, err := q.db.ExecContext(ctx, `
        UPDATE participants SET push_enabled = 0 WHERE id = ?`, participantID)
	return err
}

func (q *Queries) AddFriend(ctx context.Context, participantID, friendID int64) error {
	_, err := q.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO participant_friends (participant_id, friend_id)
        VALUES (?, ?)`, participantID, friendID)
	return err
}

// ListFollowers returns participants who have the given participant as a
// friend and want friend-booking alerts.
func (q *Queries) ListFollowers(ctx context.Context, orgID, participantID int64) ([]Participant, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT `+prefixed(participantColumns, "p.")+`
        FROM participants p
        JOIN participant_friends f ON f.participant_id = p.id
        WHERE p.org_id = ? AND f.friend_id = ? AND p.notify_friend_bookings = 1`,
		orgID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanParticipants(rows)
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.OrgID, &p.FirstName, &p.LastName, &p.Email,
		&p.Phone, &p.MembershipType, &p.ClipsRemaining, &p.PushEnabled,
		&p.NotifyClassCancelled, &p.NotifyReminders, &p.NotifyFriendBookings,
		&p.ShareBookings, &p.CreatedAt)
	if err != nil {
		return Participant{}, err
	}
	return p, nil
}

func scanParticipants(rows *sql.Rows) ([]Participant, error) {
	var participants []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}
