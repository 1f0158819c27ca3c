// internal/db/sessions.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a 1:1 coach/participant appointment. Unlike group classes,
// sessions are stored as concrete timestamps rather than recurrences.
type Session struct {
	ID            int64
	OrgID         int64
	CoachID       int64
	ParticipantID int64
	Title         string
	StartTime     time.Time
	EndTime       time.Time
}

type CreateSessionParams struct {
	OrgID         int64
	CoachID       int64
	ParticipantID int64
	Title         string
	StartTime     time.Time
	EndTime       time.Time
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	title := arg.Title
	if title == "" {
		title = "1:1 session"
	}
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO sessions (org_id, coach_id, participant_id, title, start_time, end_time)
        VALUES (?, ?, ?, ?, ?, ?)`,
		arg.OrgID, arg.CoachID, arg.ParticipantID, title,
		arg.StartTime.UTC(), arg.EndTime.UTC())
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Session{}, err
	}
	return Session{
		ID: id, OrgID: arg.OrgID, CoachID: arg.CoachID,
		ParticipantID: arg.ParticipantID, Title: title,
		StartTime: arg.StartTime.UTC(), EndTime: arg.EndTime.UTC(),
	}, nil
}

func (q *Queries) ListSessionsForCoach(ctx context.Context, orgID, coachID int64, from, to time.Time) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, org_id, coach_id, participant_id, title, start_time, end_time
        FROM sessions
        WHERE org_id = ? AND coach_id = ? AND start_time >= ? AND start_time <= ?
        ORDER BY start_time`,
		orgID, coachID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (q *Queries) ListSessionsForParticipant(ctx context.Context, orgID, participantID int64, from, to time.Time) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, org_id, coach_id, participant_id, title, start_time, end_time
        FROM sessions
        WHERE org_id = ? AND participant_id = ? AND start_time >= ? AND start_time <= ?
        ORDER BY start_time`,
		orgID, participantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.OrgID, &s.CoachID, &s.ParticipantID,
			&s.Title, &s.StartTime, &s.EndTime); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
