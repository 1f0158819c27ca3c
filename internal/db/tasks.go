// internal/db/tasks.go
package db

import (
	"context"
	"fmt"
	"time"
)

// ReminderTask is a persisted delayed task; the in-process queue replays
// pending rows on startup so scheduled reminders survive restarts.
type ReminderTask struct {
	ID         int64
	OrgID      int64
	BookingID  int64
	SendAt     time.Time
	Dispatched bool
}

func (q *Queries) CreateReminderTask(ctx context.Context, orgID, bookingID int64, sendAt time.Time) (ReminderTask, error) {
	res, err := q.db.ExecContext(ctx, `
        INSERT INTO reminder_tasks (org_id, booking_id, send_at)
        VALUES (?, ?, ?)`,
		orgID, bookingID, sendAt.UTC())
	if err != nil {
		return ReminderTask{}, fmt.Errorf("insert reminder task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ReminderTask{}, err
	}
	return ReminderTask{ID: id, OrgID: orgID, BookingID: bookingID, SendAt: sendAt.UTC()}, nil
}

func (q *Queries) MarkReminderTaskDispatched(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `
        UPDATE reminder_tasks SET dispatched = 1 WHERE id = ?`, id)
	return err
}

// MarkReminderTasksDispatchedForBooking settles every pending task for a
// booking; dispatch payloads carry the booking id, not the task id.
func (q *Queries) MarkReminderTasksDispatchedForBooking(ctx context.Context, bookingID int64) error {
	_, err := q.db.ExecContext(ctx, `
        UPDATE reminder_tasks SET dispatched = 1 WHERE booking_id = ? AND dispatched = 0`,
		bookingID)
	return err
}

func (q *Queries) ListPendingReminderTasks(ctx context.Context) ([]ReminderTask, error) {
	rows, err := q.db.QueryContext(ctx, `
        SELECT id, org_id, booking_id, send_at, dispatched
        FROM reminder_tasks
        WHERE dispatched = 0
        ORDER BY send_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []ReminderTask
	for rows.Next() {
		var t ReminderTask
		if err := rows.Scan(&t.ID, &t.OrgID, &t.BookingID, &t.SendAt, &t.Dispatched); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteDispatchedTasksBefore prunes old dispatched task rows. Used by the
// nightly maintenance job.
func (q *Queries) DeleteDispatchedTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
        DELETE FROM reminder_tasks WHERE dispatched = 1 AND send_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
