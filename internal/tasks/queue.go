// Package tasks is the delayed-task queue used for reminder scheduling.
// Enqueueing returns immediately; the actual dispatch happens later via an
// HTTP POST to the dispatch endpoint, carrying the queue-identifying header
// that the endpoint requires.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/db"
	"studiobook/internal/scheduler"
)

// QueueHeader identifies requests originating from the task queue. The
// dispatch endpoint rejects requests without it.
const QueueHeader = "x-cloudtasks-queuename"

// Payload is the body of a reminder dispatch request.
type Payload struct {
	OrgID     int64 `json:"orgId"`
	BookingID int64 `json:"bookingId"`
}

// Queue schedules a reminder task for future delivery.
type Queue interface {
	EnqueueReminder(ctx context.Context, task db.ReminderTask) error
}

// HTTPQueue runs tasks on the in-process scheduler and delivers them as
// HTTP posts to the dispatch endpoint, mirroring an external task-queue
// service. Task rows are persisted by the caller before enqueueing, and
// Replay re-registers pending rows after a restart.
type HTTPQueue struct {
	sched       *scheduler.Service
	client      *http.Client
	dispatchURL string
	queueName   string
}

func NewHTTPQueue(sched *scheduler.Service, dispatchURL, queueName string) *HTTPQueue {
	return &HTTPQueue{
		sched:       sched,
		client:      &http.Client{Timeout: 30 * time.Second},
		dispatchURL: dispatchURL,
		queueName:   queueName,
	}
}

func (q *HTTPQueue) EnqueueReminder(ctx context.Context, task db.ReminderTask) error {
	if !task.SendAt.After(time.Now()) {
		return fmt.Errorf("reminder task %d send time is in the past", task.ID)
	}

	name := fmt.Sprintf("reminder_task_%d", task.ID)
	payload := Payload{OrgID: task.OrgID, BookingID: task.BookingID}
	_, err := q.sched.AddOneTimeJob(name, task.SendAt, func() {
		q.post(payload)
	})
	if err != nil {
		return fmt.Errorf("enqueue reminder task %d: %w", task.ID, err)
	}
	return nil
}

// Replay re-registers all pending persisted tasks, dropping those whose
// send time has already passed (their bookings get no reminder, which is
// the same outcome a queue outage would produce).
func (q *HTTPQueue) Replay(ctx context.Context, database *db.DB) error {
	pending, err := database.Queries.ListPendingReminderTasks(ctx)
	if err != nil {
		return fmt.Errorf("list pending reminder tasks: %w", err)
	}

	now := time.Now()
	var replayed, expired int
	for _, task := range pending {
		if !task.SendAt.After(now) {
			expired++
			if err := database.Queries.MarkReminderTaskDispatched(ctx, task.ID); err != nil {
				log.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to expire stale reminder task")
			}
			continue
		}
		if err := q.EnqueueReminder(ctx, task); err != nil {
			log.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to replay reminder task")
			continue
		}
		replayed++
	}
	log.Info().Int("replayed", replayed).Int("expired", expired).Msg("Reminder task replay complete")
	return nil
}

func (q *HTTPQueue) post(payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal reminder payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.dispatchURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("Failed to build reminder dispatch request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(QueueHeader, q.queueName)

	resp, err := q.client.Do(req)
	if err != nil {
		log.Error().Err(err).Int64("booking_id", payload.BookingID).Msg("Reminder dispatch request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Int64("booking_id", payload.BookingID).
			Msg("Reminder dispatch returned non-200")
		return
	}
	log.Debug().Int64("booking_id", payload.BookingID).Msg("Reminder dispatched")
}
