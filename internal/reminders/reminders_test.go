package reminders

import (
	"context"
	"testing"
	"time"

	"studiobook/internal/db"
	"studiobook/internal/push"
	"studiobook/internal/testutil"
)

type fakeQueue struct {
	enqueued []db.ReminderTask
}

func (q *fakeQueue) EnqueueReminder(ctx context.Context, task db.ReminderTask) error {
	q.enqueued = append(q.enqueued, task)
	return nil
}

type fakeSender struct {
	sent   int
	status int
}

func (s *fakeSender) Send(ctx context.Context, sub db.PushSubscription, payload []byte) (int, error) {
	s.sent++
	if s.status == 0 {
		return 201, nil
	}
	return s.status, nil
}

type fixture struct {
	database  *db.DB
	queue     *fakeQueue
	sender    *fakeSender
	scheduler *Scheduler
	orgID     int64
	schedID   int64
	partID    int64
}

// now is a Monday morning; the seeded class runs Mondays at 18:00 UTC.
var now = time.Date(2024, time.February, 5, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, reminderHours int64) *fixture {
	t.Helper()
	database := testutil.NewTestDB(t)
	ctx := context.Background()

	org, err := database.Queries.CreateOrganization(ctx, "Test Studio", "test-studio", "UTC")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	err = database.Queries.UpsertIntegrationSettings(ctx, db.IntegrationSettings{
		OrgID:            org.ID,
		RemindersEnabled: reminderHours > 0,
		ReminderHours:    reminderHours,
	})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}

	sched, err := database.Queries.CreateSchedule(ctx, db.CreateScheduleParams{
		OrgID:           org.ID,
		Name:            "Evening Yoga",
		DaysOfWeek:      []int{1},
		StartTime:       "18:00",
		DurationMinutes: 60,
		MaxParticipants: 10,
		StartDate:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	p, err := database.Queries.CreateParticipant(ctx, db.CreateParticipantParams{
		OrgID:     org.ID,
		FirstName: "Alice",
		LastName:  "Tester",
	})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}

	queue := &fakeQueue{}
	sender := &fakeSender{}
	scheduler := NewScheduler(database, queue, push.NewService(database, sender)).
		WithClock(func() time.Time { return now })

	return &fixture{
		database:  database,
		queue:     queue,
		sender:    sender,
		scheduler: scheduler,
		orgID:     org.ID,
		schedID:   sched.ID,
		partID:    p.ID,
	}
}

func (f *fixture) book(t *testing.T, status string) int64 {
	t.Helper()
	b, err := f.database.Queries.CreateBooking(context.Background(), db.CreateBookingParams{
		OrgID:         f.orgID,
		ParticipantID: f.partID,
		ScheduleID:    f.schedID,
		ClassDate:     "2024-02-05",
		Status:        status,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b.ID
}

func (f *fixture) subscribe(t *testing.T) {
	t.Helper()
	err := f.database.Queries.CreatePushSubscription(context.Background(), db.CreatePushSubscriptionParams{
		OrgID:    f.orgID,
		UserID:   f.partID,
		Endpoint: "https://push.example.com/sub",
		P256dh:   "p256dh-key",
		Auth:     "auth-key",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
}

func TestBookingConfirmedSchedulesReminder(t *testing.T) {
	f := newFixture(t, 2)
	bookingID := f.book(t, db.BookingBooked)

	if err := f.scheduler.BookingConfirmed(context.Background(), f.orgID, bookingID); err != nil {
		t.Fatalf("booking confirmed: %v", err)
	}

	if len(f.queue.enqueued) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(f.queue.enqueued))
	}
	task := f.queue.enqueued[0]
	wantSendAt := time.Date(2024, time.February, 5, 16, 0, 0, 0, time.UTC)
	if !task.SendAt.Equal(wantSendAt) {
		t.Errorf("send at = %v, want %v", task.SendAt, wantSendAt)
	}
	if task.BookingID != bookingID {
		t.Errorf("task booking = %d, want %d", task.BookingID, bookingID)
	}

	pending, err := f.database.Queries.ListPendingReminderTasks(context.Background())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("%d pending task rows, want 1", len(pending))
	}
}

func TestBookingConfirmedSkipsPastSendTime(t *testing.T) {
	f := newFixture(t, 2)
	bookingID := f.book(t, db.BookingBooked)

	// 17:00 is after the 16:00 send time.
	f.scheduler.WithClock(func() time.Time {
		return time.Date(2024, time.February, 5, 17, 0, 0, 0, time.UTC)
	})
	if err := f.scheduler.BookingConfirmed(context.Background(), f.orgID, bookingID); err != nil {
		t.Fatalf("booking confirmed: %v", err)
	}
	if len(f.queue.enqueued) != 0 {
		t.Errorf("enqueued %d tasks, want 0", len(f.queue.enqueued))
	}
}

func TestBookingConfirmedSkipsWhenRemindersDisabled(t *testing.T) {
	f := newFixture(t, 0)
	bookingID := f.book(t, db.BookingBooked)

	if err := f.scheduler.BookingConfirmed(context.Background(), f.orgID, bookingID); err != nil {
		t.Fatalf("booking confirmed: %v", err)
	}
	if len(f.queue.enqueued) != 0 {
		t.Errorf("enqueued %d tasks with reminders off, want 0", len(f.queue.enqueued))
	}
}

func TestBookingConfirmedSkipsWaitlisted(t *testing.T) {
	f := newFixture(t, 2)
	bookingID := f.book(t, db.BookingWaitlisted)

	if err := f.scheduler.BookingConfirmed(context.Background(), f.orgID, bookingID); err != nil {
		t.Fatalf("booking confirmed: %v", err)
	}
	if len(f.queue.enqueued) != 0 {
		t.Errorf("enqueued %d tasks for waitlisted booking, want 0", len(f.queue.enqueued))
	}
}

func TestDispatchSends(t *testing.T) {
	f := newFixture(t, 2)
	bookingID := f.book(t, db.BookingBooked)
	f.subscribe(t)
	ctx := context.Background()

	if _, err := f.database.Queries.CreateReminderTask(ctx, f.orgID, bookingID, now.Add(time.Hour)); err != nil {
		t.Fatalf("create task: %v", err)
	}

	outcome, err := f.scheduler.Dispatch(ctx, f.orgID, bookingID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome != OutcomeSent {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeSent)
	}
	if f.sender.sent != 1 {
		t.Errorf("pushed %d times, want 1", f.sender.sent)
	}

	// Dispatch settles the persisted task row.
	pending, err := f.database.Queries.ListPendingReminderTasks(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d tasks still pending after dispatch", len(pending))
	}
}

func TestDispatchStaleStates(t *testing.T) {
	t.Run("booking gone", func(t *testing.T) {
		f := newFixture(t, 2)
		outcome, err := f.scheduler.Dispatch(context.Background(), f.orgID, 999)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if outcome != OutcomeBookingGone {
			t.Errorf("outcome = %q, want %q", outcome, OutcomeBookingGone)
		}
	})

	t.Run("booking cancelled", func(t *testing.T) {
		f := newFixture(t, 2)
		bookingID := f.book(t, db.BookingCancelled)
		outcome, err := f.scheduler.Dispatch(context.Background(), f.orgID, bookingID)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if outcome != OutcomeBookingInactive {
			t.Errorf("outcome = %q, want %q", outcome, OutcomeBookingInactive)
		}
	})

	t.Run("reminders off", func(t *testing.T) {
		f := newFixture(t, 2)
		bookingID := f.book(t, db.BookingBooked)
		err := f.database.Queries.UpdateParticipantPreferences(context.Background(), db.UpdateParticipantPreferencesParams{
			ID:                   f.partID,
			PushEnabled:          true,
			NotifyClassCancelled: true,
			NotifyReminders:      false,
			NotifyFriendBookings: true,
			ShareBookings:        true,
		})
		if err != nil {
			t.Fatalf("preferences: %v", err)
		}
		outcome, err := f.scheduler.Dispatch(context.Background(), f.orgID, bookingID)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if outcome != OutcomeRemindersOff {
			t.Errorf("outcome = %q, want %q", outcome, OutcomeRemindersOff)
		}
	})

	t.Run("no subscriptions", func(t *testing.T) {
		f := newFixture(t, 2)
		bookingID := f.book(t, db.BookingBooked)
		outcome, err := f.scheduler.Dispatch(context.Background(), f.orgID, bookingID)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if outcome != OutcomeNoSubscriptions {
			t.Errorf("outcome = %q, want %q", outcome, OutcomeNoSubscriptions)
		}
	})
}
