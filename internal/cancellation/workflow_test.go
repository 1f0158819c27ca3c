package cancellation

import (
	"context"
	"errors"
	"testing"
	"time"

	"studiobook/internal/db"
	"studiobook/internal/schedule"
	"studiobook/internal/testutil"
)

type countingNotifier struct {
	calls        int
	participants int
}

func (n *countingNotifier) ClassCancelled(ctx context.Context, org db.Organization, sched schedule.RecurringSchedule, start time.Time, participants []db.Participant) int {
	n.calls++
	n.participants = len(participants)
	return len(participants)
}

var classDate = time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC)

type fixture struct {
	database *db.DB
	notifier *countingNotifier
	workflow *Workflow
	orgID    int64
	schedID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := testutil.NewTestDB(t)
	ctx := context.Background()

	org, err := database.Queries.CreateOrganization(ctx, "Test Studio", "test-studio", "UTC")
	if err != nil {
		t.Fatalf("create org: %v", err)
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

	notifier := &countingNotifier{}
	return &fixture{
		database: database,
		notifier: notifier,
		workflow: NewWorkflow(database, notifier),
		orgID:    org.ID,
		schedID:  sched.ID,
	}
}

func (f *fixture) book(t *testing.T, firstName, membership string, clips int64, status string) (participantID, bookingID int64) {
	t.Helper()
	ctx := context.Background()
	p, err := f.database.Queries.CreateParticipant(ctx, db.CreateParticipantParams{
		OrgID:          f.orgID,
		FirstName:      firstName,
		LastName:       "Tester",
		MembershipType: membership,
		ClipsRemaining: clips,
	})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	b, err := f.database.Queries.CreateBooking(ctx, db.CreateBookingParams{
		OrgID:         f.orgID,
		ParticipantID: p.ID,
		ScheduleID:    f.schedID,
		ClassDate:     schedule.DateKey(classDate),
		Status:        status,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return p.ID, b.ID
}

func (f *fixture) clips(t *testing.T, participantID int64) int64 {
	t.Helper()
	p, err := f.database.Queries.GetParticipant(context.Background(), f.orgID, participantID)
	if err != nil {
		t.Fatalf("load participant: %v", err)
	}
	return p.ClipsRemaining
}

func TestCancelInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clipCardID, _ := f.book(t, "Alice", db.MembershipClipCard, 3, db.BookingBooked)
	subID, _ := f.book(t, "Bob", db.MembershipSubscription, 0, db.BookingBooked)
	waitlistedID, _ := f.book(t, "Carol", db.MembershipClipCard, 5, db.BookingWaitlisted)

	result, err := f.workflow.CancelInstance(ctx, f.orgID, f.schedID, classDate)
	if err != nil {
		t.Fatalf("cancel instance: %v", err)
	}
	if result.CancelledCount != 3 {
		t.Errorf("cancelled count = %d, want 3", result.CancelledCount)
	}
	if result.NotificationsSent != 3 {
		t.Errorf("notifications sent = %d, want 3", result.NotificationsSent)
	}

	// The exception suppresses the instance on later expansion.
	exc, err := f.database.Queries.GetScheduleException(ctx, f.schedID, classDate)
	if err != nil {
		t.Fatalf("load exception: %v", err)
	}
	if exc.Status != schedule.ExceptionCancelled {
		t.Errorf("exception status = %s, want cancelled", exc.Status)
	}

	// All bookings cancelled with the coach reason.
	bookings, err := f.database.Queries.ListActiveBookingsForInstance(ctx, f.orgID, f.schedID, schedule.DateKey(classDate))
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(bookings) != 0 {
		t.Errorf("%d bookings still active", len(bookings))
	}

	// Clip refunds: clip-card member who held a slot gets one back, the
	// subscription member is untouched, the waitlisted clip-card member
	// never spent a clip so gets nothing.
	if got := f.clips(t, clipCardID); got != 4 {
		t.Errorf("clip-card balance = %d, want 4", got)
	}
	if got := f.clips(t, subID); got != 0 {
		t.Errorf("subscription balance = %d, want 0", got)
	}
	if got := f.clips(t, waitlistedID); got != 5 {
		t.Errorf("waitlisted balance = %d, want 5", got)
	}

	// One in-app notification per participant.
	for _, id := range []int64{clipCardID, subID, waitlistedID} {
		count, err := f.database.Queries.CountUserNotifications(ctx, f.orgID, id)
		if err != nil {
			t.Fatalf("count notifications: %v", err)
		}
		if count != 1 {
			t.Errorf("participant %d has %d notifications, want 1", id, count)
		}
	}
}

func TestCancelInstanceIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clipCardID, _ := f.book(t, "Alice", db.MembershipClipCard, 3, db.BookingBooked)

	if _, err := f.workflow.CancelInstance(ctx, f.orgID, f.schedID, classDate); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.workflow.CancelInstance(ctx, f.orgID, f.schedID, classDate)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.CancelledCount != 0 {
		t.Errorf("second run cancelled %d bookings, want 0", second.CancelledCount)
	}
	if second.NotificationsSent != 0 {
		t.Errorf("second run notified %d, want 0", second.NotificationsSent)
	}
	// No double refund.
	if got := f.clips(t, clipCardID); got != 4 {
		t.Errorf("clip balance after double run = %d, want 4", got)
	}
	if f.notifier.calls != 1 {
		t.Errorf("notifier called %d times, want 1", f.notifier.calls)
	}
}

func TestCancelInstanceNoBookings(t *testing.T) {
	f := newFixture(t)

	result, err := f.workflow.CancelInstance(context.Background(), f.orgID, f.schedID, classDate)
	if err != nil {
		t.Fatalf("cancel instance: %v", err)
	}
	if result.CancelledCount != 0 || result.NotificationsSent != 0 {
		t.Errorf("result = %+v, want zeroes", result)
	}
	if f.notifier.calls != 0 {
		t.Error("notifier should not run without affected participants")
	}
}

func TestCancelInstanceUnknownSchedule(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.CancelInstance(context.Background(), f.orgID, 999, classDate)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown schedule: got %v, want ErrNotFound", err)
	}
}
