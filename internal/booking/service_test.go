package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studiobook/internal/db"
	"studiobook/internal/testutil"
)

type recordingHooks struct {
	mu        sync.Mutex
	confirmed []int64
	promoted  []int64
}

func (h *recordingHooks) BookingConfirmed(ctx context.Context, orgID, bookingID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirmed = append(h.confirmed, bookingID)
}

func (h *recordingHooks) SpotOpened(ctx context.Context, orgID int64, promoted db.Booking) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.promoted = append(h.promoted, promoted.ID)
}

type fixture struct {
	database *db.DB
	hooks    *recordingHooks
	service  *Service
	orgID    int64
	schedID  int64
}

// classDate is a Monday within the seeded schedule's range.
var classDate = time.Date(2024, time.February, 5, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, maxParticipants int64, hasWaitlist bool) *fixture {
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
		DaysOfWeek:      []int{1, 3},
		StartTime:       "18:00",
		DurationMinutes: 60,
		MaxParticipants: maxParticipants,
		StartDate:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		HasWaitlist:     hasWaitlist,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	hooks := &recordingHooks{}
	return &fixture{
		database: database,
		hooks:    hooks,
		service:  NewService(database, hooks),
		orgID:    org.ID,
		schedID:  sched.ID,
	}
}

func (f *fixture) addParticipant(t *testing.T, firstName string) int64 {
	t.Helper()
	p, err := f.database.Queries.CreateParticipant(context.Background(), db.CreateParticipantParams{
		OrgID:     f.orgID,
		FirstName: firstName,
		LastName:  "Tester",
	})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return p.ID
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t, 12, false)
	pID := f.addParticipant(t, "Alice")

	created, err := f.service.Create(context.Background(), f.orgID, pID, f.schedID, classDate)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	if created.Status != db.BookingBooked {
		t.Errorf("status = %s, want booked", created.Status)
	}
	if created.ClassDate != "2024-02-05" {
		t.Errorf("class date = %s, want 2024-02-05", created.ClassDate)
	}
	if len(f.hooks.confirmed) != 1 || f.hooks.confirmed[0] != created.ID {
		t.Errorf("confirmed hooks = %v, want [%d]", f.hooks.confirmed, created.ID)
	}
}

func TestCreateBookingDuplicate(t *testing.T) {
	f := newFixture(t, 12, false)
	pID := f.addParticipant(t, "Alice")
	ctx := context.Background()

	if _, err := f.service.Create(ctx, f.orgID, pID, f.schedID, classDate); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := f.service.Create(ctx, f.orgID, pID, f.schedID, classDate)
	if !errors.Is(err, ErrDuplicateBooking) {
		t.Errorf("second booking: got %v, want ErrDuplicateBooking", err)
	}
}

func TestCreateBookingOffPatternDate(t *testing.T) {
	f := newFixture(t, 12, false)
	pID := f.addParticipant(t, "Alice")

	// Feb 6 is a Tuesday; the schedule only runs Mon/Wed.
	tuesday := time.Date(2024, time.February, 6, 0, 0, 0, 0, time.UTC)
	_, err := f.service.Create(context.Background(), f.orgID, pID, f.schedID, tuesday)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("off-pattern booking: got %v, want ErrNotFound", err)
	}
}

func TestCreateBookingCapacity(t *testing.T) {
	f := newFixture(t, 1, false)
	ctx := context.Background()

	if _, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Alice"), f.schedID, classDate); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Bob"), f.schedID, classDate)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("over-capacity booking without waitlist: got %v, want ErrCapacityExceeded", err)
	}
}

func TestCreateBookingWaitlists(t *testing.T) {
	f := newFixture(t, 1, true)
	ctx := context.Background()

	first, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Alice"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	second, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Bob"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("second booking: %v", err)
	}
	if second.Status != db.BookingWaitlisted {
		t.Errorf("second booking status = %s, want waitlisted", second.Status)
	}
	// Only the confirmed booking fires the hook.
	if len(f.hooks.confirmed) != 1 || f.hooks.confirmed[0] != first.ID {
		t.Errorf("confirmed hooks = %v, want [%d]", f.hooks.confirmed, first.ID)
	}
}

func TestCancelPromotesEarliestWaitlisted(t *testing.T) {
	f := newFixture(t, 1, true)
	ctx := context.Background()

	booked, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Alice"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("booked: %v", err)
	}
	waitlisted1, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Bob"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("waitlisted 1: %v", err)
	}
	waitlisted2, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Carol"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("waitlisted 2: %v", err)
	}

	cancelled, err := f.service.Cancel(ctx, f.orgID, booked.ID, "participant_cancelled")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != db.BookingCancelled {
		t.Errorf("cancelled status = %s", cancelled.Status)
	}
	if cancelled.CancelReason != "participant_cancelled" {
		t.Errorf("cancel reason = %s", cancelled.CancelReason)
	}

	promoted, err := f.database.Queries.GetBooking(ctx, f.orgID, waitlisted1.ID)
	if err != nil {
		t.Fatalf("load promoted: %v", err)
	}
	if promoted.Status != db.BookingBooked {
		t.Errorf("earliest waitlisted not promoted: status = %s", promoted.Status)
	}
	still, err := f.database.Queries.GetBooking(ctx, f.orgID, waitlisted2.ID)
	if err != nil {
		t.Fatalf("load second waitlisted: %v", err)
	}
	if still.Status != db.BookingWaitlisted {
		t.Errorf("later waitlisted should stay waitlisted, got %s", still.Status)
	}

	if len(f.hooks.promoted) != 1 || f.hooks.promoted[0] != waitlisted1.ID {
		t.Errorf("promotion hooks = %v, want [%d]", f.hooks.promoted, waitlisted1.ID)
	}
	// booked creation + promotion both count as confirmations.
	if len(f.hooks.confirmed) != 2 {
		t.Errorf("confirmed hooks = %v, want two entries", f.hooks.confirmed)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, 1, true)
	ctx := context.Background()

	booked, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Alice"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitlisted, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Bob"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("waitlist: %v", err)
	}

	if _, err := f.service.Cancel(ctx, f.orgID, booked.ID, "participant_cancelled"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	// Reset hook record: the second cancel must trigger nothing.
	f.hooks.promoted = nil

	again, err := f.service.Cancel(ctx, f.orgID, booked.ID, "participant_cancelled")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status != db.BookingCancelled {
		t.Errorf("status = %s", again.Status)
	}
	if len(f.hooks.promoted) != 0 {
		t.Error("repeated cancel must not promote again")
	}

	promoted, _ := f.database.Queries.GetBooking(ctx, f.orgID, waitlisted.ID)
	if promoted.Status != db.BookingBooked {
		t.Errorf("promoted booking regressed to %s", promoted.Status)
	}
}

func TestCancelCancelledBookingPromotesNobody(t *testing.T) {
	f := newFixture(t, 2, true)
	ctx := context.Background()

	// Waitlisted bookings that get cancelled free no confirmed slot.
	a, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Alice"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Bob"), f.schedID, classDate); err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := f.service.Create(ctx, f.orgID, f.addParticipant(t, "Carol"), f.schedID, classDate)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Status != db.BookingWaitlisted {
		t.Fatalf("third booking status = %s, want waitlisted", w.Status)
	}

	if _, err := f.service.Cancel(ctx, f.orgID, w.ID, "participant_cancelled"); err != nil {
		t.Fatalf("cancel waitlisted: %v", err)
	}
	if len(f.hooks.promoted) != 0 {
		t.Error("cancelling a waitlisted booking must not promote")
	}

	_ = a
}

func TestCheckIn(t *testing.T) {
	f := newFixture(t, 12, false)
	ctx := context.Background()
	pID := f.addParticipant(t, "Alice")

	booked, err := f.service.Create(ctx, f.orgID, pID, f.schedID, classDate)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	checkedIn, err := f.service.CheckIn(ctx, f.orgID, booked.ID)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if checkedIn.Status != db.BookingCheckedIn {
		t.Errorf("status = %s, want checked_in", checkedIn.Status)
	}

	// Second check-in is a no-op.
	again, err := f.service.CheckIn(ctx, f.orgID, booked.ID)
	if err != nil {
		t.Fatalf("repeat check in: %v", err)
	}
	if again.Status != db.BookingCheckedIn {
		t.Errorf("repeat status = %s", again.Status)
	}

	// Cancelled bookings cannot check in.
	if _, err := f.service.Cancel(ctx, f.orgID, booked.ID, "participant_cancelled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.service.CheckIn(ctx, f.orgID, booked.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("check-in after cancel: got %v, want ErrInvalidTransition", err)
	}
}

func TestCheckInUnknownBooking(t *testing.T) {
	f := newFixture(t, 12, false)
	if _, err := f.service.CheckIn(context.Background(), f.orgID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown booking: got %v, want ErrNotFound", err)
	}
}
