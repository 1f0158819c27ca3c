package bookings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studiobook/internal/api/authz"
	"studiobook/internal/booking"
	"studiobook/internal/db"
	"studiobook/internal/notify"
	"studiobook/internal/testutil"
)

type fixture struct {
	mux      *http.ServeMux
	database *db.DB
	orgID    int64
	schedID  int64
	partID   int64
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
		MaxParticipants: 1,
		StartDate:       time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	p, err := database.Queries.CreateParticipant(ctx, db.CreateParticipantParams{
		OrgID:     org.ID,
		FirstName: "Alice",
	})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}

	notifier := notify.NewService(database, nil, nil, nil)
	service := booking.NewService(database, notifier)

	mux := http.NewServeMux()
	NewHandler(service, notifier).Register(mux)
	return &fixture{mux: mux, database: database, orgID: org.ID, schedID: sched.ID, partID: p.ID}
}

func (f *fixture) post(target, body string, authenticated bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if authenticated {
		req = req.WithContext(authz.ContextWithUser(req.Context(), &authz.AuthUser{
			ID:    f.partID,
			OrgID: f.orgID,
			Role:  authz.RoleParticipant,
		}))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func createBody(f *fixture) string {
	return fmt.Sprintf(`{"participantId":%d,"scheduleId":%d,"classDate":"2024-02-05"}`, f.partID, f.schedID)
}

func TestCreateBookingEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/api/v1/bookings", createBody(f), true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp bookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != db.BookingBooked || resp.ClassDate != "2024-02-05" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateBookingEndpointErrors(t *testing.T) {
	f := newFixture(t)

	if rec := f.post("/api/v1/bookings", createBody(f), false); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated: status = %d, want 401", rec.Code)
	}
	if rec := f.post("/api/v1/bookings", `{"participantId":0}`, true); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body: status = %d, want 400", rec.Code)
	}

	// Duplicate active booking maps to conflict.
	if rec := f.post("/api/v1/bookings", createBody(f), true); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: status = %d", rec.Code)
	}
	if rec := f.post("/api/v1/bookings", createBody(f), true); rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rec.Code)
	}

	// Second participant finds the single-slot class full, no waitlist.
	p2, err := f.database.Queries.CreateParticipant(context.Background(), db.CreateParticipantParams{
		OrgID:     f.orgID,
		FirstName: "Bob",
	})
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	full := fmt.Sprintf(`{"participantId":%d,"scheduleId":%d,"classDate":"2024-02-05"}`, p2.ID, f.schedID)
	if rec := f.post("/api/v1/bookings", full, true); rec.Code != http.StatusConflict {
		t.Errorf("capacity exceeded: status = %d, want 409", rec.Code)
	}
}

func TestCancelAndCheckInEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/api/v1/bookings", createBody(f), true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var created bookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	checkin := f.post(fmt.Sprintf("/api/v1/bookings/%d/checkin", created.ID), "", true)
	if checkin.Code != http.StatusOK {
		t.Fatalf("checkin: status = %d: %s", checkin.Code, checkin.Body.String())
	}

	cancel := f.post(fmt.Sprintf("/api/v1/bookings/%d/cancel", created.ID), "", true)
	if cancel.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d: %s", cancel.Code, cancel.Body.String())
	}

	// Checking in a cancelled booking conflicts.
	again := f.post(fmt.Sprintf("/api/v1/bookings/%d/checkin", created.ID), "", true)
	if again.Code != http.StatusConflict {
		t.Errorf("checkin after cancel: status = %d, want 409", again.Code)
	}

	if rec := f.post("/api/v1/bookings/999/cancel", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown booking: status = %d, want 404", rec.Code)
	}
}

func TestFriendNotifyEndpoint(t *testing.T) {
	f := newFixture(t)

	// Sharing is off at the org level, so nobody is notified, but the
	// request still succeeds.
	body := fmt.Sprintf(`{"participantId":%d,"scheduleId":%d,"classDate":"2024-02-05"}`, f.partID, f.schedID)
	rec := f.post("/api/v1/bookings/friend-notify", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success           bool `json:"success"`
		NotificationsSent int  `json:"notificationsSent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.NotificationsSent != 0 {
		t.Errorf("response = %+v", resp)
	}
}
