// Package bookings exposes the booking ledger over HTTP: creating
// bookings, cancelling, checking in, and the friend fan-out.
package bookings

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/booking"
	"studiobook/internal/db"
	"studiobook/internal/notify"
)

type Handler struct {
	bookings *booking.Service
	notifier *notify.Service
}

func NewHandler(bookings *booking.Service, notifier *notify.Service) *Handler {
	return &Handler{bookings: bookings, notifier: notifier}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/bookings", h.handleCreate)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /api/v1/bookings/{id}/checkin", h.handleCheckIn)
	mux.HandleFunc("POST /api/v1/bookings/friend-notify", h.handleFriendNotify)
}

type bookingResponse struct {
	ID            int64  `json:"id"`
	ParticipantID int64  `json:"participantId"`
	ScheduleID    int64  `json:"scheduleId"`
	ClassDate     string `json:"classDate"`
	Status        string `json:"status"`
}

type createRequest struct {
	ParticipantID int64  `json:"participantId"`
	ScheduleID    int64  `json:"scheduleId"`
	ClassDate     string `json:"classDate"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	var req createRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := apiutil.RequirePositive("participantId", req.ParticipantID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := apiutil.RequirePositive("scheduleId", req.ScheduleID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	classDate, err := apiutil.ParseDate("classDate", req.ClassDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.bookings.Create(r.Context(), user.OrgID, req.ParticipantID, req.ScheduleID, classDate)
	if err != nil {
		writeBookingError(w, r, err, "Failed to create booking")
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	id, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cancelled, err := h.bookings.Cancel(r.Context(), user.OrgID, id, "participant_cancelled")
	if err != nil {
		writeBookingError(w, r, err, "Failed to cancel booking")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, toResponse(cancelled))
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	id, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	checkedIn, err := h.bookings.CheckIn(r.Context(), user.OrgID, id)
	if err != nil {
		writeBookingError(w, r, err, "Failed to check in booking")
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, toResponse(checkedIn))
}

type friendNotifyRequest struct {
	ParticipantID int64  `json:"participantId"`
	ScheduleID    int64  `json:"scheduleId"`
	ClassDate     string `json:"classDate"`
}

// handleFriendNotify fans a "friend booked a class" push out to the
// participant's followers. Sharing gates are enforced in the notify layer;
// a request that reaches nobody still succeeds.
func (h *Handler) handleFriendNotify(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	var req friendNotifyRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := apiutil.RequirePositive("participantId", req.ParticipantID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := apiutil.RequirePositive("scheduleId", req.ScheduleID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	classDate, err := apiutil.ParseDate("classDate", req.ClassDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sent := h.notifier.FriendBooked(r.Context(), user.OrgID, req.ParticipantID, req.ScheduleID, classDate)
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"notificationsSent": sent,
	})
}

func toResponse(b db.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		ParticipantID: b.ParticipantID,
		ScheduleID:    b.ScheduleID,
		ClassDate:     b.ClassDate,
		Status:        b.Status,
	}
}

func writeBookingError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrDuplicateBooking), errors.Is(err, booking.ErrCapacityExceeded):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg(msg)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
