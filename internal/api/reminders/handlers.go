// Package reminders is the HTTP surface of the reminder task queue: the
// endpoint the queue posts due tasks back to.
package reminders

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/reminders"
	"studiobook/internal/tasks"
)

type Handler struct {
	scheduler *reminders.Scheduler
}

func NewHandler(scheduler *reminders.Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks/reminders/dispatch", h.handleDispatch)
}

// handleDispatch accepts a due reminder from the task queue. Only the
// queue calls this, proven by the queue-name header; stale payloads settle
// with 200 and a short status string so the queue never retries them.
func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(tasks.QueueHeader) == "" {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var payload tasks.Payload
	if err := apiutil.DecodeJSON(r, &payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if payload.OrgID <= 0 || payload.BookingID <= 0 {
		http.Error(w, "orgId and bookingId are required", http.StatusBadRequest)
		return
	}

	outcome, err := h.scheduler.Dispatch(r.Context(), payload.OrgID, payload.BookingID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).
			Int64("booking_id", payload.BookingID).
			Msg("Reminder dispatch failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	apiutil.WriteJSON(w, http.StatusOK, map[string]string{"status": outcome})
}
