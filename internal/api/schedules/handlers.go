// Package schedules exposes recurring class schedules over HTTP: CRUD,
// instance expansion for a date window, and coach-side single-instance
// edits and cancellations.
package schedules

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/api/authz"
	"studiobook/internal/cancellation"
	"studiobook/internal/db"
	"studiobook/internal/schedule"
)

// MaxWindowDays bounds the instances endpoint; expansion walks every day
// of the window, so unbounded ranges would be an easy self-inflicted DoS.
const MaxWindowDays = 370

type Handler struct {
	database      *db.DB
	cancellations *cancellation.Workflow
}

func NewHandler(database *db.DB, cancellations *cancellation.Workflow) *Handler {
	return &Handler{database: database, cancellations: cancellations}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/schedules", h.handleCreate)
	mux.HandleFunc("GET /api/v1/schedules", h.handleList)
	mux.HandleFunc("GET /api/v1/schedules/instances", h.handleInstances)
	mux.HandleFunc("POST /api/v1/schedules/{id}/instances/edit", h.handleEditInstance)
	mux.HandleFunc("POST /api/v1/classes/cancel-instance", h.handleCancelInstance)
}

type scheduleResponse struct {
	ID              int64  `json:"id"`
	LocationID      int64  `json:"locationId"`
	CoachID         int64  `json:"coachId"`
	ClassTypeID     int64  `json:"classTypeId"`
	Name            string `json:"name"`
	DaysOfWeek      []int  `json:"daysOfWeek"`
	StartTime       string `json:"startTime"`
	DurationMinutes int64  `json:"durationMinutes"`
	MaxParticipants int64  `json:"maxParticipants"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	HasWaitlist     bool   `json:"hasWaitlist"`
}

func toResponse(s schedule.RecurringSchedule) scheduleResponse {
	return scheduleResponse{
		ID:              s.ID,
		LocationID:      s.LocationID,
		CoachID:         s.CoachID,
		ClassTypeID:     s.ClassTypeID,
		Name:            s.Name,
		DaysOfWeek:      s.DaysOfWeek,
		StartTime:       s.StartTime,
		DurationMinutes: s.DurationMinutes,
		MaxParticipants: s.MaxParticipants,
		StartDate:       schedule.DateKey(s.StartDate),
		EndDate:         schedule.DateKey(s.EndDate),
		HasWaitlist:     s.HasWaitlist,
	}
}

type createRequest struct {
	LocationID      int64  `json:"locationId"`
	CoachID         int64  `json:"coachId"`
	ClassTypeID     int64  `json:"classTypeId"`
	Name            string `json:"name"`
	DaysOfWeek      []int  `json:"daysOfWeek"`
	StartTime       string `json:"startTime"`
	DurationMinutes int64  `json:"durationMinutes"`
	MaxParticipants int64  `json:"maxParticipants"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	HasWaitlist     bool   `json:"hasWaitlist"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireCoach(w, r)
	if user == nil {
		return
	}

	var req createRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	startDate, err := apiutil.ParseDate("startDate", req.StartDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	endDate, err := apiutil.ParseDate("endDate", req.EndDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	candidate := schedule.RecurringSchedule{
		Name:            req.Name,
		DaysOfWeek:      req.DaysOfWeek,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		MaxParticipants: req.MaxParticipants,
		StartDate:       startDate,
		EndDate:         endDate,
	}
	if err := candidate.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.database.Queries.CreateSchedule(r.Context(), db.CreateScheduleParams{
		OrgID:           user.OrgID,
		LocationID:      req.LocationID,
		CoachID:         req.CoachID,
		ClassTypeID:     req.ClassTypeID,
		Name:            req.Name,
		DaysOfWeek:      req.DaysOfWeek,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		MaxParticipants: req.MaxParticipants,
		StartDate:       startDate,
		EndDate:         endDate,
		HasWaitlist:     req.HasWaitlist,
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to create schedule")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	var (
		list []schedule.RecurringSchedule
		err  error
	)
	if coachParam := r.URL.Query().Get("coachId"); coachParam != "" {
		coachID, parseErr := apiutil.ParseID("coachId", coachParam)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		list, err = h.database.Queries.ListSchedulesByCoach(r.Context(), user.OrgID, coachID)
	} else {
		list, err = h.database.Queries.ListSchedulesByOrg(r.Context(), user.OrgID)
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to list schedules")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]scheduleResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toResponse(s))
	}
	apiutil.WriteJSON(w, http.StatusOK, out)
}

type instanceResponse struct {
	ScheduleID      int64  `json:"scheduleId"`
	CoachID         int64  `json:"coachId"`
	Name            string `json:"name"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end"`
	MaxParticipants int64  `json:"maxParticipants"`
	HasWaitlist     bool   `json:"hasWaitlist"`
	Modified        bool   `json:"modified"`
}

// handleInstances expands every org schedule over [from, to] and returns
// the merged, chronologically sorted instances.
func (h *Handler) handleInstances(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	from, err := apiutil.ParseDate("from", r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := apiutil.ParseDate("to", r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		http.Error(w, "from must be on or before to", http.StatusBadRequest)
		return
	}
	if to.Sub(from) > MaxWindowDays*24*time.Hour {
		http.Error(w, "date window too large", http.StatusBadRequest)
		return
	}

	instances, err := h.expandWindow(r, user, from, to)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to expand schedule instances")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]instanceResponse, 0, len(instances))
	for _, in := range instances {
		out = append(out, instanceResponse{
			ScheduleID:      in.ScheduleID,
			CoachID:         in.CoachID,
			Name:            in.Name,
			Date:            schedule.DateKey(in.Date),
			Start:           in.Start.Format(time.RFC3339),
			End:             in.End.Format(time.RFC3339),
			MaxParticipants: in.MaxParticipants,
			HasWaitlist:     in.HasWaitlist,
			Modified:        in.Modified,
		})
	}
	apiutil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) expandWindow(r *http.Request, user *authz.AuthUser, from, to time.Time) ([]schedule.Instance, error) {
	ctx := r.Context()
	org, err := h.database.Queries.GetOrganization(ctx, user.OrgID)
	if err != nil {
		return nil, err
	}
	scheds, err := h.database.Queries.ListSchedulesByOrg(ctx, user.OrgID)
	if err != nil {
		return nil, err
	}
	exceptions, err := h.database.Queries.ListExceptionsInRange(ctx, user.OrgID, from, to)
	if err != nil {
		return nil, err
	}
	return schedule.ExpandAll(scheds, exceptions, from, to, org.Location()), nil
}

type editInstanceRequest struct {
	Date               string `json:"date"`
	NewStartTime       string `json:"newStartTime,omitempty"`
	NewDurationMinutes int64  `json:"newDurationMinutes,omitempty"`
	NewCoachID         int64  `json:"newCoachId,omitempty"`
	NewMaxParticipants int64  `json:"newMaxParticipants,omitempty"`
}

// handleEditInstance records a modified exception for one occurrence.
// Unset fields keep the schedule's values; a repeated edit for the same
// date replaces the previous one.
func (h *Handler) handleEditInstance(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireCoach(w, r)
	if user == nil {
		return
	}
	scheduleID, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req editInstanceRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	date, err := apiutil.ParseDate("date", req.Date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.NewStartTime != "" {
		if _, _, err := schedule.ParseWallClock(req.NewStartTime); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if _, err := h.database.Queries.GetSchedule(r.Context(), user.OrgID, scheduleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to load schedule")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	err = h.database.Queries.UpsertScheduleException(r.Context(), db.UpsertExceptionParams{
		OrgID:              user.OrgID,
		ScheduleID:         scheduleID,
		Date:               date,
		Status:             schedule.ExceptionModified,
		NewStartTime:       req.NewStartTime,
		NewDurationMinutes: req.NewDurationMinutes,
		NewCoachID:         req.NewCoachID,
		NewMaxParticipants: req.NewMaxParticipants,
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to record instance edit")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type cancelInstanceRequest struct {
	ScheduleID int64  `json:"scheduleId"`
	ClassDate  string `json:"classDate"`
}

func (h *Handler) handleCancelInstance(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireCoach(w, r)
	if user == nil {
		return
	}

	var req cancelInstanceRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
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

	result, err := h.cancellations.CancelInstance(r.Context(), user.OrgID, req.ScheduleID, classDate)
	if err != nil {
		if errors.Is(err, cancellation.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to cancel class instance")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	apiutil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"cancelledCount":    result.CancelledCount,
		"notificationsSent": result.NotificationsSent,
	})
}
