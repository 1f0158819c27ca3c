// Package calendarfeed serves per-user iCalendar subscription feeds.
// The feed is a read-only projection: coaches see their recurring classes,
// participants see the classes they are booked into, and both see their
// 1:1 sessions.
package calendarfeed

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/db"
	"studiobook/internal/ical"
	"studiobook/internal/schedule"
)

// Feed window relative to now.
const (
	monthsBack    = 3
	monthsForward = 6
)

const typeCoach = "coach"

type Handler struct {
	database *db.DB
	now      func() time.Time
}

func NewHandler(database *db.DB) *Handler {
	return &Handler{database: database, now: time.Now}
}

// WithClock overrides the time source. For tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /calendar/feed", h.handleFeed)
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orgID, err := apiutil.ParseID("orgId", query.Get("orgId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, err := apiutil.ParseID("userId", query.Get("userId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	feedType := query.Get("type")

	now := h.now()
	from := now.AddDate(0, -monthsBack, 0)
	to := now.AddDate(0, monthsForward, 0)

	var events []ical.Event
	if feedType == typeCoach {
		events, err = h.coachEvents(r, orgID, userID, from, to)
	} else {
		events, err = h.participantEvents(r, orgID, userID, from, to)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Unknown user", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to build calendar feed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.Write(ical.Encode(events, now))
}

// coachEvents expands every schedule the coach teaches plus their 1:1
// sessions. Suppressed instances drop out via the normal exception logic.
func (h *Handler) coachEvents(r *http.Request, orgID, coachID int64, from, to time.Time) ([]ical.Event, error) {
	ctx := r.Context()
	if _, err := h.database.Queries.GetCoach(ctx, orgID, coachID); err != nil {
		return nil, err
	}
	org, err := h.database.Queries.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	scheds, err := h.database.Queries.ListSchedulesByCoach(ctx, orgID, coachID)
	if err != nil {
		return nil, err
	}
	exceptions, err := h.database.Queries.ListExceptionsInRange(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	var events []ical.Event
	for _, in := range schedule.ExpandAll(scheds, exceptions, from, to, org.Location()) {
		events = append(events, classEvent(in))
	}

	sessions, err := h.database.Queries.ListSessionsForCoach(ctx, orgID, coachID, from, to)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		events = append(events, sessionEvent(s))
	}
	return events, nil
}

// participantEvents materializes the instances behind the participant's
// active bookings plus their 1:1 sessions. A booking whose instance has
// since been suppressed contributes nothing.
func (h *Handler) participantEvents(r *http.Request, orgID, participantID int64, from, to time.Time) ([]ical.Event, error) {
	ctx := r.Context()
	if _, err := h.database.Queries.GetParticipant(ctx, orgID, participantID); err != nil {
		return nil, err
	}
	org, err := h.database.Queries.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	bookings, err := h.database.Queries.ListActiveBookingsForParticipant(
		ctx, orgID, participantID, schedule.DateKey(from), schedule.DateKey(to))
	if err != nil {
		return nil, err
	}

	scheds := map[int64]schedule.RecurringSchedule{}
	var events []ical.Event
	for _, b := range bookings {
		sched, ok := scheds[b.ScheduleID]
		if !ok {
			sched, err = h.database.Queries.GetSchedule(ctx, orgID, b.ScheduleID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return nil, err
			}
			scheds[b.ScheduleID] = sched
		}

		classDate, err := time.Parse("2006-01-02", b.ClassDate)
		if err != nil {
			continue
		}
		index := map[schedule.ExceptionKey]schedule.Exception{}
		if exc, err := h.database.Queries.GetScheduleException(ctx, sched.ID, classDate); err == nil {
			index[schedule.ExceptionKey{ScheduleID: sched.ID, Date: b.ClassDate}] = exc
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		instances := schedule.Expand(sched, index, classDate, classDate, org.Location())
		if len(instances) == 0 {
			continue
		}
		events = append(events, classEvent(instances[0]))
	}

	sessions, err := h.database.Queries.ListSessionsForParticipant(ctx, orgID, participantID, from, to)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		events = append(events, sessionEvent(s))
	}
	return events, nil
}

func classEvent(in schedule.Instance) ical.Event {
	return ical.Event{
		UID:         fmt.Sprintf("class-%d-%s", in.ScheduleID, schedule.DateKey(in.Date)),
		Start:       in.Start,
		End:         in.End,
		Summary:     in.Name,
		Description: fmt.Sprintf("Group class, up to %d participants", in.MaxParticipants),
	}
}

func sessionEvent(s db.Session) ical.Event {
	return ical.Event{
		UID:     fmt.Sprintf("session-%d", s.ID),
		Start:   s.StartTime,
		End:     s.EndTime,
		Summary: s.Title,
	}
}
