// Package participants is the participant directory: creation with a
// membership type and a clip balance, and notification preferences.
package participants

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/db"
)

type Handler struct {
	database *db.DB
}

func NewHandler(database *db.DB) *Handler {
	return &Handler{database: database}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/participants", h.handleCreate)
	mux.HandleFunc("GET /api/v1/participants/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/participants/{id}/preferences", h.handleUpdatePreferences)
	mux.HandleFunc("POST /api/v1/participants/{id}/friends", h.handleAddFriend)
}

type participantResponse struct {
	ID                   int64  `json:"id"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Email                string `json:"email"`
	Phone                string `json:"phone,omitempty"`
	MembershipType       string `json:"membershipType"`
	ClipsRemaining       int64  `json:"clipsRemaining"`
	PushEnabled          bool   `json:"pushEnabled"`
	NotifyClassCancelled bool   `json:"notifyClassCancelled"`
	NotifyReminders      bool   `json:"notifyReminders"`
	NotifyFriendBookings bool   `json:"notifyFriendBookings"`
	ShareBookings        bool   `json:"shareBookings"`
}

func toResponse(p db.Participant) participantResponse {
	return participantResponse{
		ID:                   p.ID,
		FirstName:            p.FirstName,
		LastName:             p.LastName,
		Email:                p.Email,
		Phone:                p.Phone,
		MembershipType:       p.MembershipType,
		ClipsRemaining:       p.ClipsRemaining,
		PushEnabled:          p.PushEnabled,
		NotifyClassCancelled: p.NotifyClassCancelled,
		NotifyReminders:      p.NotifyReminders,
		NotifyFriendBookings: p.NotifyFriendBookings,
		ShareBookings:        p.ShareBookings,
	}
}

type createRequest struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	MembershipType string `json:"membershipType"`
	ClipsRemaining int64  `json:"clipsRemaining"`
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
	if req.FirstName == "" || req.LastName == "" {
		http.Error(w, "firstName and lastName are required", http.StatusBadRequest)
		return
	}
	switch req.MembershipType {
	case "", db.MembershipClipCard, db.MembershipSubscription:
	default:
		http.Error(w, "unknown membership type", http.StatusBadRequest)
		return
	}

	created, err := h.database.Queries.CreateParticipant(r.Context(), db.CreateParticipantParams{
		OrgID:          user.OrgID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
		MembershipType: req.MembershipType,
		ClipsRemaining: req.ClipsRemaining,
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to create participant")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	id, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.database.Queries.GetParticipant(r.Context(), user.OrgID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to load participant")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, toResponse(p))
}

type preferencesRequest struct {
	PushEnabled          bool `json:"pushEnabled"`
	NotifyClassCancelled bool `json:"notifyClassCancelled"`
	NotifyReminders      bool `json:"notifyReminders"`
	NotifyFriendBookings bool `json:"notifyFriendBookings"`
	ShareBookings        bool `json:"shareBookings"`
}

func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	id, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req preferencesRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.database.Queries.GetParticipant(r.Context(), user.OrgID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to load participant")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	err = h.database.Queries.UpdateParticipantPreferences(r.Context(), db.UpdateParticipantPreferencesParams{
		ID:                   id,
		PushEnabled:          req.PushEnabled,
		NotifyClassCancelled: req.NotifyClassCancelled,
		NotifyReminders:      req.NotifyReminders,
		NotifyFriendBookings: req.NotifyFriendBookings,
		ShareBookings:        req.ShareBookings,
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to update preferences")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type addFriendRequest struct {
	FriendID int64 `json:"friendId"`
}

// handleAddFriend records that {id} follows friendId's bookings.
func (h *Handler) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	id, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req addFriendRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := apiutil.RequirePositive("friendId", req.FriendID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.FriendID == id {
		http.Error(w, "cannot follow yourself", http.StatusBadRequest)
		return
	}

	for _, pid := range []int64{id, req.FriendID} {
		if _, err := h.database.Queries.GetParticipant(r.Context(), user.OrgID, pid); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			log.Ctx(r.Context()).Error().Err(err).Msg("Failed to load participant")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	if err := h.database.Queries.AddFriend(r.Context(), id, req.FriendID); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to add friend")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
}
