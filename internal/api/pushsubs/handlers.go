// Package pushsubs registers and removes Web Push subscriptions for the
// authenticated user.
package pushsubs

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/db"
)

type Handler struct {
	database       *db.DB
	vapidPublicKey string
}

func NewHandler(database *db.DB, vapidPublicKey string) *Handler {
	return &Handler{database: database, vapidPublicKey: vapidPublicKey}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/push/key", h.handleKey)
	mux.HandleFunc("POST /api/v1/push/subscriptions", h.handleSubscribe)
	mux.HandleFunc("DELETE /api/v1/push/subscriptions/{id}", h.handleUnsubscribe)
}

// handleKey hands the browser the VAPID public key it needs to subscribe.
func (h *Handler) handleKey(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, http.StatusOK, map[string]string{"publicKey": h.vapidPublicKey})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}

	var req subscribeRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		http.Error(w, "endpoint and keys are required", http.StatusBadRequest)
		return
	}

	err := h.database.Queries.CreatePushSubscription(r.Context(), db.CreatePushSubscriptionParams{
		OrgID:    user.OrgID,
		UserID:   user.ID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to store push subscription")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	apiutil.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	user := apiutil.RequireUser(w, r)
	if user == nil {
		return
	}
	id, err := apiutil.ParseID("id", r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Only the owner's subscriptions are deletable; the scan below keeps a
	// user from guessing other users' row ids.
	subs, err := h.database.Queries.ListPushSubscriptions(r.Context(), user.OrgID, user.ID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to list push subscriptions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	for _, sub := range subs {
		if sub.ID == id {
			if err := h.database.Queries.DeletePushSubscription(r.Context(), id); err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("Failed to delete push subscription")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, "Not found", http.StatusNotFound)
}
