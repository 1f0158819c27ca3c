// Package webhooks accepts inbound integrations from external sites. The
// lead webhook is unauthenticated in the user sense; callers prove
// themselves with a per-org shared secret issued when the integration is
// configured.
package webhooks

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"studiobook/internal/api/apiutil"
	"studiobook/internal/db"
	"studiobook/internal/ratelimit"
)

// defaultPhoneRegion is assumed for numbers submitted without a country
// prefix.
const defaultPhoneRegion = "US"

type Handler struct {
	database   *db.DB
	limiter    *ratelimit.Limiter
	trustProxy bool
	validate   *validator.Validate
}

func NewHandler(database *db.DB, limiter *ratelimit.Limiter, trustProxy bool) *Handler {
	return &Handler{
		database:   database,
		limiter:    limiter,
		trustProxy: trustProxy,
		validate:   validator.New(),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/webhooks/{orgId}/leads", h.handleLead)
}

type leadRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email,required_without=Phone"`
	Phone   string `json:"phone" validate:"required_without=Email"`
	Source  string `json:"source" validate:"omitempty,max=100"`
	Message string `json:"message" validate:"omitempty,max=2000"`
}

func (h *Handler) handleLead(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	ip := ratelimit.ClientIP(r, h.trustProxy)
	if res := h.limiter.Allow(ip); !res.Allowed {
		logger.Warn().Str("ip", ip).Msg("Lead webhook rate limit exceeded")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	orgID, err := apiutil.ParseID("orgId", r.PathValue("orgId"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	settings, err := h.database.Queries.GetIntegrationSettings(r.Context(), orgID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load integration settings")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !h.authorized(r, settings) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req leadRequest
	if err := apiutil.DecodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "name and at least one of email or phone are required", http.StatusBadRequest)
		return
	}

	phone := ""
	if req.Phone != "" {
		parsed, err := phonenumbers.Parse(req.Phone, defaultPhoneRegion)
		if err != nil || !phonenumbers.IsValidNumber(parsed) {
			http.Error(w, "invalid phone number", http.StatusBadRequest)
			return
		}
		phone = phonenumbers.Format(parsed, phonenumbers.E164)
	}

	id, err := h.database.Queries.CreateLead(r.Context(), db.CreateLeadParams{
		OrgID:   orgID,
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:   phone,
		Source:  req.Source,
		Message: req.Message,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store lead")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logger.Info().Int64("org_id", orgID).Int64("lead_id", id).Str("source", req.Source).Msg("Lead received")
	apiutil.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// authorized compares the caller's bearer secret against the org's stored
// hash. Orgs without a configured secret accept no webhook traffic.
func (h *Handler) authorized(r *http.Request, settings db.IntegrationSettings) bool {
	if settings.LeadWebhookTokenHash == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	secret := strings.TrimPrefix(header, "Bearer ")
	return bcrypt.CompareHashAndPassword([]byte(settings.LeadWebhookTokenHash), []byte(secret)) == nil
}
