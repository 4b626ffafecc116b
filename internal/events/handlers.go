package events

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-rates/internal/common"
)

// AdminHandler receives entity change notifications from the administration backend.
type AdminHandler struct {
	Bus *Bus
	// Token is the shared bearer token. An empty token disables the endpoint.
	Token    string
	Logger   zerolog.Logger
	validate *validator.Validate
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(bus *Bus, token string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{Bus: bus, Token: strings.TrimSpace(token), Logger: logger, validate: validator.New()}
}

// Routes registers the admin endpoints on r.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/admin/entities/changed", h.EntityChanged)
}

type changeRequest struct {
	Topic    string `json:"topic" validate:"required"`
	EntityID string `json:"entityId"`
	Action   string `json:"action" validate:"omitempty,oneof=created updated deleted"`
}

// EntityChanged handles POST /api/v1/admin/entities/changed.
func (h *AdminHandler) EntityChanged(w http.ResponseWriter, r *http.Request) {
	if !h.authorised(r) {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
		return
	}
	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	if !IsKnownTopic(req.Topic) {
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_TOPIC", "unknown topic", map[string]any{"topics": DefaultTopics()})
		return
	}

	change, err := h.Bus.Emit(r.Context(), req.Topic, req.EntityID, req.Action)
	if err != nil {
		h.Logger.Error().Err(err).Str("topic", change.Topic).Str("change_id", change.ID).Msg("entity change handling failed")
		common.JSONError(w, http.StatusBadGateway, "CHANGE_FAILED", "entity change was not fully applied", map[string]string{"id": change.ID})
		return
	}
	h.Logger.Info().Str("topic", change.Topic).Str("entity_id", change.EntityID).Str("action", change.Action).Msg("entity change received")
	common.Data(w, http.StatusAccepted, change)
}

func (h *AdminHandler) authorised(r *http.Request) bool {
	if h.Token == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.Token)) == 1
}
