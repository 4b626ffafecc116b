package quote

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-rates/internal/common"
	"github.com/noah-isme/toko-rates/internal/obs"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/snapshot"
	"github.com/noah-isme/toko-rates/internal/zone"
)

const maxBodyBytes = 1 << 20

// Handler exposes the engine over HTTP.
type Handler struct {
	engine   *Engine
	validate *validator.Validate
	logger   zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Engine *Engine
	Logger zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{engine: cfg.Engine, validate: validator.New(), logger: cfg.Logger}
}

// Routes registers the engine endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/zones/resolve", h.ResolveZone)
	r.Post("/shipping/price", h.PriceShipping)
	r.Post("/tax/calculate", h.CalculateTax)
	r.Post("/quotes", h.Quote)
}

type resolveZoneRequest struct {
	Country  string `json:"country" validate:"required,len=2"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
}

// ResolveZone handles POST /api/v1/zones/resolve.
func (h *Handler) ResolveZone(w http.ResponseWriter, r *http.Request) {
	var req resolveZoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	match, err := h.engine.ResolveZone(r.Context(), req.Country, req.State, req.Postcode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	obs.Annotate(r.Context(), "zone", match.Zone.Code)
	common.Data(w, http.StatusOK, match)
}

// PriceShipping handles POST /api/v1/shipping/price.
func (h *Handler) PriceShipping(w http.ResponseWriter, r *http.Request) {
	var req ShippingRequest
	if !h.decode(w, r, &req) {
		return
	}
	charge, err := h.engine.PriceShipping(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, charge)
}

// CalculateTax handles POST /api/v1/tax/calculate.
func (h *Handler) CalculateTax(w http.ResponseWriter, r *http.Request) {
	var req TaxRequest
	if !h.decode(w, r, &req) {
		return
	}
	breakdown, err := h.engine.CalculateTax(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, breakdown)
}

// Quote handles POST /api/v1/quotes.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var order Order
	if !h.decode(w, r, &order) {
		return
	}
	q, err := h.engine.Quote(r.Context(), order)
	if err != nil {
		h.writeError(w, err)
		return
	}
	obs.Annotate(r.Context(), "zone", q.ZoneCode)
	obs.Annotate(r.Context(), "snapshot_version", strconv.FormatUint(q.SnapshotVersion, 10))
	common.Data(w, http.StatusOK, q)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote engine not configured", nil)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", map[string]string{"reason": err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		details := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
		}
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed", details)
		return false
	}
	return true
}

var errorMap = common.ErrorMap{
	{Target: ErrNoShippableService, Status: http.StatusUnprocessableEntity, Code: "NO_SHIPPABLE_SERVICE", Message: "cannot ship to this address",
		Details: func(err error) any {
			var unshippable *UnshippableError
			if errors.As(err, &unshippable) {
				return unshippable.Failures
			}
			return nil
		}},
	{Target: zone.ErrZoneNotFound, Status: http.StatusNotFound, Code: "ZONE_NOT_FOUND", Message: "shipping is unavailable for this destination"},
	{Target: shipping.ErrServiceNotFound, Status: http.StatusNotFound, Code: "SERVICE_NOT_FOUND"},
	{Target: shipping.ErrServiceInactive, Status: http.StatusUnprocessableEntity, Code: "SERVICE_INACTIVE"},
	{Target: shipping.ErrDimensionsExceeded, Status: http.StatusUnprocessableEntity, Code: "DIMENSIONS_EXCEEDED"},
	{Target: shipping.ErrNoRateAvailable, Status: http.StatusUnprocessableEntity, Code: "NO_RATE_AVAILABLE"},
	{Target: shipping.ErrInvalidParcel, Status: http.StatusBadRequest, Code: "BAD_REQUEST"},
	{Target: ErrInvalidOrder, Status: http.StatusBadRequest, Code: "BAD_REQUEST"},
	{Target: snapshot.ErrUnavailable, Status: http.StatusServiceUnavailable, Code: "SNAPSHOT_UNAVAILABLE", Message: "rate configuration is not loaded"},
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := errorMap.Resolve(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	h.logger.Error().Err(err).Msg("quote request failed")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}
