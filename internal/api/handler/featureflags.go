package handler

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/api/response"
	"github.com/breatheroute/navcore/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service  *featureflags.Service
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{
		service:  service,
		validate: newValidator(),
		logger:   logger,
	}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags - list all feature flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	flags := h.service.GetAllFlags(r.Context())

	list := featureflags.FlagList{Items: make([]featureflags.Flag, 0, len(flags))}
	for _, flag := range flags {
		if flag != nil {
			list.Items = append(list.Items, *flag)
		}
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Key < list.Items[j].Key })

	response.JSON(w, r, http.StatusOK, list)
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags - update feature flags.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var req models.FlagsUpdateRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	var missing []models.FieldError
	for i, item := range req.Items {
		if item.Value == nil {
			missing = append(missing, models.FieldError{
				Field:   "items[" + strconv.Itoa(i) + "].value",
				Message: "value is required",
				Code:    "required",
			})
		}
	}
	if len(missing) > 0 {
		response.BadRequest(w, r, "request validation failed", missing)
		return
	}

	if err := h.service.SetFlags(r.Context(), req.Flags()); err != nil {
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	h.logger.Info().
		Str("device_id", GetDeviceID(r.Context())).
		Int("count", len(req.Items)).
		Msg("feature flags updated")
	response.NoContent(w, r)
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate - invalidate flag cache.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}

// ResetFeatureFlag handles DELETE /v1/admin/feature-flags/{key} - drop the stored value so
// the flag reverts to its default.
func (h *FeatureFlagsHandler) ResetFeatureFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	err := h.service.ResetFlag(r.Context(), key)
	switch {
	case errors.Is(err, featureflags.ErrFlagNotFound):
		response.NotFound(w, r, "no stored value for feature flag "+key)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("flag", key).Msg("failed to reset feature flag")
		response.InternalError(w, r, "failed to reset feature flag")
		return
	}

	h.logger.Info().
		Str("device_id", GetDeviceID(r.Context())).
		Str("flag", key).
		Msg("feature flag reset to default")
	response.NoContent(w, r)
}
