package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/api/response"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/navigation"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/session"
)

// Navigator is the navigation surface the API exposes.
type Navigator interface {
	RunState
	Progress() (progress.State, bool)
	Session() session.State
	UpdateLocation(ctx context.Context, fix engine.Location) error
	SubmitFeedback(ctx context.Context, in session.FeedbackInput) (string, error)
	UpdateFeedback(ctx context.Context, id string, in session.FeedbackInput) error
	CancelFeedback(ctx context.Context, id string) error
}

// NavigationHandler handles navigation endpoints.
type NavigationHandler struct {
	navigator Navigator
	validate  *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewNavigationHandler creates a new NavigationHandler.
func NewNavigationHandler(navigator Navigator, logger zerolog.Logger) *NavigationHandler {
	return &NavigationHandler{
		navigator: navigator,
		validate:  newValidator(),
		logger:    logger,
		now:       time.Now,
	}
}

// GetProgress handles GET /v1/navigation/progress - latest route progress.
func (h *NavigationHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	state, ok := h.navigator.Progress()
	if !ok {
		response.NotFound(w, r, "no progress has been computed yet")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewProgress(state))
}

// GetSession handles GET /v1/navigation/session - session summary.
func (h *NavigationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	state := h.navigator.Session()
	if state.SessionID == "" {
		response.NotFound(w, r, "no navigation session")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSession(state))
}

// PostLocations handles POST /v1/navigation/locations - submit a batch of fixes.
// Fixes are applied in order; the batch stops at the first rejected fix.
func (h *NavigationHandler) PostLocations(w http.ResponseWriter, r *http.Request) {
	var req models.LocationsRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	received := h.now()
	for i, loc := range req.Locations {
		if err := h.navigator.UpdateLocation(r.Context(), loc.ToEngine(received)); err != nil {
			h.logger.Debug().Err(err).
				Str("device_id", GetDeviceID(r.Context())).
				Int("accepted", i).
				Msg("location batch interrupted")
			h.writeError(w, r, err)
			return
		}
	}

	response.Accepted(w, r, models.LocationsAccepted{Accepted: len(req.Locations)})
}

// SubmitFeedback handles POST /v1/navigation/feedback - queue feedback.
func (h *NavigationHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req models.FeedbackRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	id, err := h.navigator.SubmitFeedback(r.Context(), req.Input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Created(w, r, "/v1/navigation/feedback/"+id, models.Feedback{FeedbackID: id})
}

// UpdateFeedback handles PUT /v1/navigation/feedback/{feedbackId} - edit queued feedback.
func (h *NavigationHandler) UpdateFeedback(w http.ResponseWriter, r *http.Request) {
	var req models.FeedbackRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	if err := h.navigator.UpdateFeedback(r.Context(), chi.URLParam(r, "feedbackId"), req.Input()); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// CancelFeedback handles DELETE /v1/navigation/feedback/{feedbackId} - drop queued feedback.
func (h *NavigationHandler) CancelFeedback(w http.ResponseWriter, r *http.Request) {
	if err := h.navigator.CancelFeedback(r.Context(), chi.URLParam(r, "feedbackId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

func (h *NavigationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, navigation.ErrNotRunning):
		response.Conflict(w, r, "navigation is not running")
	case errors.Is(err, session.ErrNotStarted):
		response.Conflict(w, r, "navigation session has not started")
	case errors.Is(err, session.ErrFeedbackNotFound):
		response.NotFound(w, r, "feedback not found or already sent")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(w, r, "navigation did not accept the request in time")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("navigation request failed")
		response.InternalError(w, r, "navigation request failed")
	}
}
