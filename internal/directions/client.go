// Package directions fetches and refreshes routes from a Directions-API style service.
package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/provider/resilience"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

const (
	// ProviderName identifies the directions upstream in the resilience registry.
	ProviderName = "directions"

	// DefaultBaseURL is the directions service base URL.
	DefaultBaseURL = "https://api.mapbox.com"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	annotations = "distance,duration,speed,congestion"
)

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the directions client.
type ClientConfig struct {
	// AccessToken authenticates requests (required by the hosted service).
	AccessToken string

	// BaseURL overrides DefaultBaseURL.
	BaseURL string

	// HTTPClient overrides the resilient client built from Timeout and Registry.
	HTTPClient HTTPDoer

	// Timeout is the per-attempt request timeout (default: 10s).
	Timeout time.Duration

	// Registry receives the upstream's health (optional).
	Registry *resilience.Registry

	// Tracer for request spans (default: the global tracer provider).
	Tracer trace.Tracer

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client talks to the directions and directions-refresh endpoints.
type Client struct {
	accessToken string
	baseURL     string
	httpClient  HTTPDoer
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewClient creates a directions client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/breatheroute/navcore/internal/directions")
	}

	return &Client{
		accessToken: cfg.AccessToken,
		baseURL:     baseURL,
		httpClient:  httpClient,
		tracer:      tracer,
		logger:      cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Fetch requests routes for req. The first route is the recommended one.
// Route IDs combine the response UUID and the route index.
func (c *Client) Fetch(ctx context.Context, req Request) ([]*route.Route, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "directions.fetch", trace.WithAttributes(
		attribute.String("directions.profile", req.Profile),
		attribute.Int("directions.waypoints", len(req.Waypoints)),
	))
	defer span.End()

	coords := make([]string, len(req.Waypoints))
	for i, w := range req.Waypoints {
		coords[i] = formatCoordinate(w)
	}

	q := url.Values{}
	q.Set("geometries", "polyline6")
	q.Set("steps", "true")
	q.Set("overview", "full")
	q.Set("annotations", annotations)
	q.Set("alternatives", strconv.FormatBool(req.Alternatives))
	if req.Bearing != nil {
		bearings := make([]string, len(req.Waypoints))
		bearings[0] = fmt.Sprintf("%d,45", int(polyline.NormalizeBearing(*req.Bearing)))
		q.Set("bearings", strings.Join(bearings, ";"))
	}
	endpoint := fmt.Sprintf("%s/directions/v5/%s/%s", c.baseURL, req.Profile, strings.Join(coords, ";"))

	c.logger.Debug().
		Str("profile", req.Profile).
		Int("waypoints", len(req.Waypoints)).
		Msg("requesting directions")

	var resp directionsResponse
	if err := c.get(ctx, endpoint, q, &resp); err != nil {
		recordError(span, err)
		return nil, err
	}
	routes, err := routesFrom(&resp, req.Profile)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("directions.routes", len(routes)))
	c.logger.Debug().
		Str("request_uuid", resp.UUID).
		Int("route_count", len(routes)).
		Msg("received directions")

	return routes, nil
}

// Refresh fetches fresh annotations for r from legIndex on. The returned route keeps r's
// identity and geometry; legs before legIndex keep their annotations.
func (c *Client) Refresh(ctx context.Context, r *route.Route, legIndex int) (*route.Route, error) {
	if r == nil || r.RequestUUID == "" {
		return nil, &Error{Code: "NOT_REFRESHABLE", Message: "route has no request uuid", Err: ErrInvalidRequest}
	}
	if _, err := r.Leg(legIndex); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "directions.refresh", trace.WithAttributes(
		attribute.String("route.id", r.ID),
		attribute.Int("route.leg_index", legIndex),
	))
	defer span.End()

	endpoint := fmt.Sprintf("%s/directions-refresh/v1/%s/%s/%d/%d",
		c.baseURL, r.Profile, url.PathEscape(r.RequestUUID), r.RouteIndex, legIndex)

	var resp refreshResponse
	if err := c.get(ctx, endpoint, url.Values{}, &resp); err != nil {
		recordError(span, err)
		return nil, err
	}

	remaining := len(r.Legs) - legIndex
	if len(resp.Route.Legs) != remaining {
		err := fmt.Errorf("%w: refresh returned %d legs, want %d", route.ErrInvalidRoute, len(resp.Route.Legs), remaining)
		recordError(span, err)
		return nil, err
	}

	shaped := &route.Route{Legs: make([]route.Leg, len(r.Legs))}
	for i, leg := range resp.Route.Legs {
		shaped.Legs[legIndex+i].Annotation = toAnnotation(leg.Annotation)
	}
	refreshed, err := r.WithRefreshedAnnotations(shaped, legIndex)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if err := refreshed.Validate(); err != nil {
		recordError(span, err)
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if c.accessToken != "" {
		q.Set("access_token", c.accessToken)
	}
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Code: "REQUEST_FAILED", Message: err.Error(), Err: ErrUnavailable}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse maps a non-200 response to a directions error.
func handleErrorResponse(status int, body []byte) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	switch {
	case payload.Code == codeNoRoute || payload.Code == codeNoSegment:
		return &Error{Code: "NO_ROUTE", Message: payload.Message, Err: ErrNoRoute}
	case status == http.StatusTooManyRequests:
		return &Error{Code: "RATE_LIMIT", Message: "rate limit exceeded, try again later", Err: ErrRateLimited}
	case status == http.StatusNotFound && payload.Code == codeInvalidUUID:
		return &Error{Code: "NOT_REFRESHABLE", Message: payload.Message, Err: ErrInvalidRequest}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Code: "FORBIDDEN", Message: "access denied, check the access token", Err: ErrUnavailable}
	case status >= 500:
		return &Error{
			Code:    fmt.Sprintf("SERVER_%d", status),
			Message: "directions service is temporarily unavailable",
			Err:     ErrUnavailable,
		}
	case status >= 400:
		return &Error{Code: "BAD_REQUEST", Message: payload.Message, Err: ErrInvalidRequest}
	default:
		return &Error{Code: fmt.Sprintf("HTTP_%d", status), Message: payload.Message, Err: ErrUnavailable}
	}
}

// DecodeRoutes parses a saved directions response, as returned by the directions endpoint.
func DecodeRoutes(data []byte, profile string) ([]*route.Route, error) {
	var resp directionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Code: "INVALID_RESPONSE", Message: err.Error(), Err: ErrInvalidRequest}
	}
	if resp.Code != "" && resp.Code != codeOK {
		return nil, &Error{Code: resp.Code, Message: resp.Message, Err: ErrNoRoute}
	}
	return routesFrom(&resp, profile)
}

func routesFrom(resp *directionsResponse, profile string) ([]*route.Route, error) {
	if len(resp.Routes) == 0 {
		return nil, &Error{Code: "NO_ROUTE", Message: "response contained no routes", Err: ErrNoRoute}
	}

	// Servers without refresh support omit the uuid. Those routes still need distinct
	// IDs, since progress tracking restarts only when the route ID changes.
	key := resp.UUID
	if key == "" {
		key = uuid.NewString()
	}

	routes := make([]*route.Route, 0, len(resp.Routes))
	for i := range resp.Routes {
		r := toRoute(&resp.Routes[i], key, resp.UUID, i, profile)
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func toRoute(w *wireRoute, key, requestUUID string, index int, profile string) *route.Route {
	r := &route.Route{
		ID:                fmt.Sprintf("%s#%d", key, index),
		RequestUUID:       requestUUID,
		RouteIndex:        index,
		Profile:           profile,
		DistanceMeters:    w.Distance,
		DurationSeconds:   w.Duration,
		GeometryPrecision: polyline.Precision6,
		Legs:              make([]route.Leg, 0, len(w.Legs)),
	}
	for i := range w.Legs {
		wl := &w.Legs[i]
		leg := route.Leg{
			Summary:         wl.Summary,
			DistanceMeters:  wl.Distance,
			DurationSeconds: wl.Duration,
			Steps:           make([]route.Step, 0, len(wl.Steps)),
			Annotation:      toAnnotation(wl.Annotation),
		}
		for _, ws := range wl.Steps {
			leg.Steps = append(leg.Steps, route.Step{
				Name:            ws.Name,
				Geometry:        ws.Geometry,
				DistanceMeters:  ws.Distance,
				DurationSeconds: ws.Duration,
				Maneuver: route.Maneuver{
					Type:          ws.Maneuver.Type,
					Modifier:      ws.Maneuver.Modifier,
					Instruction:   ws.Maneuver.Instruction,
					Location:      polyline.Coordinate{Lat: ws.Maneuver.Location[1], Lon: ws.Maneuver.Location[0]},
					BearingBefore: ws.Maneuver.BearingBefore,
					BearingAfter:  ws.Maneuver.BearingAfter,
				},
			})
		}
		r.Legs = append(r.Legs, leg)
	}
	return r
}

func toAnnotation(w *wireAnnotation) *route.Annotation {
	if w == nil || len(w.Distance) == 0 {
		return nil
	}
	return &route.Annotation{
		Distance:   w.Distance,
		Duration:   w.Duration,
		Speed:      w.Speed,
		Congestion: w.Congestion,
	}
}

func formatCoordinate(c polyline.Coordinate) string {
	return strconv.FormatFloat(c.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lat, 'f', 6, 64)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
