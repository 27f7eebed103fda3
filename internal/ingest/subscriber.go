// Package ingest feeds positioning fixes from Pub/Sub into the navigator.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/navigation"
)

// ErrMalformed indicates a message that will never be processable.
var ErrMalformed = errors.New("malformed location message")

// Updater receives fixes.
type Updater interface {
	UpdateLocation(ctx context.Context, fix engine.Location) error
}

// Config holds configuration for the subscriber.
type Config struct {
	ProjectID        string
	SubscriptionName string
	MaxOutstanding   int
	Updater          Updater
	Logger           zerolog.Logger

	// Now returns the receive time for fixes without a timestamp (default: time.Now).
	Now func() time.Time
}

// Subscriber consumes location batches from a Pub/Sub subscription. Each message body is
// a JSON location batch as accepted by POST /v1/navigation/locations. Publish with an
// ordering key per device so batches arrive in the order they were taken.
type Subscriber struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          *Handler
	logger           zerolog.Logger

	// mu keeps concurrently delivered batches from interleaving.
	mu sync.Mutex
}

// NewSubscriber creates a subscriber for cfg.SubscriptionName.
func NewSubscriber(ctx context.Context, cfg Config) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &Subscriber{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          NewHandler(cfg.Updater, cfg.Logger, cfg.Now),
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info().
		Str("subscription", s.subscriptionName).
		Msg("starting location ingest")

	return s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := s.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		s.mu.Lock()
		err := s.handler.Handle(ctx, msg.Data)
		s.mu.Unlock()

		switch {
		case err == nil:
			msg.Ack()
		case errors.Is(err, ErrMalformed):
			// Redelivery cannot fix a bad payload.
			logger.Warn().Err(err).Msg("dropping malformed location message")
			msg.Ack()
		default:
			logger.Error().Err(err).Msg("location message failed")
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}

// Handler decodes and applies location batches.
type Handler struct {
	updater  Updater
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHandler creates a Handler. A nil now uses time.Now.
func NewHandler(updater Updater, logger zerolog.Logger, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		updater:  updater,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      now,
	}
}

// Handle applies one message body. It returns an error wrapping ErrMalformed for payloads
// that should not be redelivered. Fixes that arrive while navigation is stopped are dropped.
func (h *Handler) Handle(ctx context.Context, data []byte) error {
	var batch models.LocationsRequest
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := h.validate.Struct(batch); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	received := h.now()
	for i, loc := range batch.Locations {
		err := h.updater.UpdateLocation(ctx, loc.ToEngine(received))
		if errors.Is(err, navigation.ErrNotRunning) {
			h.logger.Debug().Int("dropped", len(batch.Locations)-i).Msg("navigation not running, dropping fixes")
			return nil
		}
		if err != nil {
			return fmt.Errorf("update location %d: %w", i, err)
		}
	}

	h.logger.Debug().Int("fixes", len(batch.Locations)).Msg("location batch applied")
	return nil
}
