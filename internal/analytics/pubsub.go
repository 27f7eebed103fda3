package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubConfig holds configuration for the Pub/Sub sink.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
	Logger    zerolog.Logger
}

// PubSubSink publishes events to a Google Cloud Pub/Sub topic.
type PubSubSink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicID   string
	logger    zerolog.Logger
}

// NewPubSubSink connects to Pub/Sub and prepares a publisher for the topic.
func NewPubSubSink(ctx context.Context, cfg PubSubConfig) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.TopicID)
	publisher.EnableMessageOrdering = true

	return &PubSubSink{
		client:    client,
		publisher: publisher,
		topicID:   cfg.TopicID,
		logger:    cfg.Logger,
	}, nil
}

// Send implements Sink. It waits for the server to acknowledge the message.
func (s *PubSubSink) Send(ctx context.Context, ev Event) error {
	msg, err := encodeMessage(ev)
	if err != nil {
		return err
	}

	id, err := s.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		s.publisher.ResumePublish(msg.OrderingKey)
		return fmt.Errorf("publishing %s event to %s: %w", ev.Type, s.topicID, err)
	}

	s.logger.Debug().
		Str("message_id", id).
		Str("event_type", string(ev.Type)).
		Msg("published navigation event")
	return nil
}

// Close flushes pending messages and closes the client.
func (s *PubSubSink) Close() error {
	s.publisher.Stop()
	return s.client.Close()
}

// encodeMessage builds the Pub/Sub message for ev. Events of one session share an ordering key.
func encodeMessage(ev Event) (*pubsub.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type": string(ev.Type),
			"session_id": ev.SessionID,
		},
		OrderingKey: ev.SessionID,
	}, nil
}
