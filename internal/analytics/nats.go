package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultNATSSubjectPrefix is the subject prefix events are published under.
const DefaultNATSSubjectPrefix = "navigation.events"

// NATSConfig holds configuration for the NATS JetStream sink.
type NATSConfig struct {
	URL string

	// Stream is the JetStream stream capturing the events (default: NAVIGATION_EVENTS).
	Stream string

	// SubjectPrefix prefixes every event subject (default: DefaultNATSSubjectPrefix).
	SubjectPrefix string

	Logger zerolog.Logger
}

// NATSSink publishes events to NATS JetStream, one subject per event type.
type NATSSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger zerolog.Logger
}

// NewNATSSink connects to NATS and makes sure the event stream exists.
func NewNATSSink(ctx context.Context, cfg NATSConfig) (*NATSSink, error) {
	stream := cfg.Stream
	if stream == "" {
		stream = "NAVIGATION_EVENTS"
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultNATSSubjectPrefix
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("navcore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		cfg.Logger.Warn().Err(err).Str("stream", stream).Msg("failed to ensure event stream")
	}

	return &NATSSink{nc: nc, js: js, prefix: prefix, logger: cfg.Logger}, nil
}

// Send implements Sink.
func (s *NATSSink) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}

	subject := natsSubject(s.prefix, ev.Type)
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("publishing event to subject %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

func natsSubject(prefix string, t EventType) string {
	return prefix + "." + string(t)
}
