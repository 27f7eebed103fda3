package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/dispatch"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/navigation"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/session"
	"github.com/breatheroute/navcore/internal/telemetry"
)

// pipeline holds the collaborators a navigator is assembled from.
type pipeline struct {
	Sink               analytics.Sink
	Metrics            *telemetry.NavigationMetrics
	OffRouteEnabled    func() bool
	FasterRouteEnabled func() bool
	Now                func() time.Time
}

// newNavigator assembles a navigator on the geometric engine.
func newNavigator(cfg config.Config, logger zerolog.Logger, p pipeline) (*navigation.Navigator, error) {
	eng := engine.NewGeometric(engine.GeometricConfig{
		OffRouteDistance: cfg.Engine.OffRouteDistance,
		ArrivalDistance:  cfg.Engine.ArrivalDistance,
		StaleAfter:       cfg.Engine.StaleAfter,
		Logger:           logger,
	})

	offRouteEnabled := p.OffRouteEnabled
	if !cfg.Navigation.OffRouteEnabled {
		offRouteEnabled = func() bool { return false }
	}
	fasterRouteEnabled := p.FasterRouteEnabled
	if !cfg.Navigation.FasterRouteEnabled {
		fasterRouteEnabled = func() bool { return false }
	}

	return navigation.New(navigation.Config{
		Engine:            eng,
		Logger:            logger,
		Metrics:           p.Metrics,
		Sink:              p.Sink,
		TickInterval:      cfg.Navigation.TickInterval,
		QueueSize:         cfg.Navigation.QueueSize,
		LocationQueueSize: cfg.Navigation.LocationQueueSize,
		Progress:          cfg.Progress,
		Detector:          cfg.Detector,
		Session: session.Config{
			ConfirmationWindow: cfg.Session.ConfirmationWindow,
			LocationBufferSize: cfg.Session.LocationBufferSize,
			MinRerouteDistance: cfg.Session.MinRerouteDistance,
		},
		OffRouteEnabled:    offRouteEnabled,
		FasterRouteEnabled: fasterRouteEnabled,
		Now:                p.Now,
	})
}

// sinkCloser releases a transport sink.
type sinkCloser func() error

// newSink builds the configured analytics transport, mirrored to the log when
// cfg.LogEvents is set. pool is required for the postgres sink.
func newSink(ctx context.Context, cfg config.AnalyticsConfig, logger zerolog.Logger, pool *pgxpool.Pool) (analytics.Sink, sinkCloser, error) {
	sink, closer, err := newTransport(ctx, cfg, logger, pool)
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogEvents && cfg.Sink != config.SinkLog {
		sink = analytics.MultiSink{sink, analytics.NewLogSink(logger)}
	}
	return sink, closer, nil
}

func newTransport(ctx context.Context, cfg config.AnalyticsConfig, logger zerolog.Logger, pool *pgxpool.Pool) (analytics.Sink, sinkCloser, error) {
	noop := func() error { return nil }

	switch cfg.Sink {
	case config.SinkPubSub:
		s, err := analytics.NewPubSubSink(ctx, analytics.PubSubConfig{
			ProjectID: cfg.PubSubProject,
			TopicID:   cfg.PubSubTopic,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.SinkNATS:
		s, err := analytics.NewNATSSink(ctx, analytics.NATSConfig{
			URL:    cfg.NATSURL,
			Stream: cfg.NATSStream,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.SinkPostgres:
		if pool == nil {
			return nil, nil, fmt.Errorf("postgres sink requires a database connection")
		}
		return analytics.NewPostgresSink(pool), noop, nil
	default:
		return analytics.NewLogSink(logger), noop, nil
	}
}

// eventLogger logs navigation events.
type eventLogger struct {
	logger zerolog.Logger
}

var (
	_ dispatch.ProgressListener  = (*eventLogger)(nil)
	_ dispatch.MilestoneListener = (*eventLogger)(nil)
	_ dispatch.OffRouteListener  = (*eventLogger)(nil)
	_ dispatch.RunningListener   = (*eventLogger)(nil)
)

func (l *eventLogger) OnProgressChange(loc engine.Location, p progress.State) {
	l.logger.Debug().
		Str("route_id", p.RouteID()).
		Str("lifecycle", p.Lifecycle.String()).
		Int("leg_index", p.LegIndex).
		Int("step_index", p.StepIndex).
		Float64("distance_remaining", p.DistanceRemaining).
		Float64("lat", loc.Coordinate.Lat).
		Float64("lon", loc.Coordinate.Lon).
		Msg("progress")
}

func (l *eventLogger) OnMilestone(p progress.State, instruction string, m *milestone.Milestone) {
	l.logger.Info().
		Str("milestone", m.ID).
		Str("kind", string(m.Kind)).
		Int("leg_index", p.LegIndex).
		Int("step_index", p.StepIndex).
		Str("instruction", instruction).
		Msg("milestone")
}

func (l *eventLogger) OnOffRoute(loc engine.Location) {
	l.logger.Warn().
		Float64("lat", loc.Coordinate.Lat).
		Float64("lon", loc.Coordinate.Lon).
		Msg("off route")
}

func (l *eventLogger) OnNavigationRunning() {
	l.logger.Info().Msg("navigation running")
}

func (l *eventLogger) OnNavigationStopped(reason dispatch.StopReason, err error) {
	l.logger.Info().Err(err).Str("reason", string(reason)).Msg("navigation stopped")
}

// register adds l to the navigator's topics.
func (l *eventLogger) register(events *dispatch.Dispatcher) {
	events.Progress.Add(l)
	events.Milestone.Add(l)
	events.OffRoute.Add(l)
	events.Running.Add(l)
}
