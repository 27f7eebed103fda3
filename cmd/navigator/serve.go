package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/api"
	"github.com/breatheroute/navcore/internal/api/middleware"
	"github.com/breatheroute/navcore/internal/auth"
	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/database"
	"github.com/breatheroute/navcore/internal/directions"
	"github.com/breatheroute/navcore/internal/featureflags"
	"github.com/breatheroute/navcore/internal/ingest"
	"github.com/breatheroute/navcore/internal/provider/resilience"
	"github.com/breatheroute/navcore/internal/refresh"
	"github.com/breatheroute/navcore/internal/telemetry"
)

func newServeCmd(opts *options) *cobra.Command {
	src := routeSource{profile: "driving"}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Navigate a route and serve the navigation API",
		Long: `serve starts a navigation session on the given route and exposes it over HTTP.
Fixes arrive through POST /v1/navigation/locations and, when ingest is enabled, from a
Pub/Sub subscription. Off-route and faster-route signals trigger reroutes and the route's
annotations are refreshed periodically.`,
		Example: `  navigator serve --route route.json
  navigator serve --waypoints "52.3676,4.9041;52.0907,5.1214" --profile cycling`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, src)
		},
	}

	cmd.Flags().StringVar(&src.file, "route", "", "directions response JSON to navigate")
	cmd.Flags().StringVar(&src.waypoints, "waypoints", "", `waypoints to fetch a route for, as "lat,lon;lat,lon"`)
	cmd.Flags().StringVar(&src.profile, "profile", src.profile, "routing profile")
	cmd.Flags().IntVar(&src.routeIndex, "route-index", 0, "which of the returned routes to navigate")
	cmd.MarkFlagsMutuallyExclusive("route", "waypoints")
	cmd.MarkFlagsOneRequired("route", "waypoints")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, src routeSource) error {
	log := newLogger(os.Stdout, cfg)
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting navigator")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	httpMetrics, err := middleware.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("initializing http metrics: %w", err)
	}
	navMetrics, err := telemetry.NewNavigationMetrics(tp.Meter)
	if err != nil {
		return fmt.Errorf("initializing navigation metrics: %w", err)
	}

	// Connect to database
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		pool, err = database.Connect(ctx, cfg.Database.Config)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
	}

	// Session event transport
	transport, closeTransport, err := newSink(ctx, cfg.Analytics, log, pool)
	if err != nil {
		return fmt.Errorf("creating %s analytics sink: %w", cfg.Analytics.Sink, err)
	}
	sink := analytics.NewAsyncSink(transport, analytics.AsyncSinkConfig{
		QueueSize:   cfg.Analytics.QueueSize,
		SendTimeout: cfg.Analytics.SendTimeout,
		Logger:      log,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Analytics.SendTimeout)
		defer cancel()
		if err := sink.Close(closeCtx); err != nil {
			log.Warn().Err(err).Int64("dropped", sink.Dropped()).Msg("analytics sink did not drain")
		}
		if err := closeTransport(); err != nil {
			log.Warn().Err(err).Msg("failed to close analytics transport")
		}
	}()

	// Feature flags
	var flagRepo featureflags.Repository = featureflags.NewInMemoryRepository()
	if cfg.FeatureFlags.Source == config.FlagsPostgres {
		flagRepo = featureflags.NewPostgresRepository(pool)
	}
	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: flagRepo,
		Logger:     log,
		CacheTTL:   cfg.FeatureFlags.CacheTTL,
	})
	go flags.Run(ctx, cfg.FeatureFlags.CacheTTL)

	// Directions
	registry := resilience.NewRegistry()
	directionsClient := directions.NewClient(directions.ClientConfig{
		AccessToken: cfg.Directions.AccessToken,
		BaseURL:     cfg.Directions.BaseURL,
		Timeout:     cfg.Directions.Timeout,
		Registry:    registry,
		Tracer:      tp.Tracer,
		Logger:      log,
	})

	nav, err := newNavigator(cfg, log, pipeline{
		Sink:               sink,
		Metrics:            navMetrics,
		OffRouteEnabled:    flags.Gate(featureflags.FlagEnableOffRouteDetection),
		FasterRouteEnabled: flags.Gate(featureflags.FlagEnableFasterRoute),
	})
	if err != nil {
		return fmt.Errorf("creating navigator: %w", err)
	}
	(&eventLogger{logger: log}).register(nav.Events())

	r, err := src.load(ctx, directionsClient)
	if err != nil {
		return fmt.Errorf("loading route: %w", err)
	}
	if err := nav.Start(ctx, r); err != nil {
		return fmt.Errorf("starting navigation: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := nav.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("navigation did not stop cleanly")
		}
	}()

	if cfg.Reroute.Enabled {
		rerouter, err := directions.NewRerouter(directions.RerouterConfig{
			Directions:  directionsClient,
			Target:      nav,
			MinInterval: cfg.Reroute.MinInterval,
			MinSavings:  cfg.Reroute.MinSavings,
			Enabled:     flags.Gate(featureflags.FlagEnableReroute),
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("creating rerouter: %w", err)
		}
		nav.Events().OffRoute.Add(rerouter)
		nav.Events().FasterRoute.Add(rerouter)
		go func() { _ = rerouter.Run(ctx) }()
	}

	if cfg.Refresh.Enabled {
		controller, err := refresh.New(refresh.Config{
			Refresher: directionsClient,
			Target:    nav,
			Interval:  cfg.Refresh.Interval,
			Timeout:   cfg.Refresh.Timeout,
			Enabled:   flags.Gate(featureflags.FlagEnableRouteRefresh),
			Logger:    log,
			Metrics:   navMetrics,
			Tracer:    tp.Tracer,
		})
		if err != nil {
			return fmt.Errorf("creating refresh controller: %w", err)
		}
		go controller.Run(ctx)
	}

	var tokens middleware.TokenValidator
	if cfg.Auth.Enabled {
		if cfg.Auth.SigningKey == config.DevSigningKey {
			log.Warn().Msg("using the development JWT signing key - not secure for production")
		}
		tokens = auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			TTL:        cfg.Auth.TokenTTL,
		})
	} else {
		log.Warn().Msg("device authentication disabled")
	}

	errCh := make(chan error, 2)

	if cfg.Ingest.Enabled {
		subscriber, err := ingest.NewSubscriber(ctx, ingest.Config{
			ProjectID:        cfg.Ingest.Project,
			SubscriptionName: cfg.Ingest.Subscription,
			MaxOutstanding:   cfg.Ingest.MaxOutstanding,
			Updater:          nav,
			Logger:           log,
		})
		if err != nil {
			return fmt.Errorf("creating ingest subscriber: %w", err)
		}
		defer subscriber.Close()
		go func() {
			if err := subscriber.Start(ctx); err != nil {
				errCh <- fmt.Errorf("ingest: %w", err)
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:           Version,
		BuildTime:         BuildTime,
		Logger:            log,
		Metrics:           httpMetrics,
		Tokens:            tokens,
		RequireTLS:        cfg.Server.RequireTLS,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Navigator:         nav,
		Registry:          registry,
		Flags:             flags,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("shutting down after failure")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
	return runErr
}
