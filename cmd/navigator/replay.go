package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/api/models"
	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/engine"
)

// drainTimeout bounds the wait for the last fix to be processed.
const drainTimeout = 5 * time.Second

func newReplayCmd(opts *options) *cobra.Command {
	src := routeSource{profile: "driving"}
	var (
		trackPath string
		pace      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a recorded track through the pipeline",
		Long: `replay navigates a saved route with fixes read from a track file, logging every
progress update, milestone and off-route report, and prints the session summary.

The track file holds a location batch: {"locations": [{"lat": ..., "lon": ..., "timestamp": ...}]}.
The navigator's clock follows the fix timestamps.`,
		Example: `  navigator replay --route route.json --track commute.json
  navigator replay --route route.json --track commute.json --pace 200ms`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			track, err := readTrack(trackPath)
			if err != nil {
				return err
			}
			summary, err := replay(cmd.Context(), cfg, src, track, pace)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}

	cmd.Flags().StringVar(&src.file, "route", "", "directions response JSON to navigate")
	cmd.Flags().StringVar(&src.profile, "profile", src.profile, "routing profile of the route file")
	cmd.Flags().IntVar(&src.routeIndex, "route-index", 0, "which route of the file to navigate")
	cmd.Flags().StringVar(&trackPath, "track", "", "location batch JSON to replay")
	cmd.Flags().DurationVar(&pace, "pace", 0, "wall-clock delay between fixes")
	_ = cmd.MarkFlagRequired("route")
	_ = cmd.MarkFlagRequired("track")

	return cmd
}

func readTrack(path string) ([]models.Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading track file: %w", err)
	}

	var batch models.LocationsRequest
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decoding track file %s: %w", path, err)
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	for i, loc := range batch.Locations {
		if err := v.Struct(loc); err != nil {
			return nil, fmt.Errorf("track fix %d: %w", i, err)
		}
	}
	if len(batch.Locations) == 0 {
		return nil, fmt.Errorf("track file %s has no fixes", path)
	}
	return batch.Locations, nil
}

// replayClock is advanced to each fix's timestamp before the fix is submitted.
type replayClock struct {
	nanos atomic.Int64
}

func (c *replayClock) Now() time.Time { return time.Unix(0, c.nanos.Load()).UTC() }

func (c *replayClock) Set(t time.Time) { c.nanos.Store(t.UnixNano()) }

func replay(ctx context.Context, cfg config.Config, src routeSource, track []models.Location, pace time.Duration) (models.Session, error) {
	log := newLogger(os.Stderr, cfg)

	r, err := src.load(ctx, nil)
	if err != nil {
		return models.Session{}, fmt.Errorf("loading route: %w", err)
	}

	// Untimed fixes are spaced one second after the previous one.
	fixes := make([]engine.Location, len(track))
	at := time.Now().UTC()
	for i, loc := range track {
		if loc.Timestamp == nil && i > 0 {
			at = fixes[i-1].Time.Add(time.Second)
		}
		fixes[i] = loc.ToEngine(at)
	}

	clock := &replayClock{}
	clock.Set(fixes[0].Time)

	nav, err := newNavigator(cfg, log, pipeline{
		Sink: analytics.NewLogSink(log),
		Now:  clock.Now,
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("creating navigator: %w", err)
	}
	(&eventLogger{logger: log}).register(nav.Events())

	if err := nav.Start(ctx, r); err != nil {
		return models.Session{}, fmt.Errorf("starting navigation: %w", err)
	}

	for i, fix := range fixes {
		clock.Set(fix.Time)
		if err := nav.UpdateLocation(ctx, fix); err != nil {
			_ = nav.Stop(context.WithoutCancel(ctx))
			return models.Session{}, fmt.Errorf("replaying fix %d: %w", i, err)
		}
		if pace > 0 {
			select {
			case <-ctx.Done():
				_ = nav.Stop(context.WithoutCancel(ctx))
				return models.Session{}, ctx.Err()
			case <-time.After(pace):
			}
		}
	}

	if !waitForFix(ctx, nav.Progress, fixes[len(fixes)-1].Time) {
		log.Warn().Msg("last fix was not processed before stopping")
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := nav.Stop(stopCtx); err != nil {
		return models.Session{}, fmt.Errorf("stopping navigation: %w", err)
	}

	summary := nav.Session()
	log.Info().
		Str("session_id", summary.SessionID).
		Int("fixes", len(fixes)).
		Int("reroutes", summary.RerouteCount).
		Bool("arrived", summary.ArrivedAt != nil).
		Msg("replay finished")
	return models.NewSession(summary), nil
}
