package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// options are the flags shared by every command.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "navigator",
		Short: "Turn-by-turn navigation progress engine",
		Long: `navigator tracks a traveler along a route: it turns positioning fixes into route
progress, fires guidance milestones, detects off-route and faster-route situations and
reports session events.

Configuration is read from --config (YAML) and NAVCORE_* environment variables.`,
		SilenceUsage: true,
		Version:      Version,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("NAVCORE_CONFIG"), "path to a YAML configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger.
func newLogger(w io.Writer, cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", Version).
		Str("environment", cfg.Service.Environment).
		Logger()
}

// parseWaypoints parses "lat,lon;lat,lon;...".
func parseWaypoints(s string) ([]polyline.Coordinate, error) {
	var out []polyline.Coordinate
	for i, pair := range strings.Split(s, ";") {
		latStr, lonStr, ok := strings.Cut(strings.TrimSpace(pair), ",")
		if !ok {
			return nil, fmt.Errorf("waypoint %d: expected lat,lon", i)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %d latitude: %w", i, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil {
			return nil, fmt.Errorf("waypoint %d longitude: %w", i, err)
		}
		out = append(out, polyline.Coordinate{Lat: lat, Lon: lon})
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("at least two waypoints are required")
	}
	return out, nil
}
