package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/auth"
	"github.com/breatheroute/navcore/internal/config"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/route/routetest"
)

func writeTemp(t *testing.T, name string, v any) string {
	t.Helper()
	var data []byte
	switch v := v.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// directionsFile renders r as a saved directions response.
func directionsFile(t *testing.T, r *route.Route) string {
	t.Helper()
	var legs []map[string]any
	for _, leg := range r.Legs {
		var steps []map[string]any
		for _, s := range leg.Steps {
			steps = append(steps, map[string]any{
				"name":     s.Name,
				"geometry": s.Geometry,
				"distance": s.DistanceMeters,
				"duration": s.DurationSeconds,
				"maneuver": map[string]any{
					"type":          s.Maneuver.Type,
					"modifier":      s.Maneuver.Modifier,
					"instruction":   s.Maneuver.Instruction,
					"location":      []float64{s.Maneuver.Location.Lon, s.Maneuver.Location.Lat},
					"bearing_after": s.Maneuver.BearingAfter,
				},
			})
		}
		legs = append(legs, map[string]any{
			"summary":  leg.Summary,
			"distance": leg.DistanceMeters,
			"duration": leg.DurationSeconds,
			"steps":    steps,
		})
	}
	return writeTemp(t, "route.json", map[string]any{
		"code": "Ok",
		"uuid": "saved",
		"routes": []map[string]any{{
			"distance": r.DistanceMeters,
			"duration": r.DurationSeconds,
			"legs":     legs,
		}},
	})
}

func TestParseWaypoints(t *testing.T) {
	pts, err := parseWaypoints("52.1, 4.3; 52.2,4.4;52.3,4.5")
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.InDelta(t, 52.2, pts[1].Lat, 1e-9)
	assert.InDelta(t, 4.5, pts[2].Lon, 1e-9)

	for _, in := range []string{"", "52.1,4.3", "52.1;4.3", "north,4.3;52,4", "52,east;52,4"} {
		_, err := parseWaypoints(in)
		assert.Error(t, err, in)
	}
}

func TestReadTrack(t *testing.T) {
	locs, err := readTrack(writeTemp(t, "track.json",
		`{"locations":[{"lat":52.0,"lon":4.0,"timestamp":"2026-01-01T10:00:00Z"},{"lat":52.001,"lon":4.0}]}`))
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.NotNil(t, locs[0].Timestamp)
	assert.Nil(t, locs[1].Timestamp)

	tests := map[string]string{
		"empty":        `{"locations":[]}`,
		"malformed":    `{"locations":`,
		"bad latitude": `{"locations":[{"lat":95,"lon":4}]}`,
		"bad bearing":  `{"locations":[{"lat":52,"lon":4,"bearing":360}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := readTrack(writeTemp(t, "track.json", body))
			assert.Error(t, err)
		})
	}

	_, err = readTrack(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestReplayClock(t *testing.T) {
	var c replayClock
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	c.Set(at)
	assert.True(t, c.Now().Equal(at))

	c.Set(at.Add(1500 * time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, c.Now().Sub(at))
}

func TestWaitForFix(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	latest := func() (progress.State, bool) {
		return progress.State{Location: engine.Location{Time: at}}, true
	}

	assert.True(t, waitForFix(context.Background(), latest, at))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, waitForFix(ctx, latest, at.Add(time.Second)))

	none := func() (progress.State, bool) { return progress.State{}, false }
	assert.False(t, waitForFix(ctx, none, at))
}

func TestRouteSource_Load(t *testing.T) {
	path := directionsFile(t, routetest.Straight("r", []float64{100, 200}))

	r, err := routeSource{file: path, profile: "walking"}.load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "saved#0", r.ID)
	assert.Equal(t, "walking", r.Profile)
	assert.InDelta(t, 300, r.DistanceMeters, 1e-6)

	_, err = routeSource{file: path, routeIndex: 1}.load(context.Background(), nil)
	assert.ErrorContains(t, err, "out of range")

	_, err = routeSource{}.load(context.Background(), nil)
	assert.Error(t, err)

	_, err = routeSource{waypoints: "52,4;52.1,4"}.load(context.Background(), nil)
	assert.Error(t, err, "waypoints need a fetcher")

	_, err = routeSource{file: writeTemp(t, "none.json", `{"code":"Ok","routes":[]}`)}.load(context.Background(), nil)
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	r := routetest.Straight("r", []float64{100, 200})
	src := routeSource{file: directionsFile(t, r), profile: "driving"}

	start := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	var track []map[string]any
	for i, m := range []float64{0, 50, 100, 150, 200, 250, 300} {
		p := routetest.PointAt(m, 0)
		track = append(track, map[string]any{
			"lat":       p.Lat,
			"lon":       p.Lon,
			"speed":     10,
			"timestamp": start.Add(time.Duration(i) * 5 * time.Second).Format(time.RFC3339),
		})
	}
	fixes, err := readTrack(writeTemp(t, "track.json", map[string]any{"locations": track}))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Service.LogLevel = "error"

	summary, err := replay(context.Background(), cfg, src, fixes, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.SessionID)
	assert.Equal(t, 0, summary.RerouteCount)
	assert.True(t, time.Time(summary.StartedAt).Equal(start))
}

func TestTokenCmd(t *testing.T) {
	path := writeTemp(t, "navcore.yml", "auth:\n  signing_key: test-signing-key-0123456789\n")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--config", path, "token", "--device", "dev_1", "--scope", "navigation,admin"})
	require.NoError(t, cmd.Execute())

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-signing-key-0123456789",
		Issuer:     "navcore",
		Audience:   "navcore-devices",
	})
	claims, err := jwtService.ValidateAccessToken(strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.Equal(t, "dev_1", claims.DeviceID)
	assert.True(t, claims.HasScope(auth.ScopeAdmin))
	assert.Contains(t, stderr.String(), "expires")
}

func TestTokenCmd_RequiresDevice(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token"})
	assert.Error(t, cmd.Execute())
}

func TestNewSink(t *testing.T) {
	ctx := context.Background()
	logger := newLogger(&bytes.Buffer{}, config.Default())

	sink, closer, err := newSink(ctx, config.AnalyticsConfig{Sink: config.SinkLog, LogEvents: true}, logger, nil)
	require.NoError(t, err)
	assert.IsType(t, &analytics.LogSink{}, sink)
	assert.NoError(t, closer())

	_, _, err = newSink(ctx, config.AnalyticsConfig{Sink: config.SinkPostgres}, logger, nil)
	assert.Error(t, err, "postgres sink needs a pool")
}
