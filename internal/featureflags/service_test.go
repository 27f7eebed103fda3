package featureflags_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/featureflags"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingRepository struct {
	featureflags.Repository
}

func (failingRepository) GetFlag(context.Context, string) (*featureflags.Flag, error) {
	return nil, errors.New("connection refused")
}

func (failingRepository) GetAllFlags(context.Context) (map[string]*featureflags.Flag, error) {
	return nil, errors.New("connection refused")
}

func newService(repo featureflags.Repository) *featureflags.Service {
	return featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   1 * time.Minute,
	})
}

func TestService_GetFlag(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	// Defaults apply when the repository is empty
	flag := service.GetFlag(ctx, featureflags.FlagEnableReroute)
	if flag == nil {
		t.Fatal("expected flag to be returned")
	}
	if flag.Key != featureflags.FlagEnableReroute {
		t.Errorf("expected key %q, got %q", featureflags.FlagEnableReroute, flag.Key)
	}
	if !flag.BoolValue(false) {
		t.Error("expected enable_reroute to be true by default")
	}

	if service.GetFlag(ctx, "unknown") != nil {
		t.Error("expected nil for unknown flag")
	}
}

func TestService_SetFlag(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	err := service.SetFlag(ctx, &featureflags.Flag{
		Key:   featureflags.FlagEnableFasterRoute,
		Value: false,
	})
	if err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	flag := service.GetFlag(ctx, featureflags.FlagEnableFasterRoute)
	if flag == nil {
		t.Fatal("expected flag to be returned")
	}
	if flag.BoolValue(true) {
		t.Error("expected enable_faster_route to be false after update")
	}
	if flag.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestService_SetFlags(t *testing.T) {
	service := newService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	err := service.SetFlags(ctx, []*featureflags.Flag{
		{Key: featureflags.FlagEnableRouteRefresh, Value: false},
		{Key: featureflags.FlagOffRouteThreshold, Value: float64(75)},
	})
	if err != nil {
		t.Fatalf("failed to set flags: %v", err)
	}

	if service.RouteRefreshEnabled(ctx) {
		t.Error("expected route refresh to be disabled")
	}
	if got := service.GetFlag(ctx, featureflags.FlagOffRouteThreshold).Float64Value(50); got != 75 {
		t.Errorf("expected threshold 75, got %v", got)
	}
}

func TestService_GetAllFlags(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithFlags(map[string]*featureflags.Flag{
		featureflags.FlagEnableReroute: {Key: featureflags.FlagEnableReroute, Value: false},
	})
	service := newService(repo)

	flags := service.GetAllFlags(context.Background())

	if len(flags) != 4 {
		t.Errorf("expected 4 flags, got %d", len(flags))
	}
	if flags[featureflags.FlagEnableReroute].BoolValue(true) {
		t.Error("expected repository value to override default")
	}
	if !flags[featureflags.FlagEnableOffRouteDetection].BoolValue(false) {
		t.Error("expected default for flag missing from repository")
	}
}

func TestService_InvalidateCache(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := newService(repo)
	ctx := context.Background()

	if err := service.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagEnableReroute, Value: false}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	// Write directly to the repository; the cache still holds the old value
	if err := repo.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagEnableReroute, Value: true}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if service.RerouteEnabled(ctx) {
		t.Error("expected cached value before invalidation")
	}

	service.InvalidateCache()

	if !service.RerouteEnabled(ctx) {
		t.Error("expected repository value after invalidation")
	}
}

func TestService_CacheExpires(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	repo := featureflags.NewInMemoryRepository()
	service := featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   time.Minute,
		Now:        c.Now,
	})
	ctx := context.Background()

	if err := service.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagEnableFasterRoute, Value: true}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if err := repo.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagEnableFasterRoute, Value: false}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	if !service.FasterRouteEnabled(ctx) {
		t.Error("expected cached value within TTL")
	}

	c.Advance(2 * time.Minute)

	if service.FasterRouteEnabled(ctx) {
		t.Error("expected repository value after TTL")
	}
}

func TestService_ConvenienceMethods(t *testing.T) {
	service := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
		DefaultFlags: featureflags.DefaultFlags(featureflags.Defaults{
			OffRouteDetection: true,
			RouteRefresh:      true,
		}),
	})
	ctx := context.Background()

	if !service.OffRouteDetectionEnabled(ctx) {
		t.Error("expected off-route detection to be enabled")
	}
	if service.FasterRouteEnabled(ctx) {
		t.Error("expected faster route to be disabled")
	}
	if !service.RouteRefreshEnabled(ctx) {
		t.Error("expected route refresh to be enabled")
	}
	if service.RerouteEnabled(ctx) {
		t.Error("expected reroute to be disabled")
	}
}

func TestService_Gate(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithFlags(map[string]*featureflags.Flag{
		featureflags.FlagEnableOffRouteDetection: {Key: featureflags.FlagEnableOffRouteDetection, Value: false},
	})
	service := newService(repo)
	offRoute := service.Gate(featureflags.FlagEnableOffRouteDetection)
	reroute := service.Gate(featureflags.FlagEnableReroute)

	// Before a sync the gate only knows defaults
	if !offRoute() {
		t.Error("expected default before sync")
	}

	service.GetAllFlags(context.Background())

	if offRoute() {
		t.Error("expected synced repository value")
	}
	if !reroute() {
		t.Error("expected default for flag missing from repository")
	}
	if service.Gate("unknown")() {
		t.Error("expected unknown gate to be closed")
	}
}

func TestService_ResetFlag(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithFlags(map[string]*featureflags.Flag{
		featureflags.FlagEnableFasterRoute: {Key: featureflags.FlagEnableFasterRoute, Value: false},
	})
	service := newService(repo)
	ctx := context.Background()
	fasterRoute := service.Gate(featureflags.FlagEnableFasterRoute)

	service.GetAllFlags(ctx)
	if fasterRoute() {
		t.Fatal("expected stored override before reset")
	}

	if err := service.ResetFlag(ctx, featureflags.FlagEnableFasterRoute); err != nil {
		t.Fatalf("ResetFlag() error = %v", err)
	}
	if !fasterRoute() {
		t.Error("expected gate to fall back to the default")
	}
	if !service.FasterRouteEnabled(ctx) {
		t.Error("expected flag to report the default")
	}

	err := service.ResetFlag(ctx, featureflags.FlagEnableFasterRoute)
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("second ResetFlag() error = %v, want ErrFlagNotFound", err)
	}
}

func TestService_RunSyncs(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := newService(repo)
	gate := service.Gate(featureflags.FlagEnableRouteRefresh)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		service.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	if err := repo.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagEnableRouteRefresh, Value: false}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gate() {
		if time.Now().After(deadline) {
			t.Fatal("gate never picked up repository value")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_RepositoryFailureUsesDefaults(t *testing.T) {
	service := newService(failingRepository{})
	ctx := context.Background()

	if !service.IsEnabled(ctx, featureflags.FlagEnableOffRouteDetection) {
		t.Error("expected default when repository fails")
	}
	if got := len(service.GetAllFlags(ctx)); got != 4 {
		t.Errorf("expected 4 default flags, got %d", got)
	}
}

func TestFlag_ValueHelpers(t *testing.T) {
	tests := []struct {
		name         string
		value        any
		wantBool     bool
		wantInt      int
		wantFloat    float64
		wantDuration time.Duration
	}{
		{
			name:         "boolean true",
			value:        true,
			wantBool:     true,
			wantInt:      42,
			wantFloat:    3.5,
			wantDuration: time.Second,
		},
		{
			name:         "boolean false",
			value:        false,
			wantBool:     false,
			wantInt:      42,
			wantFloat:    3.5,
			wantDuration: time.Second,
		},
		{
			name:         "duration string",
			value:        "90s",
			wantBool:     false,
			wantInt:      42,
			wantFloat:    3.5,
			wantDuration: 90 * time.Second,
		},
		{
			name:         "float64 value",
			value:        42.5,
			wantBool:     true, // non-zero
			wantInt:      42,
			wantFloat:    42.5,
			wantDuration: 42500 * time.Millisecond,
		},
		{
			name:         "int value (as float64 from JSON)",
			value:        float64(100),
			wantBool:     true,
			wantInt:      100,
			wantFloat:    100,
			wantDuration: 100 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := &featureflags.Flag{Key: "test", Value: tt.value, UpdatedAt: time.Now()}

			if got := flag.BoolValue(false); got != tt.wantBool {
				t.Errorf("BoolValue() = %v, want %v", got, tt.wantBool)
			}
			if got := flag.IntValue(42); got != tt.wantInt {
				t.Errorf("IntValue() = %v, want %v", got, tt.wantInt)
			}
			if got := flag.Float64Value(3.5); got != tt.wantFloat {
				t.Errorf("Float64Value() = %v, want %v", got, tt.wantFloat)
			}
			if got := flag.DurationValue(time.Second); got != tt.wantDuration {
				t.Errorf("DurationValue() = %v, want %v", got, tt.wantDuration)
			}
		})
	}
}

func TestFlag_NilFlag(t *testing.T) {
	var flag *featureflags.Flag

	if flag.BoolValue(true) != true {
		t.Error("expected default value for nil flag")
	}
	if flag.IntValue(42) != 42 {
		t.Error("expected default value for nil flag")
	}
	if flag.Float64Value(3.5) != 3.5 {
		t.Error("expected default value for nil flag")
	}
	if flag.DurationValue(time.Minute) != time.Minute {
		t.Error("expected default value for nil flag")
	}
}

func TestInMemoryRepository_GetFlag_NotFound(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()

	_, err := repo.GetFlag(context.Background(), "nonexistent")
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound, got %v", err)
	}
}

func TestInMemoryRepository_CopiesValues(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	flag := &featureflags.Flag{Key: featureflags.FlagEnableReroute, Value: true}
	if err := repo.SetFlag(ctx, flag); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	flag.Value = false

	got, err := repo.GetFlag(ctx, featureflags.FlagEnableReroute)
	if err != nil {
		t.Fatalf("failed to get flag: %v", err)
	}
	if !got.BoolValue(false) {
		t.Error("expected stored value to be unaffected by caller mutation")
	}
}

func TestInMemoryRepository_DeleteFlag(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithFlags(featureflags.DefaultFlags(featureflags.AllEnabled()))
	ctx := context.Background()

	if err := repo.DeleteFlag(ctx, featureflags.FlagEnableReroute); err != nil {
		t.Fatalf("failed to delete flag: %v", err)
	}

	_, err := repo.GetFlag(ctx, featureflags.FlagEnableReroute)
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound after delete, got %v", err)
	}

	err = repo.DeleteFlag(ctx, "nonexistent")
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound for non-existent flag, got %v", err)
	}
}
