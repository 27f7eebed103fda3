package featureflags

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository   Repository
	Logger       zerolog.Logger
	CacheTTL     time.Duration // How long to cache flags in memory
	DefaultFlags map[string]*Flag

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service evaluates feature flags with an in-memory cache and fallback to defaults.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag
	now          func() time.Time

	mu          sync.RWMutex
	cache       map[string]*Flag
	cacheExpiry time.Time
}

// NewService creates a feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Minute
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags(AllEnabled())
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:         cfg.Repository,
		logger:       cfg.Logger,
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
		now:          now,
		cache:        make(map[string]*Flag),
	}
}

// GetFlag retrieves a flag by key: from the cache when fresh, else from the repository,
// else from the defaults. Returns nil when the flag is unknown.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	if flag := s.getCached(key); flag != nil {
		return flag
	}

	flag, err := s.repo.GetFlag(ctx, key)
	if err == nil {
		s.setCached(key, flag)
		return flag
	}

	if !errors.Is(err, ErrFlagNotFound) {
		s.logger.Warn().Err(err).Str("flag", key).Msg("failed to get feature flag from repository")
	}

	return s.defaultFlags[key]
}

// GetAllFlags returns the repository flags merged over the defaults and refreshes the cache.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	result := make(map[string]*Flag, len(s.defaultFlags))
	for k, v := range s.defaultFlags {
		result[k] = v
	}

	flags, err := s.repo.GetAllFlags(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to get feature flags from repository, using defaults")
		return result
	}

	for k, v := range flags {
		result[k] = v
	}
	if flags == nil {
		flags = make(map[string]*Flag)
	}

	s.mu.Lock()
	s.cache = flags
	s.cacheExpiry = s.now().Add(s.cacheTTL)
	s.mu.Unlock()

	return result
}

// SetFlag updates a feature flag.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	flag.UpdatedAt = s.now()
	if err := s.repo.SetFlag(ctx, flag); err != nil {
		return err
	}
	s.setCached(flag.Key, flag)
	return nil
}

// SetFlags updates multiple feature flags atomically.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	now := s.now()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}

	if err := s.repo.SetFlags(ctx, flags); err != nil {
		return err
	}

	s.mu.Lock()
	for _, flag := range flags {
		s.cache[flag.Key] = flag
	}
	s.mu.Unlock()

	return nil
}

// ResetFlag removes the stored value for key so the flag reverts to its default.
// Returns ErrFlagNotFound when nothing was stored.
func (s *Service) ResetFlag(ctx context.Context, key string) error {
	if err := s.repo.DeleteFlag(ctx, key); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// InvalidateCache clears the cached flags, forcing a repository read on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Flag)
	s.cacheExpiry = time.Time{}
}

// IsEnabled reports whether the flag with the given key is truthy.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

// Gate returns a check for key that never touches the repository: it reads the last
// synced value, falling back to the default. Gates are safe to call from the navigation
// worker; keep them current with Run.
func (s *Service) Gate(key string) func() bool {
	return func() bool {
		s.mu.RLock()
		flag, ok := s.cache[key]
		s.mu.RUnlock()
		if !ok {
			flag = s.defaultFlags[key]
		}
		return flag.BoolValue(false)
	}
}

// Run syncs the cache from the repository every interval until ctx is cancelled.
// The first sync happens immediately.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cacheTTL
	}
	s.GetAllFlags(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.GetAllFlags(ctx)
		}
	}
}

func (s *Service) getCached(key string) *Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.now().After(s.cacheExpiry) {
		return nil
	}
	return s.cache[key]
}

func (s *Service) setCached(key string, flag *Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = flag
	if s.cacheExpiry.Before(s.now()) {
		s.cacheExpiry = s.now().Add(s.cacheTTL)
	}
}

// OffRouteDetectionEnabled reports whether off-route detection is on.
func (s *Service) OffRouteDetectionEnabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagEnableOffRouteDetection)
}

// FasterRouteEnabled reports whether faster-route checks are on.
func (s *Service) FasterRouteEnabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagEnableFasterRoute)
}

// RouteRefreshEnabled reports whether route refreshes are on.
func (s *Service) RouteRefreshEnabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagEnableRouteRefresh)
}

// RerouteEnabled reports whether automatic rerouting is on.
func (s *Service) RerouteEnabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagEnableReroute)
}
