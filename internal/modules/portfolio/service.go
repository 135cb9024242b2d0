// Package portfolio keeps the local account mirror. Snapshots come
// from the broker and replace the cached state wholesale; nothing here
// patches positions incrementally.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/domain"
)

// DefaultMaxAge is how old a cached snapshot may be before Current
// refreshes it from the broker.
const DefaultMaxAge = 30 * time.Second

// Service caches the latest broker portfolio snapshot.
type Service struct {
	broker domain.Broker
	maxAge time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	snapshot domain.PortfolioState
	hasState bool
}

// NewService creates the portfolio mirror. A maxAge of zero falls back
// to the default.
func NewService(broker domain.Broker, maxAge time.Duration, log zerolog.Logger) *Service {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Service{
		broker: broker,
		maxAge: maxAge,
		log:    log.With().Str("component", "portfolio").Logger(),
	}
}

// Current returns the account snapshot, refreshing from the broker
// when the cached one is older than maxAge. If the broker is
// unreachable but a cached snapshot exists, the stale snapshot is
// served with a warning: pre-trade checks degrade to slightly old
// data instead of blocking every order on a broker hiccup.
func (s *Service) Current(ctx context.Context) (domain.PortfolioState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasState && time.Since(s.snapshot.AsOf) <= s.maxAge {
		return s.snapshot, nil
	}

	fresh, err := s.broker.Portfolio(ctx)
	if err != nil {
		if s.hasState {
			s.log.Warn().Err(err).
				Time("as_of", s.snapshot.AsOf).
				Msg("Portfolio refresh failed, serving stale snapshot")
			return s.snapshot, nil
		}
		return domain.PortfolioState{}, fmt.Errorf("portfolio refresh: %w", err)
	}

	s.store(fresh)
	return s.snapshot, nil
}

// Refresh forces a broker round trip regardless of snapshot age.
func (s *Service) Refresh(ctx context.Context) (domain.PortfolioState, error) {
	fresh, err := s.broker.Portfolio(ctx)
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("portfolio refresh: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(fresh)
	return s.snapshot, nil
}

// store replaces the cached snapshot. Caller holds the mutex.
func (s *Service) store(fresh domain.PortfolioState) {
	s.snapshot = fresh
	s.hasState = true
	s.log.Debug().
		Int("positions", len(fresh.Positions)).
		Str("nav", fresh.NAV.String()).
		Time("as_of", fresh.AsOf).
		Msg("Portfolio snapshot replaced")
}

// AsOf reports the age marker of the cached snapshot, zero when no
// snapshot has been taken yet.
func (s *Service) AsOf() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.AsOf
}
