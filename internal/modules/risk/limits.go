package risk

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/events"
)

// DefaultLimits are the guardrails used when none are configured.
func DefaultLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionPct:      decimal.NewFromFloat(0.10),
		MaxConcentrationPct: decimal.NewFromFloat(0.30),
		DailyLossLimitPct:   decimal.NewFromFloat(0.03),
	}
}

// LimitsStore holds the account risk limits. Reads happen on every
// order placement; the kill switch must take effect immediately, so
// the store is never cached by callers.
type LimitsStore struct {
	mu     sync.RWMutex
	limits domain.RiskLimits
	bus    *events.Bus
	log    zerolog.Logger
}

// NewLimitsStore creates a store with the given initial limits. bus
// may be nil.
func NewLimitsStore(initial domain.RiskLimits, bus *events.Bus, log zerolog.Logger) *LimitsStore {
	return &LimitsStore{
		limits: initial,
		bus:    bus,
		log:    log.With().Str("component", "limits_store").Logger(),
	}
}

// Limits returns the current limits.
func (s *LimitsStore) Limits() domain.RiskLimits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// Update replaces the limits. A kill switch flip is published.
func (s *LimitsStore) Update(limits domain.RiskLimits) {
	s.mu.Lock()
	changed := s.limits.KillSwitch != limits.KillSwitch
	s.limits = limits
	s.mu.Unlock()

	if changed {
		s.announceKillSwitch(limits.KillSwitch)
	}
}

// SetKillSwitch flips only the kill switch.
func (s *LimitsStore) SetKillSwitch(active bool) {
	s.mu.Lock()
	changed := s.limits.KillSwitch != active
	s.limits.KillSwitch = active
	s.mu.Unlock()

	if changed {
		s.announceKillSwitch(active)
	}
}

func (s *LimitsStore) announceKillSwitch(active bool) {
	if active {
		s.log.Warn().Msg("Kill switch engaged, all order placement halted")
	} else {
		s.log.Info().Msg("Kill switch released")
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicKillSwitchChanged, active)
	}
}
