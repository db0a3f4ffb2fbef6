package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
)

// BreakerConfig holds loss limits as positive fractions of capital.
type BreakerConfig struct {
	DailyLossLimit    float64
	DrawdownLimit     float64
	StrategyLossLimit float64
}

// Breaker is the session circuit breaker. Transitions are monotone: a tripped
// scope stays tripped until Reset starts a new session.
type Breaker struct {
	mu         sync.RWMutex
	cfg        BreakerConfig
	status     models.BreakerStatus
	portfolio  *models.Trip
	strategies map[string]models.Trip
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:        cfg,
		status:     models.BreakerNormal,
		strategies: make(map[string]models.Trip),
	}
}

// Evaluate checks the capital book and per-strategy realized P&L against the limits
// and returns the trips that happened in this call.
func (b *Breaker) Evaluate(c models.CapitalState, strategyPnL map[string]float64, now time.Time) []models.Trip {
	b.mu.Lock()
	defer b.mu.Unlock()

	var trips []models.Trip
	if base := c.DayBase(); b.portfolio == nil && base > 0 {
		daily := c.RealizedPnLToday / base
		if b.cfg.DailyLossLimit > 0 && daily <= -b.cfg.DailyLossLimit {
			t := models.Trip{
				Scope:     models.ScopeDaily,
				Reason:    fmt.Sprintf("daily loss %.2f%% breached limit %.2f%%", -daily*100, b.cfg.DailyLossLimit*100),
				Value:     daily,
				Threshold: -b.cfg.DailyLossLimit,
				At:        now,
			}
			b.portfolio, b.status = &t, models.BreakerTrippedDaily
			trips = append(trips, t)
		}
	}
	if b.portfolio == nil && c.PeakCapital > 0 {
		dd := (c.TotalCapital - c.PeakCapital) / c.PeakCapital
		if b.cfg.DrawdownLimit > 0 && dd <= -b.cfg.DrawdownLimit {
			t := models.Trip{
				Scope:     models.ScopeDrawdown,
				Reason:    fmt.Sprintf("drawdown %.2f%% from peak %.2f breached limit %.2f%%", -dd*100, c.PeakCapital, b.cfg.DrawdownLimit*100),
				Value:     dd,
				Threshold: -b.cfg.DrawdownLimit,
				At:        now,
			}
			b.portfolio, b.status = &t, models.BreakerTrippedDrawdown
			trips = append(trips, t)
		}
	}

	if b.cfg.StrategyLossLimit > 0 && c.TotalCapital > 0 {
		limit := -b.cfg.StrategyLossLimit * c.TotalCapital
		ids := make([]string, 0, len(strategyPnL))
		for id := range strategyPnL {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, done := b.strategies[id]; done {
				continue
			}
			pnl := strategyPnL[id]
			if pnl > limit {
				continue
			}
			t := models.Trip{
				Scope:      models.ScopeStrategy,
				StrategyID: id,
				Reason:     fmt.Sprintf("strategy %s realized %.2f breached limit %.2f", id, pnl, limit),
				Value:      pnl,
				Threshold:  limit,
				At:         now,
			}
			b.strategies[id] = t
			trips = append(trips, t)
		}
	}
	return trips
}

// State returns a copy of the machine.
func (b *Breaker) State() models.BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := models.BreakerState{Status: b.status}
	if b.portfolio != nil {
		t := *b.portfolio
		st.Portfolio = &t
	}
	if len(b.strategies) > 0 {
		st.Strategies = make(map[string]models.Trip, len(b.strategies))
		for k, v := range b.strategies {
			st.Strategies[k] = v
		}
	}
	return st
}

// PortfolioTripped reports whether all admissions are blocked.
func (b *Breaker) PortfolioTripped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.portfolio != nil
}

// Restore merges a persisted state for the same session. It can only add trips.
func (b *Breaker) Restore(st models.BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.portfolio == nil && st.Portfolio != nil {
		t := *st.Portfolio
		b.portfolio = &t
		b.status = st.Status
	}
	for id, t := range st.Strategies {
		if _, ok := b.strategies[id]; !ok {
			b.strategies[id] = t
		}
	}
}

// Reset returns every scope to NORMAL. Only a new session may call it.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = models.BreakerNormal
	b.portfolio = nil
	b.strategies = make(map[string]models.Trip)
}
