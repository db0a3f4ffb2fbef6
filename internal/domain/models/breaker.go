package models

import (
	"sort"
	"strings"
	"time"
)

// BreakerStatus is the portfolio-level state of the circuit breaker.
type BreakerStatus string

const (
	BreakerNormal          BreakerStatus = "NORMAL"
	BreakerTrippedDaily    BreakerStatus = "TRIPPED_DAILY"
	BreakerTrippedDrawdown BreakerStatus = "TRIPPED_DRAWDOWN"
)

// TripScope names what a trip blocks.
type TripScope string

const (
	ScopeDaily    TripScope = "daily"
	ScopeDrawdown TripScope = "drawdown"
	ScopeStrategy TripScope = "strategy"
)

// Trip records the values that caused a breaker transition.
type Trip struct {
	Scope      TripScope `json:"scope"`
	StrategyID string    `json:"strategy_id,omitempty"`
	Reason     string    `json:"reason"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	At         time.Time `json:"at"`
}

// BreakerState is a copy of the breaker machine.
type BreakerState struct {
	Status     BreakerStatus   `json:"status"`
	Portfolio  *Trip           `json:"portfolio_trip,omitempty"`
	Strategies map[string]Trip `json:"strategy_trips,omitempty"`
}

// PortfolioTripped reports whether all admissions are blocked.
func (b BreakerState) PortfolioTripped() bool {
	return b.Status != "" && b.Status != BreakerNormal
}

// StrategyTripped reports whether admissions for id are blocked.
func (b BreakerState) StrategyTripped(id string) bool {
	_, ok := b.Strategies[id]
	return ok
}

// String renders e.g. "NORMAL", "TRIPPED_DAILY" or "NORMAL+TRIPPED_STRATEGY(grid)".
func (b BreakerState) String() string {
	status := b.Status
	if status == "" {
		status = BreakerNormal
	}
	if len(b.Strategies) == 0 {
		return string(status)
	}
	ids := make([]string, 0, len(b.Strategies))
	for id := range b.Strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids)+1)
	parts = append(parts, string(status))
	for _, id := range ids {
		parts = append(parts, "TRIPPED_STRATEGY("+id+")")
	}
	return strings.Join(parts, "+")
}
