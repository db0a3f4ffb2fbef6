package models

import "time"

// CapitalState is the process-wide capital book. Single writer: the scheduler.
type CapitalState struct {
	TotalCapital     float64 `json:"total_capital"`
	DeployedCapital  float64 `json:"deployed_capital"`
	AvailableCapital float64 `json:"available_capital"`
	PeakCapital      float64 `json:"peak_capital"`
	RealizedPnLTotal float64 `json:"realized_pnl_total"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	DayStartCapital  float64 `json:"day_start_capital"`
	OpenPositions    int     `json:"open_positions"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
}

// WinRate returns wins / (wins+losses), 0 when nothing closed yet.
func (c CapitalState) WinRate() float64 {
	n := c.Wins + c.Losses
	if n == 0 {
		return 0
	}
	return float64(c.Wins) / float64(n)
}

// DayBase is total capital at the start of the trading day. Without a recorded value it
// is total capital before today's realized P&L.
func (c CapitalState) DayBase() float64 {
	if c.DayStartCapital > 0 {
		return c.DayStartCapital
	}
	return c.TotalCapital - c.RealizedPnLToday
}

// Utilization is deployed / total.
func (c CapitalState) Utilization() float64 {
	if c.TotalCapital <= 0 {
		return 0
	}
	return c.DeployedCapital / c.TotalCapital
}

// StrategyStats aggregates realized results per strategy.
type StrategyStats struct {
	StrategyID  string  `json:"strategy_id"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
	Open        int     `json:"open"`
	Deployed    float64 `json:"deployed"`
}

func (s StrategyStats) WinRate() float64 {
	n := s.Wins + s.Losses
	if n == 0 {
		return 0
	}
	return float64(s.Wins) / float64(n)
}

// Counters track opportunity flow over the session.
type Counters struct {
	Scanned  uint64 `json:"opportunities_scanned"`
	Found    uint64 `json:"opportunities_found"`
	Taken    uint64 `json:"opportunities_taken"`
	Rejected uint64 `json:"opportunities_rejected"`
	Dropped  uint64 `json:"opportunities_dropped"`
	Cycles   uint64 `json:"cycles"`
	Skipped  uint64 `json:"cycles_skipped"`
}

// CycleSummary is emitted once per cycle to the observability sinks.
type CycleSummary struct {
	Timestamp        time.Time     `json:"timestamp"`
	Session          string        `json:"session"`
	Cycle            uint64        `json:"cycle"`
	ActivePositions  int           `json:"active_positions"`
	CapitalTotal     float64       `json:"capital_total"`
	CapitalDeployed  float64       `json:"capital_deployed"`
	CapitalAvailable float64       `json:"capital_available"`
	PnLTotal         float64       `json:"pnl_total"`
	PnLToday         float64       `json:"pnl_today"`
	WinRate          float64       `json:"win_rate"`
	BreakerState     string        `json:"breaker_state"`
	Scanned          int           `json:"scanned"`
	Candidates       int           `json:"candidates"`
	Admitted         int           `json:"admitted"`
	Rejected         int           `json:"rejected"`
	Closed           int           `json:"closed"`
	Deferred         int           `json:"deferred"`
	Skipped          bool          `json:"skipped"`
	SkipReason       string        `json:"skip_reason,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}
