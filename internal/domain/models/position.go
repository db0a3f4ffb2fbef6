package models

import "time"

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitMaxHolding  ExitReason = "max_holding"
	ExitBreaker     ExitReason = "breaker"
	ExitSessionStop ExitReason = "session_stop"
	ExitManual      ExitReason = "manual"
)

// Position is owned by the ledger from admission to close.
type Position struct {
	ID              string    `json:"id"`
	StrategyID      string    `json:"strategy_id"`
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	Direction       Direction `json:"direction"`
	EntryPrice      float64   `json:"entry_price"`
	SizeQuote       float64   `json:"size_quote"`
	Leverage        float64   `json:"leverage"`
	Score           float64   `json:"score"`
	OpenedAt        time.Time `json:"opened_at"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	Cycle           uint64    `json:"cycle"`
}

func (p Position) Combination() Combination {
	return Combination{StrategyID: p.StrategyID, Symbol: p.Symbol, Timeframe: p.Timeframe}
}

// Notional is the leveraged exposure of the position.
func (p Position) Notional() float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.SizeQuote * lev
}

// ClosedPosition is the audit record of an exit.
type ClosedPosition struct {
	Position
	ExitPrice float64    `json:"exit_price"`
	ClosedAt  time.Time  `json:"closed_at"`
	Reason    ExitReason `json:"reason"`
	Note      string     `json:"note,omitempty"`
	PnL       float64    `json:"pnl"`
	PnLPct    float64    `json:"pnl_pct"`
	Fees      float64    `json:"fees"`
}

func (c ClosedPosition) Win() bool { return c.PnL > 0 }

// ExecutionIntent is handed to an external executor. The scheduler never waits on it.
type ExecutionIntent struct {
	ID         string     `json:"id"`
	Action     string     `json:"action"` // open | close
	PositionID string     `json:"position_id"`
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	Price      float64    `json:"price"`
	SizeQuote  float64    `json:"size_quote"`
	Leverage   float64    `json:"leverage"`
	Reason     ExitReason `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const (
	IntentOpen  = "open"
	IntentClose = "close"
)
