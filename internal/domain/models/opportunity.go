package models

import (
	"fmt"
	"time"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Valid reports whether d is a known side.
func (d Direction) Valid() bool { return d == Long || d == Short }

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Combination identifies one signal source slot: (strategy, symbol, timeframe).
// At most one position may be open per combination.
type Combination struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
}

func (c Combination) Key() string {
	return fmt.Sprintf("%s|%s|%s", c.StrategyID, c.Symbol, c.Timeframe)
}

// Opportunity is a candidate trade produced by a source for a single cycle.
// Never persisted beyond the ranking pass.
type Opportunity struct {
	StrategyID     string    `json:"strategy_id"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"`
	ExpectedReturn float64   `json:"expected_return"`
	Risk           float64   `json:"risk"`
	EntryPrice     float64   `json:"entry_price"`
	Reason         string    `json:"reason,omitempty"`
	ProducedAt     time.Time `json:"produced_at"`
}

func (o Opportunity) Combination() Combination {
	return Combination{StrategyID: o.StrategyID, Symbol: o.Symbol, Timeframe: o.Timeframe}
}

// Ranked is a scored opportunity ready for allocation.
type Ranked struct {
	Opportunity
	Score float64 `json:"score"`
}

// Allocation is an allocator decision for one ranked candidate.
type Allocation struct {
	Ranked
	SizeQuote float64 `json:"size_quote"`
}
