package repository

import (
	"context"
	"time"

	"SwarmTrader/internal/domain/models"
)

// MarketStream delivers ticks from an exchange feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// PriceFeed answers the latest usable price for a symbol.
// Returns models.ErrDataUnavailable when the price is unknown or stale.
type PriceFeed interface {
	CurrentPrice(symbol string) (float64, error)
}

// MarketData provides the history strategies scan.
type MarketData interface {
	PriceFeed
	Candles(symbol string, tf Timeframe, n int) []models.Candle
	FundingRate(symbol string) (float64, bool)
}

// SummarySink receives one summary per cycle. Delivery is best effort.
type SummarySink interface {
	PublishSummary(ctx context.Context, s models.CycleSummary) error
}

// PositionEvents receives ledger transitions.
type PositionEvents interface {
	PublishOpened(ctx context.Context, p models.Position) error
	PublishClosed(ctx context.Context, c models.ClosedPosition) error
}

// TradeJournal persists closed trades and cycle summaries.
type TradeJournal interface {
	RecordClosed(ctx context.Context, closed []models.ClosedPosition) error
	RecordSummary(ctx context.Context, s models.CycleSummary) error
	RecentTrades(ctx context.Context, strategy string, limit int) ([]models.ClosedPosition, error)
	Health(ctx context.Context) error
}

// SessionStore keeps session-scoped state across restarts and guards single-writer ownership.
type SessionStore interface {
	SaveBreaker(ctx context.Context, session string, b models.BreakerState) error
	LoadBreaker(ctx context.Context, session string) (*models.BreakerState, error)
	SaveSummary(ctx context.Context, s models.CycleSummary) error
	AcquireLeader(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseLeader(ctx context.Context, owner string) error
}

// ExecutionQueue hands open/close intents to an external executor.
type ExecutionQueue interface {
	SubmitIntent(ctx context.Context, in models.ExecutionIntent) error
}

// Metrics is the observability surface of the scheduler.
type Metrics interface {
	RecordCycle(outcome string, seconds float64)
	RecordCandidates(n int)
	RecordAdmission(strategy string)
	RecordRejection(reason string)
	RecordExit(strategy string, reason string, pnl float64)
	RecordCapital(c models.CapitalState)
	RecordBreaker(state models.BreakerState)
	RecordSourceLatency(strategy string, seconds float64)
	RecordLastPrice(symbol string, price float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
