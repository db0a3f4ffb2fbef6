package service

import (
	"context"

	"SwarmTrader/internal/domain/models"
)

// OpportunitySource produces zero or one candidate per (symbol, timeframe) scan.
// A nil opportunity with nil error means nothing to trade this cycle.
type OpportunitySource interface {
	ID() string
	Timeframes() []string
	Produce(ctx context.Context, snap models.MarketSnapshot) (*models.Opportunity, error)
}
