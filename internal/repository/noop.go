package repository

import (
	"context"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
)

// NoopJournal stands in when ClickHouse is disabled.
type NoopJournal struct{}

func (NoopJournal) RecordClosed(context.Context, []models.ClosedPosition) error { return nil }

func (NoopJournal) RecordSummary(context.Context, models.CycleSummary) error { return nil }

func (NoopJournal) RecentTrades(context.Context, string, int) ([]models.ClosedPosition, error) {
	return nil, nil
}

func (NoopJournal) Health(context.Context) error { return nil }

var _ domrepo.TradeJournal = NoopJournal{}
