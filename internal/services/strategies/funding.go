package strategies

import (
	"context"
	"fmt"

	"SwarmTrader/internal/domain/models"
)

// FundingCarry takes the side that receives funding when the rate is rich.
type FundingCarry struct {
	base
	MinRate     float64
	OptimalRate float64
}

func NewFundingCarry(p Params) *FundingCarry {
	return &FundingCarry{base: base{p}, MinRate: 0.0003, OptimalRate: 0.0010}
}

func (f *FundingCarry) Produce(_ context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	if !snap.HasFunding {
		return nil, fmt.Errorf("%w: no funding rate for %s", models.ErrDataUnavailable, snap.Symbol)
	}
	rate := snap.FundingRate
	if abs(rate) < f.MinRate {
		return nil, nil
	}
	// positive funding: longs pay shorts
	dir := models.Short
	if rate < 0 {
		dir = models.Long
	}
	conf := max(0.70, min(1, abs(rate)/f.OptimalRate))
	risk := 0.5 * volatilityRisk(models.Closes(snap.Candles), 20)
	apr := abs(rate) * 3 * 365 * 100
	return f.emit(snap, dir, conf, f.target(abs(rate)), risk, "funding %.4f%% per 8h (%.1f%% apr)", abs(rate)*100, apr), nil
}
