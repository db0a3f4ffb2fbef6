package strategies

import (
	"context"
	"math"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/internal/services/features"
)

// Grid buys the lower half and sells the upper half of a ranging market.
type Grid struct {
	base
	Lookback int
	Levels   int
	MaxSlope float64 // percent of mean price per bar
	MinWidth float64
}

func NewGrid(p Params) *Grid {
	return &Grid{base: base{p}, Lookback: 50, Levels: 10, MaxSlope: 0.3, MinWidth: 0.002}
}

func (g *Grid) Produce(_ context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	if err := needCandles(snap, g.Lookback); err != nil {
		return nil, err
	}
	cs := snap.Candles[len(snap.Candles)-g.Lookback:]
	closes := models.Closes(cs)
	mean := features.Mean(closes)
	if mean <= 0 {
		return nil, nil
	}
	slopePct := features.Slope(closes) / mean * 100
	if abs(slopePct) > g.MaxSlope {
		return nil, nil // trending
	}

	hi, lo := features.Range(cs)
	center := (hi + lo) / 2
	if hi <= lo || (hi-lo)/center < g.MinWidth {
		return nil, nil
	}
	px := snap.Price
	if px < lo || px > hi {
		return nil, nil
	}

	top := float64(g.Levels - 1)
	level := int(math.Round((px - lo) / (hi - lo) * top))
	dir := models.Long
	if float64(level) >= float64(g.Levels)/2 {
		dir = models.Short
	}
	dist := abs(float64(level) - float64(g.Levels)/2)
	conf := min(0.95, 0.70+dist/float64(g.Levels)*0.30)
	return g.emit(snap, dir, conf, g.target(0.0018), volatilityRisk(closes, 20),
		"grid level %d/%d, range %.4f-%.4f", level+1, g.Levels, lo, hi), nil
}
