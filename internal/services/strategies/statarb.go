package strategies

import (
	"context"
	"fmt"
	"time"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/internal/services/features"
)

// PairReversion fades the z-score of a symbol's price ratio against the reference symbol.
type PairReversion struct {
	base
	Window int
	EntryZ float64
}

func NewPairReversion(p Params) *PairReversion {
	return &PairReversion{base: base{p}, Window: 60, EntryZ: 2.0}
}

func (s *PairReversion) Produce(_ context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	if len(snap.Reference) == 0 {
		// reference symbol itself, or no reference configured
		return nil, nil
	}
	ref := make(map[time.Time]float64, len(snap.Reference))
	for _, c := range snap.Reference {
		ref[c.Bucket] = c.Close
	}
	ratios := make([]float64, 0, len(snap.Candles))
	for _, c := range snap.Candles {
		if r, ok := ref[c.Bucket]; ok && r > 0 && c.Close > 0 {
			ratios = append(ratios, c.Close/r)
		}
	}
	minPairs := s.Window / 2
	if len(ratios) < minPairs {
		return nil, fmt.Errorf("%w: %s %s has %d/%d aligned bars", models.ErrDataUnavailable, snap.Symbol, snap.Timeframe, len(ratios), minPairs)
	}
	if len(ratios) > s.Window {
		ratios = ratios[len(ratios)-s.Window:]
	}

	z, mean, sd := features.ZScore(ratios)
	if abs(z) < s.EntryZ || mean <= 0 {
		return nil, nil
	}
	dir := models.Long
	if z > 0 {
		dir = models.Short
	}
	er := min(0.02, abs(z)*sd/mean)
	if s.p.TakeProfitPct > 0 {
		er = s.p.TakeProfitPct
	}
	conf := abs(z) / 3
	risk := volatilityRisk(models.Closes(snap.Candles), 20)
	return s.emit(snap, dir, conf, er, risk, "ratio z=%.2f over %d bars", z, len(ratios)), nil
}
