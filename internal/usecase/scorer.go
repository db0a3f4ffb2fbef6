package usecase

import (
	"fmt"
	"math"
	"sort"

	"SwarmTrader/internal/domain/models"
)

const (
	weightConfidence = 0.4
	weightReturn     = 0.4
	weightRisk       = 0.2
)

// Scorer maps opportunities to a rank score in [0,1]. Pure and deterministic.
type Scorer struct {
	clipMin float64
	clipMax float64
}

// NewScorer builds a scorer normalizing expected return over [clipMin, clipMax].
func NewScorer(clipMin, clipMax float64) *Scorer {
	if clipMax <= clipMin {
		clipMin, clipMax = 0, 0.02
	}
	return &Scorer{clipMin: clipMin, clipMax: clipMax}
}

// NormalizeReturn clips expected return into [0,1].
func (s *Scorer) NormalizeReturn(er float64) float64 {
	return clamp01((er - s.clipMin) / (s.clipMax - s.clipMin))
}

// Score clamps confidence and risk, then computes the weighted sum.
func (s *Scorer) Score(o models.Opportunity) (float64, error) {
	if err := checkOpportunity(o); err != nil {
		return 0, err
	}
	conf := clamp01(o.Confidence)
	risk := clamp01(o.Risk)
	return weightConfidence*conf + weightReturn*s.NormalizeReturn(o.ExpectedReturn) + weightRisk*(1-risk), nil
}

// Rank scores every candidate, drops the unscorable ones and sorts best first.
// Ties: higher confidence, then strategy, symbol and timeframe ascending.
func (s *Scorer) Rank(opps []models.Opportunity) (ranked []models.Ranked, dropped []error) {
	ranked = make([]models.Ranked, 0, len(opps))
	for _, o := range opps {
		score, err := s.Score(o)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		o.Confidence = clamp01(o.Confidence)
		o.Risk = clamp01(o.Risk)
		ranked = append(ranked, models.Ranked{Opportunity: o, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.StrategyID != b.StrategyID {
			return a.StrategyID < b.StrategyID
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Timeframe < b.Timeframe
	})
	return ranked, dropped
}

func checkOpportunity(o models.Opportunity) error {
	switch {
	case o.StrategyID == "" || o.Symbol == "" || o.Timeframe == "":
		return fmt.Errorf("%w: missing identity %q/%q/%q", models.ErrMalformedOpportunity, o.StrategyID, o.Symbol, o.Timeframe)
	case !o.Direction.Valid():
		return fmt.Errorf("%w: direction %q", models.ErrMalformedOpportunity, o.Direction)
	case !finite(o.Confidence) || !finite(o.Risk) || !finite(o.ExpectedReturn):
		return fmt.Errorf("%w: non-finite field on %s", models.ErrMalformedOpportunity, o.Combination().Key())
	case !finite(o.EntryPrice) || o.EntryPrice <= 0:
		return fmt.Errorf("%w: entry price %v on %s", models.ErrMalformedOpportunity, o.EntryPrice, o.Combination().Key())
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
