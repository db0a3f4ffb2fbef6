package usecase

import "SwarmTrader/internal/domain/models"

// AllocatorConfig holds the sizing fractions, all relative to total capital.
type AllocatorConfig struct {
	MinFraction  float64
	BaseFraction float64
	MaxFraction  float64
	MaxPositions int
}

// Allocator sizes ranked candidates greedily by rank within a budget.
// It is not a global optimizer: a near-tie is resolved by rank order.
// Stateless, so the same input always yields the same admitted set.
type Allocator struct {
	cfg AllocatorConfig
}

func NewAllocator(cfg AllocatorConfig) *Allocator {
	if cfg.MinFraction > cfg.MaxFraction {
		cfg.MinFraction = cfg.MaxFraction
	}
	return &Allocator{cfg: cfg}
}

// Size returns the clamped position size for a score.
func (a *Allocator) Size(score, totalCapital float64) float64 {
	size := a.cfg.BaseFraction*totalCapital + score*(a.cfg.MaxFraction-a.cfg.BaseFraction)*totalCapital
	lo := a.cfg.MinFraction * totalCapital
	hi := a.cfg.MaxFraction * totalCapital
	if size < lo {
		size = lo
	}
	if size > hi {
		size = hi
	}
	return size
}

// Allocate walks ranked candidates best first. A candidate is admitted when its size fits
// the remaining budget and the position count stays under MaxPositions; one that does not
// fit is skipped and the walk continues.
func (a *Allocator) Allocate(ranked []models.Ranked, budget, totalCapital float64, openCount int) []models.Allocation {
	if budget <= 0 || totalCapital <= 0 {
		return nil
	}
	slots := a.cfg.MaxPositions - openCount
	if slots <= 0 {
		return nil
	}

	remaining := budget
	out := make([]models.Allocation, 0, min(slots, len(ranked)))
	for _, r := range ranked {
		if len(out) >= slots {
			break
		}
		size := a.Size(r.Score, totalCapital)
		if size > remaining {
			continue
		}
		remaining -= size
		out = append(out, models.Allocation{Ranked: r, SizeQuote: size})
	}
	return out
}
