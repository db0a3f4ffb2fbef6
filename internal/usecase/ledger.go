package usecase

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StrategyParams are per-strategy admission parameters fixed at entry.
type StrategyParams struct {
	Leverage      float64
	StopLossPct   float64 // 0 => half the expected return
	TakeProfitPct float64 // 0 => the expected return
}

// LedgerConfig configures the position ledger.
type LedgerConfig struct {
	InitialCapital  float64
	CeilingFraction float64
	MaxPositions    int
	MaxHolding      time.Duration
	FeeRate         float64 // per side, applied on notional
	Strategies      map[string]StrategyParams
}

const (
	minStopPct   = 0.001
	minTargetPct = 0.002
)

// CapitalTolerance absorbs float rounding between the allocator's budget walk and the
// exact book. Relative to total capital.
const CapitalTolerance = 1e-9

// Ledger owns open positions and the capital book. Every mutation runs in one
// exclusive section so capital release and P&L always land together.
type Ledger struct {
	mu  sync.Mutex
	cfg LedgerConfig

	positions map[string]*models.Position
	byCombo   map[string]string
	lastPrice map[string]float64
	stats     map[string]*models.StrategyStats

	total    decimal.Decimal
	deployed decimal.Decimal
	peak     decimal.Decimal
	pnlTotal decimal.Decimal
	pnlToday decimal.Decimal
	dayStart decimal.Decimal
	wins     int
	losses   int
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.CeilingFraction <= 0 || cfg.CeilingFraction > 1 {
		cfg.CeilingFraction = 1
	}
	l := &Ledger{cfg: cfg}
	l.reset(cfg.InitialCapital)
	return l
}

func (l *Ledger) reset(capital float64) {
	l.positions = make(map[string]*models.Position)
	l.byCombo = make(map[string]string)
	l.lastPrice = make(map[string]float64)
	l.stats = make(map[string]*models.StrategyStats)
	l.total = decimal.NewFromFloat(capital)
	l.peak = l.total
	l.deployed = decimal.Zero
	l.pnlTotal = decimal.Zero
	l.pnlToday = decimal.Zero
	l.dayStart = l.total
	l.wins, l.losses = 0, 0
}

// Reset starts a fresh book. Refused while positions are open.
func (l *Ledger) Reset(capital float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.positions) > 0 {
		return fmt.Errorf("ledger reset: %d positions still open", len(l.positions))
	}
	if capital <= 0 {
		capital = l.total.InexactFloat64()
	}
	l.reset(capital)
	return nil
}

// Params returns admission parameters for a strategy.
func (l *Ledger) Params(strategy string) StrategyParams {
	p := l.cfg.Strategies[strategy]
	if p.Leverage <= 0 {
		p.Leverage = 1
	}
	return p
}

// Admit opens a position for opp with the given size.
func (l *Ledger) Admit(opp models.Opportunity, size float64, cycle uint64, now time.Time) (models.Position, error) {
	return l.admit(opp, size, 0, cycle, now)
}

// AdmitAllocation admits a sized candidate and keeps its score on the position.
func (l *Ledger) AdmitAllocation(a models.Allocation, cycle uint64, now time.Time) (models.Position, error) {
	return l.admit(a.Opportunity, a.SizeQuote, a.Score, cycle, now)
}

func (l *Ledger) admit(opp models.Opportunity, size, score float64, cycle uint64, now time.Time) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	combo := opp.Combination()
	if id, ok := l.byCombo[combo.Key()]; ok {
		return models.Position{}, fmt.Errorf("%w: %s held by %s", models.ErrDuplicateExposure, combo.Key(), id)
	}
	if len(l.positions) >= l.cfg.MaxPositions {
		return models.Position{}, l.invariantLocked("position count at limit")
	}
	if !(size > 0) {
		return models.Position{}, l.invariantLocked(fmt.Sprintf("non-positive size %v", size))
	}

	sz := decimal.NewFromFloat(size)
	next := l.deployed.Add(sz)
	slack := l.total.Mul(decimal.NewFromFloat(CapitalTolerance))
	ceiling := l.total.Mul(decimal.NewFromFloat(l.cfg.CeilingFraction))
	if next.GreaterThan(ceiling.Add(slack)) {
		return models.Position{}, l.invariantLocked(fmt.Sprintf("admission of %.4f breaks ceiling", size))
	}
	if l.total.Add(slack).LessThan(next) {
		return models.Position{}, l.invariantLocked(fmt.Sprintf("admission of %.4f exhausts capital", size))
	}

	params := l.Params(opp.StrategyID)
	sl, tp := exitLevels(opp.Direction, opp.EntryPrice, opp.ExpectedReturn, params)
	p := &models.Position{
		ID:              uuid.NewString(),
		StrategyID:      opp.StrategyID,
		Symbol:          opp.Symbol,
		Timeframe:       opp.Timeframe,
		Direction:       opp.Direction,
		EntryPrice:      opp.EntryPrice,
		SizeQuote:       size,
		Leverage:        params.Leverage,
		Score:           score,
		OpenedAt:        now,
		StopLossPrice:   sl,
		TakeProfitPrice: tp,
		Cycle:           cycle,
	}
	l.positions[p.ID] = p
	l.byCombo[combo.Key()] = p.ID
	l.deployed = next
	l.lastPrice[opp.Symbol] = opp.EntryPrice

	st := l.statLocked(opp.StrategyID)
	st.Open++
	st.Deployed += size
	return *p, nil
}

// exitLevels derives fixed stop/target prices from percentage offsets.
func exitLevels(dir models.Direction, entry, er float64, p StrategyParams) (sl, tp float64) {
	slPct := p.StopLossPct
	if slPct <= 0 {
		slPct = math.Max(math.Abs(er)*0.5, minStopPct)
	}
	tpPct := p.TakeProfitPct
	if tpPct <= 0 {
		tpPct = math.Max(math.Abs(er), minTargetPct)
	}
	if dir == models.Short {
		return entry * (1 + slPct), entry * (1 - tpPct)
	}
	return entry * (1 - slPct), entry * (1 + tpPct)
}

// EvaluateExits closes positions whose stop, target or holding limit was hit.
// Positions admitted in cycle are skipped. Symbols without a usable price are
// deferred to the next cycle.
func (l *Ledger) EvaluateExits(prices domrepo.PriceFeed, cycle uint64, now time.Time) (closed []models.ClosedPosition, deferred int) {
	type decision struct {
		id     string
		price  float64
		reason models.ExitReason
	}

	open := l.Positions()
	decisions := make([]decision, 0)
	for _, p := range open {
		if p.Cycle == cycle {
			continue
		}
		px, err := prices.CurrentPrice(p.Symbol)
		if err != nil || !(px > 0) {
			deferred++
			continue
		}
		if reason, hit := exitReason(p, px, now, l.cfg.MaxHolding); hit {
			decisions = append(decisions, decision{id: p.ID, price: px, reason: reason})
		} else {
			l.observe(p.Symbol, px)
		}
	}

	for _, d := range decisions {
		l.mu.Lock()
		c, ok := l.closeLocked(d.id, d.price, d.reason, "", now)
		l.mu.Unlock()
		if ok {
			closed = append(closed, c)
		}
	}
	return closed, deferred
}

func exitReason(p models.Position, px float64, now time.Time, maxHolding time.Duration) (models.ExitReason, bool) {
	if p.Direction == models.Short {
		if px >= p.StopLossPrice {
			return models.ExitStopLoss, true
		}
		if px <= p.TakeProfitPrice {
			return models.ExitTakeProfit, true
		}
	} else {
		if px <= p.StopLossPrice {
			return models.ExitStopLoss, true
		}
		if px >= p.TakeProfitPrice {
			return models.ExitTakeProfit, true
		}
	}
	if maxHolding > 0 && now.Sub(p.OpenedAt) >= maxHolding {
		return models.ExitMaxHolding, true
	}
	return "", false
}

// ForceCloseAll closes every open position regardless of stop/target. Without a
// current price the last observed price is used, then the entry price.
func (l *Ledger) ForceCloseAll(prices domrepo.PriceFeed, reason models.ExitReason, now time.Time) []models.ClosedPosition {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.ClosedPosition, 0, len(ids))
	for _, id := range ids {
		p := l.positions[id]
		px, note := 0.0, ""
		if prices != nil {
			if v, err := prices.CurrentPrice(p.Symbol); err == nil && v > 0 {
				px = v
			}
		}
		if px == 0 {
			if v, ok := l.lastPrice[p.Symbol]; ok && v > 0 {
				px, note = v, "last_known_price"
			} else {
				px, note = p.EntryPrice, "entry_price"
			}
		}
		if c, ok := l.closeLocked(id, px, reason, note, now); ok {
			out = append(out, c)
		}
	}
	return out
}

// Close closes a single position by id.
func (l *Ledger) Close(id string, price float64, reason models.ExitReason, now time.Time) (models.ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.closeLocked(id, price, reason, "", now)
	if !ok {
		return models.ClosedPosition{}, fmt.Errorf("%w: %s", models.ErrPositionNotFound, id)
	}
	return c, nil
}

// closeLocked releases capital and books P&L. Loss is capped at the committed margin.
func (l *Ledger) closeLocked(id string, exit float64, reason models.ExitReason, note string, now time.Time) (models.ClosedPosition, bool) {
	p, ok := l.positions[id]
	if !ok {
		return models.ClosedPosition{}, false
	}

	move := (exit - p.EntryPrice) / p.EntryPrice * p.Direction.Sign()
	notional := p.Notional()
	fees := notional * l.cfg.FeeRate * 2
	pnl := notional*move - fees
	if pnl < -p.SizeQuote {
		pnl = -p.SizeQuote
	}

	d := decimal.NewFromFloat(pnl)
	l.deployed = l.deployed.Sub(decimal.NewFromFloat(p.SizeQuote))
	l.total = l.total.Add(d)
	l.pnlTotal = l.pnlTotal.Add(d)
	l.pnlToday = l.pnlToday.Add(d)
	if l.total.GreaterThan(l.peak) {
		l.peak = l.total
	}

	st := l.statLocked(p.StrategyID)
	st.Open--
	st.Deployed -= p.SizeQuote
	st.Trades++
	st.RealizedPnL += pnl
	if pnl > 0 {
		l.wins++
		st.Wins++
	} else {
		l.losses++
		st.Losses++
	}

	delete(l.positions, id)
	delete(l.byCombo, p.Combination().Key())
	l.lastPrice[p.Symbol] = exit

	return models.ClosedPosition{
		Position:  *p,
		ExitPrice: exit,
		ClosedAt:  now,
		Reason:    reason,
		Note:      note,
		PnL:       pnl,
		PnLPct:    pnl / p.SizeQuote,
		Fees:      fees,
	}, true
}

func (l *Ledger) observe(symbol string, px float64) {
	l.mu.Lock()
	l.lastPrice[symbol] = px
	l.mu.Unlock()
}

func (l *Ledger) statLocked(id string) *models.StrategyStats {
	st, ok := l.stats[id]
	if !ok {
		st = &models.StrategyStats{StrategyID: id}
		l.stats[id] = st
	}
	return st
}

func (l *Ledger) invariantLocked(detail string) error {
	return &models.CapitalInvariantError{
		Detail:    detail,
		Deployed:  l.deployed.InexactFloat64(),
		Ceiling:   l.total.Mul(decimal.NewFromFloat(l.cfg.CeilingFraction)).InexactFloat64(),
		Available: l.total.Sub(l.deployed).InexactFloat64(),
		Open:      len(l.positions),
		MaxOpen:   l.cfg.MaxPositions,
	}
}

// Verify recomputes deployed capital from open positions and checks the book.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := decimal.Zero
	for _, p := range l.positions {
		sum = sum.Add(decimal.NewFromFloat(p.SizeQuote))
	}
	if !sum.Equal(l.deployed) {
		return l.invariantLocked(fmt.Sprintf("deployed drift: positions sum to %s", sum.String()))
	}
	if l.total.Add(l.total.Mul(decimal.NewFromFloat(CapitalTolerance))).LessThan(l.deployed) {
		return l.invariantLocked("available capital negative")
	}
	if len(l.positions) > l.cfg.MaxPositions {
		return l.invariantLocked("too many open positions")
	}
	if len(l.byCombo) != len(l.positions) {
		return l.invariantLocked("combination index out of sync")
	}
	return nil
}

// ResetDaily zeroes today's realized P&L and marks the new day's starting capital.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	l.pnlToday = decimal.Zero
	l.dayStart = l.total
	l.mu.Unlock()
}

// Snapshot returns the capital book.
func (l *Ledger) Snapshot() models.CapitalState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.CapitalState{
		TotalCapital:     l.total.InexactFloat64(),
		DeployedCapital:  l.deployed.InexactFloat64(),
		AvailableCapital: l.total.Sub(l.deployed).InexactFloat64(),
		PeakCapital:      l.peak.InexactFloat64(),
		RealizedPnLTotal: l.pnlTotal.InexactFloat64(),
		RealizedPnLToday: l.pnlToday.InexactFloat64(),
		DayStartCapital:  l.dayStart.InexactFloat64(),
		OpenPositions:    len(l.positions),
		Wins:             l.wins,
		Losses:           l.losses,
	}
}

// Positions returns open positions ordered by open time then id.
func (l *Ledger) Positions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Occupied returns the keys of combinations with an open position.
func (l *Ledger) Occupied() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]struct{}, len(l.byCombo))
	for k := range l.byCombo {
		out[k] = struct{}{}
	}
	return out
}

// StrategyPnL returns cumulative realized P&L per strategy.
func (l *Ledger) StrategyPnL() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.stats))
	for id, st := range l.stats {
		out[id] = st.RealizedPnL
	}
	return out
}

// StrategyStats returns per-strategy results sorted by id.
func (l *Ledger) StrategyStats() []models.StrategyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.StrategyStats, 0, len(l.stats))
	for _, st := range l.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}
