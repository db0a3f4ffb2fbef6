package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	domsvc "SwarmTrader/internal/domain/service"
	applogger "SwarmTrader/pkg/logger"
)

// ErrCycleDeadline is returned when the fan-out does not finish before the cycle deadline.
// The partial candidate set is discarded.
var ErrCycleDeadline = errors.New("scan exceeded cycle deadline")

// ScanTask is one (strategy, symbol, timeframe) combination to scan.
type ScanTask struct {
	Source    domsvc.OpportunitySource
	Symbol    string
	Timeframe string
}

// ScanResult is the joined output of one fan-out.
type ScanResult struct {
	Opportunities []models.Opportunity
	Scanned       int
	Unavailable   int
	TimedOut      int
	Failed        int
}

// ScannerConfig bounds the fan-out.
type ScannerConfig struct {
	Workers         int
	Deadline        time.Duration
	SourceTimeout   time.Duration
	History         int
	ReferenceSymbol string
}

// Scanner fans out source calls to a bounded worker pool and joins them behind a barrier.
type Scanner struct {
	cfg     ScannerConfig
	market  domrepo.MarketData
	metrics domrepo.Metrics
	logger  *applogger.Logger
}

func NewScanner(cfg ScannerConfig, market domrepo.MarketData, metrics domrepo.Metrics, logger *applogger.Logger) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.History <= 0 {
		cfg.History = 120
	}
	return &Scanner{cfg: cfg, market: market, metrics: metrics, logger: logger}
}

type scanItem struct {
	opp         *models.Opportunity
	unavailable bool
	timedOut    bool
	err         error
}

// Scan runs every task and returns only when all workers are done.
func (s *Scanner) Scan(ctx context.Context, tasks []ScanTask) (ScanResult, error) {
	res := ScanResult{}
	if len(tasks) == 0 {
		return res, nil
	}

	scanCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.Deadline > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	jobs := make(chan ScanTask)
	results := make(chan scanItem, len(tasks))
	var wg sync.WaitGroup

	workers := min(s.cfg.Workers, len(tasks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- s.produce(scanCtx, t)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range tasks {
			select {
			case jobs <- t:
			case <-scanCtx.Done():
				return
			}
		}
	}()

	go func() { wg.Wait(); close(results) }()

	for it := range results {
		res.Scanned++
		switch {
		case it.unavailable:
			res.Unavailable++
		case it.timedOut:
			res.TimedOut++
		case it.err != nil:
			res.Failed++
			s.logger.Debug("opportunity source failed", applogger.Error(it.err))
		case it.opp != nil:
			res.Opportunities = append(res.Opportunities, *it.opp)
		}
	}

	if err := ctx.Err(); err != nil {
		return ScanResult{Scanned: res.Scanned}, err
	}
	if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
		return ScanResult{Scanned: res.Scanned}, fmt.Errorf("%w: %d/%d tasks joined", ErrCycleDeadline, res.Scanned, len(tasks))
	}
	return res, nil
}

func (s *Scanner) produce(ctx context.Context, t ScanTask) scanItem {
	if ctx.Err() != nil {
		return scanItem{timedOut: true}
	}
	snap, err := s.snapshot(t.Symbol, t.Timeframe)
	if err != nil {
		return scanItem{unavailable: true}
	}

	callCtx := ctx
	if s.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.SourceTimeout)
		defer cancel()
	}

	type out struct {
		opp *models.Opportunity
		err error
	}
	done := make(chan out, 1)
	start := time.Now()
	go func() {
		opp, err := t.Source.Produce(callCtx, snap)
		done <- out{opp, err}
	}()

	select {
	case o := <-done:
		s.metrics.RecordSourceLatency(t.Source.ID(), time.Since(start).Seconds())
		if o.err != nil {
			if errors.Is(o.err, models.ErrDataUnavailable) {
				return scanItem{unavailable: true}
			}
			return scanItem{err: fmt.Errorf("%s %s %s: %w", t.Source.ID(), t.Symbol, t.Timeframe, o.err)}
		}
		if o.opp == nil {
			return scanItem{}
		}
		opp := *o.opp
		opp.StrategyID, opp.Symbol, opp.Timeframe = t.Source.ID(), t.Symbol, t.Timeframe
		if opp.EntryPrice == 0 {
			opp.EntryPrice = snap.Price
		}
		if opp.ProducedAt.IsZero() {
			opp.ProducedAt = snap.At
		}
		return scanItem{opp: &opp}
	case <-callCtx.Done():
		s.metrics.RecordError("source_timeout")
		return scanItem{timedOut: true}
	}
}

func (s *Scanner) snapshot(symbol, timeframe string) (models.MarketSnapshot, error) {
	px, err := s.market.CurrentPrice(symbol)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	tf := domrepo.Timeframe(timeframe)
	snap := models.MarketSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		Price:     px,
		Candles:   s.market.Candles(symbol, tf, s.cfg.History),
		At:        time.Now(),
	}
	if s.cfg.ReferenceSymbol != "" && s.cfg.ReferenceSymbol != symbol {
		snap.Reference = s.market.Candles(s.cfg.ReferenceSymbol, tf, s.cfg.History)
	}
	snap.FundingRate, snap.HasFunding = s.market.FundingRate(symbol)
	return snap, nil
}
