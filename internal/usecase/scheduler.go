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
	"SwarmTrader/pkg/util"
)

// SchedulerConfig drives the cycle.
type SchedulerConfig struct {
	Interval                   time.Duration
	MaxCycleDeploymentFraction float64
	CeilingFraction            float64
	Symbols                    []string
	Location                   *time.Location
	LeaderTTL                  time.Duration
	Owner                      string
}

// Scheduler owns the ledger, the breaker and the counters, and runs one cycle at a time.
type Scheduler struct {
	cfg      SchedulerConfig
	scorer   *Scorer
	alloc    *Allocator
	ledger   *Ledger
	breaker  *Breaker
	scanner  *Scanner
	prices   domrepo.PriceFeed
	sources  []domsvc.OpportunitySource
	reporter *Reporter
	session  domrepo.SessionStore
	metrics  domrepo.Metrics
	logger   *applogger.Logger
	now      func() time.Time

	// cycleMu serializes cycles and session commands.
	cycleMu sync.Mutex
	cycle   uint64
	haltErr error
	stopped bool
	day     string

	statsMu   sync.RWMutex
	sessionID string
	counters  models.Counters
	last      models.CycleSummary
}

// SchedulerDeps groups the collaborators of a Scheduler.
type SchedulerDeps struct {
	Scorer   *Scorer
	Alloc    *Allocator
	Ledger   *Ledger
	Breaker  *Breaker
	Scanner  *Scanner
	Prices   domrepo.PriceFeed
	Sources  []domsvc.OpportunitySource
	Reporter *Reporter
	Session  domrepo.SessionStore
	Metrics  domrepo.Metrics
	Logger   *applogger.Logger
	Clock    func() time.Time
}

func NewScheduler(cfg SchedulerConfig, d SchedulerDeps) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CeilingFraction <= 0 || cfg.CeilingFraction > 1 {
		cfg.CeilingFraction = 1
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	s := &Scheduler{
		cfg:      cfg,
		scorer:   d.Scorer,
		alloc:    d.Alloc,
		ledger:   d.Ledger,
		breaker:  d.Breaker,
		scanner:  d.Scanner,
		prices:   d.Prices,
		sources:  d.Sources,
		reporter: d.Reporter,
		session:  d.Session,
		metrics:  d.Metrics,
		logger:   d.Logger,
		now:      d.Clock,
	}
	s.day = s.tradingDay(s.now())
	s.sessionID = s.day
	return s
}

// RunCycle executes one scan-score-rank-admit-exit-breaker pass.
// A non-nil error is either context cancellation or a capital invariant violation;
// after the latter no further admissions happen until the process restarts.
func (s *Scheduler) RunCycle(ctx context.Context) (models.CycleSummary, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	s.cycle++
	cycle := s.cycle
	s.rollDay(start)

	capital := s.ledger.Snapshot()
	brk := s.breaker.State()
	summary := models.CycleSummary{Cycle: cycle, Session: s.Session()}

	var (
		opened   []models.Position
		fatalErr error
	)

	if reason, err := s.gate(brk); err != nil {
		summary.Skipped = true
		summary.SkipReason = reason
		s.logger.Debug("admission closed", applogger.Uint64("cycle", cycle), applogger.Error(err))
	} else {
		opened, err = s.admit(ctx, cycle, start, capital, brk, &summary)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			fatalErr = err
		}
	}

	var (
		closed []models.ClosedPosition
		trips  []models.Trip
	)
	// an invariant violation aborts the cycle; exits resume with the next one
	if fatalErr == nil {
		closed, summary.Deferred = s.ledger.EvaluateExits(s.prices, cycle, start)

		trips = s.breaker.Evaluate(s.ledger.Snapshot(), s.ledger.StrategyPnL(), start)
		for _, t := range trips {
			s.logger.Warn("circuit breaker tripped",
				applogger.String("scope", string(t.Scope)),
				applogger.String("strategy", t.StrategyID),
				applogger.String("reason", t.Reason),
				applogger.Float64("value", t.Value),
				applogger.Float64("threshold", t.Threshold))
		}
		if s.breaker.PortfolioTripped() && len(s.ledger.Positions()) > 0 {
			flat := s.ledger.ForceCloseAll(s.prices, models.ExitBreaker, start)
			s.logger.Warn("breaker force-closed positions", applogger.Int("count", len(flat)))
			closed = append(closed, flat...)
		}
	}
	summary.Closed = len(closed)
	for _, c := range closed {
		s.metrics.RecordExit(c.StrategyID, string(c.Reason), c.PnL)
	}

	brkAfter := s.breaker.State()
	s.fillSummary(&summary, start, brkAfter)
	s.metrics.RecordCapital(s.ledger.Snapshot())
	s.metrics.RecordBreaker(brkAfter)

	outcome := "ok"
	switch {
	case fatalErr != nil:
		outcome = "halted"
	case summary.Skipped:
		outcome = "skipped"
	}
	s.metrics.RecordCycle(outcome, summary.Duration.Seconds())

	rep := Report{Session: summary.Session, Summary: &summary, Opened: opened, Closed: closed}
	if len(trips) > 0 {
		rep.Breaker = &brkAfter
	}
	s.reporter.Enqueue(rep)

	s.statsMu.Lock()
	s.counters.Cycles++
	if summary.Skipped {
		s.counters.Skipped++
	}
	s.last = summary
	s.statsMu.Unlock()

	s.logger.Debug("cycle complete",
		applogger.Uint64("cycle", cycle),
		applogger.Int("candidates", summary.Candidates),
		applogger.Int("admitted", summary.Admitted),
		applogger.Int("closed", summary.Closed),
		applogger.Int("active", summary.ActivePositions),
		applogger.String("breaker", summary.BreakerState),
		applogger.Duration("took", summary.Duration))
	return summary, fatalErr
}

// gate returns the skip reason and cause when admission is closed for the cycle.
func (s *Scheduler) gate(brk models.BreakerState) (string, error) {
	switch {
	case s.haltErr != nil:
		return "halted", fmt.Errorf("%w: %v", models.ErrSessionHalted, s.haltErr)
	case s.stopped:
		return "session_stopped", fmt.Errorf("%w: session stopped", models.ErrSessionHalted)
	case brk.PortfolioTripped():
		return "breaker", fmt.Errorf("%w: %s", models.ErrBreakerTripped, brk.String())
	}
	return "", nil
}

// admit runs steps 3 and 4: fan-out, rank, allocate and admit.
func (s *Scheduler) admit(ctx context.Context, cycle uint64, now time.Time, capital models.CapitalState, brk models.BreakerState, summary *models.CycleSummary) ([]models.Position, error) {
	tasks := s.tasks(s.ledger.Occupied(), brk)
	res, err := s.scanner.Scan(ctx, tasks)
	summary.Scanned = res.Scanned
	s.addCounters(func(c *models.Counters) { c.Scanned += uint64(res.Scanned) })
	if err != nil {
		if errors.Is(err, ErrCycleDeadline) {
			summary.Skipped = true
			summary.SkipReason = "deadline"
			s.logger.Warn("cycle skipped", applogger.Uint64("cycle", cycle), applogger.Error(err))
			return nil, nil
		}
		return nil, err
	}

	ranked, dropped := s.scorer.Rank(res.Opportunities)
	for _, d := range dropped {
		s.metrics.RecordRejection("malformed")
		s.logger.Debug("dropped opportunity", applogger.Error(d))
	}
	summary.Candidates = len(ranked)
	s.metrics.RecordCandidates(len(ranked))
	s.addCounters(func(c *models.Counters) {
		c.Found += uint64(len(res.Opportunities))
		c.Dropped += uint64(len(dropped))
	})

	allocs := s.alloc.Allocate(ranked, s.budget(capital), capital.TotalCapital, capital.OpenPositions)
	notAllocated := len(ranked) - len(allocs)
	for i := 0; i < notAllocated; i++ {
		s.metrics.RecordRejection("budget")
	}
	summary.Rejected = notAllocated

	opened := make([]models.Position, 0, len(allocs))
	for _, a := range allocs {
		pos, err := s.ledger.AdmitAllocation(a, cycle, now)
		switch {
		case err == nil:
			opened = append(opened, pos)
			s.metrics.RecordAdmission(pos.StrategyID)
			s.logger.Info("position opened",
				applogger.String("id", pos.ID),
				applogger.String("strategy", pos.StrategyID),
				applogger.String("symbol", pos.Symbol),
				applogger.String("timeframe", pos.Timeframe),
				applogger.String("direction", string(pos.Direction)),
				applogger.Float64("size", pos.SizeQuote),
				applogger.Float64("score", a.Score))
		case errors.Is(err, models.ErrDuplicateExposure):
			summary.Rejected++
			s.metrics.RecordRejection("duplicate")
			s.logger.Debug("admission rejected", applogger.Error(err))
		case errors.Is(err, models.ErrCapitalInvariant):
			s.halt(err)
			summary.Admitted = len(opened)
			s.countAdmissions(len(opened), summary.Rejected)
			return opened, err
		default:
			summary.Rejected++
			s.metrics.RecordRejection("other")
			s.logger.Warn("admission failed", applogger.Error(err))
		}
	}
	summary.Admitted = len(opened)
	s.countAdmissions(len(opened), summary.Rejected)

	if err := s.checkInvariants(); err != nil {
		s.halt(err)
		return opened, err
	}
	return opened, nil
}

func (s *Scheduler) countAdmissions(taken, rejected int) {
	s.addCounters(func(c *models.Counters) {
		c.Taken += uint64(taken)
		c.Rejected += uint64(rejected)
	})
}

// checkInvariants runs after admission: book consistency, ceiling and count.
func (s *Scheduler) checkInvariants() error {
	if err := s.ledger.Verify(); err != nil {
		return err
	}
	c := s.ledger.Snapshot()
	ceiling := s.cfg.CeilingFraction * c.TotalCapital
	if c.DeployedCapital > ceiling+CapitalTolerance*c.TotalCapital {
		return &models.CapitalInvariantError{
			Detail:    "deployed above ceiling after admission",
			Deployed:  c.DeployedCapital,
			Ceiling:   ceiling,
			Available: c.AvailableCapital,
			Open:      c.OpenPositions,
		}
	}
	return nil
}

func (s *Scheduler) halt(err error) {
	s.haltErr = err
	s.metrics.RecordError("capital_invariant")
	s.logger.Error("capital invariant violated, admissions halted until restart", applogger.Error(err))
}

// budget is available·fraction, capped by the headroom under the deployment ceiling.
func (s *Scheduler) budget(c models.CapitalState) float64 {
	b := c.AvailableCapital * s.cfg.MaxCycleDeploymentFraction
	headroom := s.cfg.CeilingFraction*c.TotalCapital - c.DeployedCapital
	if b > headroom {
		b = headroom
	}
	if b < 0 {
		return 0
	}
	return b
}

// tasks lists combinations that are free and not blocked by a strategy trip.
func (s *Scheduler) tasks(occupied map[string]struct{}, brk models.BreakerState) []ScanTask {
	out := make([]ScanTask, 0, len(s.sources)*len(s.cfg.Symbols))
	for _, src := range s.sources {
		if brk.StrategyTripped(src.ID()) {
			continue
		}
		for _, tf := range src.Timeframes() {
			for _, sym := range s.cfg.Symbols {
				key := models.Combination{StrategyID: src.ID(), Symbol: sym, Timeframe: tf}.Key()
				if _, busy := occupied[key]; busy {
					continue
				}
				out = append(out, ScanTask{Source: src, Symbol: sym, Timeframe: tf})
			}
		}
	}
	return out
}

func (s *Scheduler) fillSummary(sum *models.CycleSummary, start time.Time, brk models.BreakerState) {
	c := s.ledger.Snapshot()
	sum.Timestamp = start
	sum.ActivePositions = c.OpenPositions
	sum.CapitalTotal = c.TotalCapital
	sum.CapitalDeployed = c.DeployedCapital
	sum.CapitalAvailable = c.AvailableCapital
	sum.PnLTotal = c.RealizedPnLTotal
	sum.PnLToday = c.RealizedPnLToday
	sum.WinRate = c.WinRate()
	sum.BreakerState = brk.String()
	sum.Duration = s.now().Sub(start)
}

func (s *Scheduler) tradingDay(t time.Time) string {
	return util.TradingDay(t, s.cfg.Location)
}

// rollDay resets today's P&L when the session-timezone date changes.
// Breaker trips survive the rollover.
func (s *Scheduler) rollDay(now time.Time) {
	d := s.tradingDay(now)
	if d == s.day {
		return
	}
	s.ledger.ResetDaily()
	s.logger.Info("daily metrics reset", applogger.String("from", s.day), applogger.String("to", d))
	s.day = d
}

func (s *Scheduler) addCounters(fn func(c *models.Counters)) {
	s.statsMu.Lock()
	fn(&s.counters)
	s.statsMu.Unlock()
}

// Run drives cycles on a fixed interval until ctx is cancelled. Cycles never overlap:
// a tick that arrives during a cycle is coalesced.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		applogger.Duration("interval", s.cfg.Interval),
		applogger.Int("sources", len(s.sources)),
		applogger.Int("symbols", len(s.cfg.Symbols)))
	defer s.releaseLeader()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if s.isLeader(ctx) {
			if _, err := s.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("cycle failed", applogger.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// isLeader guards single-writer ownership when a session store is configured.
func (s *Scheduler) isLeader(ctx context.Context) bool {
	if s.session == nil || s.cfg.Owner == "" {
		return true
	}
	ttl := s.cfg.LeaderTTL
	if ttl <= 0 {
		ttl = 3 * s.cfg.Interval
	}
	ok, err := s.session.AcquireLeader(ctx, s.cfg.Owner, ttl)
	if err != nil {
		s.metrics.RecordError("leader_lock")
		s.logger.Warn("leader lock unavailable, running unguarded", applogger.Error(err))
		return true
	}
	if !ok {
		s.logger.Info("another scheduler holds the lease, standing by", applogger.String("owner", s.cfg.Owner))
	}
	return ok
}

func (s *Scheduler) releaseLeader() {
	if s.session == nil || s.cfg.Owner == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.session.ReleaseLeader(ctx, s.cfg.Owner); err != nil {
		s.logger.Warn("leader release failed", applogger.Error(err))
	}
}

// Stop ends the session: waits for an in-flight cycle, blocks further admissions and
// force-closes every position.
func (s *Scheduler) Stop(reason models.ExitReason) []models.ClosedPosition {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if reason == "" {
		reason = models.ExitSessionStop
	}
	s.stopped = true
	closed := s.ledger.ForceCloseAll(s.prices, reason, s.now())
	for _, c := range closed {
		s.metrics.RecordExit(c.StrategyID, string(c.Reason), c.PnL)
	}
	s.metrics.RecordCapital(s.ledger.Snapshot())
	s.reporter.Enqueue(Report{Session: s.Session(), Closed: closed})
	s.logger.Info("session stopped", applogger.String("reason", string(reason)), applogger.Int("closed", len(closed)))
	return closed
}

// StartSession begins a new session: breaker back to NORMAL, fresh book and counters.
// Refused after a capital invariant violation.
func (s *Scheduler) StartSession(capital float64) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if s.haltErr != nil {
		return fmt.Errorf("%w: %v", models.ErrSessionHalted, s.haltErr)
	}
	if err := s.ledger.Reset(capital); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.breaker.Reset()
	s.stopped = false
	now := s.now()
	s.day = s.tradingDay(now)

	s.statsMu.Lock()
	s.sessionID = s.day
	s.counters = models.Counters{}
	s.last = models.CycleSummary{}
	s.statsMu.Unlock()

	st := s.breaker.State()
	s.reporter.Enqueue(Report{Session: s.day, Breaker: &st})
	s.logger.Info("session started", applogger.String("session", s.day), applogger.Float64("capital", s.ledger.Snapshot().TotalCapital))
	return nil
}

// Restore reloads persisted breaker trips for the current session.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	st, err := s.session.LoadBreaker(ctx, s.Session())
	if err != nil {
		return fmt.Errorf("restore breaker: %w", err)
	}
	if st == nil {
		return nil
	}
	s.breaker.Restore(*st)
	s.logger.Info("breaker state restored", applogger.String("session", s.Session()), applogger.String("state", s.breaker.State().String()))
	return nil
}

// Status is a read-only view for the API.
type Status struct {
	Session     string              `json:"session"`
	Cycle       uint64              `json:"cycle"`
	Stopped     bool                `json:"stopped"`
	Halted      bool                `json:"halted"`
	HaltReason  string              `json:"halt_reason,omitempty"`
	Capital     models.CapitalState `json:"capital"`
	WinRate     float64             `json:"win_rate"`
	Breaker     models.BreakerState `json:"breaker"`
	Counters    models.Counters     `json:"counters"`
	LastSummary models.CycleSummary `json:"last_summary"`
	Strategies  int                 `json:"strategies"`
	Symbols     int                 `json:"symbols"`
}

// Status can be called concurrently with a running cycle.
func (s *Scheduler) Status() Status {
	c := s.ledger.Snapshot()
	st := Status{
		Capital:    c,
		WinRate:    c.WinRate(),
		Breaker:    s.breaker.State(),
		Strategies: len(s.sources),
		Symbols:    len(s.cfg.Symbols),
	}
	s.statsMu.RLock()
	st.Session = s.sessionID
	st.Counters = s.counters
	st.LastSummary = s.last
	st.Cycle = s.last.Cycle
	s.statsMu.RUnlock()

	if s.cycleMu.TryLock() {
		st.Stopped = s.stopped
		if s.haltErr != nil {
			st.Halted, st.HaltReason = true, s.haltErr.Error()
		}
		s.cycleMu.Unlock()
	} else {
		st.Halted = st.LastSummary.SkipReason == "halted"
		st.Stopped = st.LastSummary.SkipReason == "session_stopped"
	}
	return st
}

func (s *Scheduler) Session() string {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.sessionID
}

func (s *Scheduler) Positions() []models.Position { return s.ledger.Positions() }

func (s *Scheduler) Breaker() models.BreakerState { return s.breaker.State() }

func (s *Scheduler) StrategyStats() []models.StrategyStats { return s.ledger.StrategyStats() }
