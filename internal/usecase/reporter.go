package usecase

import (
	"context"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	applogger "SwarmTrader/pkg/logger"

	"github.com/google/uuid"
)

// Sinks groups the outbound collaborators fed by the scheduler. Nil members are skipped.
type Sinks struct {
	Summary   domrepo.SummarySink
	Events    domrepo.PositionEvents
	Journal   domrepo.TradeJournal
	Session   domrepo.SessionStore
	Execution domrepo.ExecutionQueue
}

// Report is the output of one cycle or session command.
type Report struct {
	Session string
	Summary *models.CycleSummary
	Opened  []models.Position
	Closed  []models.ClosedPosition
	Breaker *models.BreakerState
}

// Reporter delivers cycle output in the background. Enqueue never blocks: when the
// buffer is full the report is dropped and counted.
type Reporter struct {
	sinks   Sinks
	metrics domrepo.Metrics
	logger  *applogger.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Report
	wg     sync.WaitGroup
}

func NewReporter(sinks Sinks, metrics domrepo.Metrics, logger *applogger.Logger, buffer int, timeout time.Duration) *Reporter {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reporter{sinks: sinks, metrics: metrics, logger: logger, timeout: timeout, ch: make(chan Report, buffer)}
}

// Start launches the delivery worker.
func (r *Reporter) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for rep := range r.ch {
			r.deliver(rep)
		}
	}()
}

// Stop drains pending reports and waits for the worker.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	r.wg.Wait()
}

// Enqueue hands off one cycle's output.
func (r *Reporter) Enqueue(rep Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.RecordError("report_after_stop")
		return
	}
	select {
	case r.ch <- rep:
	default:
		r.metrics.RecordError("report_drop")
		r.logger.Warn("report buffer full, dropping cycle output")
	}
}

func (r *Reporter) deliver(rep Report) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	for _, p := range rep.Opened {
		if r.sinks.Events != nil {
			if err := r.sinks.Events.PublishOpened(ctx, p); err != nil {
				r.fail("events_opened", err)
			}
		}
		if r.sinks.Execution != nil {
			if err := r.sinks.Execution.SubmitIntent(ctx, openIntent(p)); err != nil {
				r.fail("execution_open", err)
			}
		}
	}

	if len(rep.Closed) > 0 {
		for _, c := range rep.Closed {
			if r.sinks.Events != nil {
				if err := r.sinks.Events.PublishClosed(ctx, c); err != nil {
					r.fail("events_closed", err)
				}
			}
			if r.sinks.Execution != nil {
				if err := r.sinks.Execution.SubmitIntent(ctx, closeIntent(c)); err != nil {
					r.fail("execution_close", err)
				}
			}
		}
		if r.sinks.Journal != nil {
			if err := r.sinks.Journal.RecordClosed(ctx, rep.Closed); err != nil {
				r.fail("journal_closed", err)
			}
		}
	}

	if s := rep.Summary; s != nil {
		if r.sinks.Summary != nil {
			if err := r.sinks.Summary.PublishSummary(ctx, *s); err != nil {
				r.fail("summary_publish", err)
			}
		}
		if r.sinks.Journal != nil {
			if err := r.sinks.Journal.RecordSummary(ctx, *s); err != nil {
				r.fail("journal_summary", err)
			}
		}
		if r.sinks.Session != nil {
			if err := r.sinks.Session.SaveSummary(ctx, *s); err != nil {
				r.fail("session_summary", err)
			}
		}
	}

	if rep.Breaker != nil && r.sinks.Session != nil {
		if err := r.sinks.Session.SaveBreaker(ctx, rep.Session, *rep.Breaker); err != nil {
			r.fail("session_breaker", err)
		}
	}
}

func (r *Reporter) fail(kind string, err error) {
	r.metrics.RecordError(kind)
	r.logger.Warn("report delivery failed", applogger.String("sink", kind), applogger.Error(err))
}

func openIntent(p models.Position) models.ExecutionIntent {
	return models.ExecutionIntent{
		ID:         uuid.NewString(),
		Action:     models.IntentOpen,
		PositionID: p.ID,
		StrategyID: p.StrategyID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Price:      p.EntryPrice,
		SizeQuote:  p.SizeQuote,
		Leverage:   p.Leverage,
		CreatedAt:  p.OpenedAt,
	}
}

func closeIntent(c models.ClosedPosition) models.ExecutionIntent {
	return models.ExecutionIntent{
		ID:         uuid.NewString(),
		Action:     models.IntentClose,
		PositionID: c.ID,
		StrategyID: c.StrategyID,
		Symbol:     c.Symbol,
		Direction:  c.Direction,
		Price:      c.ExitPrice,
		SizeQuote:  c.SizeQuote,
		Leverage:   c.Leverage,
		Reason:     c.Reason,
		CreatedAt:  c.ClosedAt,
	}
}
