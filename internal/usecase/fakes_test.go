package usecase

import (
	"context"
	"sync"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
)

type fakePrices struct {
	mu sync.Mutex
	px map[string]float64
}

func newFakePrices(kv ...interface{}) *fakePrices {
	f := &fakePrices{px: map[string]float64{}}
	for i := 0; i+1 < len(kv); i += 2 {
		f.px[kv[i].(string)] = kv[i+1].(float64)
	}
	return f
}

func (f *fakePrices) set(sym string, px float64) {
	f.mu.Lock()
	f.px[sym] = px
	f.mu.Unlock()
}

func (f *fakePrices) drop(sym string) {
	f.mu.Lock()
	delete(f.px, sym)
	f.mu.Unlock()
}

func (f *fakePrices) CurrentPrice(sym string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	px, ok := f.px[sym]
	if !ok {
		return 0, models.ErrDataUnavailable
	}
	return px, nil
}

func (f *fakePrices) Candles(string, domrepo.Timeframe, int) []models.Candle { return nil }

func (f *fakePrices) FundingRate(string) (float64, bool) { return 0, false }

type fakeMetrics struct {
	mu         sync.Mutex
	cycles     map[string]int
	rejections map[string]int
	admissions int
	exits      map[string]int
	errors     map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		cycles:     map[string]int{},
		rejections: map[string]int{},
		exits:      map[string]int{},
		errors:     map[string]int{},
	}
}

func (m *fakeMetrics) RecordCycle(outcome string, _ float64) {
	m.mu.Lock()
	m.cycles[outcome]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordCandidates(int) {}
func (m *fakeMetrics) RecordAdmission(string) {
	m.mu.Lock()
	m.admissions++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordRejection(reason string) {
	m.mu.Lock()
	m.rejections[reason]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordExit(_ string, reason string, _ float64) {
	m.mu.Lock()
	m.exits[reason]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordCapital(models.CapitalState)   {}
func (m *fakeMetrics) RecordBreaker(models.BreakerState)   {}
func (m *fakeMetrics) RecordSourceLatency(string, float64) {}
func (m *fakeMetrics) RecordLastPrice(string, float64)     {}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordLatency(string, float64) {}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

// fakeSource emits a fixed opportunity per symbol, or nothing.
type fakeSource struct {
	id     string
	tfs    []string
	delay  time.Duration
	emit   func(snap models.MarketSnapshot) *models.Opportunity
	calls  int
	callMu sync.Mutex
}

func (s *fakeSource) ID() string           { return s.id }
func (s *fakeSource) Timeframes() []string { return s.tfs }

func (s *fakeSource) Produce(ctx context.Context, snap models.MarketSnapshot) (*models.Opportunity, error) {
	s.callMu.Lock()
	s.calls++
	s.callMu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.emit == nil {
		return nil, nil
	}
	return s.emit(snap), nil
}

func longEvery(conf, er, risk float64) func(models.MarketSnapshot) *models.Opportunity {
	return func(snap models.MarketSnapshot) *models.Opportunity {
		return &models.Opportunity{Direction: models.Long, Confidence: conf, ExpectedReturn: er, Risk: risk}
	}
}

type recordingSink struct {
	mu        sync.Mutex
	summaries []models.CycleSummary
	opened    []models.Position
	closed    []models.ClosedPosition
	intents   []models.ExecutionIntent
	breakers  map[string]models.BreakerState
	fail      error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{breakers: map[string]models.BreakerState{}}
}

func (r *recordingSink) PublishSummary(_ context.Context, s models.CycleSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return r.fail
}

func (r *recordingSink) PublishOpened(_ context.Context, p models.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, p)
	return r.fail
}

func (r *recordingSink) PublishClosed(_ context.Context, c models.ClosedPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, c)
	return r.fail
}

func (r *recordingSink) SubmitIntent(_ context.Context, in models.ExecutionIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
	return r.fail
}

func (r *recordingSink) SaveBreaker(_ context.Context, session string, b models.BreakerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[session] = b
	return r.fail
}

func (r *recordingSink) LoadBreaker(_ context.Context, session string) (*models.BreakerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[session]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *recordingSink) SaveSummary(context.Context, models.CycleSummary) error { return nil }

func (r *recordingSink) AcquireLeader(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (r *recordingSink) ReleaseLeader(context.Context, string) error { return nil }

func (r *recordingSink) counts() (summaries, opened, closed, intents int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries), len(r.opened), len(r.closed), len(r.intents)
}
