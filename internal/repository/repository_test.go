package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"SwarmTrader/internal/domain/models"
	"SwarmTrader/pkg/cache"
	"SwarmTrader/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic string
	key   string
	value any
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *memPublisher) Publish(_ context.Context, topic string, key []byte, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: string(key), value: value})
	return nil
}

func samplePosition() models.Position {
	return models.Position{
		ID: "p-1", StrategyID: "hf_scalping", Symbol: "SOLUSDT", Timeframe: "1m",
		Direction: models.Long, EntryPrice: 150, SizeQuote: 2.5, Leverage: 20, Score: 0.81,
		OpenedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), Cycle: 3,
	}
}

func TestKafkaSink_TopicsAndKeys(t *testing.T) {
	pub := &memPublisher{}
	sink := NewKafkaSink(pub, "swarm.cycles", "swarm.positions")
	ctx := context.Background()

	require.NoError(t, sink.PublishSummary(ctx, models.CycleSummary{Session: "2026-04-01", Cycle: 9}))
	p := samplePosition()
	require.NoError(t, sink.PublishOpened(ctx, p))
	require.NoError(t, sink.PublishClosed(ctx, models.ClosedPosition{Position: p, Reason: models.ExitTakeProfit}))
	require.NoError(t, NewLogPublisher(pub).PublishMessage(ctx, "swarm.logs", []string{"x"}))

	require.Len(t, pub.msgs, 4)
	assert.Equal(t, published{topic: "swarm.cycles", key: "2026-04-01", value: models.CycleSummary{Session: "2026-04-01", Cycle: 9}}, pub.msgs[0])
	assert.Equal(t, "swarm.positions", pub.msgs[1].topic)
	assert.Equal(t, "p-1", pub.msgs[1].key)
	assert.Equal(t, "opened", pub.msgs[1].value.(PositionEvent).Type)
	assert.Equal(t, "closed", pub.msgs[2].value.(PositionEvent).Type)
	assert.Equal(t, "swarm.logs", pub.msgs[3].topic)

	pub.err = errors.New("down")
	assert.Error(t, sink.PublishSummary(ctx, models.CycleSummary{}))
}

func TestSessionStore_BreakerAndLeader(t *testing.T) {
	store := NewSessionStore(cache.NewMemoryCache())
	ctx := context.Background()

	got, err := store.LoadBreaker(ctx, "2026-04-01")
	require.NoError(t, err)
	assert.Nil(t, got)

	st := models.BreakerState{
		Status:     models.BreakerTrippedDaily,
		Portfolio:  &models.Trip{Scope: models.ScopeDaily, Reason: "daily loss", Value: 0.11, Threshold: 0.10},
		Strategies: map[string]models.Trip{"grid": {Scope: models.ScopeStrategy, StrategyID: "grid"}},
	}
	require.NoError(t, store.SaveBreaker(ctx, "2026-04-01", st))
	got, err = store.LoadBreaker(ctx, "2026-04-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TRIPPED_DAILY+TRIPPED_STRATEGY(grid)", got.String())
	assert.InDelta(t, 0.11, got.Portfolio.Value, 1e-12)

	require.NoError(t, store.SaveSummary(ctx, models.CycleSummary{Session: "2026-04-01", Cycle: 4}))
	sum, err := store.LastSummary(ctx, "2026-04-01")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), sum.Cycle)

	ok, err := store.AcquireLeader(ctx, "node-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.AcquireLeader(ctx, "node-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.ReleaseLeader(ctx, "node-b"), "release by non-owner is ignored")
	require.NoError(t, store.ReleaseLeader(ctx, "node-a"))
	ok, _ = store.AcquireLeader(ctx, "node-b", time.Minute)
	assert.True(t, ok)
}

type recordingMetrics struct {
	latency map[string]int
}

func (m *recordingMetrics) RecordCycle(string, float64) {}
func (m *recordingMetrics) RecordCandidates(int) {}
func (m *recordingMetrics) RecordAdmission(string) {}
func (m *recordingMetrics) RecordRejection(string) {}
func (m *recordingMetrics) RecordExit(string, string, float64) {}
func (m *recordingMetrics) RecordCapital(models.CapitalState) {}
func (m *recordingMetrics) RecordBreaker(models.BreakerState) {}
func (m *recordingMetrics) RecordSourceLatency(string, float64) {}
func (m *recordingMetrics) RecordLastPrice(string, float64) {}
func (m *recordingMetrics) RecordError(string) {}
func (m *recordingMetrics) RecordLatency(op string, _ float64) { m.latency[op]++ }

func TestQueueExecution_PaperFill(t *testing.T) {
	backend := queue.NewMemoryBackend()
	q := queue.New(nil, queue.Config{PollWait: 10 * time.Millisecond}, backend)
	metrics := &recordingMetrics{latency: map[string]int{}}
	job := NewPaperFillJob(nil, metrics)

	exec := NewQueueExecution(q)
	in := models.ExecutionIntent{ID: "i-1", Action: models.IntentOpen, PositionID: "p-1", Symbol: "SOLUSDT", Price: 150, CreatedAt: time.Now()}
	require.NoError(t, exec.SubmitIntent(context.Background(), in))

	raw, err := backend.Pop(context.Background(), "swarm:queue:messages", time.Millisecond)
	require.NoError(t, err)
	var msg queue.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, IntentMessageType, msg.Type)

	require.NoError(t, job.Handle(context.Background(), msg.Payload))
	assert.Equal(t, 1, metrics.latency["paper_fill"])
	assert.Error(t, job.Handle(context.Background(), json.RawMessage(`{"action":"hold"}`)))
}

func TestJournalRows(t *testing.T) {
	c := models.ClosedPosition{
		Position:  samplePosition(),
		ExitPrice: 151.5, ClosedAt: time.Date(2026, 4, 1, 12, 5, 0, 0, time.UTC),
		Reason: models.ExitTakeProfit, PnL: 0.5, PnLPct: 0.01, Fees: 0.002,
	}
	row := closedRow(c)
	require.Len(t, row, 17)
	assert.Equal(t, "p-1", row[2])
	assert.Equal(t, "long", row[6])
	assert.Equal(t, "take_profit", row[15])
	assert.Equal(t, uint64(3), row[16])

	s := models.CycleSummary{Session: "s", Cycle: 2, Skipped: true, SkipReason: "deadline", Duration: 1500 * time.Millisecond, BreakerState: "NORMAL"}
	srow := summaryRow(s)
	require.Len(t, srow, 19)
	assert.Equal(t, uint8(1), srow[16])
	assert.Equal(t, "deadline", srow[17])
	assert.InDelta(t, 1500.0, srow[18], 1e-9)
}
