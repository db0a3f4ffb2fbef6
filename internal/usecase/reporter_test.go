package usecase

import (
	"errors"
	"testing"
	"time"

	"SwarmTrader/internal/domain/models"
	applogger "SwarmTrader/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_DeliversToAllSinks(t *testing.T) {
	sink := newRecordingSink()
	m := newFakeMetrics()
	r := NewReporter(Sinks{Summary: sink, Events: sink, Session: sink, Execution: sink}, m, applogger.Nop(), 8, time.Second)
	r.Start()

	pos := models.Position{ID: "p1", StrategyID: "grid", Symbol: "BTCUSDT", Direction: models.Long, EntryPrice: 100, SizeQuote: 5}
	st := models.BreakerState{Status: models.BreakerTrippedDaily}
	r.Enqueue(Report{
		Session: "2026-03-02",
		Summary: &models.CycleSummary{Cycle: 1},
		Opened:  []models.Position{pos},
		Closed:  []models.ClosedPosition{{Position: pos, ExitPrice: 101, Reason: models.ExitTakeProfit}},
		Breaker: &st,
	})
	r.Stop()

	summaries, opened, closed, intents := sink.counts()
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	require.Equal(t, 2, intents)
	assert.Equal(t, models.IntentOpen, sink.intents[0].Action)
	assert.Equal(t, models.IntentClose, sink.intents[1].Action)
	assert.Equal(t, models.ExitTakeProfit, sink.intents[1].Reason)
	assert.NotEqual(t, sink.intents[0].ID, sink.intents[1].ID)
	assert.Equal(t, models.BreakerTrippedDaily, sink.breakers["2026-03-02"].Status)
}

func TestReporter_DropsWhenFull(t *testing.T) {
	m := newFakeMetrics()
	r := NewReporter(Sinks{}, m, applogger.Nop(), 1, time.Second)

	// not started: the first report fills the buffer, the second is dropped
	r.Enqueue(Report{})
	r.Enqueue(Report{})
	assert.Equal(t, 1, m.errorCount("report_drop"))

	r.Start()
	r.Stop()
	r.Enqueue(Report{})
	assert.Equal(t, 1, m.errorCount("report_after_stop"))
}

func TestReporter_SinkFailureIsCounted(t *testing.T) {
	sink := newRecordingSink()
	sink.fail = errors.New("broker down")
	m := newFakeMetrics()
	r := NewReporter(Sinks{Summary: sink}, m, applogger.Nop(), 4, time.Second)
	r.Start()
	r.Enqueue(Report{Summary: &models.CycleSummary{}})
	r.Stop()

	assert.Equal(t, 1, m.errorCount("summary_publish"))
}
