package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SwarmTrader/internal/domain/models"
	pkgmetrics "SwarmTrader/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProc struct {
	mu   sync.Mutex
	fail bool
	got  []*models.Tick
}

func (s *stubProc) Process(_ context.Context, t *models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("down")
	}
	s.got = append(s.got, t)
	return nil
}

func (s *stubProc) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *stubProc) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func newTick(sym string, px float64) *models.Tick {
	return &models.Tick{Symbol: sym, Price: px, Timestamp: time.Now()}
}

func TestTickPipeline_Validates(t *testing.T) {
	p := NewTickPipeline(&stubProc{}, pkgmetrics.Nop{})
	ctx := context.Background()
	assert.Error(t, p.Process(ctx, nil))
	assert.Error(t, p.Process(ctx, &models.Tick{Symbol: "BTCUSDT", Price: 1}))
	assert.Error(t, p.Process(ctx, newTick("", 1)))
	assert.Error(t, p.Process(ctx, newTick("BTCUSDT", 0)))
	assert.NoError(t, p.Process(ctx, newTick("BTCUSDT", 1)))
}

func TestTickPipeline_ThrottlesPerSymbol(t *testing.T) {
	proc := &stubProc{}
	p := NewTickPipeline(proc, pkgmetrics.Nop{}, WithMaxRPS(2))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, newTick("BTCUSDT", 100)))
	}
	require.NoError(t, p.Process(ctx, newTick("ETHUSDT", 100)))
	assert.Equal(t, 3, proc.count())
}

func TestTickPipeline_Transform(t *testing.T) {
	proc := &stubProc{}
	p := NewTickPipeline(proc, pkgmetrics.Nop{}, WithMaxRPS(0), WithTransform(func(t *models.Tick) *models.Tick {
		c := *t
		c.Symbol = c.Symbol + "USDT"
		return &c
	}))
	require.NoError(t, p.Process(context.Background(), newTick("SOL", 150)))
	require.Equal(t, 1, proc.count())
	assert.Equal(t, "SOLUSDT", proc.got[0].Symbol)
}

func TestTickPipeline_BuffersAndRetries(t *testing.T) {
	proc := &stubProc{fail: true}
	p := NewTickPipeline(proc, pkgmetrics.Nop{}, WithMaxRPS(0), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, p.Process(ctx, newTick("BTCUSDT", 100)))
	assert.Equal(t, 1, p.Buffered())

	proc.setFail(false)
	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
