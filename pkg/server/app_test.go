package server_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"SwarmTrader/internal/di"
	"SwarmTrader/internal/domain/models"
	mid "SwarmTrader/internal/middleware"
	internalrepo "SwarmTrader/internal/repository"
	"SwarmTrader/internal/usecase"
	pkgcache "SwarmTrader/pkg/cache"
	"SwarmTrader/pkg/config"
	xhttp "SwarmTrader/pkg/http"
	applogger "SwarmTrader/pkg/logger"
	"SwarmTrader/pkg/metrics"
	"SwarmTrader/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayStream emits a fixed set of ticks once and then idles until closed.
type replayStream struct {
	mu     sync.Mutex
	ticks  []*models.Tick
	closed bool
}

func (s *replayStream) Connect(context.Context) error   { return nil }
func (s *replayStream) Subscribe(context.Context) error { return nil }
func (s *replayStream) Reconnect(context.Context) error { return nil }

func (s *replayStream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, len(s.ticks))
	for _, t := range s.ticks {
		ticks <- t
	}
	return ticks, make(chan error)
}

func (s *replayStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *replayStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Universe.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Feed.PreflightWait = 500 * time.Millisecond
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Swarm.CycleInterval = time.Hour
	return cfg
}

func buildApp(t *testing.T, cfg *config.Config, stream *replayStream) *server.App {
	t.Helper()
	l := applogger.Nop()
	m := metrics.Nop{}

	book := di.ProvidePriceBook(cfg, m)
	pipe := mid.NewTickPipeline(book, m, mid.WithMaxRPS(0))
	sources, err := di.ProvideSources(cfg)
	require.NoError(t, err)
	session := internalrepo.NewSessionStore(pkgcache.NewMemoryCache())
	journal := internalrepo.NoopJournal{}
	reporter := di.ProvideReporter(cfg, nil, journal, session, nil, m, l)
	sched := di.ProvideScheduler(cfg, di.ProvideScorer(cfg), di.ProvideAllocator(cfg), di.ProvideLedger(cfg),
		di.ProvideBreaker(cfg), di.ProvideScanner(cfg, book, m, l), book, sources, reporter, session, m, l)

	return server.New(cfg, server.Components{
		Logger:     l,
		Scheduler:  sched,
		Reporter:   reporter,
		Book:       book,
		Pipeline:   pipe,
		Collector:  usecase.NewMarketCollector(stream, pipe, m, l),
		Sources:    sources,
		Journal:    journal,
		HTTPServer: xhttp.NewServer(l, nil, xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port), xhttp.WithRegistry(prometheus.NewRegistry())),
	})
}

func TestApp_PreflightPasses(t *testing.T) {
	cfg := testConfig(t)
	stream := &replayStream{ticks: []*models.Tick{{Symbol: "BTCUSDT", Price: 64000, Volume: 1, Timestamp: time.Now()}}}
	app := buildApp(t, cfg, stream)
	cleaned := false
	app.Cleanup = func() { cleaned = true }

	checks, err := app.Preflight(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, checks)
	for _, c := range checks {
		assert.True(t, c.OK, c.Name)
	}
	assert.True(t, cleaned)
	assert.False(t, stream.IsConnected(), "feed is closed after preflight")
}

func TestApp_PreflightFailsWithoutPrices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.PreflightWait = 100 * time.Millisecond
	app := buildApp(t, cfg, &replayStream{})

	checks, err := app.Preflight(context.Background())
	require.ErrorIs(t, err, usecase.ErrPreflightFailed)
	var feed *usecase.PreflightCheck
	for i := range checks {
		if checks[i].Name == "feed" {
			feed = &checks[i]
		}
	}
	require.NotNil(t, feed)
	assert.False(t, feed.OK)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	stream := &replayStream{ticks: []*models.Tick{{Symbol: "BTCUSDT", Price: 64000, Volume: 1, Timestamp: time.Now()}}}
	app := buildApp(t, cfg, stream)
	cleaned := make(chan struct{})
	app.Cleanup = func() { close(cleaned) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	select {
	case <-cleaned:
	default:
		t.Fatal("cleanup not called")
	}
	assert.False(t, stream.IsConnected())
}
