package di

import (
	"testing"

	domrepo "SwarmTrader/internal/domain/repository"
	internalrepo "SwarmTrader/internal/repository"
	pkgcache "SwarmTrader/pkg/cache"
	"SwarmTrader/pkg/config"
	applogger "SwarmTrader/pkg/logger"
	"SwarmTrader/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestProvideSources_SkipsDisabled(t *testing.T) {
	cfg := loadDefaults(t)
	off := false
	cfg.Universe.Strategies[1].Enabled = &off

	sources, err := ProvideSources(cfg)
	require.NoError(t, err)
	require.Len(t, sources, len(cfg.Universe.Strategies)-1)
	for _, s := range sources {
		assert.NotEqual(t, cfg.Universe.Strategies[1].ID, s.ID())
	}
}

func TestProvideSources_UnknownKind(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Universe.Strategies = []config.Strategy{{ID: "x", Kind: "martingale"}}
	_, err := ProvideSources(cfg)
	assert.Error(t, err)
}

func TestStrategyTimeframes_UnionWithDefault(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Universe.Strategies = []config.Strategy{
		{ID: "a", Kind: "momentum", Timeframes: []string{"15m", "1h"}},
		{ID: "b", Kind: "funding_arb"},
	}
	assert.Equal(t, []domrepo.Timeframe{domrepo.TF1m, domrepo.TF15m, domrepo.TF1h, domrepo.TF8h}, strategyTimeframes(cfg))
}

func TestOptionalInfrastructureIsNilWhenDisabled(t *testing.T) {
	cfg := loadDefaults(t)
	l := applogger.Nop()

	producer, cleanup, err := ProvideKafkaProducer(cfg, l, ProvideRegistry())
	require.NoError(t, err)
	assert.Nil(t, producer)
	cleanup()

	ch, cleanup, err := ProvideClickHouseClient(cfg, l)
	require.NoError(t, err)
	assert.Nil(t, ch)
	cleanup()

	journal, err := ProvideTradeJournal(nil, l)
	require.NoError(t, err)
	assert.IsType(t, internalrepo.NoopJournal{}, journal)

	store, cleanup, err := ProvideCacheStore(cfg, l)
	require.NoError(t, err)
	assert.IsType(t, &pkgcache.MemoryCache{}, store)
	cleanup()

	assert.Nil(t, ProvideQueue(cfg, l, store, metrics.Nop{}))
	assert.Nil(t, ProvideKafkaSink(cfg, nil))
	assert.Nil(t, ProvideKlineClient(&config.Config{}, l))

	shipping, cleanup := ProvideLogShipping(cfg, l, nil)
	assert.False(t, shipping.Enabled)
	cleanup()
}

func TestProvideQueue_MemoryBackendWithoutRedis(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Queue.Enabled = true
	q := ProvideQueue(cfg, applogger.Nop(), pkgcache.NewMemoryCache(), metrics.Nop{})
	require.NotNil(t, q)
}

func TestProvideTickConsumer_OnlyForKafkaFeed(t *testing.T) {
	cfg := loadDefaults(t)
	book := ProvidePriceBook(cfg, metrics.Nop{})
	pipe := ProvideTickPipeline(cfg, book, metrics.Nop{})
	c, err := ProvideTickConsumer(cfg, applogger.Nop(), ProvideRegistry(), pipe, metrics.Nop{})
	require.NoError(t, err)
	assert.Nil(t, c)

	cfg.Feed.Type = "kafka"
	cfg.Kafka.Brokers = []string{"127.0.0.1:9092"}
	c, err = ProvideTickConsumer(cfg, applogger.Nop(), ProvideRegistry(), pipe, metrics.Nop{})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSchedulerOwnerIsUnique(t *testing.T) {
	owner := schedulerOwner()
	assert.NotEmpty(t, owner)
	assert.NotEqual(t, owner, schedulerOwner())
}
