package di

import (
	"context"
	"fmt"
	"os"
	"time"

	domrepo "SwarmTrader/internal/domain/repository"
	domsvc "SwarmTrader/internal/domain/service"
	"SwarmTrader/internal/handler/api"
	mid "SwarmTrader/internal/middleware"
	internalrepo "SwarmTrader/internal/repository"
	"SwarmTrader/internal/service/bybit"
	"SwarmTrader/internal/service/market"
	"SwarmTrader/internal/services/strategies"
	"SwarmTrader/internal/usecase"
	pkgcache "SwarmTrader/pkg/cache"
	pkgch "SwarmTrader/pkg/clickhouse"
	"SwarmTrader/pkg/config"
	xhttp "SwarmTrader/pkg/http"
	pkgkafka "SwarmTrader/pkg/kafka"
	applogger "SwarmTrader/pkg/logger"
	"SwarmTrader/pkg/metrics"
	"SwarmTrader/pkg/queue"
	"SwarmTrader/pkg/server"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger builds the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideRegistry creates the registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideKafkaProducer creates the producer, or nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      k.Brokers,
		RequiredAcks: k.RequiredAcks,
		Compression:  k.Compression,
		MaxAttempts:  k.Producer.MaxAttempts,
		WriteTimeout: k.Producer.WriteTimeout,
		BatchSize:    k.Producer.BatchSize,
		BatchBytes:   k.Producer.BatchBytes,
		BatchTimeout: k.Producer.Linger,
		Async:        k.Producer.Async,
		HashByKey:    true,
	}, pkgkafka.Deps{Logger: l, Registerer: reg})
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	cleanup := func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// LogShipping records whether warn/error aggregation to kafka is attached to the logger.
type LogShipping struct {
	Enabled bool
	Topic   string
}

// ProvideLogShipping attaches the log collector when log.collect is set and kafka is up.
func ProvideLogShipping(cfg *config.Config, l *applogger.Logger, producer *pkgkafka.Producer) (LogShipping, func()) {
	if !cfg.Log.Collect || producer == nil {
		return LogShipping{}, func() {}
	}
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.LogsTopic,
		IncludeWarn:    true,
		Publisher:      internalrepo.NewLogPublisher(producer),
	})
	return LogShipping{Enabled: true, Topic: cfg.Kafka.LogsTopic}, l.RemoveCollector
}

// ProvideClickHouseClient opens the pool, or returns nil when clickhouse is disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	c := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout+5*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx, pkgch.Options{
		Host:        c.Host,
		Port:        c.Port,
		Database:    c.Database,
		User:        c.User,
		Password:    c.Password,
		UseHTTP:     c.UseHTTP,
		AsyncInsert: c.AsyncInsert,
		DialTimeout: c.DialTimeout,
		ReadTimeout: c.ReadTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	return client, cleanup, nil
}

// ProvideTradeJournal returns the clickhouse journal with its schema ready, or a no-op.
func ProvideTradeJournal(ch *pkgch.Client, l *applogger.Logger) (domrepo.TradeJournal, error) {
	if ch == nil {
		return internalrepo.NoopJournal{}, nil
	}
	j := internalrepo.NewClickHouseJournal(ch, l)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return j, nil
}

// ProvideCacheStore connects to redis when enabled and falls back to process memory.
func ProvideCacheStore(cfg *config.Config, l *applogger.Logger) (pkgcache.Store, func(), error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(4096)), func() {}, nil
	}
	r := cfg.Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := pkgcache.NewRedisCache(ctx,
		pkgcache.WithRedisAddr(r.Host, r.Port),
		pkgcache.WithRedisAuth(r.Password, r.DB),
		pkgcache.WithRedisPrefix(r.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideSessionStore keeps breaker trips and the leader lease in the cache store.
func ProvideSessionStore(store pkgcache.Store) domrepo.SessionStore {
	return internalrepo.NewSessionStore(store)
}

// ProvideQueue builds the execution queue, or nil when disabled. It shares the redis
// client with the cache when redis is enabled.
func ProvideQueue(cfg *config.Config, l *applogger.Logger, store pkgcache.Store, m domrepo.Metrics) *queue.Queue {
	if !cfg.Queue.Enabled {
		return nil
	}
	var backend queue.Backend
	if rc, ok := store.(*pkgcache.RedisCache); ok {
		backend = queue.NewRedisBackend(rc.Client())
	} else {
		backend = queue.NewMemoryBackend()
	}
	q := queue.New(l, queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: 3,
		RetryDelay: 2 * time.Second,
		KeyPrefix:  cfg.Queue.KeyPrefix,
	}, backend)
	if cfg.Swarm.Mode == "paper" {
		q.RegisterJob(internalrepo.NewPaperFillJob(l, m))
	}
	return q
}

// ProvideKafkaSink publishes summaries and position events, or nil without a producer.
func ProvideKafkaSink(cfg *config.Config, producer *pkgkafka.Producer) *internalrepo.KafkaSink {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaSink(producer, cfg.Kafka.SummaryTopic, cfg.Kafka.EventsTopic)
}

// ProvidePriceBook creates the in-memory price and candle store.
func ProvidePriceBook(cfg *config.Config, m domrepo.Metrics) *market.PriceBook {
	return market.NewPriceBook(market.Config{
		StaleAfter: cfg.Feed.StaleAfter,
		History:    cfg.Feed.CandleHistory,
		Timeframes: strategyTimeframes(cfg),
	}, m)
}

// ProvideTickPipeline sits between whichever feed is configured and the price book.
func ProvideTickPipeline(cfg *config.Config, book *market.PriceBook, m domrepo.Metrics) *mid.TickPipeline {
	return mid.NewTickPipeline(book, m,
		mid.WithMaxRPS(int(cfg.Feed.MaxRPS)),
		mid.WithBufferSize(cfg.Feed.BufferSize),
	)
}

// ProvideMarketCollector streams bybit tickers, or nil when the feed is kafka.
func ProvideMarketCollector(cfg *config.Config, l *applogger.Logger, pipe *mid.TickPipeline, m domrepo.Metrics) *usecase.MarketCollector {
	if cfg.Feed.Type != "bybit" {
		return nil
	}
	stream := bybit.New(bybit.Options{
		URL:            cfg.Feed.WebSocketURL,
		Symbols:        cfg.Universe.Symbols,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		PingInterval:   cfg.Feed.PingInterval,
		SubscribeRPS:   cfg.Feed.MaxRPS,
		Logger:         l,
	})
	return usecase.NewMarketCollector(stream, pipe, m, l)
}

// ProvideKlineClient backfills candle history over REST, or nil when disabled.
func ProvideKlineClient(cfg *config.Config, l *applogger.Logger) *bybit.KlineClient {
	if cfg.Feed.Type != "bybit" || !cfg.Feed.Backfill {
		return nil
	}
	client := xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
	return bybit.NewKlineClient(cfg.Feed.RESTURL, client, cfg.Feed.MaxRPS, l)
}

// ProvideTickConsumer reads ticks from kafka into the pipeline, or nil for the bybit feed.
func ProvideTickConsumer(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry, pipe *mid.TickPipeline, m domrepo.Metrics) (*pkgkafka.Consumer, error) {
	if cfg.Feed.Type != "kafka" {
		return nil, nil
	}
	k := cfg.Kafka
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:     k.Brokers,
		GroupID:     k.Consumer.GroupID,
		WorkerCount: k.Consumer.Workers,
		BufferSize:  k.Consumer.BufferSize,
		RetryMax:    k.Consumer.RetryMax,
		BackoffMin:  k.Consumer.BackoffMin,
		BackoffMax:  k.Consumer.BackoffMax,
		DLQTopic:    k.Consumer.DLQTopic,
		MinBytes:    k.Consumer.MinBytes,
		MaxBytes:    k.Consumer.MaxBytes,
	}, pkgkafka.Deps{Logger: l, Registerer: reg})
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaTicksHandler(k.TicksTopic, pipe, m))
	return consumer, nil
}

// ProvideSources builds one opportunity source per enabled strategy.
func ProvideSources(cfg *config.Config) ([]domsvc.OpportunitySource, error) {
	remote := strategies.RemoteOptions{
		URL:      cfg.Signals.URL,
		Timeout:  cfg.Signals.Timeout,
		Attempts: cfg.Signals.Attempts,
		MaxRPS:   cfg.Signals.MaxRPS,
	}
	var out []domsvc.OpportunitySource
	for _, st := range cfg.Universe.Strategies {
		if !st.IsEnabled() {
			continue
		}
		src, err := strategies.Build(strategies.Params{
			ID:            st.ID,
			Kind:          st.Kind,
			Timeframes:    st.Timeframes,
			MinConfidence: st.MinConfidence,
			TakeProfitPct: st.TakeProfitPct,
		}, remote)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", st.ID, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func ProvideScanner(cfg *config.Config, book *market.PriceBook, m domrepo.Metrics, l *applogger.Logger) *usecase.Scanner {
	return usecase.NewScanner(usecase.ScannerConfig{
		Workers:         cfg.Swarm.Workers,
		Deadline:        cfg.Swarm.CycleDeadline,
		SourceTimeout:   cfg.Swarm.SourceTimeout,
		History:         cfg.Feed.CandleHistory,
		ReferenceSymbol: cfg.Swarm.ReferenceSymbol,
	}, book, m, l)
}

func ProvideScorer(cfg *config.Config) *usecase.Scorer {
	return usecase.NewScorer(cfg.Swarm.ReturnClipMin, cfg.Swarm.ReturnClipMax)
}

func ProvideAllocator(cfg *config.Config) *usecase.Allocator {
	return usecase.NewAllocator(usecase.AllocatorConfig{
		MinFraction:  cfg.Swarm.MinPositionFraction,
		BaseFraction: cfg.Swarm.BasePositionFraction,
		MaxFraction:  cfg.Swarm.MaxPositionFraction,
		MaxPositions: cfg.Swarm.MaxPositions,
	})
}

func ProvideBreaker(cfg *config.Config) *usecase.Breaker {
	return usecase.NewBreaker(usecase.BreakerConfig{
		DailyLossLimit:    cfg.Breaker.DailyLossLimit,
		DrawdownLimit:     cfg.Breaker.DrawdownLimit,
		StrategyLossLimit: cfg.Breaker.StrategyLossLimit,
	})
}

// ProvideLedger carries per-strategy leverage and exit offsets into the ledger.
func ProvideLedger(cfg *config.Config) *usecase.Ledger {
	params := make(map[string]usecase.StrategyParams, len(cfg.Universe.Strategies))
	for _, st := range cfg.Universe.Strategies {
		params[st.ID] = usecase.StrategyParams{
			Leverage:      st.Leverage,
			StopLossPct:   st.StopLossPct,
			TakeProfitPct: st.TakeProfitPct,
		}
	}
	return usecase.NewLedger(usecase.LedgerConfig{
		InitialCapital:  cfg.Swarm.InitialCapital,
		CeilingFraction: cfg.Swarm.DeploymentCeilingFraction,
		MaxPositions:    cfg.Swarm.MaxPositions,
		MaxHolding:      cfg.Swarm.MaxHoldingDuration,
		FeeRate:         cfg.Swarm.FeeRate,
		Strategies:      params,
	})
}

// ProvideReporter fans cycle output out to whichever sinks are configured.
func ProvideReporter(
	cfg *config.Config,
	sink *internalrepo.KafkaSink,
	journal domrepo.TradeJournal,
	session domrepo.SessionStore,
	q *queue.Queue,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Reporter {
	sinks := usecase.Sinks{Journal: journal, Session: session}
	if sink != nil {
		sinks.Summary = sink
		sinks.Events = sink
	}
	if q != nil {
		sinks.Execution = internalrepo.NewQueueExecution(q)
	}
	return usecase.NewReporter(sinks, m, l, cfg.Swarm.ReportBuffer, 5*time.Second)
}

// ProvideScheduler assembles the cycle. The leader lease is only taken against redis,
// where more than one process can see it.
func ProvideScheduler(
	cfg *config.Config,
	scorer *usecase.Scorer,
	alloc *usecase.Allocator,
	ledger *usecase.Ledger,
	breaker *usecase.Breaker,
	scanner *usecase.Scanner,
	book *market.PriceBook,
	sources []domsvc.OpportunitySource,
	reporter *usecase.Reporter,
	session domrepo.SessionStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.Scheduler {
	var owner string
	if cfg.Redis.Enabled {
		owner = schedulerOwner()
	}
	return usecase.NewScheduler(usecase.SchedulerConfig{
		Interval:                   cfg.Swarm.CycleInterval,
		MaxCycleDeploymentFraction: cfg.Swarm.MaxCycleDeploymentFraction,
		CeilingFraction:            cfg.Swarm.DeploymentCeilingFraction,
		Symbols:                    cfg.Universe.Symbols,
		Location:                   cfg.Location(),
		LeaderTTL:                  cfg.Redis.LeaderTTL,
		Owner:                      owner,
	}, usecase.SchedulerDeps{
		Scorer:   scorer,
		Alloc:    alloc,
		Ledger:   ledger,
		Breaker:  breaker,
		Scanner:  scanner,
		Prices:   book,
		Sources:  sources,
		Reporter: reporter,
		Session:  session,
		Metrics:  m,
		Logger:   l.With("scheduler"),
	})
}

func ProvideCandles(book *market.PriceBook) *usecase.CandlesUseCase {
	return usecase.NewCandlesUseCase(book)
}

func ProvideAPIHandler(cfg *config.Config, l *applogger.Logger, sched *usecase.Scheduler, journal domrepo.TradeJournal, candles *usecase.CandlesUseCase) *api.SwarmEchoHandler {
	return api.NewSwarmEchoHandler(l, sched, journal, candles, cfg.Swarm.InitialCapital)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.SwarmEchoHandler, reg *prometheus.Registry) *xhttp.Server {
	return xhttp.NewServer(l, h,
		xhttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithRegistry(reg),
	)
}

// ProvideApp hands every long-lived component to the lifecycle owner.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	shipping LogShipping,
	sched *usecase.Scheduler,
	reporter *usecase.Reporter,
	book *market.PriceBook,
	pipe *mid.TickPipeline,
	collector *usecase.MarketCollector,
	kline *bybit.KlineClient,
	consumer *pkgkafka.Consumer,
	q *queue.Queue,
	sources []domsvc.OpportunitySource,
	journal domrepo.TradeJournal,
	httpServer *xhttp.Server,
) *server.App {
	if shipping.Enabled {
		l.Info("shipping warn/error logs", applogger.String("topic", shipping.Topic))
	}
	return server.New(cfg, server.Components{
		Logger:     l,
		Scheduler:  sched,
		Reporter:   reporter,
		Book:       book,
		Pipeline:   pipe,
		Collector:  collector,
		Backfill:   kline,
		Consumer:   consumer,
		Queue:      q,
		Sources:    sources,
		Journal:    journal,
		HTTPServer: httpServer,
	})
}

func strategyTimeframes(cfg *config.Config) []domrepo.Timeframe {
	seen := map[domrepo.Timeframe]bool{domrepo.DefaultTimeframe(): true}
	out := []domrepo.Timeframe{domrepo.DefaultTimeframe()}
	for _, st := range cfg.Universe.Strategies {
		if !st.IsEnabled() {
			continue
		}
		tfs := st.Timeframes
		if len(tfs) == 0 {
			tfs = strategies.DefaultTimeframes(st.Kind)
		}
		for _, s := range tfs {
			tf := domrepo.Timeframe(s)
			if domrepo.IsValidTimeframe(tf) && !seen[tf] {
				seen[tf] = true
				out = append(out, tf)
			}
		}
	}
	return out
}

func schedulerOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "swarm"
	}
	return host + "-" + uuid.NewString()[:8]
}
