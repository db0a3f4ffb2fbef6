//go:build wireinject
// +build wireinject

package di

import (
	"SwarmTrader/pkg/config"
	"SwarmTrader/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogShipping,
		ProvideClickHouseClient,
		ProvideCacheStore,

		// Repositories
		ProvideTradeJournal,
		ProvideSessionStore,
		ProvideQueue,
		ProvideKafkaSink,

		// Market data
		ProvidePriceBook,
		ProvideTickPipeline,
		ProvideMarketCollector,
		ProvideKlineClient,
		ProvideTickConsumer,

		// Use cases
		ProvideSources,
		ProvideScanner,
		ProvideScorer,
		ProvideAllocator,
		ProvideBreaker,
		ProvideLedger,
		ProvideReporter,
		ProvideScheduler,
		ProvideCandles,

		// Transport and application server
		ProvideAPIHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
