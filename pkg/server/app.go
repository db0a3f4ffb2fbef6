package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
	domsvc "SwarmTrader/internal/domain/service"
	mid "SwarmTrader/internal/middleware"
	"SwarmTrader/internal/service/bybit"
	"SwarmTrader/internal/service/market"
	"SwarmTrader/internal/usecase"
	"SwarmTrader/pkg/config"
	xhttp "SwarmTrader/pkg/http"
	pkgkafka "SwarmTrader/pkg/kafka"
	applogger "SwarmTrader/pkg/logger"
	"SwarmTrader/pkg/queue"
)

// Components are the long-lived parts the App starts and stops. Feed, backfill,
// consumer and queue are optional.
type Components struct {
	Logger     *applogger.Logger
	Scheduler  *usecase.Scheduler
	Reporter   *usecase.Reporter
	Book       *market.PriceBook
	Pipeline   *mid.TickPipeline
	Collector  *usecase.MarketCollector
	Backfill   *bybit.KlineClient
	Consumer   *pkgkafka.Consumer
	Queue      *queue.Queue
	Sources    []domsvc.OpportunitySource
	Journal    domrepo.TradeJournal
	HTTPServer *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	c   Components
	log *applogger.Logger

	// Cleanup releases the infrastructure clients built by DI.
	Cleanup func()
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, c Components) *App {
	if c.Logger == nil {
		c.Logger = applogger.Nop()
	}
	return &App{cfg: cfg, c: c, log: c.Logger.With("app"), Cleanup: func() {}}
}

// Run starts the feed, the sinks, the API and the scheduler, and blocks until
// SIGINT/SIGTERM or ctx is done. On the way out the session is stopped so every
// open position is closed before the sinks drain.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.c.Reporter.Start()
	if a.c.Queue != nil {
		// workers outlive the signal so the reporter can drain into them
		if err := a.c.Queue.Start(context.Background()); err != nil {
			a.c.Reporter.Stop()
			a.Cleanup()
			return fmt.Errorf("queue: %w", err)
		}
	}
	if err := a.startFeed(ctx); err != nil {
		a.shutdown()
		return err
	}

	if err := a.c.Scheduler.Restore(ctx); err != nil {
		a.log.Warn("breaker restore failed, starting NORMAL", applogger.Error(err))
	}

	if err := a.c.HTTPServer.Start(); err != nil {
		a.shutdown()
		return fmt.Errorf("http: %w", err)
	}

	a.log.Info("swarm started",
		applogger.String("mode", a.cfg.Swarm.Mode),
		applogger.String("feed", a.cfg.Feed.Type),
		applogger.Int("symbols", len(a.cfg.Universe.Symbols)),
		applogger.Int("strategies", len(a.c.Sources)),
		applogger.Float64("capital", a.cfg.Swarm.InitialCapital))

	schedCtx, cancelSched := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.c.Scheduler.Run(schedCtx); err != nil {
			a.log.Error("scheduler exited", applogger.Error(err))
		}
	}()

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	cancelSched()
	wg.Wait()
	closed := a.c.Scheduler.Stop(models.ExitSessionStop)
	a.log.Info("session closed", applogger.Int("positions", len(closed)))

	a.shutdown()
	return nil
}

// Preflight connects the feed, waits for prices and checks the universe, the capital
// and the journal. It stops the feed before returning.
func (a *App) Preflight(ctx context.Context) ([]usecase.PreflightCheck, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.startFeed(ctx); err != nil {
		a.stopFeed()
		a.Cleanup()
		return nil, err
	}
	checks, err := usecase.Preflight(ctx, usecase.PreflightInput{
		Capital:  a.cfg.Swarm.InitialCapital,
		Symbols:  a.cfg.Universe.Symbols,
		Sources:  a.c.Sources,
		Prices:   a.c.Book,
		Journal:  a.c.Journal,
		FeedWait: a.cfg.Feed.PreflightWait,
	}, a.log)
	a.stopFeed()
	a.Cleanup()
	return checks, err
}

// startFeed seeds history and starts whichever tick source is configured.
func (a *App) startFeed(ctx context.Context) error {
	if a.c.Backfill != nil {
		bctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := a.c.Backfill.Backfill(bctx, a.c.Book, a.cfg.Universe.Symbols, a.c.Book.Timeframes(), a.cfg.Feed.CandleHistory)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Warn("candle backfill incomplete", applogger.Error(err))
		}
	}

	switch {
	case a.c.Collector != nil:
		if err := a.c.Collector.Start(ctx); err != nil {
			return fmt.Errorf("market stream: %w", err)
		}
		a.log.Info("market stream started", applogger.Strings("symbols", a.cfg.Universe.Symbols))
	case a.c.Consumer != nil:
		a.c.Pipeline.Start(ctx)
		if err := a.c.Consumer.Start(ctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka tick consumer started", applogger.String("topic", a.cfg.Kafka.TicksTopic))
	default:
		return errors.New("no tick source configured")
	}
	return nil
}

func (a *App) stopFeed() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.c.Collector != nil {
		if err := a.c.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("market stream stop error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
		a.c.Pipeline.Stop()
	}
}

// shutdown gracefully stops all services. The reporter drains before the queue and
// the producer go away.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.c.HTTPServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	a.stopFeed()

	a.c.Reporter.Stop()
	if a.c.Queue != nil {
		if err := a.c.Queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", applogger.Error(err))
		}
	}

	a.Cleanup()
	a.log.Info("shutdown complete")
}
