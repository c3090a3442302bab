package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olyamironova/matching-core/internal/adapter/authority"
	"github.com/olyamironova/matching-core/internal/adapter/cache"
	"github.com/olyamironova/matching-core/internal/adapter/in_memory"
	"github.com/olyamironova/matching-core/internal/adapter/kafka"
	"github.com/olyamironova/matching-core/internal/adapter/outbox"
	"github.com/olyamironova/matching-core/internal/adapter/pg"
	grpcapi "github.com/olyamironova/matching-core/internal/api/grpc"
	httpapi "github.com/olyamironova/matching-core/internal/api/http"
	"github.com/olyamironova/matching-core/internal/config"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/logger"
	"github.com/olyamironova/matching-core/internal/port"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server stopped with error", zap.Error(err))
	}
	lg.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	positions := core.NewPositionManager(lg)

	var (
		repo     port.Repository
		archive  port.PositionArchive
		limits   authority.LimitSource
		authOpts []authority.Option
	)
	if cfg.DatabaseURL != "" {
		pgRepo, err := pg.NewPgRepo(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgRepo.Close()
		if err := pgRepo.Migrate(ctx); err != nil {
			return err
		}
		repo, archive, limits = pgRepo, pgRepo, pgRepo
		authOpts = append(authOpts, authority.WithBalances(pgRepo), authority.WithLossTracker(pgRepo))
	} else {
		lg.Warn("DATABASE_URL not set, using in-memory repository")
		mem := in_memory.NewMemoryRepo()
		for _, symbol := range cfg.SeedSymbols {
			base, quote, _ := strings.Cut(symbol, "-")
			mem.PutSymbolLimits(domain.SymbolLimits{Symbol: symbol, BaseAsset: base, QuoteAsset: quote, TradingEnabled: true})
		}
		repo, archive, limits = mem, mem, mem
		authOpts = append(authOpts, authority.WithLossTracker(mem))
	}

	var snapshots port.Cache
	var counter authority.RateCounter
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.BookCacheTTL)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return err
		}
		snapshots, counter = rc, rc
	} else {
		lg.Warn("REDIS_ADDR not set, using in-memory cache")
		mc := in_memory.NewCache()
		snapshots, counter = mc, mc
	}
	authOpts = append(authOpts, authority.WithRateCounter(counter, cfg.RateLimitPerSecond), authority.WithPositions(positions))

	svc := authority.New(limits, lg, authOpts...)
	risk := core.NewRiskGateway(core.RiskConfig{
		RefreshInterval: cfg.RiskRefreshInterval,
		PriceStaleAfter: cfg.PriceStaleAfter,
	}, svc, lg)
	svc.Use(authority.WithPrices(risk))

	opts := []core.OrderManagerOption{
		core.WithLogger(lg),
		core.WithSnapshotCache(snapshots, 50),
		core.WithPositionArchive(archive),
		core.WithBatching(core.BatcherConfig{Size: cfg.TradeBatchSize, Interval: cfg.TradeFlushInterval}),
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		defer pub.Close()
		opts = append(opts, core.WithPublisher(pub))
	} else {
		lg.Warn("KAFKA_BROKERS not set, events are not published")
	}
	if cfg.OutboxDir != "" {
		spool, err := outbox.Open(cfg.OutboxDir)
		if err != nil {
			return err
		}
		defer spool.Close()
		if n, err := spool.Len(); err == nil && n > 0 {
			lg.Info("trade spool has pending batches", zap.Int("batches", n))
		}
		opts = append(opts, core.WithTradeSpool(spool))
	}

	books := core.NewOrderBookManager(lg)
	defer books.Close()
	orders := core.NewOrderManager(books, core.NewStopOrderManager(lg), positions, risk, repo, opts...)

	if err := risk.Refresh(ctx); err != nil {
		lg.Warn("initial risk limit load failed", zap.Error(err))
	}
	if err := orders.Recover(ctx); err != nil {
		return err
	}

	var httpOpts []httpapi.Option
	httpOpts = append(httpOpts, httpapi.WithLogger(lg))
	if cfg.RateLimitPerSecond > 0 {
		httpOpts = append(httpOpts, httpapi.WithRateLimit(time.Second/time.Duration(cfg.RateLimitPerSecond)))
	}
	httpServer := httpapi.NewHTTPServer(orders, httpOpts...)
	grpcServer := grpcapi.NewGRPCServer(orders, lg)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orders.Run(gctx) })
	g.Go(func() error { return httpServer.Serve(gctx, cfg.HTTPAddr) })
	g.Go(func() error { return grpcServer.Serve(gctx, lis) })
	if len(cfg.KafkaBrokers) > 0 {
		prices := kafka.NewPriceConsumer(cfg.KafkaBrokers, cfg.KafkaPricesTopic, cfg.KafkaGroupID, orders, lg)
		g.Go(func() error { return prices.Run(gctx) })
	}
	return g.Wait()
}
