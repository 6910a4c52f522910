package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	custodyapp "github.com/hemanthK-supraoracles/perpetuals/internal/custody/application"
	custodydomain "github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	custodymysql "github.com/hemanthK-supraoracles/perpetuals/internal/custody/infrastructure/persistence/mysql"
	custodyhttp "github.com/hemanthK-supraoracles/perpetuals/internal/custody/interfaces/http"
	fundingapp "github.com/hemanthK-supraoracles/perpetuals/internal/funding/application"
	fundingdomain "github.com/hemanthK-supraoracles/perpetuals/internal/funding/domain"
	fundingmysql "github.com/hemanthK-supraoracles/perpetuals/internal/funding/infrastructure/persistence/mysql"
	fundinghttp "github.com/hemanthK-supraoracles/perpetuals/internal/funding/interfaces/http"
	marketapp "github.com/hemanthK-supraoracles/perpetuals/internal/market/application"
	marketdomain "github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	marketmysql "github.com/hemanthK-supraoracles/perpetuals/internal/market/infrastructure/persistence/mysql"
	markethttp "github.com/hemanthK-supraoracles/perpetuals/internal/market/interfaces/http"
	oracleapp "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/application"
	oracledomain "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
	oraclemysql "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/infrastructure/persistence/mysql"
	oraclehttp "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/interfaces/http"
	"github.com/hemanthK-supraoracles/perpetuals/internal/outbox"
	poolapp "github.com/hemanthK-supraoracles/perpetuals/internal/pool/application"
	pooldomain "github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
	poolmysql "github.com/hemanthK-supraoracles/perpetuals/internal/pool/infrastructure/persistence/mysql"
	poolhttp "github.com/hemanthK-supraoracles/perpetuals/internal/pool/interfaces/http"
	positionapp "github.com/hemanthK-supraoracles/perpetuals/internal/position/application"
	positiondomain "github.com/hemanthK-supraoracles/perpetuals/internal/position/domain"
	positionmysql "github.com/hemanthK-supraoracles/perpetuals/internal/position/infrastructure/persistence/mysql"
	positionhttp "github.com/hemanthK-supraoracles/perpetuals/internal/position/interfaces/http"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/cache"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/config"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/idgen"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/logger"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/metrics"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/middleware"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/mq"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/ratelimit"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/perpetuals/config.toml", "path to config file")
	flag.Parse()

	// 1. 配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()

	// 3. 指标
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			log.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			log.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	// 4. 数据库
	database, err := db.Init(db.Config{
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&oracledomain.Quote{},
		&custodydomain.Account{},
		&custodydomain.Transfer{},
		&marketdomain.Market{},
		&fundingdomain.RateRecord{},
		&fundingdomain.Payment{},
		&positiondomain.Position{},
		&positiondomain.ClosedPosition{},
		&pooldomain.LiquidityPool{},
		&pooldomain.ProviderShare{},
		&outbox.Message{},
	); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// 5. 缓存、消息队列与 ID 生成器
	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	staleness := time.Duration(cfg.Trading.PriceStalenessSeconds) * time.Second
	localCache, err := cache.NewLocalCache(staleness)
	if err != nil {
		log.Error("failed to init local cache", "error", err)
		os.Exit(1)
	}
	defer localCache.Close()

	producer, err := mq.NewProducer(mq.KafkaConfig{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Error("failed to init kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := idgen.Init(1); err != nil {
		log.Error("failed to init id generator", "error", err)
		os.Exit(1)
	}

	// 6. 依赖注入
	fundingParams := marketdomain.FundingParams{
		BaseRate: marketdomain.DefaultFundingParams().BaseRate,
		MaxRate:  marketdomain.DefaultFundingParams().MaxRate,
		Interval: time.Duration(cfg.Trading.FundingIntervalHours) * time.Hour,
	}
	feeSchedule := positiondomain.FeeSchedule{
		OpenBps:  cfg.Trading.OpenFeeBps,
		CloseBps: cfg.Trading.CloseFeeBps,
	}
	eventTopic := cfg.Kafka.TopicPrefix + ".events"
	admins := cfg.Auth.AdminAddresses

	quoteRepo := oraclemysql.NewQuoteRepository(database)
	accountRepo := custodymysql.NewAccountRepository(database)
	marketRepo := marketmysql.NewMarketRepository(database)
	rateRepo := fundingmysql.NewRateRecordRepository(database)
	paymentRepo := fundingmysql.NewPaymentRepository(database)
	positionRepo := positionmysql.NewPositionRepository(database)
	closedRepo := positionmysql.NewClosedPositionRepository(database)
	poolRepo := poolmysql.NewPoolRepository(database)
	shareRepo := poolmysql.NewShareRepository(database)
	outboxStore := outbox.NewStore(database)

	oracleService := oracleapp.NewService(quoteRepo, localCache, admins, staleness, log)
	custodyService := custodyapp.NewService(accountRepo, database, admins, log)
	marketService := marketapp.NewService(marketRepo, rateRepo, redisCache, database, admins, fundingParams, log)
	fundingService := fundingapp.NewService(
		marketRepo, positionRepo, paymentRepo, rateRepo, outboxStore,
		database, admins, fundingParams, cfg.Trading.FundingBatchSize, eventTopic, m, log)
	poolService := poolapp.NewService(
		poolRepo, shareRepo, custodyService, outboxStore, redisCache,
		database, admins, eventTopic, m, log)
	positionService := positionapp.NewService(
		positionRepo, closedRepo, marketRepo, poolRepo, paymentRepo,
		custodyService, oracleService, outboxStore, database,
		feeSchedule, fundingParams, cfg.Trading.MaxLeverage, eventTopic, m, log)

	relay := outbox.NewRelay(outboxStore, producer,
		time.Duration(cfg.Trading.OutboxRelaySeconds)*time.Second,
		cfg.Trading.OutboxBatchSize, m, log)

	// 7. HTTP 路由
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecoveryMiddleware())
	r.Use(middleware.GinLoggingMiddleware(m))
	r.Use(middleware.GinCORSMiddleware())

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) {
			sqlDB, err := database.DB.DB()
			if err != nil || sqlDB.Ping() != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "READY"})
		})
	}
	pp := r.Group("/debug/pprof")
	{
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
	}

	api := r.Group("/api/v1")
	api.Use(middleware.GinAuthMiddleware(middleware.AuthConfig{
		JWTSecret:        cfg.Auth.JWTSecret,
		AllowPlainHeader: cfg.Auth.AllowPlainHeader,
	}))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewRedisRateLimiter(redisCache.GetClient())
		api.Use(middleware.GinRateLimitMiddleware(limiter, ratelimit.Limit{
			Rate:   cfg.RateLimit.Rate,
			Period: time.Duration(cfg.RateLimit.PeriodSeconds) * time.Second,
			Burst:  cfg.RateLimit.Burst,
		}))
	}
	oraclehttp.NewHandler(oracleService).RegisterRoutes(api)
	custodyhttp.NewHandler(custodyService).RegisterRoutes(api)
	markethttp.NewHandler(marketService).RegisterRoutes(api)
	fundinghttp.NewHandler(fundingService).RegisterRoutes(api)
	poolhttp.NewHandler(poolService).RegisterRoutes(api)
	positionhttp.NewHandler(positionService).RegisterRoutes(api)

	// 8. 启动
	g, ctx := errgroup.WithContext(context.Background())

	httpAddr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, health.NewServer())
	reflection.Register(grpcSrv)
	g.Go(func() error {
		grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return err
		}
		log.Info("gRPC server starting", "addr", grpcAddr)
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		return fundingService.Run(ctx, time.Duration(cfg.Trading.FundingSweepSeconds)*time.Second)
	})
	g.Go(func() error {
		return relay.Run(ctx)
	})

	// 9. 优雅关停
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("shutdown signal received")
		case <-ctx.Done():
			log.Info("context cancelled, shutting down")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		return context.Canceled
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
