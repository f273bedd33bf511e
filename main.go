package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"design-battle-system/config"
	"design-battle-system/handlers"
	"design-battle-system/middleware"
	"design-battle-system/models"
	"design-battle-system/services"
	"design-battle-system/utils"
	"design-battle-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	setupLogging(cfg)
	log := logrus.WithField("component", "main")

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get database handle")
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := models.AutoMigrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var previews utils.PreviewURLer = utils.StaticPreviews{BaseURL: cfg.R2.CDNBaseURL}
	if cfg.R2.Bucket != "" {
		r2, err := utils.NewR2Previews(ctx, utils.R2Options{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
			CDNBaseURL:      cfg.R2.CDNBaseURL,
			PresignTTL:      cfg.R2.PresignTTL,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to initialize R2 previews")
		}
		previews = r2
	}

	cache := services.NewStatsCache(cfg.Redis.URL)
	defer func() { _ = cache.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	catalog := services.NewItemCatalog(db, previews)
	clock := clockwork.NewRealClock()
	deps := services.Deps{
		DB:      db,
		Clock:   clock,
		Gate:    catalog,
		Items:   catalog,
		Cache:   cache,
		Metrics: services.NewMetrics(reg),
	}

	store := services.NewBattleStore(deps, cfg.Contests.AllowVoteChange)
	ledger := services.NewVoteLedger(deps)
	lifecycle := services.NewLifecycle(deps)

	sched, err := services.StartLifecycleScheduler(lifecycle, cfg.Scheduler.FinalizeInterval)
	if err != nil {
		log.WithError(err).Fatal("failed to start lifecycle scheduler")
	}
	defer func() { _ = sched.Shutdown() }()

	if cfg.Sync.ItemsURL != "" {
		workers.NewItemSyncWorker(db, cfg.Sync.ItemsURL, cfg.Sync.ItemsPath, cfg.Sync.ServiceToken, cfg.Sync.Interval).Start(ctx)
	} else {
		log.Warn("SYNC_ITEMS_URL not set, design item mirror will not be refreshed")
	}

	var tokens middleware.TokenValidator
	if cfg.Auth.ServiceURL != "" {
		tokens = services.NewAuthServiceClient(cfg.Auth.ServiceURL, cfg.Auth.ServiceToken)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(cfg.Server.AllowedOrigins),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupContestRoutes(app, handlers.ContestAPI{
		Store:                store,
		Ledger:               ledger,
		Lifecycle:            lifecycle,
		GatewayToken:         cfg.Server.GatewayToken,
		Tokens:               tokens,
		VoteLimiter:          middleware.NewVoteRateLimiter(cfg.Limits.VotesPerMinute, clock),
		CreateLimiter:        middleware.NewCreateContestRateLimiter(cfg.Limits.ContestsPerHour, clock),
		DefaultDurationHours: cfg.Contests.DefaultDurationHours,
		ExposeErrors:         !cfg.IsProduction(),
	})
	handlers.SetupSystemRoutes(app, db, reg, cfg.Server.GatewayToken)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := app.Listen(addr); err != nil {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	log.WithFields(logrus.Fields{
		"port":              cfg.Server.Port,
		"env":               cfg.Server.Env,
		"finalize_interval": cfg.Scheduler.FinalizeInterval.String(),
		"redis_cache":       cache.Enabled(),
	}).Info("design battle service running")

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func allowedOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	for i, origin := range parts {
		parts[i] = strings.TrimSpace(origin)
	}
	return strings.Join(parts, ",")
}
