package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/perp-arena/internal/config"
	"github.com/perp-arena/internal/decision"
	"github.com/perp-arena/internal/handler"
	"github.com/perp-arena/internal/market"
	"github.com/perp-arena/internal/middleware"
	"github.com/perp-arena/internal/models"
	"github.com/perp-arena/internal/repository"
	"github.com/perp-arena/internal/service"
	"github.com/perp-arena/internal/worker"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := middleware.InitLogger("logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis
	rdb := initRedis(cfg)

	// Auto migrate database
	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize repositories
	versionRepo := repository.NewVersionRepository(db)
	fillRepo := repository.NewFillRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	perfRepo := repository.NewPerformanceRepository(db)

	// Initialize services
	authService := service.NewAuthService(cfg.Auth)
	versionService := service.NewVersionService(versionRepo, cfg.Sim)
	reportService := service.NewReportService(versionRepo, fillRepo, positionRepo, snapshotRepo, perfRepo)

	// Market data: Coinbase ticker feed into the in-memory/Redis price cache
	ctx := context.Background()
	cache := market.NewPriceCache(ctx, rdb)
	feed := market.NewCoinbaseFeed(cfg.Market.FeedURL)
	feed.SetSubscriber(cache)
	if err := feed.Connect(ctx); err != nil {
		middleware.LogError("failed to connect market feed: %v", err)
	} else if err := feed.Subscribe(cfg.Sim.Symbols); err != nil {
		middleware.LogError("failed to subscribe market feed: %v", err)
	}

	// The cycle engine runs against the pluggable decision source; without
	// an external one wired in it holds every cycle, which still exercises
	// marks, funding, margin sweeps and snapshots.
	cycleWorker := worker.NewCycleWorker(
		cfg.Engine,
		versionService,
		reportService,
		fillRepo,
		positionRepo,
		snapshotRepo,
		cache,
		decision.HoldSource{},
		nil,
	)
	go cycleWorker.Start()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	versionHandler := handler.NewVersionHandler(versionService)
	reportHandler := handler.NewReportHandler(reportService)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLoggerMiddleware())
	router.Use(corsMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"time":       time.Now().Unix(),
			"feed":       feed.IsConnected(),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandler.IssueToken)

		v1.GET("/versions", versionHandler.List)
		v1.GET("/versions/active", versionHandler.Active)
		v1.GET("/versions/:id/equity-curve", reportHandler.EquityCurve)
		v1.GET("/versions/:id/positions", reportHandler.Positions)
		v1.GET("/versions/:id/fills", reportHandler.Fills)
		v1.GET("/versions/:id/round-trips", reportHandler.RoundTrips)
		v1.GET("/versions/:id/performance", reportHandler.Performance)
		v1.GET("/leaderboard", reportHandler.Leaderboard)

		// Deploying and retiring versions requires an admin token
		admin := v1.Group("", middleware.AuthMiddleware(cfg.Auth.JWTSecret))
		admin.POST("/versions", versionHandler.Deploy)
		admin.POST("/versions/:id/retire", versionHandler.Retire)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		middleware.LogInfo("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	middleware.LogInfo("Shutting down server...")

	cycleWorker.Stop()
	feed.Close()

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := rdb.Close(); err != nil {
		middleware.LogError("Error closing Redis connection: %v", err)
	}

	middleware.LogInfo("Server exited properly")
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Version{},
		&models.Position{},
		&models.Fill{},
		&models.EquitySnapshot{},
		&models.VersionPerformance{},
	)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
