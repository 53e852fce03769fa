package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/Cyannimazing/churchms-backend-sub001/api/swagger"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/handler"
	internalmiddleware "github.com/Cyannimazing/churchms-backend-sub001/internal/middleware"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/repository"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/service"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/cache"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/config"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/database"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/jobs"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/logger"
	corsmiddleware "github.com/Cyannimazing/churchms-backend-sub001/pkg/middleware/cors"
	reqidmiddleware "github.com/Cyannimazing/churchms-backend-sub001/pkg/middleware/requestid"
)

// @title ChurchMS Booking API
// @version 1.0.0
// @description Schedules, slot availability, appointments and subscription status for ChurchMS.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "api")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cache, notifications and tick lock", zap.Error(err))
	} else {
		defer redisClient.Close()
	}

	app := buildApp(cfg, db, redisClient, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app.start(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := buildRouter(cfg, app, db, redisClient, logr)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}
	app.stop(shutdownCtx)
	logr.Info("server exited")
}

type application struct {
	metrics       *service.MetricsService
	schedules     *service.ScheduleService
	availability  *service.AvailabilityService
	appointments  *service.AppointmentService
	subscriptions *service.SubscriptionService
	notifier      *service.QueueNotifier
	tickers       []*jobs.Ticker
	logger        *zap.Logger
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) *application {
	metrics := service.NewMetricsService()
	clk := clock.System()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, cfg.Booking.CacheKeySpace, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Booking.CacheTTL, logr.Named("cache"), cfg.Booking.CacheEnabled)

	scheduleRepo := repository.NewScheduleRepository(db, clk)
	slotRepo := repository.NewSlotCapacityRepository(db, clk)
	appointmentRepo := repository.NewAppointmentRepository(db, clk)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	feeRepo := repository.NewServiceFeeRepository(db)

	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		logr.Warn("unknown booking timezone, using UTC", zap.String("timezone", cfg.Booking.Timezone), zap.Error(err))
		loc = time.UTC
	}

	app := &application{metrics: metrics, logger: logr}

	var notifier service.Notifier
	if redisClient != nil && cfg.Notifications.Enabled {
		app.notifier = service.NewQueueNotifier(repository.NewEventRepository(redisClient), cfg.Notifications.Channel, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.Retries,
		}, logr.Named("notifier"))
		notifier = app.notifier
	}

	app.schedules = service.NewScheduleService(scheduleRepo, db, cacheSvc, nil, logr.Named("schedules"))
	app.availability = service.NewAvailabilityService(scheduleRepo, slotRepo, cacheSvc, cfg.Booking.MaxRangeDays, logr.Named("availability"))
	app.appointments = service.NewAppointmentService(
		appointmentRepo,
		scheduleRepo,
		slotRepo,
		db,
		service.NewCancellationPolicy(cfg.Cancellation.FreeWindow, loc),
		service.NewPercentageFeePolicy(cfg.Cancellation.FeePercent, cfg.Cancellation.FlatFee, feeRepo, logr.Named("fees")),
		notifier,
		cacheSvc,
		metrics,
		clk,
		nil,
		logr.Named("appointments"),
	)

	if redisClient != nil {
		app.subscriptions = service.NewSubscriptionService(subscriptionRepo, db, repository.NewLockRepository(redisClient), cfg.Subscriptions.LockTTL, metrics, clk, logr.Named("subscriptions"))
	} else {
		app.subscriptions = service.NewSubscriptionService(subscriptionRepo, db, nil, cfg.Subscriptions.LockTTL, metrics, clk, logr.Named("subscriptions"))
	}
	app.subscriptions.WithLockKey(cfg.Subscriptions.LockKey)

	if cfg.Subscriptions.TickerEnabled {
		app.tickers = append(app.tickers, jobs.NewTicker("subscription-tick", cfg.Subscriptions.TickInterval, app.subscriptions.Tick, logr))
	}
	housekeeper := service.NewSlotHousekeeper(slotRepo, cfg.Booking.SlotRetentionDays, clk, logr.Named("housekeeping"))
	app.tickers = append(app.tickers, jobs.NewTicker("slot-prune", cfg.Booking.PruneInterval, housekeeper.Tick, logr))

	return app
}

func (a *application) start(ctx context.Context) {
	if a.notifier != nil {
		a.notifier.Start(ctx)
	}
	for _, t := range a.tickers {
		t.Start(ctx)
	}
}

func (a *application) stop(ctx context.Context) {
	for _, t := range a.tickers {
		if err := t.Stop(ctx); err != nil {
			a.logger.Warn("ticker did not stop in time", zap.Error(err))
		}
	}
	if a.notifier != nil {
		a.notifier.Stop()
	}
}

func buildRouter(cfg *config.Config, app *application, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(app.metrics, "/metrics", "/health"))
	r.Use(internalmiddleware.ResponseMeta())

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(app.metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	scheduleHandler := handler.NewScheduleHandler(app.schedules, app.availability)
	appointmentHandler := handler.NewAppointmentHandler(app.appointments)
	subscriptionHandler := handler.NewSubscriptionHandler(app.subscriptions)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(internalmiddleware.NewTokenVerifier(cfg.JWT.Secret)))
	staff := internalmiddleware.RequireStaff()

	schedules := api.Group("/schedules")
	schedules.GET("/:id", scheduleHandler.Get)
	schedules.GET("/:id/slots", scheduleHandler.OpenSlots)
	schedules.GET("/:id/availability", scheduleHandler.Availability)
	schedules.POST("", staff, scheduleHandler.Create)
	schedules.PUT("/:id/recurrences", staff, scheduleHandler.ReplaceRecurrences)
	schedules.DELETE("/:id", staff, scheduleHandler.Delete)

	appointments := api.Group("/appointments")
	appointments.POST("", appointmentHandler.Book)
	appointments.GET("", appointmentHandler.ListMine)
	appointments.GET("/:id", appointmentHandler.Get)
	appointments.PATCH("/:id/status", appointmentHandler.ChangeStatus)
	appointments.POST("/:id/reschedule", appointmentHandler.Reschedule)

	admin := api.Group("/admin", staff)
	admin.POST("/subscriptions/tick", subscriptionHandler.Tick)
	admin.GET("/churches/:id/visibility", subscriptionHandler.ChurchVisibility)

	return r
}
