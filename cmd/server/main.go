package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/evergreen-live/backend/config"
	"github.com/evergreen-live/backend/internal/audit"
	"github.com/evergreen-live/backend/internal/auth"
	"github.com/evergreen-live/backend/internal/automation"
	"github.com/evergreen-live/backend/internal/chat"
	"github.com/evergreen-live/backend/internal/middleware"
	"github.com/evergreen-live/backend/internal/models"
	"github.com/evergreen-live/backend/internal/observability"
	"github.com/evergreen-live/backend/internal/realtime"
	"github.com/evergreen-live/backend/internal/registrations"
	"github.com/evergreen-live/backend/internal/session"
	"github.com/evergreen-live/backend/internal/webinars"
	"github.com/evergreen-live/backend/pkg/database"
	"github.com/evergreen-live/backend/pkg/queue"
	redisclient "github.com/evergreen-live/backend/pkg/redis"
)

func main() {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	rdb, err := redisclient.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	// repositories
	userRepo := auth.NewRepository(pool)
	webinarRepo := webinars.NewRepository(pool)
	chatRepo := chat.NewRepository(pool)
	autoRepo := automation.NewRepository(pool)
	regRepo := registrations.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// realtime fan-out
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(pubsub, logger)
	hub.SetViewerCountHandler(func(webinarID uuid.UUID, count int) {
		hub.LocalBroadcast(webinarID, "viewers", gin.H{"count": count})
	})
	states := session.NewStore(rdb.Client, pool, logger)

	// core engines
	controller := session.NewController(states, webinarRepo, hub, auditRepo,
		cfg.Session.EndedRedirectPath, cfg.Session.SweepIntervalSec, logger)
	scheduler := automation.NewScheduler(autoRepo, states, chatRepo, hub,
		cfg.Automation.ReconcileIntervalSec, cfg.Automation.CleanupIntervalMin,
		cfg.Automation.KeywordReplyDelayMS, logger)
	controller.SetTimelineDetacher(scheduler)

	jobs := queue.NewQueue(rdb.Client, logger)
	controller.SetStartNotifier(func(ctx context.Context, w *models.Webinar) {
		regs, err := regRepo.ListByWebinar(ctx, w.ID)
		if err != nil {
			logger.Warn("registration list for notifications failed", zap.Error(err))
			return
		}
		for _, reg := range regs {
			payload := queue.StartNotificationPayload{
				WebinarID:      w.ID,
				WebinarTitle:   w.Title,
				RegistrationID: reg.ID,
				RecipientEmail: reg.Email,
				RecipientName:  reg.Name,
				JoinLink:       fmt.Sprintf("/watch/%s?link=%s", w.Slug, reg.UniqueLink),
			}
			if err := jobs.EnqueueStartNotification(ctx, payload); err != nil {
				logger.Warn("notification enqueue failed", zap.Error(err),
					zap.String("registration_id", reg.ID.String()))
			}
		}
	})

	gateway := realtime.NewGateway(hub, states, chatRepo, regRepo, jwtService, logger)
	gateway.SetChatReceivedHandler(scheduler.OnChatReceived)
	broadcaster := realtime.NewSyncBroadcaster(states, hub,
		cfg.Session.SyncIntervalMS, cfg.Session.PersistEveryTicks, logger)

	// handlers
	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	webinarHandler := webinars.NewHandler(webinarRepo, states, controller, auditRepo, logger)
	regHandler := registrations.NewHandler(regRepo, webinarRepo, logger)
	autoHandler := automation.NewHandler(autoRepo, scheduler, hub, auditRepo, logger)
	chatHandler := chat.NewHandler(chatRepo, hub, auditRepo, logger)
	auditHandler := audit.NewHandler(auditRepo, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gateway.HandleWS)

	api := router.Group("/api")
	authHandler.RegisterRoutes(api)
	webinarHandler.RegisterPublicRoutes(api)
	regHandler.RegisterPublicRoutes(api)

	admin := api.Group("")
	admin.Use(middleware.JWT(jwtService))
	admin.Use(middleware.RequireRole(string(models.RoleAdmin), string(models.RoleOperator)))
	webinarHandler.RegisterAdminRoutes(admin)
	regHandler.RegisterAdminRoutes(admin)
	autoHandler.RegisterRoutes(admin)
	chatHandler.RegisterRoutes(admin)
	auditHandler.RegisterRoutes(admin)

	// background engines
	controller.StartWatcher()
	scheduler.Start()
	broadcaster.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	broadcaster.Stop()
	scheduler.Stop()
	controller.StopWatcher()
	logger.Info("shutdown complete")
}
