package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/coop-approval-api/api/swagger"
	"github.com/noah-isme/coop-approval-api/internal/handler"
	"github.com/noah-isme/coop-approval-api/internal/middleware"
	"github.com/noah-isme/coop-approval-api/internal/models"
	"github.com/noah-isme/coop-approval-api/internal/repository"
	"github.com/noah-isme/coop-approval-api/internal/service"
	"github.com/noah-isme/coop-approval-api/internal/transport"
	"github.com/noah-isme/coop-approval-api/pkg/cache"
	"github.com/noah-isme/coop-approval-api/pkg/config"
	"github.com/noah-isme/coop-approval-api/pkg/database"
	"github.com/noah-isme/coop-approval-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/coop-approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/coop-approval-api/pkg/middleware/requestid"
)

// @title Co-op Approval API
// @version 1.0.0
// @description Internship/co-op approval workflow service
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var statusCache service.StatusCache
	if cfg.StatusCache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, status cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			statusCache = repository.NewCacheRepository(redisClient, logr)
		}
	}

	approvalRepo := repository.NewApprovalRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	userRepo := repository.NewUserRepository(db)

	metricsSvc := service.NewMetricsService()

	var transports []transport.Transport
	if cfg.Notifications.Enabled {
		if cfg.Notifications.SendGridAPIKey != "" {
			transports = append(transports, transport.NewEmailTransport(
				cfg.Notifications.SendGridAPIKey,
				cfg.Notifications.EmailFrom,
				cfg.Notifications.EmailFromName,
				logr,
			))
		}
		if cfg.Notifications.FirebaseCredentialsFile != "" {
			push, err := transport.NewPushTransport(ctx, cfg.Notifications.FirebaseCredentialsFile, logr)
			if err != nil {
				logr.Sugar().Warnw("push transport unavailable", "error", err)
			} else {
				transports = append(transports, push)
			}
		}
	}

	dispatchSvc := service.NewDispatchService(recipientRepo, transports, metricsSvc, logr, cfg.Notifications)
	dispatchSvc.Start(ctx)
	defer dispatchSvc.Stop()

	approvalSvc := service.NewApprovalService(
		approvalRepo,
		roleRepo,
		documentRepo,
		statusCache,
		dispatchSvc,
		metricsSvc,
		logr,
		cfg.Workflow,
		cfg.StatusCache,
	)

	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "coop-approval-api",
	})

	exportSvc := service.NewExportService(approvalRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	approvalHandler := handler.NewApprovalHandler(approvalSvc, exportSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(approvalSvc)
	notificationHandler := handler.NewNotificationHandler(dispatchSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	protected := api.Group("", middleware.JWT(authSvc))
	protected.POST("/auth/logout", authHandler.Logout)

	protected.POST("/enrollments/:id/approval",
		middleware.RequireRoles(models.RoleAdmin),
		enrollmentHandler.Register)

	// Students may observe their own enrollment; per-enrollment standing
	// is enforced in the service layer.
	protected.GET("/approvals/:id", approvalHandler.GetStatus)
	protected.GET("/approvals/:id/history", approvalHandler.History)
	protected.GET("/approvals/:id/history/export",
		middleware.RequireRoles(models.RoleAdmin, models.RoleAdvisor, models.RoleCommittee),
		approvalHandler.ExportHistory)
	protected.POST("/approvals/:id/transitions",
		middleware.RequireRoles(models.RoleAdmin, models.RoleAdvisor, models.RoleCommittee),
		approvalHandler.RequestTransition)

	protected.GET("/notifications/recent",
		middleware.RequireRoles(models.RoleAdmin),
		notificationHandler.Recent)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
