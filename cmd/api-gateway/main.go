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

	_ "github.com/Sachin844123/student-appointment-api/api/swagger"
	"github.com/Sachin844123/student-appointment-api/internal/handler"
	"github.com/Sachin844123/student-appointment-api/internal/middleware"
	"github.com/Sachin844123/student-appointment-api/internal/models"
	"github.com/Sachin844123/student-appointment-api/internal/repository"
	"github.com/Sachin844123/student-appointment-api/internal/service"
	"github.com/Sachin844123/student-appointment-api/pkg/cache"
	"github.com/Sachin844123/student-appointment-api/pkg/config"
	"github.com/Sachin844123/student-appointment-api/pkg/database"
	"github.com/Sachin844123/student-appointment-api/pkg/logger"
	corsmiddleware "github.com/Sachin844123/student-appointment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/Sachin844123/student-appointment-api/pkg/middleware/requestid"
	"github.com/Sachin844123/student-appointment-api/pkg/storage"
)

// @title Student Appointment API
// @version 1.0.0
// @description Appointment booking between students and teachers with admin management
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, cacheSvc, validate, logr, cfg.Directory.CacheTTL)
	appointmentSvc := service.NewAppointmentService(appointmentRepo, userRepo, cacheSvc, metricsSvc, validate, logr)
	dashboardSvc := service.NewDashboardService(appointmentRepo, userRepo, cacheSvc, logr, cfg.Dashboard.CacheTTL)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportRepo := repository.NewExportRepository(db)
		exportSvc = service.NewExportService(exportRepo, appointmentRepo, userRepo, files, signer, validate, logr, service.ExportOptions{
			WorkerConcurrency: cfg.Exports.WorkerConcurrency,
			WorkerRetries:     cfg.Exports.WorkerRetries,
			CleanupInterval:   cfg.Exports.CleanupInterval,
			RetentionTTL:      cfg.Exports.RetentionTTL,
		})
		exportSvc.Start(ctx)
		defer exportSvc.Stop()
	}

	loginLimiter := middleware.NewRateLimiter(1, 5)
	defer loginLimiter.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	appointmentHandler := handler.NewAppointmentHandler(appointmentSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", loginLimiter.Handler(), authHandler.Register)
		auth.POST("/login", loginLimiter.Handler(), authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		users := protected.Group("/users")
		{
			users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
			users.POST("", middleware.RequireRoles(models.RoleAdmin), userHandler.Create)
			users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.Self), userHandler.Get)
			users.PUT("/:id", middleware.RBAC(string(models.RoleAdmin), middleware.Self), userHandler.Update)
			users.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)
			users.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin), userHandler.Approve)
		}

		protected.GET("/teachers", userHandler.ListTeachers)
		protected.GET("/me/preferences", userHandler.GetPreferences)
		protected.PUT("/me/preferences", middleware.Audit(userRepo, models.AuditActionUserUpdate, "preferences"), userHandler.SetPreferences)

		appointments := protected.Group("/appointments")
		{
			appointments.POST("", middleware.RequireRoles(models.RoleStudent), appointmentHandler.Book)
			appointments.GET("", appointmentHandler.List)
			appointments.GET("/calendar", appointmentHandler.Calendar)
			appointments.GET("/:id", appointmentHandler.Get)
			appointments.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), appointmentHandler.Approve)
			appointments.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher), appointmentHandler.Reject)
			appointments.POST("/:id/cancel", appointmentHandler.Cancel)
			appointments.PUT("/:id/status", middleware.RequireRoles(models.RoleAdmin), appointmentHandler.SetStatus)
			appointments.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleStudent), appointmentHandler.Delete)
		}

		protected.GET("/dashboard/summary", middleware.RequireRoles(models.RoleAdmin), dashboardHandler.Summary)

		if exportSvc != nil {
			exportHandler := handler.NewExportHandler(exportSvc)
			exports := protected.Group("/exports")
			{
				exports.POST("", middleware.RequireRoles(models.RoleAdmin), exportHandler.Create)
				exports.GET("/jobs/:id", middleware.RequireRoles(models.RoleAdmin), exportHandler.Get)
			}
			// download links carry their own HMAC, no session required
			api.GET("/exports/download/:token", exportHandler.Download)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}
	logr.Sugar().Infow("server stopped")
}
