package main

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/allo-oral/clinicaflow-api/api/swagger"
	"github.com/allo-oral/clinicaflow-api/internal/handler"
	"github.com/allo-oral/clinicaflow-api/internal/middleware"
	"github.com/allo-oral/clinicaflow-api/internal/repository"
	"github.com/allo-oral/clinicaflow-api/internal/service"
	"github.com/allo-oral/clinicaflow-api/pkg/cache"
	"github.com/allo-oral/clinicaflow-api/pkg/config"
	"github.com/allo-oral/clinicaflow-api/pkg/database"
	"github.com/allo-oral/clinicaflow-api/pkg/logger"
	"github.com/allo-oral/clinicaflow-api/pkg/mailer"
	corsmiddleware "github.com/allo-oral/clinicaflow-api/pkg/middleware/cors"
	ratelimitmiddleware "github.com/allo-oral/clinicaflow-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/allo-oral/clinicaflow-api/pkg/middleware/requestid"
)

// @title ClinicaFlow API
// @version 1.0.0
// @description Session and account service for the ClinicaFlow clinic CRM
// @BasePath /api
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var throttle *repository.ThrottleRepository
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, reset throttling disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		throttle = repository.NewThrottleRepository(redisClient, cfg.RateLimit.ResetWindow)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	userRepo := repository.NewUserRepository(db)
	smtpMailer := mailer.New(cfg.SMTP)

	sessions := service.NewSessionService(userRepo, throttle, smtpMailer, validate, logr, metrics, service.SessionConfig{
		AccessTokenSecret:  cfg.Auth.AccessTokenSecret,
		RefreshTokenSecret: cfg.Auth.RefreshTokenSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
		ResetCodeExpiry:    cfg.Auth.ResetCodeExpiry,
		ResetMaxPerWindow:  cfg.RateLimit.ResetMaxPerWindow,
		Issuer:             cfg.Auth.Issuer,
		LogResetCodes:      cfg.Env != config.EnvProduction,
	})

	authHandler := handler.NewAuthHandler(sessions)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	limiter := ratelimitmiddleware.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logr)
	defer limiter.Close()

	auth := api.Group("/auth")
	auth.Use(limiter.Middleware())
	auth.POST("/login", authHandler.Login)
	auth.POST("/register", authHandler.Register)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/request-password-reset", authHandler.RequestPasswordReset)
	auth.POST("/reset-password", authHandler.ResetPassword)

	secured := auth.Group("")
	secured.Use(middleware.JWT(sessions))
	secured.POST("/logout", authHandler.Logout)
	secured.GET("/me", authHandler.Me)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
