package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parking-reservations/config"
	"parking-reservations/internal/database"
	"parking-reservations/internal/handlers"
	"parking-reservations/internal/jobs"
	"parking-reservations/internal/logging"
	"parking-reservations/internal/middleware"
	"parking-reservations/internal/services"
	"parking-reservations/internal/telemetry"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.IsDevelopment())

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTelServiceName, cfg.OTelEndpoint)
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logging.Logger().Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	if err := middleware.InitMetrics(); err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to initialize metrics")
	}

	if err := database.Connect(cfg.DatabaseURL, cfg.IsDevelopment()); err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to run database migrations")
	}

	redisAddr := parseRedisAddr(cfg.RedisURL)
	jobClient, err := jobs.NewClient(redisAddr)
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to create job client")
	}
	defer jobClient.Close()

	userService := services.NewUserService()
	authService := services.NewAuthService(cfg.JWTSecret, cfg.JWTExpiresIn)
	lotService := services.NewLotService()
	reservationService := services.NewReservationService(lotService)
	statsService := services.NewStatsService()

	healthHandler := handlers.NewHealthHandler(redisAddr)
	authHandler := handlers.NewAuthHandler(authService, userService)
	lotHandler := handlers.NewLotHandler(lotService)
	reservationHandler := handlers.NewReservationHandler(reservationService, userService, jobClient)
	adminHandler := handlers.NewAdminHandler(statsService, lotService, userService)

	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(otelecho.Middleware(cfg.OTelServiceName, otelecho.WithSkipper(func(c echo.Context) bool {
		return c.Path() == "/api/health"
	})))
	e.Use(middleware.Metrics())
	e.HTTPErrorHandler = middleware.ErrorHandler

	if cfg.IsDevelopment() {
		e.Use(echomiddleware.Logger())
	}

	api := e.Group("/api")

	api.GET("/health", healthHandler.Check)

	api.POST("/register", authHandler.Register)
	api.POST("/login", authHandler.Login)

	auth := api.Group("")
	auth.Use(middleware.JWTAuth(cfg.JWTSecret))
	auth.GET("/user", authHandler.GetCurrentUser)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/user/charts", adminHandler.UserChartData)

	auth.GET("/lots", lotHandler.List)

	auth.POST("/reservations", reservationHandler.Allocate)
	auth.GET("/reservations", reservationHandler.History)
	auth.GET("/reservations/current", reservationHandler.Current)
	auth.POST("/reservations/:id/park", reservationHandler.MarkParked)
	auth.POST("/reservations/:id/release", reservationHandler.Release)

	admin := api.Group("")
	admin.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.AdminRequired())
	admin.POST("/lots", lotHandler.Create)
	admin.PUT("/lots/:id", lotHandler.Update)
	admin.DELETE("/lots/:id", lotHandler.Delete)
	admin.GET("/admin/stats", adminHandler.Stats)
	admin.GET("/admin/charts", adminHandler.ChartData)
	admin.GET("/admin/spots/search", adminHandler.SearchSpots)
	admin.GET("/admin/users", adminHandler.ListUsers)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		logging.Logger().Info().Str("port", cfg.Port).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logging.Logger().Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.Logger().Error().Err(err).Msg("failed to shutdown server")
	}
}

func parseRedisAddr(redisURL string) string {
	if len(redisURL) > 8 && redisURL[:8] == "redis://" {
		return redisURL[8:]
	}
	return redisURL
}
