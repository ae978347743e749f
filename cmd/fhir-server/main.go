package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/HadaRoshan/FHIR-api/internal/config"
	"github.com/HadaRoshan/FHIR-api/internal/domain/resource"
	"github.com/HadaRoshan/FHIR-api/internal/platform/auth"
	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/metrics"
	"github.com/HadaRoshan/FHIR-api/internal/platform/middleware"
	"github.com/HadaRoshan/FHIR-api/internal/platform/query"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhir-server",
		Short: "FHIR columnar resource API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resourcesCmd())
	rootCmd.AddCommand(systemsCmd())
	rootCmd.AddCommand(resolveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if cfg != nil {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

// app holds the components shared by the server and the one-shot commands.
type app struct {
	cfg     *config.Config
	systems *config.SystemConfig
	store   *table.Store
	svc     *resource.Service
	logger  zerolog.Logger
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	systems, err := config.LoadSystemConfig(cfg.SystemConfigFile)
	if err != nil {
		return nil, err
	}

	storage, err := table.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	store := table.NewStore(storage, logger)
	svc := resource.NewService(systems, store, query.NewEngine(logger), logger)

	return &app{cfg: cfg, systems: systems, store: store, svc: svc, logger: logger}, nil
}

// newServer builds the echo instance with middleware and routes. The
// returned cleanup releases the bundle worker pool.
func newServer(a *app) (*echo.Echo, func(), error) {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.ServerTiming())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, middleware.ServerTimingHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BundleBodyLimit, cfg.APIPrefix+"/bundle"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"version":       version,
			"open_tables":   a.store.Len(),
			"systems":       len(a.systems.Systems),
			"storage":       cfg.StorageBackend,
			"auth_required": cfg.AuthEnabled(),
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/metadata", fhir.NewCapabilityBuilder(fhir.CapabilityConfig{
		ServerName:    "fhir-server",
		ServerVersion: version,
		AuthRequired:  cfg.AuthEnabled(),
	}).Handler())

	api := e.Group(cfg.APIPrefix)
	api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.AuthEnabled() {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	runner, err := resource.NewBundleRunner(cfg.LoopbackOrigin(), cfg.BundleWorkers, cfg.BundleRetryMax, logger)
	if err != nil {
		return nil, nil, err
	}
	resource.NewHandler(a.svc, runner).RegisterRoutes(api)

	return e, runner.Close, nil
}

func runServer() error {
	a, err := loadApp()
	if err != nil {
		fallback := newLogger(nil)
		fallback.Fatal().Err(err).Msg("failed to start")
	}
	logger := a.logger
	logger.Info().
		Strs("systems", a.systems.Names()).
		Str("storage", a.cfg.StorageBackend).
		Str("base_path", a.systems.Paths.BasePath).
		Msg("system config loaded")

	e, cleanup, err := newServer(a)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	defer cleanup()

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
