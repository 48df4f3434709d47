package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/jusunglee/busboard/api/handlers"
	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/metrics"
	"github.com/jusunglee/busboard/internal/publisher"
	"github.com/jusunglee/busboard/pkg/busboard"
)

var build = "develop"

const prefix = "BUSBOARD"

func main() {
	logger := logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)
	if err := run(logger); err != nil {
		logging.LogError(logger, "server exited", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// .env is optional
	_ = godotenv.Load()

	var cfg struct {
		conf.Version
		Web struct {
			Port            string        `conf:"default:8080"`
			ReadTimeout     time.Duration `conf:"default:15s"`
			WriteTimeout    time.Duration `conf:"default:15s"`
			IdleTimeout     time.Duration `conf:"default:60s"`
			ShutdownTimeout time.Duration `conf:"default:30s"`
		}
		API struct {
			BaseURL             string  `conf:"default:https://api.vitrasa.es/v1"`
			Key                 string  `conf:"noprint"`
			VehiclePositionsURL string
			RateLimit           float64 `conf:"default:5"`
			RateBurst           int     `conf:"default:10"`
		}
		Refresh struct {
			DefaultStop       string        `conf:"default:14264"`
			Interval          time.Duration `conf:"default:15s"`
			LiveInterval      time.Duration `conf:"default:5s"`
			VehicleTTL        time.Duration `conf:"default:15s"`
			RolloverLateHour  int           `conf:"default:20"`
			RolloverEarlyHour int           `conf:"default:4"`
		}
		Data struct {
			StopGroups  string `conf:"default:data/stop_groups.yml"`
			Stops       string `conf:"default:data/stops_lite.json"`
			LegacyStops string `conf:"default:data/stops.json"`
		}
		Routes struct {
			CacheSize int           `conf:"default:512"`
			CacheTTL  time.Duration `conf:"default:6h"`
		}
		NATS struct {
			URL           string
			SubjectPrefix string `conf:"default:busboard"`
		}
		Debug bool `conf:"default:false"`
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Realtime bus arrivals board"

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Debug {
		logger = logging.NewStructuredLogger(os.Stdout, slog.LevelDebug)
	}
	slog.SetDefault(logger)

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	logger.Info("config", slog.String("version", build), slog.String("values", out))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector()
	opts := []busboard.Option{
		busboard.WithLogger(logger),
		busboard.WithMetrics(collector),
	}

	if cfg.NATS.URL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, collector, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, busboard.WithRenderer(pub))
	}

	client, err := busboard.NewLocal(ctx, busboard.Config{
		BaseURL:             cfg.API.BaseURL,
		APIKey:              cfg.API.Key,
		RateLimit:           cfg.API.RateLimit,
		RateBurst:           cfg.API.RateBurst,
		VehiclePositionsURL: cfg.API.VehiclePositionsURL,
		DefaultStop:         cfg.Refresh.DefaultStop,
		Interval:            cfg.Refresh.Interval,
		LiveInterval:        cfg.Refresh.LiveInterval,
		VehicleTTL:          cfg.Refresh.VehicleTTL,
		RouteCacheSize:      cfg.Routes.CacheSize,
		RouteCacheTTL:       cfg.Routes.CacheTTL,
		StopGroupsFile:      cfg.Data.StopGroups,
		StopsFile:           cfg.Data.Stops,
		LegacyStopsFile:     cfg.Data.LegacyStops,
		RolloverLateHour:    cfg.Refresh.RolloverLateHour,
		RolloverEarlyHour:   cfg.Refresh.RolloverEarlyHour,
	}, opts...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer client.Close()

	// Create HTTP server
	r := mux.NewRouter()
	h := handlers.NewHandler(client)
	h.RegisterRoutes(r)
	r.Handle("/metrics", collector.Handler()).Methods("GET")

	// Add middleware
	r.Use(handlers.LoggingMiddleware(logger))
	r.Use(handlers.CORSMiddleware)
	r.Use(handlers.GzipMiddleware)

	srv := &http.Server{
		Addr:         ":" + cfg.Web.Port,
		Handler:      r,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("port", cfg.Web.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("could not stop server gracefully: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
