package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dovewarden/jukebox/internal/config"
	"github.com/dovewarden/jukebox/internal/metrics"
	"github.com/dovewarden/jukebox/internal/mirror"
	"github.com/dovewarden/jukebox/internal/player"
	"github.com/dovewarden/jukebox/internal/queue"
	"github.com/dovewarden/jukebox/internal/server"
	"github.com/dovewarden/jukebox/internal/song"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "0.0.0-dev" // Set by ldflags during build

func main() {
	// Load configuration early so we can configure logging
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if cfg.ShowVersion {
		fmt.Printf("jukebox version %s\n", version)
		os.Exit(0)
	}

	// Initialize structured logging
	// LOG_FORMAT (or log_format in the config file) selects "json" or "text" output
	var logger *slog.Logger

	lvl := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     lvl,
	}

	if strings.ToLower(cfg.LogFormat) == "json" {
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
	} else {
		handler := slog.NewTextHandler(os.Stdout, opts)
		logger = slog.New(handler)
	}

	slog.SetDefault(logger)

	slog.Info("jukebox starting", "version", version, "log_level", lvl.String())

	slog.Info("Starting jukebox",
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"redis_mode", cfg.RedisMode,
		"namespace", cfg.Namespace,
		"capacity", cfg.Capacity,
		"autoplay", cfg.Autoplay,
		"config_file", cfg.ConfigFile,
	)

	// Initialize metrics with default prometheus registry
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize queue
	q := queue.New[song.Request, string](queue.Options{
		Capacity:    cfg.Capacity,
		EventBuffer: cfg.EventBuffer,
		Logger:      logger,
	})
	defer q.Close()
	m.RegisterQueue(q.Len, q.Events().Dropped, func() uint64 { return q.Stats().FrontChanges })

	// Initialize the Redis read view
	var view *mirror.Mirror[song.Request]
	mirrorOpts := mirror.Options{
		Namespace:      cfg.Namespace,
		HistorySize:    cfg.HistorySize,
		ResyncInterval: cfg.ResyncInterval,
		Logger:         logger,
		Metrics:        m,
	}
	switch cfg.RedisMode {
	case "inmemory":
		slog.Info("Initializing in-memory Redis view")
		view, err = mirror.NewInMemory[song.Request]("", q, mirrorOpts)
	case "external":
		slog.Info("Connecting to external Redis", "addr", cfg.RedisAddr)
		view, err = mirror.NewExternal[song.Request](cfg.RedisAddr, q, mirrorOpts)
	default:
		slog.Info("Redis view disabled")
	}
	if err != nil {
		slog.Error("failed to create redis view", "mode", cfg.RedisMode, "error", err)
		os.Exit(1)
	}
	if view != nil {
		defer func() {
			if err := view.Close(); err != nil {
				slog.Error("error closing redis view", "error", err)
			}
		}()
		view.Start(context.Background())
	}

	// Create HTTP server for the queue API
	apiSrv := server.New(q, m, logger)
	if view != nil {
		apiSrv.SetHistory(view)
	}

	// Initialize the playback coordinator
	var coordinator *player.Coordinator
	if cfg.Autoplay {
		var backend player.Player
		if cfg.PlayerURL != "" {
			slog.Info("Initializing playback coordinator", "player_url", cfg.PlayerURL)
			backend = player.NewRemotePlayer(cfg.PlayerURL, cfg.PlayerPassword, logger)
		} else {
			slog.Info("Initializing playback coordinator", "playback_scale", cfg.PlaybackScale)
			backend = player.NewSimulatedPlayer(cfg.PlaybackScale, logger)
		}
		coordinator = player.NewCoordinator(q, backend, logger, m)
		coordinator.Start(context.Background())
		apiSrv.SetPlayer(coordinator)
	} else {
		slog.Info("Autoplay disabled; consumers take items via POST /queue/next")
	}

	apiHTTP := &http.Server{Addr: cfg.HTTPAddr, Handler: apiSrv.Handler()}

	// Create HTTP server for metrics with health and readiness probes
	var readyFlag uint32 // 0 = not ready, 1 = ready
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// Liveness check: process is up
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		if atomic.LoadUint32(&readyFlag) == 0 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if view != nil {
			if err := view.HealthCheck(ctx); err != nil {
				http.Error(w, "redis view not healthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	metricsHTTP := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	// Bind API listener before serving; mark ready only after bind success
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		slog.Error("failed to bind api listener", "addr", cfg.HTTPAddr, "error", err)
		os.Exit(1)
	}

	// Start servers in goroutines
	done := make(chan struct{}, 2)
	go func() {
		slog.Info("API HTTP server listening", "addr", cfg.HTTPAddr)
		atomic.StoreUint32(&readyFlag, 1)
		if err := apiHTTP.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
		done <- struct{}{}
	}()

	go func() {
		slog.Info("Metrics HTTP server listening", "addr", cfg.MetricsAddr)
		if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
		done <- struct{}{}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	atomic.StoreUint32(&readyFlag, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := apiHTTP.Shutdown(ctx); err != nil {
		slog.Error("error shutting down api server", "error", err)
	}

	// Stop playback before the view so the last take is still mirrored
	if coordinator != nil {
		if err := coordinator.Stop(ctx); err != nil {
			slog.Error("error stopping playback coordinator", "error", err)
		}
	}
	if view != nil {
		if err := view.Stop(ctx); err != nil {
			slog.Error("error stopping redis view", "error", err)
		}
	}

	if err := metricsHTTP.Shutdown(ctx); err != nil {
		slog.Error("error shutting down metrics server", "error", err)
	}

	// Wait for goroutines to exit or timeout
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

// parseLogLevel converts a string log level to slog.Level, defaulting to info on unknown values.
func parseLogLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "unknown log level %q, defaulting to info\n", lvl)
		return slog.LevelInfo
	}
}
