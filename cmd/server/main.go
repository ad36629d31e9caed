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

	"locatr/internal/config"
	"locatr/internal/feed"
	"locatr/internal/handler"
	"locatr/internal/middleware"
	"locatr/internal/repository"
	"locatr/internal/viewer"
	"locatr/internal/websocket"
	"locatr/pkg/log"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logOpts := log.NewOptions()
	logOpts.Name = "locatr-server"
	logOpts.Level = cfg.Logging.Level
	logOpts.Format = cfg.Logging.Format
	log.Init(logOpts)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error(err, "Server exited with error")
		os.Exit(1)
	}
	log.Info("Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	logger := log.Std()

	broker := feed.NewBroker(store, cfg.Feed, logger)
	resolver := viewer.NewResolver(store, store, cfg.View.HistoryLimit, logger)

	wsManager := websocket.NewManager(cfg.WebSocket, logger)
	wsManager.SetMessageHandler(handler.NewViewerMessageHandler(wsManager, resolver, broker, cfg.Map, cfg.View.TrailCapacity, logger))

	deviceHandler := handler.NewDeviceHandler(resolver, cfg.Map, logger)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.WebSocket, logger)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.CORSMiddleware(cfg.CORS))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/devices/{code}", deviceHandler.Resolve).Methods("GET", "OPTIONS")
	api.HandleFunc("/devices/{code}/map", deviceHandler.Map).Methods("GET", "OPTIONS")
	api.HandleFunc("/codes/new", deviceHandler.NewCode).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return broker.Run(gctx)
	})

	g.Go(func() error {
		wsManager.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("Starting locatr server", "addr", addr, "env", cfg.Server.Env, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"locatr"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"locatr API","version":"1.0.0","endpoints":{"/api/v1/devices/{code}":"GET","/api/v1/devices/{code}/map":"GET","/api/v1/codes/new":"GET","/ws":"websocket","/metrics":"GET"}}`))
}
