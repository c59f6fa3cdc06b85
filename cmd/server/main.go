package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"telegram-alerts-go/alert"

	"tagcache-service/api/dto"
	"tagcache-service/internal/cache"
	"tagcache-service/internal/config"
	"tagcache-service/internal/httpserver"
	"tagcache-service/internal/logger"
	"tagcache-service/internal/metrics"
	"tagcache-service/internal/store"
)

const (
	configFilePath  = "/configs/config.yml"
	shutdownTimeout = 10 * time.Second
)

func main() {

	if _, err := logger.Init(); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics.Register()

	cfg, err := config.Load(configPath())
	if err != nil {
		zap.S().Fatalw(alert.Prefix("config load failed"), "error", err)
	}

	opts, err := cache.OptionsFrom(cfg)
	if err != nil {
		zap.S().Fatalw(alert.Prefix("bad cache options"), "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeClient := store.NewClient(ctx, cfg.Store)
	if err := storeClient.Ping(ctx); err != nil {
		zap.S().Warnw("store unreachable at startup, serving degraded", "error", err)
	}

	policy := cfg.Policy()
	svc := cache.NewService(storeClient, policy, opts)

	if cfg.Cleanup.Enabled {
		go cache.NewRunner(svc, cfg.Cleanup.Interval).Run(ctx)
	}

	apiServer := newServer(httpserver.NewRouter(svc, dto.NewMapper(policy)), cfg.Server.APIPort)
	metricServer := newServer(httpserver.NewMetricRouter(), cfg.Server.MetricsPort)

	// оба сервера стартуют в своих горутинах; main ждёт их завершения
	// через sync.WaitGroup, иначе процесс вышел бы сразу после запуска
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		listenServer(apiServer)
	}()

	go func() {
		defer wg.Done()
		listenServer(metricServer)
	}()

	<-ctx.Done()
	zap.S().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricServer.Shutdown(shutdownCtx)
	wg.Wait()

	if err := svc.Close(); err != nil {
		zap.S().Warnw("service close failed", "error", err)
	}
}

func configPath() string {
	if p := os.Getenv("TAGCACHE_CONFIG"); p != "" {
		return p
	}
	return configFilePath
}

func newServer(router http.Handler, port int) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
}

func listenServer(srv *http.Server) {
	zap.S().Infow("starting server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		zap.S().Fatalw(alert.Prefix("server error"), "error", err)
	}
}
