package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcmexdev/ecommerce-orders/internal/config"
	"github.com/jcmexdev/ecommerce-orders/internal/httpapi"
	"github.com/jcmexdev/ecommerce-orders/internal/order"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/cache"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/telemetry"
	"github.com/jcmexdev/ecommerce-orders/internal/store/sqlite"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	shutdown, err := telemetry.SetupTracer(ctx, cfg.ServiceName)
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	repoCfg := order.RepositoryConfig{
		Orders:            st.Orders(),
		Items:             st.Items(),
		Adjustments:       st.Adjustments(),
		Customers:         st.Customers(),
		Stats:             st.Stats(),
		Journal:           st.Journal(),
		CacheTTL:          cfg.CacheTTL,
		StrictSideEffects: cfg.StrictSideEffects,
		SequentialNumbers: cfg.SequentialNumbers,
		NumberPrefix:      cfg.NumberPrefix,
		Aggregate: order.Options{
			Currency:         cfg.Currency,
			PricesIncludeTax: cfg.PricesIncludeTax,
		},
	}

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, "orders")
		if err := redisCache.Ping(ctx); err != nil {
			slog.Error("failed to reach redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		repoCfg.Cache = redisCache
	}

	repo := order.NewRepository(repoCfg)
	handler := httpapi.NewHandler(repo, st.Catalog(), st.Journal())
	router := httpapi.NewRouter(handler)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}()

	slog.Info("order service running", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}
