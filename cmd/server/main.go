package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/sitewise/stockledger/internal/adapter/handler"
	"github.com/sitewise/stockledger/internal/adapter/storage"
	"github.com/sitewise/stockledger/internal/config"
	"github.com/sitewise/stockledger/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL is the system of record.
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Error("failed to connect mysql", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping mysql", "error", err)
		os.Exit(1)
	}
	log.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Redis carries idempotency keys and the task-unblock channel.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	redisAdapter := storage.NewRedisAdapter(rdb)
	sites := config.NewSiteRegistry(cfg.Sites)

	allocator := service.NewAllocationService(mysqlAdapter, mysqlAdapter, redisAdapter, log)
	receipts := service.NewReceiptService(mysqlAdapter, redisAdapter, sites, allocator, log)
	transfers := service.NewTransferService(mysqlAdapter, redisAdapter, sites, log)
	requests := service.NewRequestService(mysqlAdapter, sites, log)
	aggregation := service.NewAggregationService(mysqlAdapter)

	httpHandler := handler.NewHTTPHandler(receipts, transfers, requests, aggregation, mysqlAdapter, mysqlAdapter, sites)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	log.Info("HTTP server stopped")
}
