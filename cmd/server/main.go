package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seckill/internal/admission"
	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/model"
	"seckill/internal/order"
	"seckill/internal/repo"
	"seckill/internal/router"
	"seckill/internal/voucher"
	rediskey "seckill/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Error("db open failed", "err", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&model.Voucher{}, &model.Order{}); err != nil {
		log.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		// Unreachable coordination store at boot is the one fatal condition.
		log.Error("redis unreachable", "addr", cfg.RedisAddr, "err", err)
		os.Exit(1)
	}

	repository := repo.New(db)

	cacheClient := cache.NewClient(rediskey.NewStore(rdb), log, cache.Options{
		TTL:            cfg.CacheTTL,
		NullTTL:        cfg.CacheNullTTL,
		LockTTL:        cfg.CacheLockTTL,
		RetryDelay:     cfg.CacheRetryDelay,
		MaxRetries:     cfg.CacheMaxRetries,
		RebuildWorkers: cfg.RebuildWorkers,
	})
	vouchers := voucher.NewService(repository, cacheClient, cfg.CacheTTL)

	queue := order.NewQueue(cfg.OrderQueueSize)
	locks := rediskey.NewLockManager(rdb, cfg.OrderLockTTL, cfg.OrderLockWait)
	worker := order.NewWorker(queue, repository, locks, log)

	gate := admission.NewGate(vouchers, rediskey.NewReserver(rdb), rediskey.NewIDWorker(rdb), queue, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The worker is stopped by closing the queue (drain-then-exit), not by
	// the signal context: intents enqueued while HTTP shutdown is still
	// letting in-flight requests finish must not be lost.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(context.Background())
	}()

	r := gin.Default()
	router.Setup(r, vouchers, gate, rdb, cfg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()
	log.Info("server started", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	log.Info("shutting down")

	// Stop intake first, then let the worker drain what is buffered before
	// the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	queue.Close()
	<-workerDone
	cacheClient.Close()
	log.Info("shutdown complete")
}
