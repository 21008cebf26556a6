package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/logx"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-inventory"
	log, err := logx.New(cfg.LogLevel, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, int32(cfg.InventoryWorkers))
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(context.Background())

	svc := &inventory.Service{
		Stock:     &orders.StockRepo{DB: db},
		Dedup:     &redisx.Cache{R: rdb},
		Events:    prod,
		Threshold: cfg.LowStockThreshold,
		Log:       log,
		Name:      name,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, inventory.Topics(), cfg.InventoryWorkers, log)
	log.Info("inventory watcher started",
		zap.String("group", cfg.InventoryGroup),
		zap.Strings("topics", inventory.Topics()),
		zap.Int("workers", cfg.InventoryWorkers),
		zap.Int("threshold", cfg.LowStockThreshold))

	// Start returns once ctx is done and every worker has finished
	if err := cons.Start(ctx, svc.Handle); err != nil {
		log.Error("consumer exit", zap.Error(err))
	}
	log.Info("shutting down")
	prod.Close()
	prod.WaitClosed()
}
