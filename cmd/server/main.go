package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/carebridge/wallet-engine/internal/config"
	"github.com/carebridge/wallet-engine/internal/logger"
	"github.com/carebridge/wallet-engine/internal/model"
	"github.com/carebridge/wallet-engine/internal/repo"
	"github.com/carebridge/wallet-engine/internal/service"
	httptransport "github.com/carebridge/wallet-engine/internal/transport/http"
)

func main() {
	// 1. env + config
	_ = godotenv.Load()
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Wallet{}, &model.LedgerEntry{}, &model.WithdrawalRequest{},
		&model.TopupIntent{}, &model.Job{}, &model.Dispute{}, &model.OutboxEvent{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	coord := service.NewCoordinator(repository, log)
	wallets := service.NewWalletService(repository, coord, cfg.Fees.Currency, log)
	topups := service.NewTopupService(repository, coord, wallets, log)
	withdrawals := service.NewWithdrawalService(repository, coord, wallets, log)
	escrow := service.NewEscrowService(repository, coord, wallets, cfg.Fees, log)

	// 7. gin router
	router := httptransport.NewRouter(httptransport.Services{
		Wallets:     wallets,
		Topups:      topups,
		Withdrawals: withdrawals,
		Escrow:      escrow,
	}, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("wallet-engine listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
