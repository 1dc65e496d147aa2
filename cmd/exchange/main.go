package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anylots/zkvm-clob-exchange/internal/api"
	"github.com/anylots/zkvm-clob-exchange/internal/app/builder"
	"github.com/anylots/zkvm-clob-exchange/internal/app/scheduler"
	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/blockpublisher"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/blockstore"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/exchange"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/ledger"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/prover"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/tradequeue"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/vm"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/vmpool"
	"github.com/anylots/zkvm-clob-exchange/pkg/config"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
)

var cfg *config.Config
var log logger.Interface

func init() {
	cfg = &config.Config{}
	if err := config.Load(cfg); err != nil {
		panic(err)
	}

	l, err := logger.NewLogger()
	if err != nil {
		panic(err)
	}
	log = l
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, err := blockstore.Open(cfg.BlockDBPath)
	if err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "open_block_store"})
		return
	}
	defer store.Close()

	lgr := ledger.New()
	queue := tradequeue.New()
	ex := exchange.New(lgr, queue, log)
	pool := vmpool.New()
	engine := vm.NewEngine()
	proofClient := prover.NewClient(log)

	// a nil interface keeps publishing disabled when no brokers are set
	var pub blockv1.Publisher
	if len(cfg.KafkaConfig.Brokers) > 0 {
		kp := blockpublisher.NewPublisher(cfg.KafkaConfig, log)
		defer kp.Close()
		pub = kp
	}

	b := builder.New(queue, store, lgr, pub, log, cfg.BlockConfig)
	sched := scheduler.New(b.Blocks(), pool, engine, proofClient, log, cfg.BlockConfig.CheckpointRatio)

	if err := b.Start(ctx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "start_builder"})
		return
	}
	if err := sched.Start(ctx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "start_scheduler"})
		return
	}

	handler := api.NewHandler(ex, lgr, b, pool, log)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Router(),
	}

	go func() {
		log.Info("http server listening", logger.Field{Key: "addr", Value: cfg.HTTPAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, logger.Field{Key: "action", Value: "http_listen"})
			sigChan <- syscall.SIGTERM
		}
	}()

	log.Info("exchange started",
		logger.Field{Key: "latestBlock", Value: b.LatestBlockNum()},
		logger.Field{Key: "checkpointRatio", Value: cfg.BlockConfig.CheckpointRatio},
	)

	sig := <-sigChan
	log.Info("received shutdown signal", logger.Field{Key: "signal", Value: sig.String()})

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "stop_http"})
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "stop_scheduler"})
	}
	if err := b.Stop(shutdownCtx); err != nil {
		log.Error(err, logger.Field{Key: "action", Value: "stop_builder"})
	}

	log.Info("exchange shutdown complete")
}
