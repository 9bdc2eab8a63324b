package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/chain-ingest/listener"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/chain-ingest/publisher"
	sharedchain "github.com/gfreitas/lottery-pot-platform-poc/internal/shared/chain"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/config"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/logger"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		log.Fatal("invalid POT_PROGRAM_ID", zap.Error(err))
	}

	log.Info("Kafka brokers", zap.String("brokers", cfg.KafkaBrokers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka Publisher
	pub := publisher.NewKafkaPublisher(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.TopicPotLogs,
		log,
	)
	defer pub.Close()

	// Listener de logs do programa no ledger
	l := &listener.Listener{
		WSURL:      cfg.WSURL,
		Program:    program,
		Commitment: sharedchain.ParseCommitment(cfg.Commitment),
		Log:        log,
		Publisher:  pub,
		Source:     cfg.ServiceName,
	}
	go l.Start(ctx)

	// Metrics e health
	metrics.StartMetricsServer(cfg.MetricsPort, func(context.Context) error { return nil })
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")
	cancel()
	time.Sleep(2 * time.Second)
}
