package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	setchain "github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/chain"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/consumer"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/notifier"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/oracle"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/orchestrator"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/repo"
	sharedcache "github.com/gfreitas/lottery-pot-platform-poc/internal/shared/cache"
	sharedchain "github.com/gfreitas/lottery-pot-platform-poc/internal/shared/chain"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/config"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/db"
	sharedkafka "github.com/gfreitas/lottery-pot-platform-poc/internal/shared/kafka"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Inicializa dependências: Postgres, Redis e chave de custódia
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	custody, err := sharedchain.LoadCustodyKey(cfg.CustodyKey)
	if err != nil {
		log.Fatal("custody key", zap.Error(err))
	}

	vrfProgram, err := solana.PublicKeyFromBase58(cfg.VRFProgramID)
	if err != nil {
		log.Fatal("invalid VRF_PROGRAM_ID", zap.Error(err))
	}

	var treasury solana.PublicKey
	if cfg.OracleTreasury != "" {
		treasury, err = solana.PublicKeyFromBase58(cfg.OracleTreasury)
		if err != nil {
			log.Fatal("invalid ORACLE_TREASURY", zap.Error(err))
		}
	}

	potProgram, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		log.Fatal("invalid POT_PROGRAM_ID", zap.Error(err))
	}

	commitment := sharedchain.ParseCommitment(cfg.Commitment)
	rpcClient := rpc.New(cfg.RPCURL)

	// Métricas Prometheus do pipeline de liquidação
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_batches_consumed_total", Help: "batches de log consumidos"})
	decodeErrs := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_decode_errors_total", Help: "linhas de log com payload inválido"})
	eventsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_events_total", Help: "eventos projetados por tipo"}, []string{"kind"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_rounds_settled_total", Help: "rodadas liquidadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, decodeErrs, eventsBy, settled, errorsBy)

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := repo.NewPostgres(pg)

	vrf := &oracle.VRF{
		RPC:          rpcClient,
		Program:      vrfProgram,
		Treasury:     treasury,
		Payer:        custody,
		Commitment:   commitment,
		PollInterval: 2 * time.Second,
		Timeout:      cfg.OracleTimeout,
		Log:          log,
	}

	submitter := &setchain.Submitter{
		RPC:            rpcClient,
		Program:        potProgram,
		Custody:        custody,
		Commitment:     commitment,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   2 * time.Second,
		Log:            log,
	}

	notify := &notifier.Redis{
		Client:  redisClient,
		Channel: cfg.RedisPubSubChannel,
		TTL:     60 * time.Second,
		Log:     log,
	}

	orch := &orchestrator.Orchestrator{
		Log:            log,
		Store:          store,
		Oracle:         vrf,
		Submitter:      submitter,
		Notifier:       notify,
		RunCtx:         ctx,
		OracleAttempts: cfg.OracleAttempts,
		OnEvent:        func(kind string) { eventsBy.WithLabelValues(kind).Inc() },
		OnSettled:      func() { settled.Inc() },
		OnError:        func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Sweep de reconciliação: no boot e depois a cada intervalo, re-dispara
	// rodadas cheias sem payout (crash entre capacidade e registro)
	if err := orch.Sweep(ctx); err != nil {
		log.Warn("startup sweep failed", zap.Error(err))
	}
	go func() {
		t := time.NewTicker(cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := orch.Sweep(ctx); err != nil {
					log.Warn("sweep failed", zap.Error(err))
				}
			}
		}
	}()

	// Consumer Kafka (consumer group settlement, commit manual)
	reader := sharedkafka.NewReader(cfg.KafkaBrokers, cfg.TopicPotLogs, "settlement")
	defer reader.Close()

	dlq := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicPotLogsDLQ)
	defer dlq.Close()

	proc := &consumer.Processor{
		Log:           log,
		Reader:        reader,
		Orch:          orch,
		DLQ:           dlq,
		OnConsumed:    func() { consumed.Inc() },
		OnDecodeError: func() { decodeErrs.Inc() },
		OnError:       func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Servidor HTTP para métricas e health check
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			hctx, hcancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer hcancel()
			if err := pg.PingContext(hctx); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			if err := redisClient.Ping(hctx).Err(); err != nil {
				http.Error(w, "redis", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health listening", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	log.Info("settlement-worker started")
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}

	// Aguarda as goroutines de liquidação encerrarem (o sweep do próximo
	// boot recupera qualquer rodada interrompida)
	orch.Wait()
	log.Info("settlement-worker stopped")
}
