package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/auth"
	qcache "github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/cache"
	httpapi "github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/http"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/repo"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/ws"
	sharedcache "github.com/gfreitas/lottery-pot-platform-poc/internal/shared/cache"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/config"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/db"
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hub WebSocket alimentado pelo Redis Pub/Sub do settlement-worker
	hub := ws.NewHub(func(r *http.Request) bool { return true }) // origem liberada (PoC)
	ws.StartRedisSubscriber(ctx, redisClient, cfg.RedisPubSubChannel, hub)

	api := &httpapi.API{
		ReadRepo: &repo.ReadRepo{DB: pg},
		Cache:    qcache.New(redisClient),
		Auth: &auth.Service{
			Secret: []byte(cfg.JWTSecret),
			Secure: cfg.Env == "prod",
			Log:    log,
		},
	}

	root := chi.NewRouter()
	root.Mount("/", api.Router())
	root.Get("/ws", hub.HandleWS)

	// Servidor de métricas e health check
	metrics.StartMetricsServer(cfg.MetricsPort, func(hctx context.Context) error {
		if err := pg.PingContext(hctx); err != nil {
			return err
		}
		return redisClient.Ping(hctx).Err()
	})
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: withCORS(root),
	}

	go func() {
		<-ctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Info("query-service listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server failed", zap.Error(err))
	}
	log.Info("query-service stopped")
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
