package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/decoder"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/config"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/shared/logger"
)

// Simulador de nó do ledger para desenvolvimento local. Expõe o subset de
// JSON-RPC que os serviços usam (HTTP) e o logsSubscribe (WebSocket), e
// roteia um cenário contínuo: pot criado no boot, tickets até a capacidade,
// nova rodada em seguida. Todo fulfillment de randomness é imediato.

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chain_sim_ws_connections",
		Help: "Assinantes de logsSubscribe conectados",
	})
	notificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chain_sim_notifications_sent_total",
		Help: "Notificações de log enviadas",
	})
	rpcCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chain_sim_rpc_calls_total",
		Help: "Chamadas JSON-RPC por método",
	}, []string{"method"})
)

// rpcReq é um request JSON-RPC 2.0 (o id volta intacto na resposta)
type rpcReq struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func rpcResult(id json.RawMessage, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

// subHub gerencia os assinantes de logsSubscribe
type subHub struct {
	mu     sync.RWMutex
	nextID int64
	// conn -> subscription id
	subs map[*websocket.Conn]int64
	log  *zap.Logger
}

func newSubHub(log *zap.Logger) *subHub {
	return &subHub{subs: make(map[*websocket.Conn]int64), log: log}
}

// handleWS atende o protocolo de assinatura: responde logsSubscribe com um
// id de subscription e mantém a conexão aberta recebendo notificações
func (h *subHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	wsConnections.Inc()
	defer func() {
		h.mu.Lock()
		delete(h.subs, conn)
		h.mu.Unlock()
		wsConnections.Dec()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcReq
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		switch req.Method {
		case "logsSubscribe":
			h.mu.Lock()
			h.nextID++
			id := h.nextID
			h.subs[conn] = id
			h.mu.Unlock()
			_ = conn.WriteJSON(rpcResult(req.ID, id))
			h.log.Info("logs subscriber attached", zap.Int64("subscription", id))
		case "logsUnsubscribe":
			h.mu.Lock()
			delete(h.subs, conn)
			h.mu.Unlock()
			_ = conn.WriteJSON(rpcResult(req.ID, true))
		}
	}
}

// notify envia uma logsNotification para todos os assinantes
func (h *subHub) notify(slot uint64, signature string, logs []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, subID := range h.subs {
		payload := map[string]any{
			"jsonrpc": "2.0",
			"method":  "logsNotification",
			"params": map[string]any{
				"subscription": subID,
				"result": map[string]any{
					"context": map[string]any{"slot": slot},
					"value": map[string]any{
						"signature": signature,
						"err":       nil,
						"logs":      logs,
					},
				},
			},
		}
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			h.log.Warn("ws write failed", zap.Error(err))
			_ = conn.Close()
		} else {
			notificationsSent.Inc()
		}
	}
}

// rpcServer responde o subset JSON-RPC usado pelo settlement-worker
type rpcServer struct {
	log *zap.Logger
}

func (s *rpcServer) handle(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req rpcReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	rpcCalls.WithLabelValues(req.Method).Inc()

	var result any
	switch req.Method {
	case "getLatestBlockhash":
		var hash solana.Hash
		_, _ = rand.Read(hash[:])
		result = map[string]any{
			"context": map[string]any{"slot": 1},
			"value": map[string]any{
				"blockhash":            hash.String(),
				"lastValidBlockHeight": 1000,
			},
		}

	case "sendTransaction":
		sig, err := extractSignature(req.Params)
		if err != nil {
			s.log.Warn("sendTransaction parse failed", zap.Error(err))
			http.Error(w, "bad transaction", http.StatusBadRequest)
			return
		}
		s.log.Info("transaction accepted", zap.String("signature", sig))
		result = sig

	case "getSignatureStatuses":
		// toda transação enviada é confirmada na hora
		result = map[string]any{
			"context": map[string]any{"slot": 1},
			"value": []any{map[string]any{
				"slot":               1,
				"confirmations":      nil,
				"err":                nil,
				"confirmationStatus": "finalized",
			}},
		}

	case "getAccountInfo":
		// conta de randomness sempre fulfilled: disc(8) + seed(32) + random(64)
		data := make([]byte, 8+32+64)
		_, _ = rand.Read(data)
		result = map[string]any{
			"context": map[string]any{"slot": 1},
			"value": map[string]any{
				"lamports":   1_000_000,
				"owner":      solana.SystemProgramID.String(),
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"rentEpoch":  0,
			},
		}

	default:
		s.log.Warn("unhandled rpc method", zap.String("method", req.Method))
		result = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResult(req.ID, result))
}

// extractSignature decodifica a transação base64 de params[0] e devolve a
// primeira assinatura em base58 (compact-u16 de 1 byte: até 127 assinaturas)
func extractSignature(params json.RawMessage) (string, error) {
	var p []json.RawMessage
	if err := json.Unmarshal(params, &p); err != nil || len(p) == 0 {
		return "", fmt.Errorf("missing params")
	}
	var encoded string
	if err := json.Unmarshal(p[0], &encoded); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(raw) < 1+64 {
		return "", fmt.Errorf("transaction too short")
	}
	var sig solana.Signature
	copy(sig[:], raw[1:65])
	return sig.String(), nil
}

func randomSignature() string {
	var sig solana.Signature
	_, _ = rand.Read(sig[:])
	return sig.String()
}

// scenario emite o ciclo de vida de um pot: criação, tickets até a
// capacidade, pausa e nova rodada
func scenario(h *subHub, program string, capacity uint64, interval time.Duration, log *zap.Logger) {
	pot := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	vault := solana.NewWallet().PublicKey()

	wrap := func(dataLine string) []string {
		return []string{
			fmt.Sprintf("Program %s invoke [1]", program),
			dataLine,
			fmt.Sprintf("Program %s success", program),
		}
	}

	var slot uint64 = 1
	created, err := decoder.EncodeEvent(decoder.PotCreated{
		Pot:            pot,
		Authority:      authority,
		Mint:           mint,
		Vault:          vault,
		TicketPrice:    1_000_000,
		TicketCapacity: capacity,
	})
	if err != nil {
		log.Fatal("encode pot_created", zap.Error(err))
	}
	h.notify(slot, randomSignature(), wrap(created))
	log.Info("pot created", zap.String("pot", pot.String()), zap.Uint64("capacity", capacity))

	for {
		for sold := uint64(1); sold <= capacity; sold++ {
			time.Sleep(interval)
			slot++
			bought, err := decoder.EncodeEvent(decoder.TicketBought{
				Pot:            pot,
				Buyer:          solana.NewWallet().PublicKey(),
				TicketsSold:    sold,
				TicketCapacity: capacity,
			})
			if err != nil {
				log.Fatal("encode ticket_bought", zap.Error(err))
			}
			h.notify(slot, randomSignature(), wrap(bought))
			log.Info("ticket bought", zap.Uint64("sold", sold), zap.Uint64("capacity", capacity))
		}
		// rodada cheia: o settlement-worker cuida do resto; espera antes da próxima
		time.Sleep(10 * time.Second)
	}
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(wsConnections, notificationsSent, rpcCalls)

	program := cfg.ProgramID
	if program == "" {
		program = solana.NewWallet().PublicKey().String()
		log.Info("POT_PROGRAM_ID not set, generated one", zap.String("program", program))
	}

	hub := newSubHub(log)
	rpcSrv := &rpcServer{log: log}

	go scenario(hub, program, 4, 3*time.Second, log)

	// JSON-RPC (HTTP) na porta principal, logsSubscribe (WS) na porta+1,
	// espelhando o par 8899/8900 de um nó real
	appMux := http.NewServeMux()
	appMux.HandleFunc("/", rpcSrv.handle)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", hub.handleWS)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health listening", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	go func() {
		wsAddr := ":8900"
		log.Info("ws (logsSubscribe) listening", zap.String("addr", wsAddr))
		_ = http.ListenAndServe(wsAddr, wsMux)
	}()

	addr := ":" + cfg.HTTPPort
	log.Info("json-rpc listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, appMux); err != nil && err != http.ErrServerClosed {
		log.Fatal("rpc server failed", zap.Error(err))
	}
}
