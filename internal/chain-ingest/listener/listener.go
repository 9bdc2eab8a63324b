package listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/pkg/contracts/events"
)

// Publisher entrega um batch de logs ao tópico de ingestão
type Publisher interface {
	Publish(ctx context.Context, b events.LedgerLogBatch) error
}

// Listener assina as notificações de log do programa de loteria no ledger e
// republica cada batch bruto no Kafka. Nenhuma decodificação acontece aqui.
type Listener struct {
	WSURL      string             // endpoint WebSocket do ledger
	Program    solana.PublicKey   // programa observado
	Commitment rpc.CommitmentType // nível de consistência da assinatura
	Log        *zap.Logger        // Logger estruturado
	Publisher  Publisher          // Publisher Kafka para os batches
	Source     string             // nome do serviço (campo do batch)

	// Base do backoff entre tentativas de publish (default 500ms)
	RetryBackoff time.Duration
}

// Start inicia o loop de conexão e escuta do WebSocket.
// Em caso de desconexão, tenta reconectar automaticamente com backoff.
// A retomada não assume ausência de gap: o pipeline é at-least-once e a
// projeção a jusante absorve redelivery.
func (l *Listener) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Log.Info("context canceled, stopping ledger listener")
			return
		default:
			if err := l.connectAndListen(ctx); err != nil && ctx.Err() == nil {
				l.Log.Warn("subscription closed", zap.Error(err))
				time.Sleep(3 * time.Second) // Aguarda antes de tentar reconectar
			}
		}
	}
}

// connectAndListen estabelece a assinatura logsSubscribe e processa
// notificações até a conexão cair.
func (l *Listener) connectAndListen(ctx context.Context) error {
	client, err := ws.Connect(ctx, l.WSURL)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.LogsSubscribeMentions(l.Program, l.Commitment)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	l.Log.Info("subscribed to program logs",
		zap.String("url", l.WSURL),
		zap.String("program", l.Program.String()),
	)

	for {
		res, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}

		batch := events.LedgerLogBatch{
			Signature:  res.Value.Signature.String(),
			Logs:       res.Value.Logs,
			Err:        formatTxErr(res.Value.Err),
			Slot:       res.Context.Slot,
			ReceivedAt: time.Now().UTC(),
			Source:     l.Source,
		}

		// Publica o batch recebido no Kafka. O feed WS entrega cada
		// notificação uma única vez, então descartar em falha de broker
		// seria perda definitiva: insiste até publicar.
		if err := l.publishWithRetry(ctx, batch); err != nil {
			return err
		}
	}
}

// publishWithRetry re-tenta o publish com backoff exponencial até o broker
// aceitar; só desiste em cancelamento de contexto.
func (l *Listener) publishWithRetry(ctx context.Context, b events.LedgerLogBatch) error {
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	max := 60 * backoff

	for attempt := 1; ; attempt++ {
		err := l.Publisher.Publish(ctx, b)
		if err == nil {
			if attempt > 1 {
				l.Log.Info("publish recovered",
					zap.String("signature", b.Signature), zap.Int("attempts", attempt))
			}
			return nil
		}
		l.Log.Warn("failed to publish to Kafka, retrying",
			zap.String("signature", b.Signature),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < max {
			backoff *= 2
		}
	}
}

// formatTxErr serializa o erro on-chain da transação ("" = sucesso)
func formatTxErr(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "unknown"
	}
	return string(b)
}
