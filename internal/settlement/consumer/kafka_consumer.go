package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/decoder"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/orchestrator"
	sharedkafka "github.com/gfreitas/lottery-pot-platform-poc/internal/shared/kafka"
	"github.com/gfreitas/lottery-pot-platform-poc/pkg/contracts/events"
)

const defaultRetryBackoff = 500 * time.Millisecond

// backoff exponencial nunca passa deste múltiplo da base
const maxBackoffFactor = 60

// Processor consome batches de log do Kafka, decodifica e entrega ao
// orquestrador. Commit de offset é manual e estritamente ordenado: o
// FetchMessage seguinte já avança a posição da sessão, então um batch só
// pode ser deixado para trás depois de projetado (ou gravado na DLQ).
// Indisponibilidade do banco pausa a ingestão inteira — nunca descarta.
type Processor struct {
	Log    *zap.Logger
	Reader *kafka.Reader
	Orch   *orchestrator.Orchestrator
	DLQ    *kafka.Writer // batches indesserializáveis; nil desativa

	// Base do backoff entre tentativas (default 500ms)
	RetryBackoff time.Duration

	OnConsumed    func()       // métricas (counter++)
	OnDecodeError func()       // métricas
	OnError       func(string) // métricas por fase
}

func (p *Processor) backoffBase() time.Duration {
	if p.RetryBackoff > 0 {
		return p.RetryBackoff
	}
	return defaultRetryBackoff
}

// Run inicia o loop principal de consumo. Só retorna em cancelamento de
// contexto: qualquer falha a jusante segura o loop no batch corrente.
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			if p.OnError != nil {
				p.OnError("read")
			}
			time.Sleep(p.backoffBase())
			continue
		}

		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		var batch events.LedgerLogBatch
		if err := json.Unmarshal(m.Value, &batch); err != nil {
			p.Log.Error("invalid log batch", zap.Error(err))
			if p.OnError != nil {
				p.OnError("unmarshal")
			}
			// o commit só acontece com o batch garantido na DLQ
			if p.DLQ != nil {
				if derr := p.writeDLQWithRetry(ctx, m); derr != nil {
					return derr
				}
			}
			_ = p.Reader.CommitMessages(ctx, m)
			continue
		}

		// transação que falhou on-chain não emitiu eventos válidos
		if batch.Err != "" {
			_ = p.Reader.CommitMessages(ctx, m)
			continue
		}

		evs, decErrs := decoder.DecodeLogs(batch.Logs)
		for _, derr := range decErrs {
			// payload malformado de evento conhecido: loga e segue, o
			// restante do batch continua válido
			p.Log.Error("event decode failed",
				zap.String("kind", string(derr.Kind)),
				zap.String("signature", batch.Signature),
				zap.String("line", derr.Line),
				zap.Error(derr.Err),
			)
			if p.OnDecodeError != nil {
				p.OnDecodeError()
			}
		}

		if err := p.handleWithRetry(ctx, batch.Signature, evs); err != nil {
			return err // só em cancelamento de contexto
		}

		if err := p.Reader.CommitMessages(ctx, m); err != nil {
			p.Log.Warn("offset commit failed", zap.Error(err))
			if p.OnError != nil {
				p.OnError("commit")
			}
		}
	}
}

// handleWithRetry re-tenta a projeção com backoff exponencial até a escrita
// ser durável. Não há desistência: desistir permitiria o próximo commit de
// offset passar por cima do batch e perdê-lo de vez. Enquanto o store
// estiver fora, a ingestão fica parada aqui.
func (p *Processor) handleWithRetry(ctx context.Context, sig string, evs []decoder.Event) error {
	backoff := p.backoffBase()
	max := backoff * maxBackoffFactor

	for attempt := 1; ; attempt++ {
		err := p.Orch.HandleBatch(ctx, sig, evs)
		if err == nil {
			if attempt > 1 {
				p.Log.Info("projection recovered",
					zap.String("signature", sig), zap.Int("attempts", attempt))
			}
			return nil
		}
		p.Log.Warn("projection failed, holding offset",
			zap.String("signature", sig),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if p.OnError != nil {
			p.OnError("projection")
		}
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

// writeDLQWithRetry insiste na gravação da DLQ com o mesmo critério da
// projeção: o batch indesserializável só sai do tópico principal quando
// estiver preservado na DLQ.
func (p *Processor) writeDLQWithRetry(ctx context.Context, m kafka.Message) error {
	backoff := p.backoffBase()
	max := backoff * maxBackoffFactor

	for attempt := 1; ; attempt++ {
		err := sharedkafka.WriteJSON(ctx, p.DLQ, string(m.Key), m.Value)
		if err == nil {
			return nil
		}
		p.Log.Warn("dlq write failed, holding offset",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if p.OnError != nil {
			p.OnError("dlq")
		}
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
