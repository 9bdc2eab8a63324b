package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/chain"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/decoder"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/oracle"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/repo"
)

// Orquestrador de liquidação. Consome eventos decodificados, projeta no
// banco e, quando uma rodada atinge a capacidade, dispara a liquidação em
// goroutine própria: request de aleatoriedade → espera de fulfillment →
// seleção do vencedor → transação de payout → registro atômico do payout.
//
// Estados por (pot, round):
// OPEN → CAPACITY_REACHED → RANDOMNESS_REQUESTED → RANDOMNESS_FULFILLED →
// TX_SUBMITTED → TX_CONFIRMED → SETTLED
// Nenhum estado sobrevive a restart em memória: o sweep re-deriva rodadas
// pendentes da projeção e re-entra pelo mesmo caminho idempotente.

type Store interface {
	UpsertPotOnCreate(ctx context.Context, pot repo.Pot) (bool, error)
	RecordTicket(ctx context.Context, pot, buyer, txSig string, ticketIndex int64) (sold, capacity, round int64, err error)
	IsRoundSettled(ctx context.Context, pot string, round int64) (bool, error)
	GetPot(ctx context.Context, pot string) (*repo.Pot, error)
	BuyersForRound(ctx context.Context, pot string, round int64) ([]string, error)
	RecordPayoutAndAdvanceRound(ctx context.Context, payout repo.Payout) error
	PendingRounds(ctx context.Context) ([]repo.PendingRound, error)
}

type Oracle interface {
	Request(ctx context.Context) (seed [32]byte, requestTx string, err error)
	WaitFulfilled(ctx context.Context, seed [32]byte) ([]byte, error)
}

type Submitter interface {
	SubmitPayout(ctx context.Context, req chain.PayoutRequest) (string, error)
}

type Notifier interface {
	PotCreated(ctx context.Context, pot repo.Pot)
	TicketBought(ctx context.Context, ticket repo.Ticket, pot repo.Pot)
	PayoutLogged(ctx context.Context, payout repo.Payout, pot repo.Pot)
}

// taxa retida do prêmio, em basis points (5%)
const defaultRakeBps = 500

// tentativas de gravar o payout depois da transação confirmada
const payoutRecordAttempts = 5

type Orchestrator struct {
	Log       *zap.Logger
	Store     Store
	Oracle    Oracle
	Submitter Submitter
	Notifier  Notifier

	// Contexto das goroutines de liquidação (sobrevive ao ctx por-mensagem
	// do consumer). Vazio = context.Background().
	RunCtx context.Context

	OracleAttempts int
	RakeBps        int64

	// Base do backoff das re-tentativas de gravação do payout (default 500ms)
	RetryBackoff time.Duration

	OnEvent   func(kind string) // métricas (counter++ por tipo de evento)
	OnSettled func()            // métricas
	OnError   func(stage string)

	mu       sync.Mutex
	inFlight map[string]struct{} // pot|round com liquidação em andamento
	wg       sync.WaitGroup
}

func (o *Orchestrator) errStage(stage string) {
	if o.OnError != nil {
		o.OnError(stage)
	}
}

func (o *Orchestrator) countEvent(kind string) {
	if o.OnEvent != nil {
		o.OnEvent(kind)
	}
}

// HandleBatch processa os eventos decodificados de uma transação. A etapa é
// síncrona e curta (escritas de projeção); a liquidação longa roda à parte e
// nunca bloqueia a ingestão de outros pots. Erro aqui significa "projeção
// não durável" — o consumer segura o offset e redelivra.
func (o *Orchestrator) HandleBatch(ctx context.Context, txSig string, evs []decoder.Event) error {
	for _, ev := range evs {
		switch ev.Kind {
		case decoder.KindPotCreated:
			if err := o.handlePotCreated(ctx, ev.PotCreated); err != nil {
				return err
			}
		case decoder.KindTicketBought:
			if err := o.handleTicketBought(ctx, txSig, ev.TicketBought); err != nil {
				return err
			}
		case decoder.KindPayoutFulfilled:
			// projeção do payout é escrita pelo nosso próprio fluxo de
			// liquidação; o evento serve só de confirmação observável
			o.countEvent(string(ev.Kind))
			o.Log.Debug("payout fulfilled on-chain",
				zap.String("pot", ev.PayoutFulfilled.Pot.String()),
				zap.Uint64("round", ev.PayoutFulfilled.Round),
			)
		}
	}
	return nil
}

func (o *Orchestrator) handlePotCreated(ctx context.Context, ev *decoder.PotCreated) error {
	o.countEvent(string(decoder.KindPotCreated))

	pot := repo.Pot{
		Pot:            ev.Pot.String(),
		Authority:      ev.Authority.String(),
		Mint:           ev.Mint.String(),
		Vault:          ev.Vault.String(),
		TicketPrice:    int64(ev.TicketPrice),
		TicketCapacity: int64(ev.TicketCapacity),
		Round:          1,
	}
	created, err := o.Store.UpsertPotOnCreate(ctx, pot)
	if err != nil {
		o.errStage("pot_create")
		return fmt.Errorf("upsert pot: %w", err)
	}
	if !created {
		o.Log.Debug("duplicate PotCreated ignored", zap.String("pot", pot.Pot))
		return nil
	}

	o.Log.Info("pot created",
		zap.String("pot", pot.Pot),
		zap.Int64("ticket_price", pot.TicketPrice),
		zap.Int64("ticket_capacity", pot.TicketCapacity),
	)
	if o.Notifier != nil {
		if current, err := o.Store.GetPot(ctx, pot.Pot); err == nil {
			o.Notifier.PotCreated(ctx, *current)
		}
	}
	return nil
}

func (o *Orchestrator) handleTicketBought(ctx context.Context, txSig string, ev *decoder.TicketBought) error {
	o.countEvent(string(decoder.KindTicketBought))

	potAddr := ev.Pot.String()
	sold, capacity, round, err := o.Store.RecordTicket(ctx, potAddr, ev.Buyer.String(), txSig, int64(ev.TicketsSold))
	if errors.Is(err, repo.ErrPotNotFound) {
		// ticket de um pot que nunca projetamos (ex.: criado antes do
		// deploy); não é retriable
		o.Log.Warn("ticket for unknown pot skipped", zap.String("pot", potAddr))
		return nil
	}
	if err != nil {
		o.errStage("ticket_record")
		return fmt.Errorf("record ticket: %w", err)
	}

	if o.Notifier != nil {
		if current, err := o.Store.GetPot(ctx, potAddr); err == nil {
			o.Notifier.TicketBought(ctx, repo.Ticket{
				Pot:         potAddr,
				Round:       round,
				TicketIndex: int64(ev.TicketsSold),
				Buyer:       ev.Buyer.String(),
				TxSig:       txSig,
			}, *current)
		}
	}

	if sold >= capacity && capacity > 0 {
		o.Log.Info("capacity reached",
			zap.String("pot", potAddr),
			zap.Int64("round", round),
			zap.Int64("tickets_sold", sold),
		)
		o.StartSettlement(potAddr, round)
	}
	return nil
}

// StartSettlement dispara a liquidação de (pot, round) em goroutine própria.
// Dedup em memória é best-effort contra triggers duplicados no mesmo
// processo; a garantia real é o insert atômico do payout no banco.
func (o *Orchestrator) StartSettlement(potAddr string, round int64) {
	key := fmt.Sprintf("%s|%d", potAddr, round)

	o.mu.Lock()
	if o.inFlight == nil {
		o.inFlight = make(map[string]struct{})
	}
	if _, busy := o.inFlight[key]; busy {
		o.mu.Unlock()
		o.Log.Info("settlement already in flight (no-op)",
			zap.String("pot", potAddr), zap.Int64("round", round))
		return
	}
	o.inFlight[key] = struct{}{}
	o.mu.Unlock()

	ctx := o.RunCtx
	if ctx == nil {
		ctx = context.Background()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, key)
			o.mu.Unlock()
		}()

		if err := o.settle(ctx, potAddr, round); err != nil {
			o.Log.Error("settlement failed",
				zap.String("pot", potAddr),
				zap.Int64("round", round),
				zap.Error(err),
			)
		}
	}()
}

// Wait bloqueia até as liquidações em andamento terminarem (shutdown)
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) settle(ctx context.Context, potAddr string, round int64) error {
	log := o.Log.With(zap.String("pot", potAddr), zap.Int64("round", round))

	// guard de entrada: rodada pode ter sido liquidada por uma execução
	// anterior (redelivery do trigger de capacidade)
	settled, err := o.Store.IsRoundSettled(ctx, potAddr, round)
	if err != nil {
		o.errStage("settled_check")
		return fmt.Errorf("settled check: %w", err)
	}
	if settled {
		log.Info("round already settled, skipping (no-op)")
		return nil
	}

	pot, err := o.Store.GetPot(ctx, potAddr)
	if err != nil {
		o.errStage("pot_load")
		return fmt.Errorf("load pot: %w", err)
	}
	if pot.Round != round {
		// o pot já avançou: nada a fazer para esta rodada
		log.Info("pot already past round, skipping", zap.Int64("current_round", pot.Round))
		return nil
	}

	buyers, err := o.Store.BuyersForRound(ctx, potAddr, round)
	if err != nil {
		o.errStage("buyers_load")
		return fmt.Errorf("load buyers: %w", err)
	}
	if len(buyers) == 0 {
		o.errStage("buyers_empty")
		return fmt.Errorf("round at capacity with no tickets recorded")
	}
	log.Info("settlement started", zap.String("stage", "CAPACITY_REACHED"), zap.Int("buyers", len(buyers)))

	randomness, requestTx, err := o.fetchRandomness(ctx, log)
	if err != nil {
		return err
	}
	log.Info("randomness fulfilled", zap.String("stage", "RANDOMNESS_FULFILLED"), zap.String("request_tx", requestTx))

	winnerIdx, err := oracle.WinnerIndex(randomness, len(buyers))
	if err != nil {
		o.errStage("winner_select")
		return err
	}
	winner := buyers[winnerIdx]

	// re-checagem antes do passo caro: outra execução pode ter concluído
	// enquanto aguardávamos o oráculo
	if settled, err = o.Store.IsRoundSettled(ctx, potAddr, round); err != nil {
		o.errStage("settled_check")
		return fmt.Errorf("settled re-check: %w", err)
	} else if settled {
		log.Info("round settled concurrently, aborting (no-op)")
		return nil
	}

	req, err := buildPayoutRequest(pot, winner, uint64(winnerIdx))
	if err != nil {
		o.errStage("tx_build")
		return err
	}

	log.Info("submitting payout",
		zap.String("stage", "TX_SUBMITTED"),
		zap.String("winner", winner),
		zap.Int("winner_index", winnerIdx),
	)
	txSig, err := o.Submitter.SubmitPayout(ctx, req)
	if err != nil {
		var execErr *chain.ExecutionError
		if errors.As(err, &execErr) {
			// a chain não mudou de estado: nenhum payout é registrado e o
			// sweep re-tenta a rodada do zero mais tarde
			o.errStage("tx_execution")
			return fmt.Errorf("on-chain execution failed: %w", err)
		}
		o.errStage("tx_submit")
		return fmt.Errorf("submit payout: %w", err)
	}
	log.Info("payout confirmed", zap.String("stage", "TX_CONFIRMED"), zap.String("tx", txSig))

	rake := o.RakeBps
	if rake <= 0 {
		rake = defaultRakeBps
	}
	payout := repo.Payout{
		Pot:            potAddr,
		Round:          round,
		Winner:         winner,
		TxSig:          txSig,
		VRFRequestTx:   requestTx,
		AmountLamports: pot.TicketPrice * pot.TicketCapacity * (10000 - rake) / 10000,
	}

	// A transação já está confirmada: desistir aqui deixaria o sweep
	// re-dirigir a rodada e re-assinar um segundo payout para uma rodada já
	// paga. Insiste na gravação antes de abandonar.
	backoff := o.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	for i := 1; ; i++ {
		err = o.Store.RecordPayoutAndAdvanceRound(ctx, payout)
		if err == nil || errors.Is(err, repo.ErrAlreadySettled) || i >= payoutRecordAttempts {
			break
		}
		o.errStage("payout_record")
		log.Warn("payout record failed, retrying",
			zap.Int("attempt", i), zap.String("tx", txSig), zap.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(time.Duration(i) * backoff):
			continue
		}
		break
	}
	if errors.Is(err, repo.ErrAlreadySettled) {
		log.Info("payout already recorded by concurrent run (no-op)")
		return nil
	}
	if err != nil {
		o.errStage("payout_record")
		// alerta de operação: há valor pago on-chain sem registro na
		// projeção; intervenção manual antes que o sweep re-dirija a rodada
		log.Error("payout confirmed on-chain but not recorded",
			zap.String("tx", txSig),
			zap.String("winner", winner),
			zap.Error(err),
		)
		return fmt.Errorf("record payout (tx %s confirmed): %w", txSig, err)
	}

	if o.OnSettled != nil {
		o.OnSettled()
	}
	log.Info("round settled",
		zap.String("stage", "SETTLED"),
		zap.String("winner", winner),
		zap.Int64("amount_lamports", payout.AmountLamports),
	)

	if o.Notifier != nil {
		if current, err := o.Store.GetPot(ctx, potAddr); err == nil {
			o.Notifier.PayoutLogged(ctx, payout, *current)
		}
	}
	return nil
}

// fetchRandomness tenta request+espera até OracleAttempts vezes. Timeout do
// oráculo deixa a rodada pendente; esgotadas as tentativas, o erro sobe como
// alerta de operação e o sweep volta a tentar no próximo ciclo.
func (o *Orchestrator) fetchRandomness(ctx context.Context, log *zap.Logger) ([]byte, string, error) {
	attempts := o.OracleAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		seed, requestTx, err := o.Oracle.Request(ctx)
		if err != nil {
			o.errStage("oracle_request")
			lastErr = err
			log.Warn("oracle request failed", zap.Int("attempt", i), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
			continue
		}
		log.Info("randomness requested",
			zap.String("stage", "RANDOMNESS_REQUESTED"),
			zap.Int("attempt", i),
			zap.String("request_tx", requestTx),
		)

		randomness, err := o.Oracle.WaitFulfilled(ctx, seed)
		if err == nil {
			return randomness, requestTx, nil
		}
		lastErr = err
		if errors.Is(err, oracle.ErrOracleTimeout) {
			o.errStage("oracle_timeout")
			log.Warn("oracle fulfillment timed out", zap.Int("attempt", i))
			continue
		}
		o.errStage("oracle_wait")
		log.Warn("oracle wait failed", zap.Int("attempt", i), zap.Error(err))
	}
	return nil, "", fmt.Errorf("oracle gave no fulfillment after %d attempts: %w", attempts, lastErr)
}

// Sweep re-deriva rodadas pendentes da projeção (capacidade atingida, sem
// payout) e re-entra na liquidação. Roda no startup e em ticker — é o que
// torna o pipeline restart-safe sem depender de estado em memória.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	pending, err := o.Store.PendingRounds(ctx)
	if err != nil {
		o.errStage("sweep")
		return fmt.Errorf("pending rounds: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	o.Log.Info("reconciliation sweep", zap.Int("pending_rounds", len(pending)))
	for _, pr := range pending {
		o.StartSettlement(pr.Pot, pr.Round)
	}
	return nil
}

func buildPayoutRequest(pot *repo.Pot, winner string, winnerIndex uint64) (chain.PayoutRequest, error) {
	potKey, err := solana.PublicKeyFromBase58(pot.Pot)
	if err != nil {
		return chain.PayoutRequest{}, fmt.Errorf("parse pot address: %w", err)
	}
	vault, err := solana.PublicKeyFromBase58(pot.Vault)
	if err != nil {
		return chain.PayoutRequest{}, fmt.Errorf("parse vault address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(pot.Mint)
	if err != nil {
		return chain.PayoutRequest{}, fmt.Errorf("parse mint address: %w", err)
	}
	winnerKey, err := solana.PublicKeyFromBase58(winner)
	if err != nil {
		return chain.PayoutRequest{}, fmt.Errorf("parse winner address: %w", err)
	}
	return chain.PayoutRequest{
		Pot:         potKey,
		Vault:       vault,
		Mint:        mint,
		Winner:      winnerKey,
		WinnerIndex: winnerIndex,
	}, nil
}
