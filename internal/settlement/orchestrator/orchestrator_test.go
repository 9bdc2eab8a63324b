package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/chain"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/decoder"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/oracle"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/repo"
)

// fakeStore reproduz em memória a semântica do repo Postgres: ticket
// idempotente por índice, payout único por (pot, round).
type fakeStore struct {
	mu      sync.Mutex
	pots    map[string]*repo.Pot
	tickets map[string][]repo.Ticket // key pot|round
	payouts map[string]repo.Payout   // key pot|round
	seen    map[string]struct{}      // key pot|txSig|index (dedupe de replay)

	failPayoutInsert error // injeta falha em RecordPayoutAndAdvanceRound
	failPayoutTimes  int   // >0 limita a falha às N primeiras escritas
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pots:    make(map[string]*repo.Pot),
		tickets: make(map[string][]repo.Ticket),
		payouts: make(map[string]repo.Payout),
		seen:    make(map[string]struct{}),
	}
}

func rk(pot string, round int64) string { return fmt.Sprintf("%s|%d", pot, round) }

func (s *fakeStore) UpsertPotOnCreate(_ context.Context, pot repo.Pot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pots[pot.Pot]; ok {
		return false, nil
	}
	p := pot
	p.TicketsSold = 0
	p.Round = 1
	s.pots[pot.Pot] = &p
	return true, nil
}

func (s *fakeStore) RecordTicket(_ context.Context, pot, buyer, txSig string, idx int64) (int64, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pots[pot]
	if !ok {
		return 0, 0, 0, repo.ErrPotNotFound
	}
	seenKey := fmt.Sprintf("%s|%s|%d", pot, txSig, idx)
	if _, dup := s.seen[seenKey]; dup {
		return p.TicketsSold, p.TicketCapacity, p.Round, nil
	}
	s.seen[seenKey] = struct{}{}
	s.tickets[rk(pot, p.Round)] = append(s.tickets[rk(pot, p.Round)], repo.Ticket{
		Pot: pot, Round: p.Round, TicketIndex: idx, Buyer: buyer, TxSig: txSig,
	})
	if idx > p.TicketsSold {
		p.TicketsSold = idx
	}
	if p.TicketsSold > p.TicketCapacity {
		p.TicketsSold = p.TicketCapacity
	}
	return p.TicketsSold, p.TicketCapacity, p.Round, nil
}

func (s *fakeStore) IsRoundSettled(_ context.Context, pot string, round int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payouts[rk(pot, round)]
	return ok, nil
}

func (s *fakeStore) GetPot(_ context.Context, pot string) (*repo.Pot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pots[pot]
	if !ok {
		return nil, repo.ErrPotNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) BuyersForRound(_ context.Context, pot string, round int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tickets := s.tickets[rk(pot, round)]
	out := make([]string, 0, len(tickets))
	// tickets entram em ordem de índice nos testes; ordenação real é do SQL
	for _, t := range tickets {
		out = append(out, t.Buyer)
	}
	return out, nil
}

func (s *fakeStore) RecordPayoutAndAdvanceRound(_ context.Context, payout repo.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPayoutInsert != nil {
		err := s.failPayoutInsert
		if s.failPayoutTimes > 0 {
			s.failPayoutTimes--
			if s.failPayoutTimes == 0 {
				s.failPayoutInsert = nil
			}
		}
		return err
	}
	key := rk(payout.Pot, payout.Round)
	if _, ok := s.payouts[key]; ok {
		return repo.ErrAlreadySettled
	}
	s.payouts[key] = payout
	p := s.pots[payout.Pot]
	p.TicketsSold = 0
	p.Round++
	return nil
}

func (s *fakeStore) PendingRounds(_ context.Context) ([]repo.PendingRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repo.PendingRound
	for addr, p := range s.pots {
		if p.TicketCapacity > 0 && p.TicketsSold >= p.TicketCapacity {
			if _, settled := s.payouts[rk(addr, p.Round)]; !settled {
				out = append(out, repo.PendingRound{Pot: addr, Round: p.Round})
			}
		}
	}
	return out, nil
}

type fakeOracle struct {
	mu         sync.Mutex
	randomness []byte
	requests   int
	timeouts   int // WaitFulfilled expira nas N primeiras esperas
}

func (f *fakeOracle) Request(context.Context) ([32]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	var seed [32]byte
	seed[0] = byte(f.requests)
	return seed, fmt.Sprintf("vrf-req-%d", f.requests), nil
}

func (f *fakeOracle) WaitFulfilled(context.Context, [32]byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timeouts > 0 {
		f.timeouts--
		return nil, oracle.ErrOracleTimeout
	}
	return f.randomness, nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	submits int
	err     error
}

func (f *fakeSubmitter) SubmitPayout(_ context.Context, req chain.PayoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("payout-tx-%d", f.submits), nil
}

type potFixture struct {
	pot    solana.PublicKey
	buyers []solana.PublicKey
}

func newFixture(buyers int) potFixture {
	fx := potFixture{pot: solana.NewWallet().PublicKey()}
	for i := 0; i < buyers; i++ {
		fx.buyers = append(fx.buyers, solana.NewWallet().PublicKey())
	}
	return fx
}

func (fx potFixture) created(capacity uint64) decoder.Event {
	return decoder.Event{Kind: decoder.KindPotCreated, PotCreated: &decoder.PotCreated{
		Pot:            fx.pot,
		Authority:      solana.NewWallet().PublicKey(),
		Mint:           solana.NewWallet().PublicKey(),
		Vault:          solana.NewWallet().PublicKey(),
		TicketPrice:    10,
		TicketCapacity: capacity,
	}}
}

func (fx potFixture) bought(buyer int, sold, capacity uint64) decoder.Event {
	return decoder.Event{Kind: decoder.KindTicketBought, TicketBought: &decoder.TicketBought{
		Pot:            fx.pot,
		Buyer:          fx.buyers[buyer],
		TicketsSold:    sold,
		TicketCapacity: capacity,
	}}
}

func newOrchestrator(store Store, o *fakeOracle, sub *fakeSubmitter) *Orchestrator {
	return &Orchestrator{
		Log:            zap.NewNop(),
		Store:          store,
		Oracle:         o,
		Submitter:      sub,
		OracleAttempts: 2,
		RetryBackoff:   time.Millisecond,
	}
}

// Cenário 1+2: pot de capacidade 3 é liquidado no terceiro ticket; bytes de
// fulfillment 01 00 ... com 3 compradores elegem o índice 1 (comprador B).
func TestSettlement_FullRound(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	randomness := make([]byte, 64)
	randomness[0] = 0x01
	orc := newOrchestrator(store, &fakeOracle{randomness: randomness}, &fakeSubmitter{})

	fx := newFixture(3)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(3)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 3)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 3)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-3", []decoder.Event{fx.bought(2, 3, 3)}))
	orc.Wait()

	potAddr := fx.pot.String()
	payout, ok := store.payouts[rk(potAddr, 1)]
	require.True(t, ok, "round 1 must have a payout")
	require.Equal(t, fx.buyers[1].String(), payout.Winner) // vencedor B
	require.Equal(t, "payout-tx-1", payout.TxSig)
	require.Equal(t, "vrf-req-1", payout.VRFRequestTx)
	// 3 tickets * 10 - 5% de rake
	require.EqualValues(t, 28, payout.AmountLamports)

	pot := store.pots[potAddr]
	require.EqualValues(t, 2, pot.Round)
	require.EqualValues(t, 0, pot.TicketsSold)
}

// Cenário 3: o trigger de capacidade chega duas vezes (replay de reconexão);
// só um payout existe para (pot, round 1) e a rodada avança exatamente uma vez.
func TestSettlement_DuplicateCapacityTrigger(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	orc := newOrchestrator(store, &fakeOracle{randomness: make([]byte, 64)}, &fakeSubmitter{})

	fx := newFixture(2)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 2)}))
	orc.Wait()

	// redelivery do evento que fechou a rodada
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 2)}))
	orc.Wait()

	potAddr := fx.pot.String()
	require.Len(t, store.payouts, 1)
	_, ok := store.payouts[rk(potAddr, 1)]
	require.True(t, ok)
	require.EqualValues(t, 2, store.pots[potAddr].Round)
	// ticket duplicado não reabre a rodada 2
	require.EqualValues(t, 0, store.pots[potAddr].TicketsSold)
}

// Cenário 4: erro de execução on-chain não registra payout nem avança a
// rodada; o sweep posterior re-tenta e conclui.
func TestSettlement_TxFailureThenSweepRecovers(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	sub := &fakeSubmitter{err: &chain.ExecutionError{Signature: "bad", OnChain: "custom program error: 0x1"}}
	orc := newOrchestrator(store, &fakeOracle{randomness: make([]byte, 64)}, sub)

	fx := newFixture(2)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 2)}))
	orc.Wait()

	potAddr := fx.pot.String()
	require.Empty(t, store.payouts, "failed tx must not create a payout")
	require.EqualValues(t, 1, store.pots[potAddr].Round)
	require.EqualValues(t, 2, store.pots[potAddr].TicketsSold)

	// causa resolvida; sweep de reconciliação re-deriva a rodada pendente
	sub.mu.Lock()
	sub.err = nil
	sub.mu.Unlock()
	require.NoError(t, orc.Sweep(ctx))
	orc.Wait()

	require.Len(t, store.payouts, 1)
	require.EqualValues(t, 2, store.pots[potAddr].Round)
}

// Replay completo do log de eventos reproduz a mesma projeção final de uma
// execução limpa.
func TestSettlement_ReplayIdempotence(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	randomness := make([]byte, 64)
	randomness[0] = 0x02
	orc := newOrchestrator(store, &fakeOracle{randomness: randomness}, &fakeSubmitter{})

	fx := newFixture(3)
	log := [][]decoder.Event{
		{fx.created(3)},
		{fx.bought(0, 1, 3)},
		{fx.bought(1, 2, 3)},
		{fx.bought(2, 3, 3)},
	}

	for i, batch := range log {
		require.NoError(t, orc.HandleBatch(ctx, fmt.Sprintf("sig-%d", i), batch))
	}
	orc.Wait()

	potAddr := fx.pot.String()
	firstPayout := store.payouts[rk(potAddr, 1)]
	firstRound := store.pots[potAddr].Round

	// replay integral (reconexão sem checkpoint)
	for i, batch := range log {
		require.NoError(t, orc.HandleBatch(ctx, fmt.Sprintf("sig-%d", i), batch))
	}
	orc.Wait()

	require.Len(t, store.payouts, 1)
	require.Equal(t, firstPayout.Winner, store.payouts[rk(potAddr, 1)].Winner)
	require.Equal(t, firstRound, store.pots[potAddr].Round)
	// tickets da rodada 1 não são duplicados
	require.Len(t, store.tickets[rk(potAddr, 1)], 3)
}

// tickets_sold nunca excede a capacidade, mesmo com índice repetido
func TestRecordTicket_CapNeverExceeded(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	orc := newOrchestrator(store, &fakeOracle{randomness: make([]byte, 64)}, &fakeSubmitter{})

	fx := newFixture(2)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(2)}))
	for i := 0; i < 5; i++ {
		require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 2)}))
	}
	orc.Wait()

	pot := store.pots[fx.pot.String()]
	require.LessOrEqual(t, pot.TicketsSold, pot.TicketCapacity)
	require.Len(t, store.tickets[rk(fx.pot.String(), 1)], 1)
}

// falha transitória do store na gravação do payout não perde a rodada: o
// sweep encontra a pendência e o vencedor é pago uma única vez
func TestSettlement_StoreFailureThenSweep(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failPayoutInsert = errors.New("pg down")
	sub := &fakeSubmitter{}
	orc := newOrchestrator(store, &fakeOracle{randomness: make([]byte, 64)}, sub)

	fx := newFixture(2)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 2)}))
	orc.Wait()

	require.Empty(t, store.payouts)

	store.mu.Lock()
	store.failPayoutInsert = nil
	store.mu.Unlock()
	require.NoError(t, orc.Sweep(ctx))
	orc.Wait()

	require.Len(t, store.payouts, 1)
}

// transação confirmada + falha transitória na gravação: a escrita é
// re-tentada no lugar, sem re-assinar um segundo payout para a mesma rodada
func TestSettlement_TransientStoreFailureDoesNotResubmit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failPayoutInsert = errors.New("pg down")
	store.failPayoutTimes = 1
	sub := &fakeSubmitter{}
	orc := newOrchestrator(store, &fakeOracle{randomness: make([]byte, 64)}, sub)

	fx := newFixture(2)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 2)}))
	orc.Wait()

	potAddr := fx.pot.String()
	require.Len(t, store.payouts, 1, "payout must land on the retry")
	require.EqualValues(t, 2, store.pots[potAddr].Round)
	require.Equal(t, 1, sub.submits, "a confirmed round must never be paid twice")

	// sweep posterior não encontra pendência nem re-submete
	require.NoError(t, orc.Sweep(ctx))
	orc.Wait()
	require.Equal(t, 1, sub.submits)
}

// timeout do oráculo esgota as tentativas e deixa a rodada pendente (sem
// payout, sem transação); o sweep re-dirige quando o oráculo volta
func TestSettlement_OracleTimeoutThenSweepRecovers(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	sub := &fakeSubmitter{}
	orcl := &fakeOracle{randomness: make([]byte, 64), timeouts: 2} // = OracleAttempts
	orc := newOrchestrator(store, orcl, sub)

	fx := newFixture(2)
	require.NoError(t, orc.HandleBatch(ctx, "sig-create", []decoder.Event{fx.created(2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-1", []decoder.Event{fx.bought(0, 1, 2)}))
	require.NoError(t, orc.HandleBatch(ctx, "sig-2", []decoder.Event{fx.bought(1, 2, 2)}))
	orc.Wait()

	potAddr := fx.pot.String()
	require.Empty(t, store.payouts, "timed-out round must stay pending")
	require.Equal(t, 0, sub.submits, "no payout tx without randomness")
	require.EqualValues(t, 1, store.pots[potAddr].Round)

	// oráculo respondendo de novo; a pendência re-deriva do banco
	require.NoError(t, orc.Sweep(ctx))
	orc.Wait()

	require.Len(t, store.payouts, 1)
	require.EqualValues(t, 2, store.pots[potAddr].Round)
	require.Equal(t, 1, sub.submits)
}

// pot desconhecido não derruba o loop de ingestão
func TestTicketForUnknownPotIsSkipped(t *testing.T) {
	orc := newOrchestrator(newFakeStore(), &fakeOracle{randomness: make([]byte, 64)}, &fakeSubmitter{})
	fx := newFixture(1)
	require.NoError(t, orc.HandleBatch(context.Background(), "sig", []decoder.Event{fx.bought(0, 1, 3)}))
}
