package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/decoder"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/orchestrator"
	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/repo"
)

// flakyStore falha as N primeiras escritas e registra quantas tentativas
// recebeu; só o caminho de PotCreated é exercitado aqui.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) UpsertPotOnCreate(context.Context, repo.Pot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return false, errors.New("pg down")
	}
	return true, nil
}

func (s *flakyStore) RecordTicket(context.Context, string, string, string, int64) (int64, int64, int64, error) {
	return 0, 0, 0, nil
}
func (s *flakyStore) IsRoundSettled(context.Context, string, int64) (bool, error) { return false, nil }
func (s *flakyStore) GetPot(context.Context, string) (*repo.Pot, error) {
	return nil, repo.ErrPotNotFound
}
func (s *flakyStore) BuyersForRound(context.Context, string, int64) ([]string, error) {
	return nil, nil
}
func (s *flakyStore) RecordPayoutAndAdvanceRound(context.Context, repo.Payout) error { return nil }
func (s *flakyStore) PendingRounds(context.Context) ([]repo.PendingRound, error)     { return nil, nil }

func potCreatedEvent() []decoder.Event {
	return []decoder.Event{{Kind: decoder.KindPotCreated, PotCreated: &decoder.PotCreated{
		Pot:            solana.NewWallet().PublicKey(),
		Authority:      solana.NewWallet().PublicKey(),
		Mint:           solana.NewWallet().PublicKey(),
		Vault:          solana.NewWallet().PublicKey(),
		TicketPrice:    10,
		TicketCapacity: 3,
	}}}
}

func newProcessor(store orchestrator.Store) *Processor {
	return &Processor{
		Log:          zap.NewNop(),
		Orch:         &orchestrator.Orchestrator{Log: zap.NewNop(), Store: store},
		RetryBackoff: time.Millisecond,
	}
}

// Indisponibilidade prolongada do store não pode descartar o batch: a
// projeção insiste até a escrita ser durável, sem limite de tentativas.
func TestHandleWithRetry_HoldsBatchUntilStoreRecovers(t *testing.T) {
	store := &flakyStore{failures: 7}
	p := newProcessor(store)

	err := p.handleWithRetry(context.Background(), "sig-1", potCreatedEvent())
	require.NoError(t, err)
	require.Equal(t, 8, store.calls, "must keep retrying past any fixed attempt budget")
}

// Cancelamento de contexto é a única saída enquanto o store estiver fora —
// e aí nenhum offset foi commitado, então o batch redelivra no próximo boot.
func TestHandleWithRetry_StopsOnlyOnContextCancel(t *testing.T) {
	store := &flakyStore{failures: 1 << 30}
	p := newProcessor(store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.handleWithRetry(ctx, "sig-1", potCreatedEvent())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, store.calls, 1)
}
