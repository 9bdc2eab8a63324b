package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Submissão da transação de payout: constrói a instrução fulfill_and_payout,
// assina com a chave de custódia, envia e aguarda confirmação por assinatura.

// ExecutionError: a transação foi incluída mas o programa falhou on-chain.
// Terminal para a tentativa — o estado da chain não mudou, então nenhum
// payout é registrado; o sweep re-tenta a rodada mais tarde.
type ExecutionError struct {
	Signature string
	OnChain   interface{} // payload de erro reportado pelo ledger
}

func (e *ExecutionError) Error() string {
	b, _ := json.Marshal(e.OnChain)
	return fmt.Sprintf("transaction %s failed on-chain: %s", e.Signature, b)
}

// PayoutRequest carrega tudo que a instrução precisa. Vault e mint vêm da
// projeção do pot (nunca de estado do processo — eventos de pots diferentes
// podem intercalar).
type PayoutRequest struct {
	Pot         solana.PublicKey
	Vault       solana.PublicKey
	Mint        solana.PublicKey
	Winner      solana.PublicKey
	WinnerIndex uint64
}

type Submitter struct {
	RPC            *rpc.Client
	Program        solana.PublicKey
	Custody        solana.PrivateKey
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Log            *zap.Logger
}

func payoutInstructionData(winnerIndex uint64, winner solana.PublicKey) []byte {
	h := sha256.Sum256([]byte("global:fulfill_and_payout"))
	data := make([]byte, 0, 8+8+32)
	data = append(data, h[:8]...)
	data = binary.LittleEndian.AppendUint64(data, winnerIndex)
	data = append(data, winner.Bytes()...)
	return data
}

// SubmitPayout constrói, assina, envia e confirma a transação de payout.
// Retorna a assinatura confirmada, ou ExecutionError se o programa falhou.
func (s *Submitter) SubmitPayout(ctx context.Context, req PayoutRequest) (string, error) {
	winnerATA, _, err := solana.FindAssociatedTokenAddress(req.Winner, req.Mint)
	if err != nil {
		return "", fmt.Errorf("derive winner ata: %w", err)
	}

	ix := solana.NewInstruction(
		s.Program,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(req.Pot, true, false),
			solana.NewAccountMeta(s.Custody.PublicKey(), true, true), // authority
			solana.NewAccountMeta(req.Vault, true, false),
			solana.NewAccountMeta(req.Mint, false, false),
			solana.NewAccountMeta(winnerATA, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		payoutInstructionData(req.WinnerIndex, req.Winner),
	)

	blockhash, err := s.RPC.GetLatestBlockhash(ctx, s.Commitment)
	if err != nil {
		return "", fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(s.Custody.PublicKey()),
	)
	if err != nil {
		return "", err
	}
	if _, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.Custody.PublicKey()) {
			return &s.Custody
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign payout: %w", err)
	}

	sig, err := s.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: s.Commitment,
	})
	if err != nil {
		return "", fmt.Errorf("send payout: %w", err)
	}

	s.Log.Info("payout submitted",
		zap.String("pot", req.Pot.String()),
		zap.String("winner", req.Winner.String()),
		zap.String("tx", sig.String()),
	)

	if err := s.confirm(ctx, sig); err != nil {
		return "", err
	}
	return sig.String(), nil
}

// confirm faz poll do status da assinatura até atingir o commitment pedido
func (s *Submitter) confirm(ctx context.Context, sig solana.Signature) error {
	timeout := s.ConfirmTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}

		res, err := s.RPC.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			s.Log.Warn("signature status poll failed", zap.Error(err))
			continue
		}
		if len(res.Value) == 0 || res.Value[0] == nil {
			continue
		}

		st := res.Value[0]
		if st.Err != nil {
			return &ExecutionError{Signature: sig.String(), OnChain: st.Err}
		}
		if reached(st.ConfirmationStatus, s.Commitment) {
			return nil
		}
	}
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := func(s string) int {
		switch s {
		case "processed":
			return 1
		case "confirmed":
			return 2
		case "finalized":
			return 3
		}
		return 0
	}
	return rank(string(status)) >= rank(string(want))
}
