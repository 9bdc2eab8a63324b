package oracle

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Cliente do oráculo de aleatoriedade verificável (VRF). O request cria uma
// conta de randomness derivada da seed; o fulfillment é escrito nessa conta
// pela rede do oráculo, de forma assíncrona.

var ErrOracleTimeout = errors.New("oracle fulfillment timeout")

const (
	randomnessSeedPrefix = "orao-vrf-randomness-request"
	networkStateSeed     = "orao-vrf-network-configuration"

	// layout da conta de randomness: discriminator(8) + seed(32) + randomness(64)
	randomnessOffset = 8 + 32
	randomnessLen    = 64
)

type VRF struct {
	RPC          *rpc.Client
	Program      solana.PublicKey
	Treasury     solana.PublicKey // zero = usa o PDA de network state
	Payer        solana.PrivateKey
	Commitment   rpc.CommitmentType
	PollInterval time.Duration
	Timeout      time.Duration
	Log          *zap.Logger
}

func methodDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

// RandomnessAccount deriva o PDA da conta de randomness de uma seed
func (v *VRF) RandomnessAccount(seed [32]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(randomnessSeedPrefix), seed[:]},
		v.Program,
	)
	return addr, err
}

func (v *VRF) networkState() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(networkStateSeed)},
		v.Program,
	)
	return addr, err
}

// Request submete um pedido de aleatoriedade e retorna imediatamente com a
// seed e a assinatura da transação de request. O fulfillment é aguardado em
// separado por WaitFulfilled.
func (v *VRF) Request(ctx context.Context) (seed [32]byte, requestTx string, err error) {
	if _, err = rand.Read(seed[:]); err != nil {
		return seed, "", fmt.Errorf("generate seed: %w", err)
	}

	randomnessAcc, err := v.RandomnessAccount(seed)
	if err != nil {
		return seed, "", fmt.Errorf("derive randomness account: %w", err)
	}
	netState, err := v.networkState()
	if err != nil {
		return seed, "", fmt.Errorf("derive network state: %w", err)
	}
	treasury := v.Treasury
	if treasury.IsZero() {
		treasury = netState
	}

	data := append(methodDiscriminator("request"), seed[:]...)
	ix := solana.NewInstruction(
		v.Program,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(v.Payer.PublicKey(), true, true),
			solana.NewAccountMeta(netState, true, false),
			solana.NewAccountMeta(treasury, true, false),
			solana.NewAccountMeta(randomnessAcc, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	)

	blockhash, err := v.RPC.GetLatestBlockhash(ctx, v.Commitment)
	if err != nil {
		return seed, "", fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(v.Payer.PublicKey()),
	)
	if err != nil {
		return seed, "", err
	}
	if _, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(v.Payer.PublicKey()) {
			return &v.Payer
		}
		return nil
	}); err != nil {
		return seed, "", fmt.Errorf("sign request: %w", err)
	}

	sig, err := v.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: v.Commitment,
	})
	if err != nil {
		return seed, "", fmt.Errorf("send request: %w", err)
	}

	v.Log.Debug("vrf request submitted",
		zap.String("randomness_account", randomnessAcc.String()),
		zap.String("tx", sig.String()),
	)
	return seed, sig.String(), nil
}

// WaitFulfilled bloqueia até o oráculo publicar o fulfillment da seed no
// commitment configurado, ou falha com ErrOracleTimeout. A rodada fica
// pendente em caso de timeout; o sweep re-tenta depois.
func (v *VRF) WaitFulfilled(ctx context.Context, seed [32]byte) ([]byte, error) {
	randomnessAcc, err := v.RandomnessAccount(seed)
	if err != nil {
		return nil, err
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	poll := v.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrOracleTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}

		res, err := v.RPC.GetAccountInfoWithOpts(ctx, randomnessAcc, &rpc.GetAccountInfoOpts{
			Commitment: v.Commitment,
		})
		if err != nil || res.Value == nil {
			// conta pode ainda não existir no commitment pedido
			continue
		}

		data := res.Value.Data.GetBinary()
		if len(data) < randomnessOffset+randomnessLen {
			continue
		}
		randomness := data[randomnessOffset : randomnessOffset+randomnessLen]
		if allZero(randomness) {
			continue // request criado, fulfillment pendente
		}

		out := make([]byte, randomnessLen)
		copy(out, randomness)
		return out, nil
	}
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
