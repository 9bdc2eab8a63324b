package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// LoadCustodyKey interpreta a chave de custódia em base58 (formato do .env
// gerado pelo gen-custody-key)
func LoadCustodyKey(encoded string) (solana.PrivateKey, error) {
	if encoded == "" {
		return nil, fmt.Errorf("custody key not configured (CUSTODY_KEY)")
	}
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("parse custody key: %w", err)
	}
	return key, nil
}

// ParseCommitment converte a string de config no commitment do RPC
// Default: confirmed
func ParseCommitment(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}
