package events

import "time"

// Evento publicado no tópico "pot_ledger_logs": o conjunto de linhas de log
// emitido por uma transação do programa de loteria. A decodificação em
// eventos tipados acontece só no settlement-worker.
type LedgerLogBatch struct {
	Signature  string    `json:"signature"`   // assinatura da transação de origem
	Logs       []string  `json:"logs"`        // linhas brutas, na ordem de emissão
	Err        string    `json:"err"`         // erro on-chain da transação ("" = sucesso)
	Slot       uint64    `json:"slot"`        // slot em que a transação foi observada
	ReceivedAt time.Time `json:"received_at"` // quando o ingest recebeu a notificação
	Source     string    `json:"source"`      // "chain-ingest-service" | "chain-simulator"
}
