package topics

const (
	// Logs do programa on-chain (um batch por transação)
	PotLedgerLogs = "pot_ledger_logs"

	// DLQ para batches que não puderam ser desserializados
	PotLedgerLogsDLQ = "pot_ledger_logs_dlq"
)
