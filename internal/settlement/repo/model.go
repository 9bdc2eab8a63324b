package repo

import "time"

// Pot é a projeção off-chain de um pot do programa.
// tickets_sold é zerado e round incrementado a cada liquidação.
type Pot struct {
	Pot            string    `json:"pot"`
	Authority      string    `json:"authority"`
	Mint           string    `json:"mint"`
	Vault          string    `json:"vault"`
	TicketPrice    int64     `json:"ticketPrice"`
	TicketCapacity int64     `json:"ticketCapacity"`
	TicketsSold    int64     `json:"ticketsSold"`
	Round          int64     `json:"round"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Ticket é imutável após inserido; (pot, round, ticket_index) é único.
type Ticket struct {
	Pot         string    `json:"pot"`
	Round       int64     `json:"round"`
	TicketIndex int64     `json:"ticketIndex"`
	Buyer       string    `json:"buyer"`
	TxSig       string    `json:"txSig"`
	BoughtAt    time.Time `json:"boughtAt"`
}

// Payout registra a liquidação de uma rodada; (pot, round) é único — essa
// unicidade é o que garante exatamente-uma liquidação por rodada.
type Payout struct {
	Pot            string    `json:"pot"`
	Round          int64     `json:"round"`
	Winner         string    `json:"winner"`
	TxSig          string    `json:"txSig"`
	VRFRequestTx   string    `json:"vrfRequestTx"`
	AmountLamports int64     `json:"amountLamports"`
	PaidAt         time.Time `json:"paidAt"`
}

// PendingRound identifica uma rodada que atingiu a capacidade mas ainda não
// tem payout registrado (entrada do sweep de reconciliação).
type PendingRound struct {
	Pot   string
	Round int64
}
