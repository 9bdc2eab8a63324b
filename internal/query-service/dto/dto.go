package dto

import "time"

// Pot é a visão de consulta de um pot, com os últimos vencedores embutidos
// (mesmo shape que o front consumia na versão original)
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
	LastWinners    []Payout  `json:"lastWinners"`
}

// Buyer é um ticket da rodada consultada
type Buyer struct {
	Buyer       string    `json:"buyer"`
	TicketIndex int64     `json:"ticketIndex"`
	Round       int64     `json:"round"`
	TxSig       string    `json:"txSig"`
	BoughtAt    time.Time `json:"boughtAt"`
}

// BuyersPage é a resposta paginada de /pots/{pot}/buyers
type BuyersPage struct {
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
	Buyers []Buyer `json:"buyers"`
}

// Payout é a visão de consulta de uma liquidação
type Payout struct {
	Pot            string    `json:"pot"`
	Round          int64     `json:"round"`
	Winner         string    `json:"winner"`
	TxSig          string    `json:"txSig"`
	VRFRequestTx   string    `json:"vrfRequestTx"`
	AmountLamports int64     `json:"amountLamports"`
	PaidAt         time.Time `json:"paidAt"`
}
