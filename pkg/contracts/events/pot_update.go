package events

// Tipos de notificação publicados no canal Redis pot_updates_broadcast.
// Mesmos nomes que o front já consome via WebSocket.
const (
	UpdatePotCreated   = "potCreated"
	UpdateTicketBought = "ticketBought"
	UpdatePayoutLogged = "payoutLogged"
)

// PotUpdate é o envelope de broadcast: Pot identifica a assinatura WS do
// cliente, Payload carrega o documento recém-projetado.
type PotUpdate struct {
	Type    string      `json:"type"`
	Pot     string      `json:"pot"`
	Payload interface{} `json:"payload"`
}
