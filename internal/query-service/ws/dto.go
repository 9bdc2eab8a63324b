package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// Pot: obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type string `json:"type"` // subscribe | unsubscribe | ping
	Pot  string `json:"pot"`  // requerido em subscribe/unsubscribe
}
