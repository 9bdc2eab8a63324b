package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/gfreitas/lottery-pot-platform-poc/pkg/contracts/events"
)

// StartRedisSubscriber inicia uma goroutine que escuta o canal Redis Pub/Sub
// e repassa as atualizações recebidas para todos os clientes WebSocket conectados via Hub
//
// Funcionamento:
// - Recebe mensagens JSON do canal Redis (publicadas pelo settlement-worker)
// - Desserializa para events.PotUpdate
// - Chama hub.Broadcast para enviar aos clientes inscritos no pot
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close() // encerra a inscrição ao finalizar o contexto
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var upd events.PotUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
					log.Printf("ws subscriber unmarshal error: %v", err)
					continue
				}
				hub.Broadcast(upd) // envia atualização para todos os clientes inscritos
			}
		}
	}()
}
