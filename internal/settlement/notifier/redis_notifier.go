package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/settlement/repo"
	"github.com/gfreitas/lottery-pot-platform-poc/pkg/contracts/events"
)

// Redis publica cada escrita de projeção no canal de broadcast (consumido
// pelo hub WS do query-service) e mantém um snapshot do pot em cache.
// Substitui os change streams do Mongo da versão original: a notificação é
// explícita, disparada após a escrita durável.
type Redis struct {
	Client  *redis.Client
	Channel string
	TTL     time.Duration
	Log     *zap.Logger
}

func snapshotKey(pot string) string { return "pot:current:" + pot }

func (n *Redis) publish(ctx context.Context, update events.PotUpdate) {
	b, err := json.Marshal(update)
	if err != nil {
		return
	}
	// broadcast é best-effort: a projeção durável já foi commitada
	if err := n.Client.Publish(ctx, n.Channel, b).Err(); err != nil {
		n.Log.Warn("broadcast publish failed",
			zap.String("type", update.Type), zap.Error(err))
	}
}

func (n *Redis) cachePot(ctx context.Context, pot repo.Pot) {
	b, err := json.Marshal(pot)
	if err != nil {
		return
	}
	if err := n.Client.Set(ctx, snapshotKey(pot.Pot), b, n.TTL).Err(); err != nil {
		n.Log.Warn("pot snapshot cache failed", zap.String("pot", pot.Pot), zap.Error(err))
	}
}

func (n *Redis) PotCreated(ctx context.Context, pot repo.Pot) {
	n.cachePot(ctx, pot)
	n.publish(ctx, events.PotUpdate{Type: events.UpdatePotCreated, Pot: pot.Pot, Payload: pot})
}

func (n *Redis) TicketBought(ctx context.Context, ticket repo.Ticket, pot repo.Pot) {
	n.cachePot(ctx, pot)
	n.publish(ctx, events.PotUpdate{Type: events.UpdateTicketBought, Pot: ticket.Pot, Payload: ticket})
}

func (n *Redis) PayoutLogged(ctx context.Context, payout repo.Payout, pot repo.Pot) {
	n.cachePot(ctx, pot)
	n.publish(ctx, events.PotUpdate{Type: events.UpdatePayoutLogged, Pot: payout.Pot, Payload: payout})
}
