package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/pkg/contracts/events"
)

type flakyPublisher struct {
	failures  int
	calls     int
	published []events.LedgerLogBatch
}

func (p *flakyPublisher) Publish(_ context.Context, b events.LedgerLogBatch) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, b)
	return nil
}

// indisponibilidade do broker não descarta a notificação: o feed WS entrega
// uma única vez, então o publish insiste até o batch estar no tópico
func TestPublishWithRetry_HoldsBatchUntilBrokerRecovers(t *testing.T) {
	pub := &flakyPublisher{failures: 3}
	l := &Listener{Log: zap.NewNop(), Publisher: pub, RetryBackoff: time.Millisecond}

	batch := events.LedgerLogBatch{Signature: "sig-1", Logs: []string{"Program data: AAAA"}}
	require.NoError(t, l.publishWithRetry(context.Background(), batch))
	require.Equal(t, 4, pub.calls)
	require.Len(t, pub.published, 1)
	require.Equal(t, "sig-1", pub.published[0].Signature)
}

func TestPublishWithRetry_StopsOnlyOnContextCancel(t *testing.T) {
	pub := &flakyPublisher{failures: 1 << 30}
	l := &Listener{Log: zap.NewNop(), Publisher: pub, RetryBackoff: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.publishWithRetry(ctx, events.LedgerLogBatch{Signature: "sig-1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, pub.calls, 1)
}
