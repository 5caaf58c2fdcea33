package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectWithoutURLIsNoOp(t *testing.T) {
	pub, err := Connect("", "vaultcore.events", nil)
	require.NoError(t, err)
	require.NotNil(t, pub)

	// Publish must not panic or block when the bus is disabled.
	pub.Publish("wallet.created", map[string]string{"agent_id": "agent-1"})
	require.NoError(t, pub.Close())
}

func TestSubscribeReceivesPublishedEventsWithoutAMQP(t *testing.T) {
	pub, err := Connect("", "vaultcore.events", nil)
	require.NoError(t, err)

	events, unsubscribe := pub.Subscribe(4)
	defer unsubscribe()

	pub.Publish("strategy.tick", map[string]string{"label": "dca-1"})

	env := <-events
	require.Equal(t, "strategy.tick", env.RoutingKey)
	require.Equal(t, map[string]string{"label": "dca-1"}, env.Payload)
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	pub, err := Connect("", "vaultcore.events", nil)
	require.NoError(t, err)

	events, unsubscribe := pub.Subscribe(1)
	unsubscribe()

	_, ok := <-events
	require.False(t, ok)

	// Publishing after unsubscribe must not panic or block.
	pub.Publish("strategy.tick", map[string]string{"label": "dca-1"})
}
