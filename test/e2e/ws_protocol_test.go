package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/events"
)

// TestE2E_WSProtocol exercises the client-facing WebSocket contract:
// connection greeting, subscription acknowledgement, ping, and the error
// reply for a missing topic.
func TestE2E_WSProtocol(t *testing.T) {
	app := NewTestApp(t)

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer ws.Close()

	hello, err := ws.WaitForEventType("connection.established", 5*time.Second)
	require.NoError(t, err)
	connID, _ := hello.Parsed["connection_id"].(string)
	assert.NotEmpty(t, connID)

	require.NoError(t, ws.Subscribe("agents"))
	confirmed, err := ws.WaitForEventType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "agents", confirmed.Parsed["topic"])

	require.NoError(t, ws.Ping())
	_, err = ws.WaitForEventType("pong", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, ws.Subscribe(""))
	errReply, err := ws.WaitForEventType("error", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "topic is required for subscribe", errReply.Parsed["message"])

	assert.Equal(t, 1, app.ConnManager.ActiveConnections())
}

// TestE2E_WSUnsubscribeStopsDelivery: both clients see the first broadcast;
// after one unsubscribes only the other keeps receiving.
func TestE2E_WSUnsubscribeStopsDelivery(t *testing.T) {
	app := NewTestApp(t)

	wsA, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer wsA.Close()
	wsB, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer wsB.Close()

	for _, ws := range []*WSClient{wsA, wsB} {
		require.NoError(t, ws.Subscribe("agents"))
		_, err = ws.WaitForEventType("subscription.confirmed", 5*time.Second)
		require.NoError(t, err)
	}

	require.NoError(t, app.Publisher.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    "chat-ws",
		AgentName: "probe-1",
		Status:    "running",
	}))
	_, err = wsA.WaitForAgentStatus("probe-1", "running", 5*time.Second)
	require.NoError(t, err)
	_, err = wsB.WaitForAgentStatus("probe-1", "running", 5*time.Second)
	require.NoError(t, err)

	// Unsubscribe has no acknowledgement; the pong that follows proves the
	// read loop processed it.
	require.NoError(t, wsA.Unsubscribe("agents"))
	require.NoError(t, wsA.Ping())
	_, err = wsA.WaitForEventType("pong", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, app.Publisher.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    "chat-ws",
		AgentName: "probe-2",
		Status:    "running",
	}))
	_, err = wsB.WaitForAgentStatus("probe-2", "running", 5*time.Second)
	require.NoError(t, err)

	// Give a stray delivery to the unsubscribed client time to surface.
	time.Sleep(150 * time.Millisecond)
	for _, ev := range wsA.EventsByType("agent_status") {
		assert.NotEqual(t, "probe-2", ev.Parsed["agentName"],
			"unsubscribed client still received broadcasts")
	}
}
