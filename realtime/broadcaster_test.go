package realtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToConnectedClient(t *testing.T) {
	b := NewBroadcaster()
	stop := make(chan struct{})
	go b.Run(stop)
	defer close(stop)

	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the registration loop a moment to process the new connection.
	assert.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	go b.Broadcast("cycle_complete", map[string]any{"positions": 3})

	var msg Message
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cycle_complete", msg.Kind)
}

func TestBroadcaster_ClientCountZeroInitially(t *testing.T) {
	b := NewBroadcaster()
	assert.Equal(t, 0, b.ClientCount())
}
