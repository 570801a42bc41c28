package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Frame  uint64 `json:"frame"`
	Points int    `json:"points"`
}

func TestHubBroadcastsToViewers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Broadcast(frame{Frame: 7, Points: 3}))

	var got frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, frame{Frame: 7, Points: 3}, got)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubWithoutViewers(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Broadcast(frame{}))
	hub.Close()
}

func TestHubDropsStalledViewer(t *testing.T) {
	hub := NewHub()
	hub.WriteTimeout = 10 * time.Millisecond
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// The viewer never reads, so the socket buffers fill up.
	payload := struct {
		Blob string `json:"blob"`
	}{Blob: strings.Repeat("x", 1<<20)}
	giveUp := time.Now().Add(10 * time.Second)
	for hub.Broadcast(payload) == 1 {
		require.True(t, time.Now().Before(giveUp), "broadcast never hit the write deadline")
	}
	assert.Equal(t, 0, hub.Clients())
}
