package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWebSocket_Events(t *testing.T) {
	handler, _ := newTestHandler()
	hub := NewEventHub()
	handler.SetHub(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(handler.HandleWebSocket(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, EventHello, hello.Type)
	assert.Zero(t, hello.ReplicateTrials)

	require.Eventually(t, hub.HasClients, time.Second, 10*time.Millisecond)

	req := uploadRequest(t, "/v1/ingest?format=default_titers&run=ws-1", "sheet:titers", "titers.csv", titerCSV)
	rr := httptest.NewRecorder()
	handler.HandleIngest(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var ingested Event
	require.NoError(t, conn.ReadJSON(&ingested))
	assert.Equal(t, EventRunIngested, ingested.Type)
	assert.Equal(t, "ws-1", ingested.Run)
	assert.Equal(t, 8, ingested.Readings)
	assert.Equal(t, 1, ingested.ReplicateTrials)
	assert.NotZero(t, ingested.Timestamp)
}

func TestEventHub_PublishNilHub(t *testing.T) {
	var hub *EventHub
	assert.NoError(t, hub.Publish(Event{Type: EventStats}))
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://impact.local:8080", true},
		{"https://impact.local:8080", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://impact.local:8080/v1/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, sameOrigin(r), tt.origin)
	}
}
