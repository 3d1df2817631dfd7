package fanout

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_BacklogIsBoundedAndReplayed(t *testing.T) {
	b := New(Config{BacklogPerPlan: 2, SlowSubscriberHWM: 10}, nil)

	b.Publish("p1", Event{Type: EventAgentMessage, Data: "1"})
	b.Publish("p1", Event{Type: EventAgentMessage, Data: "2"})
	b.Publish("p1", Event{Type: EventAgentMessage, Data: "3"})

	top := b.topic("p1")
	top.mu.RLock()
	defer top.mu.RUnlock()
	require.Len(t, top.backlog, 2, "backlog must be capped at BacklogPerPlan")
	assert.Equal(t, "2", top.backlog[0].Data)
	assert.Equal(t, "3", top.backlog[1].Data)
}

func TestSubscriberCount_UnknownPlan(t *testing.T) {
	b := New(Config{}, nil)
	assert.Equal(t, 0, b.SubscriberCount("never-seen"))
}

func TestMarshalEvent(t *testing.T) {
	ev := Event{Type: EventPong, Timestamp: time.Unix(0, 0).UTC()}
	raw, err := MarshalEvent(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"pong"`)
}

func TestServeWS_ReplaysBacklogAndBroadcastsNewEvents(t *testing.T) {
	b := New(Config{BacklogPerPlan: 10, SlowSubscriberHWM: 10}, nil)
	b.Publish("p1", Event{Type: EventPlanCreated, Data: "hello"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, b.ServeWS(w, r, "p1"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount("p1") == 1 }, time.Second, 10*time.Millisecond)

	var replayed Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, EventPlanCreated, replayed.Type)

	b.Publish("p1", Event{Type: EventAgentMessage, Data: "live"})

	var live Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&live))
	assert.Equal(t, EventAgentMessage, live.Type)
}
