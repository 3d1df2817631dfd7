// Package fanout implements per-plan_id WebSocket subscriber sets with a
// bounded backlog for late joiners and best-effort, never-blocking
// delivery.
//
// Grounded on kadirpekel/hector's a2a/server.go handleStreamTask for the
// gorilla/websocket upgrade/read/write pump shape, generalized from a
// single agent-stream connection to a broadcast set keyed by plan_id.
package fanout

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType is the WS envelope's "type" field.
type EventType string

const (
	EventPlanCreated         EventType = "plan_created"
	EventPlanApprovalRequest EventType = "plan_approval_request"
	EventAgentMessage        EventType = "agent_message"
	EventAgentStreamStart    EventType = "agent_stream_start"
	EventAgentMessageStream  EventType = "agent_message_streaming"
	EventAgentStreamEnd      EventType = "agent_stream_end"
	EventProgressUpdate      EventType = "progress_update"
	EventStepProgress        EventType = "step_progress"
	EventFinalResultMessage  EventType = "final_result_message"
	EventError               EventType = "error"
	EventPong                EventType = "pong"
)

// Event is the envelope pushed to every subscriber of a plan_id:
// {type, data, timestamp}.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// subscriber is one live connection plus its bounded outgoing queue. Sends
// never block the broadcaster: a full queue marks the subscriber for
// removal instead.
type subscriber struct {
	id     uint64
	conn   *websocket.Conn
	outbox chan Event
	closed chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

type planTopic struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	backlog     []Event
}

// Broker is the in-process pub/sub transport: the default single-process
// deployment of the connection broker.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*planTopic

	backlogSize   int
	highWaterMark int
	nextID        uint64

	log *slog.Logger
}

// Config controls backlog and slow-subscriber bounds (WS_BACKLOG_PER_PLAN
// / WS_SLOW_SUBSCRIBER_HIGH_WATER).
type Config struct {
	BacklogPerPlan       int
	SlowSubscriberHWM    int
}

// New creates a Broker.
func New(cfg Config, log *slog.Logger) *Broker {
	if cfg.BacklogPerPlan <= 0 {
		cfg.BacklogPerPlan = 200
	}
	if cfg.SlowSubscriberHWM <= 0 {
		cfg.SlowSubscriberHWM = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		topics:        make(map[string]*planTopic),
		backlogSize:   cfg.BacklogPerPlan,
		highWaterMark: cfg.SlowSubscriberHWM,
		log:           log,
	}
}

func (b *Broker) topic(planID string) *planTopic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[planID]
	if !ok {
		t = &planTopic{subscribers: make(map[uint64]*subscriber)}
		b.topics[planID] = t
	}
	return t
}

// Publish broadcasts ev to every current subscriber of planID and
// appends it to the bounded backlog, under the topic's own lock. Publish
// never blocks on a slow subscriber; a subscriber whose outbox is full is
// disconnected instead of stalling the broadcast.
func (b *Broker) Publish(planID string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	t := b.topic(planID)

	t.mu.Lock()
	t.backlog = append(t.backlog, ev)
	if len(t.backlog) > b.backlogSize {
		t.backlog = t.backlog[len(t.backlog)-b.backlogSize:]
	}
	subs := make([]*subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.outbox <- ev:
		default:
			b.log.Warn("fanout: slow subscriber dropped", "plan_id", planID, "subscriber", s.id)
			t.mu.Lock()
			delete(t.subscribers, s.id)
			t.mu.Unlock()
			s.close()
		}
	}
}

// ServeWS upgrades the request to a WebSocket and registers the
// connection as a subscriber to planID until it disconnects. Grounded on
// a2a/server.go's handleStreamTask upgrade sequence.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request, planID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	t := b.topic(planID)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	sub := &subscriber{
		id:     id,
		conn:   conn,
		outbox: make(chan Event, b.highWaterMark),
		closed: make(chan struct{}),
	}

	t.mu.Lock()
	backlog := append([]Event(nil), t.backlog...)
	t.subscribers[id] = sub
	t.mu.Unlock()

	for _, ev := range backlog {
		sub.outbox <- ev
	}

	go b.writePump(sub)
	b.readPump(t, sub)

	return nil
}

// writePump drains a subscriber's outbox to its connection. Failed writes
// mark the subscriber closed without blocking other subscribers.
func (b *Broker) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sub.close()

	for {
		select {
		case ev, ok := <-sub.outbox:
			if !ok {
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.closed:
			return
		}
	}
}

// readPump blocks reading client frames (ping/pong) until the connection
// fails, then removes the subscriber from its topic. Streaming is
// best-effort: the executor is never notified of a disconnect.
func (b *Broker) readPump(t *planTopic, sub *subscriber) {
	defer func() {
		t.mu.Lock()
		delete(t.subscribers, sub.id)
		t.mu.Unlock()
		sub.close()
	}()

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := sub.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			select {
			case sub.outbox <- Event{Type: EventPong, Timestamp: time.Now()}:
			default:
			}
		}
	}
}

// SubscriberCount reports the live subscriber count for planID, for tests.
func (b *Broker) SubscriberCount(planID string) int {
	b.mu.RLock()
	t, ok := b.topics[planID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

// MarshalEvent is a test/logging convenience around json.Marshal(ev).
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
