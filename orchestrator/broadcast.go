package orchestrator

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ProgressEvent is one run/token lifecycle transition streamed to an
// attached observer: NodeState/RoutingEvent/TokenOutcome transitions,
// identified by Kind.
type ProgressEvent struct {
	Kind      string    `json:"kind"` // "node_state" | "routing_event" | "token_outcome" | "run_lifecycle"
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster streams ProgressEvents to every attached websocket observer.
// Adapted from coordinator/coordinator.go's sendChan/connMu shape: that
// type spoke one outbound connection to when-v3 under a protocol
// handshake; this one fans a single event stream out to N anonymous
// observers (a lineage-explorer UI, a CLI --watch, ...), so the roles of
// "connection" and "send loop" are inverted but the buffered-channel +
// mutex-guarded-client-set idiom is the same.
type Broadcaster struct {
	logger *logrus.Entry

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan ProgressEvent
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster(logger *logrus.Entry) *Broadcaster {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Broadcaster{logger: logger, clients: make(map[*websocket.Conn]chan ProgressEvent)}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades an HTTP request to a websocket and streams
// ProgressEvents to it until the connection closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("progress websocket upgrade failed")
		return
	}

	ch := make(chan ProgressEvent, 100)
	b.mu.Lock()
	b.clients[conn] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Publish fans ev out to every attached observer. Slow observers are
// dropped from delivery for this event rather than blocking the caller —
// the websocket feed is a live-tail convenience, never a path the audit
// trail depends on.
func (b *Broadcaster) Publish(ev ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close disconnects every attached observer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, ch := range b.clients {
		close(ch)
		conn.Close()
		delete(b.clients, conn)
	}
}
