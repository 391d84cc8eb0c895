package monitoring

import (
	"net/http"
	"sync"
	"time"

	"depthcap/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	recentEvents     = 64
	clientBufferSize = 32
)

var upgrader = websocket.Upgrader{
	// The status port is meant for the local operator network
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventHub fans session events out to websocket subscribers and keeps the
// most recent ones for the status endpoint. It implements
// ports.EventPublisher.
type EventHub struct {
	clients map[*eventClient]struct{}
	recent  []domain.Event
	mu      sync.RWMutex

	pingInterval time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type eventClient struct {
	conn *websocket.Conn
	send chan domain.Event
	done chan struct{}
	once sync.Once
}

func (c *eventClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func NewEventHub(logger *zap.SugaredLogger) *EventHub {
	return &EventHub{
		clients:      make(map[*eventClient]struct{}),
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// Publish never blocks; a subscriber that falls behind misses events
func (h *EventHub) Publish(event domain.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.PhaseName == "" && event.Type == domain.EventPhaseChanged {
		event.PhaseName = event.Phase.String()
	}

	h.mu.Lock()
	h.recent = append(h.recent, event)
	if len(h.recent) > recentEvents {
		h.recent = h.recent[len(h.recent)-recentEvents:]
	}
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- event:
		case <-c.done:
		default:
			h.logger.Debugw("dropping event for slow subscriber", "type", event.Type)
		}
	}
}

// Recent returns up to the last 64 published events, oldest first
func (h *EventHub) Recent() []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]domain.Event(nil), h.recent...)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and streams events as JSON until the
// client goes away.
func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := &eventClient{
		conn: conn,
		send: make(chan domain.Event, clientBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debugw("event subscriber connected", "remote", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		client.close()
		h.logger.Debugw("event subscriber disconnected", "remote", r.RemoteAddr)
	}()

	// Subscribers never send; reading only detects the close
	go func() {
		defer client.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case event := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			return
		}
	}
}

// Close disconnects every subscriber
func (h *EventHub) Close() {
	h.mu.Lock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
