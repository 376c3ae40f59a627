// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"safeloc/internal/domain/event"
	"safeloc/internal/service/fanout"
	"safeloc/internal/service/viewer"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// shared links are opened from any origin
		return true
	},
}

// streamMessage is one frame pushed to a stream client
type streamMessage struct {
	Type      string          `json:"type"`
	View      *viewer.View    `json:"view,omitempty"`
	EventType event.EventType `json:"event_type,omitempty"`
	Kind      event.Kind      `json:"kind,omitempty"`
	Record    event.Record    `json:"record,omitempty"`
	Records   []event.Record  `json:"records,omitempty"`
}

// wsClient pumps server-side frames to one connection. Clients only
// send control frames; anything else they send is ignored.
type wsClient struct {
	conn    *websocket.Conn
	config  WebSocketConfig
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	release func()
	logger  *slog.Logger
}

func newWSClient(conn *websocket.Conn, logger *slog.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		config: DefaultWebSocketConfig(),
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// enqueue queues a frame. A nil frame closes the stream once earlier
// frames are written.
func (c *wsClient) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *wsClient) enqueueJSON(msg streamMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal stream message", "type", msg.Type, "error", err)
		return false
	}
	return c.enqueue(data)
}

// readPump drains the connection so pongs and close frames are handled
func (c *wsClient) readPump() {
	defer c.closeConnection()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump pumps queued frames to the WebSocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if message == nil {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// closeConnection releases the stream source and closes the connection
func (c *wsClient) closeConnection() {
	c.once.Do(func() {
		close(c.done)
		if c.release != nil {
			c.release()
		}
		c.conn.Close()
	})
}

// ViewShareWebSocketHandler streams one shared session to an anonymous
// viewer until it ends, expires or the viewer disconnects
func ViewShareWebSocketHandler(client *viewer.Client, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		watch, err := client.Open(r.Context(), sessionID)
		if err != nil {
			respondWithDomainError(w, "Share link unavailable", err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			watch.Close()
			logger.Warn("failed to upgrade to websocket", "error", err)
			return
		}

		c := newWSClient(conn, logger.With("session", sessionID))
		c.release = func() { watch.Close() }

		go c.writePump()
		go c.readPump()

		go func() {
			initial := watch.Current()
			if !c.enqueueJSON(streamMessage{Type: "view", View: &initial}) {
				return
			}
			for view := range watch.Updates() {
				if !c.enqueueJSON(streamMessage{Type: "view", View: &view}) {
					return
				}
			}
			c.enqueue(nil)
		}()

		logger.Debug("viewer connected", "session", sessionID)
	}
}

// LayerWebSocketHandler streams a deduplicated layer of one record kind.
// The snapshot frame is always first, followed by a change frame per
// applied change. A change frame may repeat a record version already in
// the snapshot.
func LayerWebSocketHandler(events *fanout.Service, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := event.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Unknown layer", err)
			return
		}

		q := event.Query{
			Kind:       kind,
			ActiveOnly: kind == event.KindShareSessions,
			OrderBy:    event.OrderByUpdatedAt,
			Limit:      queryLimit(r, 100, maxListLimit),
		}
		if raw := r.URL.Query().Get("active"); raw != "" {
			if active, err := strconv.ParseBool(raw); err == nil {
				q.ActiveOnly = active
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade to websocket", "error", err)
			return
		}

		c := newWSClient(conn, logger.With("layer", kind))

		// Changes applied before the snapshot is taken are part of it, so
		// they are not sent. The snapshot is queued first.
		var gate sync.Mutex
		snapshotSent := false

		layer, err := events.Follow(r.Context(), q, func(ch event.Change) {
			gate.Lock()
			defer gate.Unlock()
			if !snapshotSent {
				return
			}

			msg := streamMessage{Type: "change", EventType: ch.Type, Kind: ch.Kind, Record: ch.Record}
			data, err := json.Marshal(msg)
			if err != nil {
				return
			}
			select {
			case c.send <- data:
			case <-c.done:
			default:
				c.logger.Warn("layer client too slow, dropping change", "record", ch.Record.RecordID())
			}
		})
		if err != nil {
			logger.Warn("failed to follow layer", "layer", kind, "error", err)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "layer unavailable"))
			conn.Close()
			return
		}
		c.release = func() { layer.Close() }

		gate.Lock()
		c.enqueueJSON(streamMessage{Type: "snapshot", Kind: kind, Records: layer.Snapshot()})
		snapshotSent = true
		gate.Unlock()

		go c.writePump()
		go c.readPump()
	}
}
