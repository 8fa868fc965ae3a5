package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/dwell/internal/models"
	"github.com/your-org/dwell/internal/observability"
	"github.com/your-org/dwell/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// Client is one connected WebSocket subscriber.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	cameraID string // empty receives every camera
}

type message struct {
	cameraID string
	data     []byte
}

// Hub fans cycle reports out to WebSocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "camera", client.cameraID)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.cameraID != "" && client.cameraID != msg.cameraID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a registered client. h.mu must be held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastReport sends a cycle report to the clients watching its camera.
func (h *Hub) BroadcastReport(report models.CycleReport) {
	data, err := json.Marshal(ReportMessage(report))
	if err != nil {
		slog.Error("marshal ws report", "error", err)
		return
	}
	select {
	case h.broadcast <- message{cameraID: report.CameraID, data: data}:
	case <-h.done:
	}
}

// ReportMessage converts a cycle report to its wire form.
func ReportMessage(r models.CycleReport) dto.WSReport {
	persons := make([]dto.ReportPerson, 0, len(r.Persons))
	for _, p := range r.Persons {
		persons = append(persons, dto.ReportPerson{
			VisitorID:    p.VisitorID,
			FaceID:       p.FaceID,
			Rect:         dto.RectResponse(p.Rect),
			Age:          p.Attributes.Age,
			Gender:       p.Attributes.Gender,
			Emotion:      p.Emotion,
			DwellSeconds: p.DwellSeconds,
		})
	}
	return dto.WSReport{
		Type:            dto.WSTypeCycleReport,
		CycleID:         r.CycleID,
		CameraID:        r.CameraID,
		FrameID:         r.FrameID,
		Timestamp:       r.Timestamp.Format(time.RFC3339Nano),
		ActiveVisitorID: r.ActiveVisitorID,
		Persons:         persons,
	}
}

// HandleWS upgrades the request. ?camera= restricts the feed to one camera.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		cameraID: c.Query("camera"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readPump only detects disconnection; clients send nothing.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
