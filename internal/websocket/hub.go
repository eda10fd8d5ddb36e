package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/shattavibe/api/internal/model"
)

// Client is one websocket subscriber of a task's progress feed.
type Client struct {
	TaskID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub fans ingestion events out to the subscribers of each task.
type Hub struct {
	// Clients grouped by task ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *zap.Logger
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	TaskID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for taskID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, taskID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.TaskID] == nil {
				h.clients[client.TaskID] = make(map[*Client]bool)
			}
			h.clients[client.TaskID][client] = true
			h.mu.Unlock()
			h.logger.Debug("ws client registered", zap.String("task_id", client.TaskID))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("ws client unregistered", zap.String("task_id", client.TaskID))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.TaskID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer: drop it rather than stall every other task.
					close(client.Send)
					delete(h.clients[msg.TaskID], client)
				}
			}
			if len(h.clients[msg.TaskID]) == 0 {
				delete(h.clients, msg.TaskID)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.TaskID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(h.clients, client.TaskID)
			}
		}
	}
}

// Register adds a new client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients watching taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[taskID])
}

func (h *Hub) send(taskID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal ws message", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{TaskID: taskID, Message: data}:
	case <-h.done:
	default:
		h.logger.Warn("ws broadcast queue full, dropping message", zap.String("task_id", taskID))
	}
}

// BroadcastProgress sends a callback phase to all task subscribers
func (h *Hub) BroadcastProgress(taskID string, status model.JobStatus, phase model.CallbackType, tracks []model.Track) {
	h.send(taskID, model.WSProgressMessage{
		Type:         model.WSMessageTypeProgress,
		TaskID:       taskID,
		Status:       status,
		CallbackType: phase,
		Tracks:       tracks,
	})
}

// BroadcastComplete sends a completion message to all task subscribers
func (h *Hub) BroadcastComplete(taskID string, tracks []model.Track) {
	h.send(taskID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		TaskID: taskID,
		Tracks: tracks,
	})
}

// BroadcastError sends an error message to all task subscribers
func (h *Hub) BroadcastError(taskID string, code, message string) {
	h.send(taskID, model.WSErrorMessage{
		Type:   model.WSMessageTypeError,
		TaskID: taskID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, taskID string) {
	client := &Client{
		TaskID: taskID,
		Conn:   c,
		Send:   make(chan []byte, 256),
	}

	if !h.Register(client) {
		return
	}
	defer h.Unregister(client)

	writeMu := sync.Mutex{}
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteMessage(messageType, data)
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = write(websocket.CloseMessage, []byte{})
					return
				}
				if err := write(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", zap.String("task_id", taskID), zap.Error(err))
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			_ = write(websocket.TextMessage, pong)
		}
	}
}
