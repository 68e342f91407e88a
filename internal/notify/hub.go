package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/service"
)

// writeWait bounds a single broadcast write so one stalled client
// cannot hold up delivery to the others.
const writeWait = 10 * time.Second

// Hub broadcasts pipeline events to all connected websocket clients.
// There is no per-client state and no redelivery; a slow or broken
// client is dropped.
type Hub struct {
	*service.ServiceBase

	clients    map[*websocket.Conn]bool
	broadcast  chan Envelope
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a new broadcast hub
func NewHub(log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ServiceBase: service.NewServiceBase("notify-hub", log),
		clients:     make(map[*websocket.Conn]bool),
		broadcast:   make(chan Envelope, 64),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start begins the broadcast loop
func (h *Hub) Start(ctx context.Context) error {
	go h.run()
	h.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop closes all client connections and ends the broadcast loop
func (h *Hub) Stop(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.LogInfo("Client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.LogInfo("Client disconnected", "total", total)

		case env := <-h.broadcast:
			message, err := json.Marshal(env)
			if err != nil {
				h.LogError("Failed to marshal event", err, "event", env.Event)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.LogDebug("Dropping client", "error", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client connection to the hub
func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.Close()
	}
}

// Unregister removes a client connection from the hub
func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishFPS broadcasts a capture-rate metric
func (h *Hub) PublishFPS(update FPSUpdate) {
	h.publish(newEnvelope(EventFPSUpdate, update))
}

// PublishFaceCount broadcasts a per-frame object count
func (h *Hub) PublishFaceCount(update FaceCountUpdate) {
	h.publish(newEnvelope(EventFaceCountUpdate, update))
}

// PublishAlert broadcasts a persisted alert
func (h *Hub) PublishAlert(alert NewAlert) {
	h.publish(newEnvelope(EventNewAlert, alert))
}

// publish offers the event to the broadcast loop without blocking the
// caller; under backpressure the event is dropped.
func (h *Hub) publish(env Envelope) {
	select {
	case h.broadcast <- env:
	default:
	}
}
