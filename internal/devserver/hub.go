package devserver

import (
	"context"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
)

const sendBuffer = 64

// Hub serves /api/progress/ws. Each connection subscribes to ids with
// ControlFrames and receives only the updates for those ids.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	// current returns the latest encoded record for id, sent right after a
	// subscribe so late subscribers do not wait for the next step.
	current func(id string) ([]byte, bool)

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	ids map[string]struct{}
}

func (c *client) subscribed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewHub creates a hub. current may be nil.
func NewHub(current func(id string) ([]byte, bool), logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*nethttp.Request) bool { return true },
		},
		logger:  logger.Named("ws-hub"),
		current: current,
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and reads control frames until the peer leaves.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		ids:  make(map[string]struct{}),
	}
	if !h.register(cl) {
		conn.Close()
		return
	}
	defer h.unregister(cl)

	h.wg.Add(1)
	go h.writeLoop(cl)

	for {
		var frame channel.ControlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Action {
		case "subscribe":
			cl.mu.Lock()
			cl.ids[frame.ID] = struct{}{}
			cl.mu.Unlock()
			if h.current != nil {
				if msg, ok := h.current(frame.ID); ok {
					h.enqueue(cl, msg)
				}
			}
		case "unsubscribe":
			cl.mu.Lock()
			delete(cl.ids, frame.ID)
			cl.mu.Unlock()
		default:
			h.logger.Debug().Str("action", frame.Action).Msg("Unknown control frame")
		}
	}
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	h.logger.Debug().Int("clients", len(h.clients)).Msg("WebSocket client connected")
	return true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	remaining := len(h.clients)
	h.mu.Unlock()
	cl.close()
	h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
}

func (h *Hub) writeLoop(cl *client) {
	defer h.wg.Done()
	for {
		select {
		case <-cl.done:
			return
		case msg := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(constants.ChannelWriteTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug().Err(err).Msg("Error sending message to client")
				cl.close()
				return
			}
		}
	}
}

// enqueue drops the message for a client that is not keeping up.
func (h *Hub) enqueue(cl *client, msg []byte) {
	select {
	case cl.send <- msg:
	case <-cl.done:
	default:
		h.logger.Debug().Msg("Slow WebSocket client, update dropped")
	}
}

// Broadcast sends msg to every client subscribed to id.
func (h *Hub) Broadcast(id string, msg []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		if cl.subscribed(id) {
			targets = append(targets, cl)
		}
	}
	h.mu.Unlock()

	for _, cl := range targets {
		h.enqueue(cl, msg)
	}
}

// Subscribers counts the clients subscribed to id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for cl := range h.clients {
		if cl.subscribed(id) {
			n++
		}
	}
	return n
}

// Close disconnects every client and waits for their writers.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.close()
	}
	h.wg.Wait()
}

func (h *Hub) PublishJob(_ context.Context, job *models.Job) {
	h.Broadcast(job.ID, encodeJob(job))
}

func (h *Hub) PublishBatch(_ context.Context, batch *models.Batch) {
	h.Broadcast(batch.ID, encodeBatch(batch))
}
