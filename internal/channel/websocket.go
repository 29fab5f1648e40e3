package channel

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
)

// WebSocketPath is where the extraction service accepts progress subscriptions.
const WebSocketPath = "/api/progress/ws"

// ControlFrame is sent by the client to start or stop updates for one id.
type ControlFrame struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	ID     string `json:"id"`
}

// ErrNotConnected is returned when a frame is written without a live connection.
var ErrNotConnected = errors.New("websocket not connected")

// WebSocketChannel receives snapshots over a websocket and reconnects with
// exponential backoff when the connection drops. Active subscriptions are
// re-sent after every reconnect.
type WebSocketChannel struct {
	url    string
	header nethttp.Header
	dialer *websocket.Dialer
	router *router
	logger *logging.Logger

	// InitialBackoff and MaxBackoff bound the reconnect delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewWebSocketChannel builds a channel for the service at baseURL (http or https).
func NewWebSocketChannel(baseURL, apiKey string, logger *logging.Logger) (*WebSocketChannel, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	header := nethttp.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	c := &WebSocketChannel{
		url:            wsURL,
		header:         header,
		dialer:         &websocket.Dialer{Proxy: nethttp.ProxyFromEnvironment, HandshakeTimeout: constants.HTTPTLSHandshakeTimeout},
		router:         newRouter(),
		logger:         logger.Named("ws-channel"),
		InitialBackoff: constants.ChannelReconnectInitial,
		MaxBackoff:     constants.ChannelReconnectMax,
	}
	c.router.onFirst = func(id string) { c.sendControl("subscribe", id) }
	c.router.onLast = func(id string) { c.sendControl("unsubscribe", id) }
	return c, nil
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid base URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + WebSocketPath
	return u.String(), nil
}

// Connect dials the service. A failed first dial is returned to the caller;
// drops after that are retried in the background until Disconnect.
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	c.resubscribe()

	c.wg.Add(1)
	go c.run(runCtx, conn)
	return nil
}

func (c *WebSocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	c.logger.Debug().Str("url", c.url).Msg("Progress channel connected")
	return conn, nil
}

func (c *WebSocketChannel) run(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.readLoop(ctx, conn)

		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		next, err := c.reconnect(ctx)
		if err != nil {
			return
		}
		conn = next
	}
}

func (c *WebSocketChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	// Keepalive; WriteControl may run concurrently with the writer
	go func() {
		ticker := time.NewTicker(constants.ChannelPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.ChannelWriteTimeout))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Progress channel dropped")
			}
			conn.Close()
			return
		}

		snap, err := api.ParseSnapshot(msg, models.SourcePush)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring unreadable progress frame")
			continue
		}
		c.router.deliver(snap)
	}
}

func (c *WebSocketChannel) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.MaxElapsedTime = 0 // until Disconnect

	var conn *websocket.Conn
	operation := func() error {
		var err error
		conn, err = c.dial(ctx)
		return err
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, t time.Duration) {
		c.logger.Debug().Err(err).Dur("retry_in", t).Msg("Progress channel reconnect failed")
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info().Msg("Progress channel reconnected")
	c.resubscribe()
	return conn, nil
}

func (c *WebSocketChannel) resubscribe() {
	for _, id := range c.router.ids() {
		c.sendControl("subscribe", id)
	}
}

func (c *WebSocketChannel) sendControl(action, id string) {
	if err := c.writeFrame(ControlFrame{Action: action, ID: id}); err != nil && !errors.Is(err, ErrNotConnected) {
		// The read loop notices a broken connection and reconnects
		c.logger.Debug().Err(err).Str("action", action).Str("id", id).Msg("Control frame not sent")
	}
}

func (c *WebSocketChannel) writeFrame(frame ControlFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(constants.ChannelWriteTimeout))
	return conn.WriteJSON(frame)
}

// Subscribe registers a stream for one job or batch id.
func (c *WebSocketChannel) Subscribe(id string) (<-chan models.Snapshot, func()) {
	return c.router.add(id)
}

// Disconnect closes the connection, stops reconnecting and closes every stream.
func (c *WebSocketChannel) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()
	c.router.closeAll()
	return nil
}
