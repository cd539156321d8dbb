package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mempool-mirror/internal/domain"
	"mempool-mirror/internal/observability"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectBase is initial delay before reconnect attempt.
	ReconnectBase time.Duration
	// ReconnectMax is maximum delay between reconnect attempts.
	ReconnectMax time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectBase: 1 * time.Second,
		ReconnectMax:  30 * time.Second,
		PingInterval:  30 * time.Second,
		ReadTimeout:   60 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// WSClient subscribes to the chain's pending-transaction feed over a
// persistent gorilla/websocket connection. On disconnect it reconnects
// with exponential backoff and jitter, indefinitely, and resubscribes.
type WSClient struct {
	endpoint string
	config   WSConfig
	logger   *log.Logger
	metrics  *observability.Metrics

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// refs delivers pending tx refs in arrival order. Sends block when
	// the buffer is full: downstream slowness slows ingestion, it never
	// drops a ref.
	refs chan domain.PendingTxRef

	malformed  atomic.Uint64
	reconnects atomic.Uint64

	// reconnectHook observes each backoff delay. Tests only.
	reconnectHook func(time.Duration)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient connects to the endpoint and subscribes to pending
// transactions.
func NewWSClient(ctx context.Context, endpoint string, config *WSConfig, logger *log.Logger, metrics *observability.Metrics) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		refs:     make(chan domain.PendingTxRef, 10000),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.conn.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Refs returns the channel of pending transaction refs. Closed when the
// client shuts down.
func (c *WSClient) Refs() <-chan domain.PendingTxRef {
	return c.refs
}

// MalformedCount returns the number of malformed feed messages dropped.
func (c *WSClient) MalformedCount() uint64 {
	return c.malformed.Load()
}

// ReconnectCount returns the number of reconnect attempts made.
func (c *WSClient) ReconnectCount() uint64 {
	return c.reconnects.Load()
}

// connect establishes the WebSocket connection.
func (c *WSClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// subscribe sends the pending-transactions subscription request. The
// confirmation is handled asynchronously by the read loop.
func (c *WSClient) subscribe() error {
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "eth_subscribe",
		Params:  []interface{}{"newPendingTransactions"},
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection and the refs channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.refs)
	return nil
}

// readLoop reads feed messages and dispatches refs. On connection errors
// it reconnects with exponential backoff, forever.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	delay := c.config.ReconnectBase

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect(&delay) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Printf("Feed read error: %v", err)
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			continue
		}

		// Reset delay on successful read
		delay = c.config.ReconnectBase

		c.handleMessage(message)
	}
}

// reconnect waits for the current backoff delay (with jitter), redials
// and resubscribes. Returns false when the client is shutting down. The
// delay is doubled, capped at ReconnectMax, for the next attempt.
func (c *WSClient) reconnect(delay *time.Duration) bool {
	d := *delay
	if c.reconnectHook != nil {
		c.reconnectHook(d)
	}

	// Jitter avoids thundering-herd reconnects against shared providers.
	wait := d + time.Duration(rand.Int63n(int64(d)/5+1))

	select {
	case <-c.done:
		return false
	case <-time.After(wait):
	}

	*delay = d * 2
	if *delay > c.config.ReconnectMax {
		*delay = c.config.ReconnectMax
	}

	c.reconnects.Add(1)
	if c.metrics != nil {
		c.metrics.Reconnects.Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Printf("Feed reconnect failed: %v", err)
		return true
	}
	if err := c.subscribe(); err != nil {
		c.logger.Printf("Feed resubscribe failed: %v", err)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		return true
	}

	c.logger.Printf("Feed reconnected to %s", c.endpoint)
	return true
}

// handleMessage processes one incoming feed message. Malformed messages
// are dropped and counted, never fatal.
func (c *WSClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.countMalformed()
		return
	}

	switch {
	case msg.Method == "eth_subscription" && msg.Params != nil:
		var hash string
		if err := json.Unmarshal(msg.Params.Result, &hash); err != nil || !strings.HasPrefix(hash, "0x") {
			c.countMalformed()
			return
		}
		ref := domain.PendingTxRef{
			Hash:       strings.ToLower(hash),
			ObservedAt: time.Now(),
		}
		if c.metrics != nil {
			c.metrics.RefsReceived.Inc()
		}
		// Block until we can send - never drop refs
		select {
		case c.refs <- ref:
		case <-c.done:
		}

	case msg.Error != nil:
		c.logger.Printf("Feed error response: code=%d msg=%s", msg.Error.Code, msg.Error.Message)

	case msg.ID != 0 && len(msg.Result) > 0:
		// Subscription confirmation
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err == nil {
			c.logger.Printf("Subscribed to pending transactions (id=%s)", subID)
		}

	default:
		c.countMalformed()
	}
}

func (c *WSClient) countMalformed() {
	c.malformed.Add(1)
	if c.metrics != nil {
		c.metrics.MalformedMessages.Inc()
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A failed ping means the connection is likely dead; the
				// read loop notices and reconnects.
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Printf("Feed ping failed: %v", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  *wsSubParams    `json:"params,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsSubParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
