package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/util"
)

// ErrNotConnected is returned by SendSignal while the relay is unreachable.
var ErrNotConnected = errors.New("signaling client not connected")

// Client is the peer-side connection to the relay. It redials after drops,
// delivers inbound signals in arrival order and serializes outbound writes.
type Client struct {
	cfg config.SignalingConfig
	obs util.Observer

	onHello func(PeerID)

	mu   sync.Mutex // guards conn and id
	conn *websocket.Conn
	id   PeerID

	writeMu sync.Mutex
}

// NewClient creates a client for cfg.URL. Call Run to connect.
func NewClient(cfg config.SignalingConfig, obs util.Observer) *Client {
	if obs == nil {
		obs = util.LogObserver
	}
	return &Client{cfg: cfg, obs: obs}
}

// OnHello registers a callback invoked with the PeerID assigned by the relay,
// once per successful (re)connect. Must be called before Run.
func (c *Client) OnHello(fn func(PeerID)) {
	c.onHello = fn
}

// ID returns the PeerID from the latest hello, or "" before the first one.
func (c *Client) ID() PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Run connects to the relay and calls handle for every valid inbound signal.
// When the connection drops it redials with exponential backoff. Run blocks
// until ctx is cancelled and then returns ctx.Err().
func (c *Client) Run(ctx context.Context, handle func(Message)) error {
	delay := c.cfg.RetryDelay

	for {
		conn, err := connect(ctx, c.cfg.URL, c.cfg.DialTimeout)
		if err == nil {
			delay = c.cfg.RetryDelay
			err = c.serve(ctx, conn, handle)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.obs.Observe(util.Event{
			Severity: util.SeverityWarn,
			Category: util.CategorySignaling,
			Message:  fmt.Sprintf("relay connection lost, redialing in %s", delay),
			Err:      err,
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > c.cfg.MaxRetryDelay {
			delay = c.cfg.MaxRetryDelay
		}
	}
}

// serve owns one WebSocket connection until it fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, handle func(Message)) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Closing the conn is the only way to unblock ReadMessage.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if c.cfg.PingInterval > 0 {
		go c.keepalive(conn, stop)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		msg, err := Decode(data)
		if err != nil {
			c.obs.Observe(util.Event{
				Severity: util.SeverityWarn,
				Category: util.CategorySignaling,
				Message:  "rejected inbound message",
				Err:      err,
			})
			continue
		}

		switch msg.Type {
		case TypeHello:
			c.mu.Lock()
			c.id = msg.ID
			c.mu.Unlock()
			c.obs.Observe(util.Event{
				Severity: util.SeverityInfo,
				Category: util.CategorySignaling,
				Peer:     string(msg.ID),
				Message:  "registered with relay",
			})
			if c.onHello != nil {
				c.onHello(msg.ID)
			}
		case TypeSignal:
			handle(msg)
		}
	}
}

// keepalive pings the relay so idle connections survive proxies.
func (c *Client) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// SendSignal validates msg and writes it to the relay.
func (c *Client) SendSignal(msg Message) error {
	if err := msg.ValidateOutbound(); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	util.Stats.AddSignalSent()
	return nil
}

// connect dials the given WebSocket URL, bounded by timeout when positive.
func connect(ctx context.Context, url string, timeout time.Duration) (*websocket.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}
