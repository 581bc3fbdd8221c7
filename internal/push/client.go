package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/forum-sync/internal/wire"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultStatsInterval  = 30 * time.Second

	maxMessageSize = 512 * 1024
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("push channel not connected")

// Handler receives every text message read from the channel.
type Handler func(msg []byte) error

// Options configures a Client.
type Options struct {
	URL   string
	Token string
	// Rooms are joined after every (re)connect.
	Rooms []string

	ReconnectDelay time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	StatsInterval  time.Duration
}

func (o *Options) defaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = defaultStatsInterval
	}
}

// Stats counts connection activity.
type Stats struct {
	Connects       int64  `json:"connects"`
	Disconnects    int64  `json:"disconnects"`
	Messages       int64  `json:"messages"`
	HandlerErrors  int64  `json:"handler_errors"`
	Connected      bool   `json:"connected"`
	LastMessageAgo string `json:"last_message_ago,omitempty"`
}

// Client connects to the push channel and hands every message to a Handler.
// It reconnects on transient errors until its context is cancelled.
type Client struct {
	opts    Options
	handler Handler
	onState func(connected bool)
	logger  *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	connected     atomic.Bool
	connects      atomic.Int64
	disconnects   atomic.Int64
	messages      atomic.Int64
	handlerErrors atomic.Int64
	lastMessage   atomic.Int64
}

// New creates a push client. onState is called with true after each
// successful connect and with false when the connection drops; it may be nil.
func New(opts Options, handler Handler, onState func(connected bool), logger *slog.Logger) *Client {
	opts.defaults()
	if onState == nil {
		onState = func(bool) {}
	}
	return &Client{
		opts:    opts,
		handler: handler,
		onState: onState,
		logger:  logger,
	}
}

// Start connects and reads messages until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.subscribe(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("push connection error, reconnecting", "error", err, "delay", c.opts.ReconnectDelay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.opts.ReconnectDelay):
				}
			}
		}
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Connects:      c.connects.Load(),
		Disconnects:   c.disconnects.Load(),
		Messages:      c.messages.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Connected:     c.connected.Load(),
	}
	if last := c.lastMessage.Load(); last > 0 {
		s.LastMessageAgo = time.Since(time.Unix(0, last)).Round(time.Millisecond).String()
	}
	return s
}

// Send writes v as a JSON text message.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) subscribe(ctx context.Context) error {
	wsURL, err := c.buildURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	c.logger.Info("connecting to push channel", "url", c.opts.URL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer c.disconnect(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for _, room := range c.opts.Rooms {
		if err := c.Send(joinMessage{Event: "join", Data: joinData{Room: room}}); err != nil {
			return fmt.Errorf("join room %s: %w", room, err)
		}
	}

	c.connects.Add(1)
	c.connected.Store(true)
	c.onState(true)
	c.logger.Info("connected to push channel", "rooms", c.opts.Rooms)

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	var received, failed int64
	lastStatsLog := time.Now()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		received++
		c.messages.Add(1)
		c.lastMessage.Store(time.Now().UnixNano())
		if err := c.handler(message); err != nil {
			failed++
			c.handlerErrors.Add(1)
			c.logger.Debug("push message not applied", "error", err, "message", wire.Excerpt(string(message), 100))
		}

		if time.Since(lastStatsLog) >= c.opts.StatsInterval {
			c.logger.Info("push stats", "messages_received", received, "messages_failed", failed)
			lastStatsLog = time.Now()
		}
	}
}

// keepalive pings the peer and closes conn when ctx is cancelled so the
// blocked read returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("failed to send ping", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) disconnect(conn *websocket.Conn) {
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	conn.Close()

	if c.connected.Swap(false) {
		c.disconnects.Add(1)
		c.onState(false)
		c.logger.Info("disconnected from push channel")
	}
}

type joinMessage struct {
	Event string   `json:"event"`
	Data  joinData `json:"data"`
}

type joinData struct {
	Room string `json:"room"`
}
