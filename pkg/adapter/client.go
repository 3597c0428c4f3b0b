package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"merilcat/pkg/signal"
)

// Client dials a forward WebSocket gateway and redials with exponential
// backoff whenever the connection is lost.
type Client struct {
	url      string
	header   http.Header
	events   *signal.Bus[[]byte]
	actions  *signal.Bus[[]byte]
	onState  StateFunc
	minDelay time.Duration
	maxDelay time.Duration
	dialer   *websocket.Dialer
}

// NewClient creates a Client for gatewayURL. An access token, if any, can be
// passed through header.
func NewClient(gatewayURL string, header http.Header, events, actions *signal.Bus[[]byte]) *Client {
	return &Client{
		url:      gatewayURL,
		header:   header,
		events:   events,
		actions:  actions,
		minDelay: time.Second,
		maxDelay: 30 * time.Second,
		dialer:   websocket.DefaultDialer,
	}
}

// SetBackoff sets the first redial delay and its cap.
func (c *Client) SetBackoff(min, max time.Duration) {
	if min > 0 {
		c.minDelay = min
	}
	if max >= c.minDelay {
		c.maxDelay = max
	}
}

// OnState registers the connection state hook. Call before Run.
func (c *Client) OnState(fn StateFunc) {
	c.onState = fn
}

// Addr returns the dialed URL.
func (c *Client) Addr() string {
	return c.url
}

// Run keeps a connection alive until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	delay := c.minDelay
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Failed to dial gateway, retrying", "url", c.url, "delay", delay, "error", err)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, c.maxDelay)
			continue
		}

		delay = c.minDelay
		a := New(conn, c.events, c.actions)
		slog.Info("Gateway connected", "conn", a.ID(), "url", c.url)
		c.notify(StateConnected, a.ID())

		err = a.Run(ctx)
		c.notify(StateDisconnected, a.ID())
		if err == nil {
			return nil
		}
		slog.Warn("Gateway connection lost, redialing", "conn", a.ID(), "delay", delay, "error", err)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (c *Client) notify(state State, id string) {
	if c.onState != nil {
		c.onState(state, id)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ValidateURL checks that raw is a ws:// or wss:// URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse gateway url: %w", err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("gateway url %q must be ws:// or wss://", raw)
	}
	return nil
}
