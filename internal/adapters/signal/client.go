// Package signal is the client side of the relay link: it owns one logical
// websocket connection, redials it with exponential backoff when it drops,
// and delivers inbound envelopes to a single handler in arrival order.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/domain"
	"github.com/peercall/peercall/internal/protocol"
)

// Status of the signaling link.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	default:
		return "closed"
	}
}

// Connection is a read-only snapshot of the current link generation.
type Connection struct {
	State        Status
	RetryCount   int
	LastOpenedAt time.Time
}

// Options tunes the client. Zero values fall back to the original
// deployment's policy: 1s base doubling to 30s, five attempts.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

func (o *Options) withDefaults() {
	if o.ReadLimit == 0 {
		o.ReadLimit = 96 << 20
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
}

// Client maintains the signaling link. Safe for concurrent use.
type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	handler  func(protocol.Envelope)
	onStatus func(Connection, error)

	mu   sync.RWMutex
	conn *wsConn
	snap Connection
}

func NewClient(url string, opts Options) *Client {
	opts.withDefaults()
	return &Client{
		url:    url,
		opts:   opts,
		dialer: websocket.DefaultDialer,
		snap:   Connection{State: StatusConnecting},
	}
}

// SetHandler registers the single inbound envelope handler. Envelopes are
// delivered in arrival order with no deduplication; consumers must tolerate
// duplicates. Must be called before Run.
func (c *Client) SetHandler(fn func(protocol.Envelope)) { c.handler = fn }

// OnStatus registers a listener for link state changes. The error is nil on
// open and on recoverable drops; domain.ErrConnectionLost means the retry
// budget is spent and the client has given up.
func (c *Client) OnStatus(fn func(Connection, error)) { c.onStatus = fn }

// State returns the current link snapshot.
func (c *Client) State() Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Send encodes and queues one envelope. Fails with domain.ErrTransportClosed
// while the link is not open; a recoverable condition, never a call-ender.
func (c *Client) Send(env protocol.Envelope) error {
	c.mu.RLock()
	conn := c.conn
	open := c.snap.State == StatusOpen
	c.mu.RUnlock()

	if !open || conn == nil {
		return domain.ErrTransportClosed
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return conn.trySend(data)
}

// Run dials the relay and keeps the link alive until ctx is cancelled or the
// reconnect budget is exhausted, in which case it returns
// domain.ErrConnectionLost. Blocking; call it in its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	retry := 0
	for {
		c.publish(Connection{State: StatusConnecting, RetryCount: retry}, nil)

		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			retry = 0
			conn := c.attach(ws)
			err = c.readLoop(ctx, conn)
			conn.close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Recoverable drop: tell the listener, then redial. A short
			// blip must not end an in-progress call.
			c.publish(Connection{State: StatusClosed}, nil)
			log.Warn().Err(err).Str("module", "signal").Msg("link dropped, reconnecting")
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("module", "signal").Int("retry", retry).Msg("dial failed")
		}

		if retry >= c.opts.MaxRetries {
			c.publish(Connection{State: StatusClosed, RetryCount: retry}, domain.ErrConnectionLost)
			return domain.ErrConnectionLost
		}
		delay := backoffDelay(retry, c.opts.BaseDelay, c.opts.MaxDelay)
		retry++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// attach installs a fresh connection generation and reports it open.
func (c *Client) attach(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(c.opts.ReadLimit)

	conn := newWSConn(ws)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go conn.writePump(c.opts.PingPeriod)
	c.publish(Connection{State: StatusOpen, LastOpenedAt: time.Now()}, nil)
	log.Info().Str("module", "signal").Str("url", c.url).Msg("connected to relay")
	return conn
}

func (c *Client) readLoop(ctx context.Context, conn *wsConn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad json frame")
			continue
		}
		if !env.Type.Known() {
			log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown envelope kind")
			continue
		}
		if c.handler != nil {
			c.handler(env)
		}
	}
}

func (c *Client) publish(snap Connection, err error) {
	c.mu.Lock()
	if snap.LastOpenedAt.IsZero() {
		snap.LastOpenedAt = c.snap.LastOpenedAt
	}
	c.snap = snap
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(snap, err)
	}
}

// backoffDelay is the reconnect schedule: base doubled per consecutive
// failure, capped at max. retry counts the failures that already happened.
func backoffDelay(retry int, base, max time.Duration) time.Duration {
	d := base << uint(retry)
	if d <= 0 || d > max {
		return max
	}
	return d
}
