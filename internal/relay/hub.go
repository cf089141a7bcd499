// Package relay implements the signaling server: a websocket hub that
// assigns each client an identity and forwards envelopes between them. The
// relay never interprets call semantics; it only routes frames.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

const writeDeadline = 5 * time.Second

type Hub struct {
	readLimit  int64
	pingPeriod time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func NewHub(readLimit int64, pingPeriod time.Duration) *Hub {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Hub{
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		clients:    make(map[string]*client),
	}
}

// readWait bounds how long a connection may stay silent. Both sides ping
// every pingPeriod, so one missed round trip means the peer is gone.
func (h *Hub) readWait() time.Duration { return 2 * h.pingPeriod }

func (c *client) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request, hands the peer its server-assigned id as
// the first frame, then pumps until the socket drops.
func (h *Hub) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}

	wait := h.readWait()
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})
	ws.SetPingHandler(func(appData string) error {
		if err := ws.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return err
		}
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeDeadline))
	})

	cl := &client{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan []byte, 32),
	}
	log.Info().Str("module", "relay").Str("id", cl.id).Msg("new WS connection")

	// The identity frame is queued before the client becomes routable, so
	// no broadcast can land ahead of it.
	h.sendEnvelope(cl, protocol.Envelope{Type: protocol.KindUserID, UserID: cl.id})
	h.register(cl)

	go h.writePump(ctx, cl)
	go h.readPump(ctx, cl)
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl.id)
	h.mu.Unlock()
}

// Count reports the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) writePump(ctx context.Context, cl *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "relay").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := cl.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			if err := cl.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, cl *client) {
	defer func() {
		log.Info().Str("module", "relay").Str("id", cl.id).Msg("readPump closing")
		h.unregister(cl)
		cl.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := cl.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "relay").Str("id", cl.id).Msg("readPump read error")
				return
			}
			h.route(cl, data)
		}
	}
}

// route forwards one inbound frame. Targeted envelopes go to the named
// client only; everything else fans out to all other clients. The sender
// never receives its own frame back.
func (h *Hub) route(from *client, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad json")
		return
	}
	if !env.Type.Known() {
		log.Warn().Str("module", "relay").Str("type", string(env.Type)).Msg("unknown envelope")
		return
	}

	if env.Target != "" {
		h.sendTo(env.Target, data)
		return
	}
	h.broadcastFrom(from.id, data)
}

func (h *Hub) sendTo(id string, data []byte) {
	h.mu.RLock()
	cl, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "relay").Str("target", id).Msg("target not connected")
		return
	}
	if err := cl.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("target", id).Msg("drop frame")
	}
}

func (h *Hub) broadcastFrom(senderID string, data []byte) {
	h.mu.RLock()
	peers := make([]*client, 0, len(h.clients))
	for id, cl := range h.clients {
		if id == senderID {
			continue
		}
		peers = append(peers, cl)
	}
	h.mu.RUnlock()

	for _, cl := range peers {
		if err := cl.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("id", cl.id).Msg("drop frame")
		}
	}
}

func (h *Hub) sendEnvelope(cl *client, env protocol.Envelope) {
	b, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("encode envelope")
		return
	}
	_ = cl.TrySend(b)
}
