package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Frame types exchanged on the live-update socket.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameTicketUpdate = "ticket_update"
	FrameError        = "error"
)

// ClientFrame is what browsers and SDK clients send. TicketIDs is the older
// form of Topics and is expanded to ticket:<id>.
type ClientFrame struct {
	Type      string   `json:"type"`
	Topics    []string `json:"topics,omitempty"`
	TicketIDs []string `json:"ticket_ids,omitempty"`
}

type ServerFrame struct {
	Type        string                   `json:"type"`
	Topic       string                   `json:"topic,omitempty"`
	Topics      []string                 `json:"topics,omitempty"`
	Event       Type                     `json:"event,omitempty"`
	TicketID    string                   `json:"ticket_id,omitempty"`
	Ticket      *model.Ticket            `json:"ticket,omitempty"`
	Interaction *model.TicketInteraction `json:"interaction,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

type HubOptions struct {
	// OriginPatterns restricts browser origins; "*" disables the check.
	OriginPatterns []string
	SendBuffer     int
	PingInterval   time.Duration
	// OnClients is called with the connected client count after every change.
	OnClients func(n int)
}

// Hub fans events out to WebSocket clients subscribed to matching topics.
type Hub struct {
	log     *zap.Logger
	opts    HubOptions
	accept  *websocket.AcceptOptions
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	id     string
	send   chan []byte
	cancel context.CancelFunc

	mu     sync.RWMutex
	topics map[string]struct{}
}

func NewHub(log *zap.Logger, opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	accept := &websocket.AcceptOptions{}
	for _, o := range opts.OriginPatterns {
		if o == "*" {
			accept.InsecureSkipVerify = true
			break
		}
	}
	if !accept.InsecureSkipVerify {
		accept.OriginPatterns = opts.OriginPatterns
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, opts: opts, accept: accept, clients: make(map[*hubClient]struct{})}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers ev once per matching topic subscription. Clients whose
// buffer is full are disconnected rather than blocking the publisher.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	frames := make(map[string][]byte, 2)
	for _, topic := range ev.Topics() {
		b, err := json.Marshal(ServerFrame{
			Type:        FrameTicketUpdate,
			Topic:       topic,
			Event:       ev.Type,
			TicketID:    ev.TicketID.String(),
			Ticket:      ev.Ticket,
			Interaction: ev.Interaction,
			Timestamp:   ev.OccurredAt,
		})
		if err != nil {
			return err
		}
		frames[topic] = b
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		for topic, frame := range frames {
			if !c.subscribed(topic) {
				continue
			}
			if !c.enqueue(frame) {
				h.log.Warn("dropping slow websocket client", zap.String("client_id", c.id))
				c.cancel()
				break
			}
		}
	}
	return nil
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		h.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &hubClient{
		id:     uuid.NewString(),
		send:   make(chan []byte, h.opts.SendBuffer),
		cancel: cancel,
		topics: make(map[string]struct{}),
	}
	h.add(c)
	defer h.remove(c)

	go h.writeLoop(ctx, conn, c)
	h.readLoop(ctx, conn, c)

	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *hubClient) {
	for {
		var f ClientFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.log.Debug("websocket read ended", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		h.handleFrame(c, f)
	}
}

func (h *Hub) handleFrame(c *hubClient, f ClientFrame) {
	now := time.Now().UTC()
	switch f.Type {
	case FramePing:
		c.reply(ServerFrame{Type: FramePong, Timestamp: now})
	case FrameSubscribe, FrameUnsubscribe:
		topics := f.Topics
		for _, id := range f.TicketIDs {
			topics = append(topics, ticketTopicPrefix+id)
		}
		var accepted []string
		for _, t := range topics {
			if !ValidTopic(t) {
				c.reply(ServerFrame{Type: FrameError, Topic: t, Error: "unknown topic", Timestamp: now})
				continue
			}
			accepted = append(accepted, t)
		}
		if len(accepted) == 0 {
			return
		}
		typ := FrameSubscribed
		if f.Type == FrameSubscribe {
			c.subscribe(accepted)
		} else {
			c.unsubscribe(accepted)
			typ = FrameUnsubscribed
		}
		c.reply(ServerFrame{Type: typ, Topics: accepted, Timestamp: now})
	default:
		c.reply(ServerFrame{Type: FrameError, Error: "unknown frame type " + f.Type, Timestamp: now})
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *hubClient) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) add(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client connected", zap.String("client_id", c.id), zap.Int("clients", n))
	if h.opts.OnClients != nil {
		h.opts.OnClients(n)
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("websocket client disconnected", zap.String("client_id", c.id), zap.Int("clients", n))
	if h.opts.OnClients != nil {
		h.opts.OnClients(n)
	}
}

func (c *hubClient) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *hubClient) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
}

func (c *hubClient) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

func (c *hubClient) enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *hubClient) reply(f ServerFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	if !c.enqueue(b) {
		c.cancel()
	}
}
