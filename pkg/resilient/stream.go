package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// DefaultReadLimit fits a ticket at its maximum body size plus its AI reply,
// well past the 32 KiB websocket default.
const DefaultReadLimit = 1 << 20

// ErrReconnectsExhausted is returned by Run when MaxReconnects is reached.
var ErrReconnectsExhausted = errors.New("stream: reconnect attempts exhausted")

// Message is one frame received from the server. Raw holds the full frame so
// handlers can decode the fields they care about.
type Message struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// Decode unmarshals the full frame into v.
func (m Message) Decode(v any) error { return json.Unmarshal(m.Raw, v) }

type Handler func(Message)

type StreamOptions struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
	// MaxReconnects stops Run after that many consecutive failed connections.
	// Zero retries forever.
	MaxReconnects int
	DialTimeout   time.Duration
	// ReadLimit caps the size of one incoming frame. Defaults to 1 MiB.
	ReadLimit int64
	Header    http.Header
	OnConnect     func()
	OnDisconnect  func(err error)
	// OnMessage sees every frame, including acks and errors without a topic.
	OnMessage func(Message)
	Logger    *zap.Logger
}

// Stream keeps one WebSocket connection with at most one server-side
// subscription per topic, however many local handlers share it.
type Stream struct {
	url  string
	opts StreamOptions
	log  *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]map[int]Handler
	nextID int
}

type controlFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

func NewStream(url string, opts StreamOptions) *Stream {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.JitterPercent == 0 {
		opts.JitterPercent = 20
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{url: url, opts: opts, log: log, topics: make(map[string]map[int]Handler)}
}

// Subscribe registers h for topic. The first handler on a topic sends a
// subscribe frame; the returned func removes h and, for the last handler,
// sends unsubscribe.
func (s *Stream) Subscribe(topic string, h Handler) func() {
	s.mu.Lock()
	handlers, exists := s.topics[topic]
	if !exists {
		handlers = make(map[int]Handler)
		s.topics[topic] = handlers
	}
	id := s.nextID
	s.nextID++
	handlers[id] = h
	conn := s.conn
	s.mu.Unlock()

	if !exists && conn != nil {
		s.send(conn, controlFrame{Type: "subscribe", Topics: []string{topic}})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			hs := s.topics[topic]
			delete(hs, id)
			last := len(hs) == 0
			if last {
				delete(s.topics, topic)
			}
			conn := s.conn
			s.mu.Unlock()
			if last && conn != nil {
				s.send(conn, controlFrame{Type: "unsubscribe", Topics: []string{topic}})
			}
		})
	}
}

// Topics returns the subscribed topics, sorted.
func (s *Stream) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether a connection is currently open.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Run connects and keeps reconnecting with capped exponential backoff until
// ctx is done or MaxReconnects consecutive attempts fail. The backoff resets
// after every connection that was established.
func (s *Stream) Run(ctx context.Context) error {
	b := s.backoff()
	failures := 0
	for {
		connected, err := s.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b = s.backoff()
			failures = 0
		}
		failures++
		if s.opts.MaxReconnects > 0 && failures > s.opts.MaxReconnects {
			return fmt.Errorf("%w: %v", ErrReconnectsExhausted, err)
		}
		delay, _ := b.Next()
		s.log.Info("stream disconnected, reconnecting",
			zap.String("url", s.url),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Stream) serve(ctx context.Context) (bool, error) {
	dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	conn, _, err := websocket.Dial(dctx, s.url, &websocket.DialOptions{HTTPHeader: s.opts.Header})
	cancel()
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.opts.ReadLimit)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if topics := s.Topics(); len(topics) > 0 {
		s.send(conn, controlFrame{Type: "subscribe", Topics: topics})
	}
	if s.opts.OnConnect != nil {
		s.opts.OnConnect()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if s.opts.OnDisconnect != nil {
				s.opts.OnDisconnect(err)
			}
			return true, err
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Debug("stream: ignoring malformed frame", zap.Error(err))
			continue
		}
		m.Raw = data
		s.dispatch(m)
	}
}

func (s *Stream) dispatch(m Message) {
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(m)
	}
	if m.Topic == "" {
		return
	}
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.topics[m.Topic]))
	for _, h := range s.topics[m.Topic] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}

func (s *Stream) send(conn *websocket.Conn, f controlFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		s.log.Debug("stream: write control frame failed", zap.String("type", f.Type), zap.Error(err))
	}
}

func (s *Stream) backoff() retry.Backoff {
	b := retry.NewExponential(s.opts.BaseDelay)
	b = retry.WithJitterPercent(s.opts.JitterPercent, b)
	return retry.WithCappedDuration(s.opts.MaxDelay, b)
}
