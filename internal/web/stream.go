package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/broker"
)

// streamBuffer is the per-connection update queue. A client that
// cannot drain this many messages is considered stuck and dropped.
const streamBuffer = 256

// Shortened in tests to force the slow-client path quickly.
var streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard may be served from a hostname the TAC does not
	// know about, so same-origin checks would only break things.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamRequest is one control message from the client.
type streamRequest struct {
	Subscribe   string `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

// streamConn is one websocket client with its topic subscriptions.
// All topics share a single updates channel so the writer goroutine
// serializes everything onto the socket.
type streamConn struct {
	id      string
	ws      *websocket.Conn
	updates chan broker.Message
	evicted chan struct{}
	done    chan struct{}
	evict   sync.Once
	closer  sync.Once

	mu     sync.Mutex
	topics map[string]broker.AnyTopic
}

func newStreamConn(ws *websocket.Conn) *streamConn {
	return &streamConn{
		id:      uuid.NewString(),
		ws:      ws,
		updates: make(chan broker.Message, streamBuffer),
		evicted: make(chan struct{}),
		done:    make(chan struct{}),
		topics:  make(map[string]broker.AnyTopic),
	}
}

// subscribe attaches the connection to a topic. The broker queues the
// retained value ahead of any concurrent update, so the client always
// starts from the current state and only moves forward from there.
func (c *streamConn) subscribe(topic broker.AnyTopic) {
	c.mu.Lock()
	_, already := c.topics[topic.Path()]
	if !already {
		c.topics[topic.Path()] = topic
	}
	c.mu.Unlock()
	if already {
		return
	}

	topic.SubscribeBytes(c.updates, func() {
		c.evict.Do(func() { close(c.evicted) })
	})
}

func (c *streamConn) unsubscribe(path string) {
	c.mu.Lock()
	topic, ok := c.topics[path]
	delete(c.topics, path)
	c.mu.Unlock()
	if ok {
		topic.UnsubscribeBytes(c.updates)
	}
}

// teardown detaches the connection from every topic. Safe to call more
// than once.
func (c *streamConn) teardown() {
	c.closer.Do(func() {
		close(c.done)
		c.mu.Lock()
		topics := c.topics
		c.topics = make(map[string]broker.AnyTopic)
		c.mu.Unlock()
		for _, topic := range topics {
			topic.UnsubscribeBytes(c.updates)
		}
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newStreamConn(ws)
	s.addConn(conn)

	log := s.log.With(zap.String("conn", conn.id))
	log.Debug("stream client connected", zap.String("remote", r.RemoteAddr))

	go s.streamWriter(conn, log)
	s.streamReader(conn, log)

	conn.teardown()
	s.removeConn(conn)
	ws.Close()
	log.Debug("stream client disconnected")
}

// streamReader handles subscribe and unsubscribe requests until the
// client goes away.
func (s *Server) streamReader(conn *streamConn, log *zap.Logger) {
	for {
		var req streamRequest
		if err := conn.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("stream read failed", zap.Error(err))
			}
			return
		}

		if req.Subscribe != "" {
			topic, ok := s.broker.Lookup(req.Subscribe)
			if !ok || !topic.WebReadable() {
				log.Debug("subscribe to unknown topic", zap.String("topic", req.Subscribe))
				continue
			}
			conn.subscribe(topic)
		}
		if req.Unsubscribe != "" {
			conn.unsubscribe(req.Unsubscribe)
		}
	}
}

// streamWriter is the only goroutine writing to the socket. It forwards
// topic updates until the connection dies or the broker evicts it for
// being too slow.
func (s *Server) streamWriter(conn *streamConn, log *zap.Logger) {
	defer conn.ws.Close()

	write := func(msg broker.Message) bool {
		conn.ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.ws.WriteJSON(msg); err != nil {
			log.Debug("stream write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-conn.updates:
			if !write(msg) {
				return
			}
		case <-conn.evicted:
			log.Warn("dropping slow stream client")
			conn.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(time.Second),
			)
			return
		case <-conn.done:
			return
		}
	}
}
