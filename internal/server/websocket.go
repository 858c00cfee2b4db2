package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType names the kind of event carried by a Message.
type MessageType string

const (
	MessageTypeJobStatus   MessageType = "job_status"
	MessageTypeJobProgress MessageType = "job_progress"
	MessageTypeJobComplete MessageType = "job_complete"
	MessageTypeJobError    MessageType = "job_error"
	MessageTypeLog         MessageType = "log"
	MessageTypeLLMRequest  MessageType = "llm_request"
	MessageTypeLLMResponse MessageType = "llm_response"
)

// Message is the envelope written to WebSocket clients. JobID is empty for
// events that are not tied to one job.
type Message struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type LogMessage struct {
	Level    string `json:"level"`
	Message  string `json:"message"`
	Document string `json:"document,omitempty"`
}

// JobProgressMessage is the payload of job_* messages.
type JobProgressMessage struct {
	JobID           string  `json:"job_id"`
	State           string  `json:"state"`
	ProgressPercent float64 `json:"progress_percent"`
	Status          string  `json:"status,omitempty"`
}

// subscriber is one WebSocket connection. A non-empty job restricts it to
// that job's messages plus global ones.
type subscriber struct {
	conn   *websocket.Conn
	send   chan Message
	job    string
	hub    *Hub
	logger *logrus.Logger
}

func (s *subscriber) wants(m Message) bool {
	return s.job == "" || m.JobID == "" || m.JobID == s.job
}

// Hub fans messages out to subscribers. It satisfies backend.Observer.
type Hub struct {
	subscribers map[*subscriber]struct{}
	publish     chan Message
	join        chan *subscriber
	leave       chan *subscriber
	done        chan struct{}
	logger      *logrus.Logger
	mu          sync.RWMutex
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		publish:     make(chan Message, sendBuffer),
		join:        make(chan *subscriber),
		leave:       make(chan *subscriber),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run delivers messages until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subscribers {
				h.drop(sub)
			}
			h.mu.Unlock()
			return

		case sub := <-h.join:
			h.mu.Lock()
			h.subscribers[sub] = struct{}{}
			n := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debugf("WebSocket client connected (job filter %q), %d connected", sub.job, n)

		case sub := <-h.leave:
			h.mu.Lock()
			h.drop(sub)
			n := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Debugf("WebSocket client disconnected, %d connected", n)

		case msg := <-h.publish:
			h.mu.Lock()
			for sub := range h.subscribers {
				if !sub.wants(msg) {
					continue
				}
				select {
				case sub.send <- msg:
				default:
					h.drop(sub)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(sub *subscriber) {
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// Publish queues msg without blocking; it is dropped when the queue is full.
func (h *Hub) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.publish <- msg:
	default:
		h.logger.Debugf("WebSocket queue full, dropping %s message", msg.Type)
	}
}

// BroadcastMessage publishes an event that is not tied to a job.
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	h.Publish(Message{Type: MessageType(msgType), Data: data})
}

func (h *Hub) publishJob(t MessageType, p JobProgressMessage) {
	h.Publish(Message{Type: t, JobID: p.JobID, Data: p})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// LogHook mirrors log entries at Info and above to the hub.
type LogHook struct {
	hub *Hub
}

func NewLogHook(hub *Hub) *LogHook {
	return &LogHook{hub: hub}
}

func (l *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels[:logrus.InfoLevel+1]
}

func (l *LogHook) Fire(entry *logrus.Entry) error {
	msg := Message{
		Type: MessageTypeLog,
		Data: LogMessage{Level: entry.Level.String(), Message: entry.Message},
	}
	if doc, ok := entry.Data["document"].(string); ok {
		msg.Data = LogMessage{Level: entry.Level.String(), Message: entry.Message, Document: doc}
	}
	// jobs tag entries with "job", the translation service with "run"
	for _, key := range []string{"job", "run"} {
		if id, ok := entry.Data[key].(string); ok && id != "" {
			msg.JobID = id
			break
		}
	}
	l.hub.Publish(msg)
	return nil
}

func (s *subscriber) readLoop() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debugf("WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Errorf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket upgrades the request. ?job=<id> limits the stream to one job.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}

	sub := &subscriber{
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		job:    c.Query("job"),
		hub:    s.wsHub,
		logger: s.logger,
	}

	select {
	case s.wsHub.join <- sub:
	case <-s.wsHub.done:
		_ = conn.Close()
		return
	}

	go sub.writeLoop()
	go sub.readLoop()
}
