package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/monitoring"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ExceptionEvent is the wire form of an exception on the stream
type ExceptionEvent struct {
	Page      uint64 `json:"page"`
	ContextID int32  `json:"context_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
}

// Hub fans exceptions out to the websocket subscribers of each page
type Hub struct {
	mu      sync.RWMutex
	subs    map[bridge.PagePointer]map[chan ExceptionEvent]struct{}
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHub creates an exception hub
func NewHub(metrics *monitoring.Metrics, logger *logging.Logger) *Hub {
	return &Hub{
		subs:    make(map[bridge.PagePointer]map[chan ExceptionEvent]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// Publish delivers exc to every subscriber of ptr. It never blocks the page
// loop: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ptr bridge.PagePointer, contextID int32, exc *engine.Exception) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subs[ptr]
	if len(subs) == 0 {
		return
	}

	evt := ExceptionEvent{
		Page:      uint64(ptr),
		ContextID: contextID,
		Kind:      exc.Kind.String(),
		Message:   exc.Message,
		Stack:     exc.Stack,
		SourceURL: exc.SourceURL,
		Line:      exc.Line,
		Column:    exc.Column,
	}
	for ch := range subs {
		select {
		case ch <- evt:
		default:
			h.logger.Warn("exception subscriber lagging, event dropped", logging.Page(uintptr(ptr)))
		}
	}
}

// Subscribe registers a buffered subscriber for ptr
func (h *Hub) Subscribe(ptr bridge.PagePointer) chan ExceptionEvent {
	ch := make(chan ExceptionEvent, streamBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[ptr] == nil {
		h.subs[ptr] = make(map[chan ExceptionEvent]struct{})
	}
	h.subs[ptr][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber
func (h *Hub) Unsubscribe(ptr bridge.PagePointer, ch chan ExceptionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[ptr], ch)
	if len(h.subs[ptr]) == 0 {
		delete(h.subs, ptr)
	}
}

// Subscribers returns the number of subscribers of ptr
func (h *Hub) Subscribers(ptr bridge.PagePointer) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ptr])
}

// Stream upgrades the request and forwards the page's exceptions until the
// client goes away
func (h *Hub) Stream(c *gin.Context, ptr bridge.PagePointer) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ch := h.Subscribe(ptr)
	defer h.Unsubscribe(ptr, ch)

	// The read side only notices the client closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
