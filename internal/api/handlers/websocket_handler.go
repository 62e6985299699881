package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/tender-engine/backend/internal/evaluation"
	"github.com/tender-engine/backend/pkg/logger"
)

// ProgressHub fans per-candidate state changes out to websocket clients
// watching a run. It satisfies runs.ProgressPublisher.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[string]map[*websocket.Conn]bool
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[string]map[*websocket.Conn]bool),
	}
}

// Publish sends one progress event to every subscriber of the run. A write
// failure drops the connection; progress is advisory and the final result
// stays available over HTTP.
func (h *ProgressHub) Publish(runID string, event evaluation.ProgressEvent) {
	msg := map[string]interface{}{
		"type":      "progress",
		"run_id":    runID,
		"candidate": event.Candidate,
		"state":     string(event.State),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.subscribers[runID] {
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("dropping websocket subscriber", zap.String("run_id", runID), zap.Error(err))
			delete(h.subscribers[runID], conn)
			conn.Close()
		}
	}
}

// HandleConnection serves one websocket client. The client subscribes with
// {"type":"subscribe","run_id":"..."} and then receives progress events
// until it disconnects.
func (h *ProgressHub) HandleConnection(c *websocket.Conn) {
	logger.Info("websocket connection established")

	defer func() {
		h.unsubscribeAll(c)
		c.Close()
		logger.Info("websocket connection closed")
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			RunID string `json:"run_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "subscribe":
			if msg.RunID == "" {
				h.sendError(c, "run_id is required")
				continue
			}
			h.subscribe(msg.RunID, c)
			c.WriteJSON(map[string]interface{}{
				"type":   "subscribed",
				"run_id": msg.RunID,
			})
		case "unsubscribe":
			h.unsubscribe(msg.RunID, c)
		default:
			h.sendError(c, "unknown message type")
		}
	}
}

func (h *ProgressHub) subscribe(runID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[runID] == nil {
		h.subscribers[runID] = make(map[*websocket.Conn]bool)
	}
	h.subscribers[runID][c] = true

	logger.Debug("websocket subscribed", zap.String("run_id", runID))
}

func (h *ProgressHub) unsubscribe(runID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subscribers[runID], c)
	if len(h.subscribers[runID]) == 0 {
		delete(h.subscribers, runID)
	}
}

func (h *ProgressHub) unsubscribeAll(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for runID, conns := range h.subscribers {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.subscribers, runID)
		}
	}
}

func (h *ProgressHub) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
