package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cuongbtq/reservation-import/internal/notifier"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	subscriberSend = 32
)

// LiveStatusHandler serves the realtime task status channel
type LiveStatusHandler struct {
	logger   *slog.Logger
	hub      *notifier.Hub
	upgrader websocket.Upgrader
}

// NewLiveStatusHandler creates a LiveStatusHandler that accepts upgrades
// from deps.AllowedOrigins, or from any origin when the list is empty
func NewLiveStatusHandler(deps *Dependencies) *LiveStatusHandler {
	allowed := make(map[string]struct{}, len(deps.AllowedOrigins))
	for _, o := range deps.AllowedOrigins {
		allowed[o] = struct{}{}
	}

	return &LiveStatusHandler{
		logger: deps.Logger,
		hub:    deps.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				if _, ok := allowed["*"]; ok {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				_, ok := allowed[u.Scheme+"://"+u.Host]
				return ok
			},
		},
	}
}

// Serve handles GET /ws/tasks
func (h *LiveStatusHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := notifier.NewSubscriber(subscriberSend)
	logger := h.logger.With(slog.String("remote_addr", conn.RemoteAddr().String()))
	logger.Info("Live status client connected")

	done := make(chan struct{})
	go h.writePump(conn, sub, done, logger)
	h.readPump(conn, sub, logger)

	close(done)
	h.hub.Remove(sub)
	logger.Info("Live status client disconnected")
}

// readPump handles subscribe and unsubscribe frames until the connection fails
func (h *LiveStatusHandler) readPump(conn *websocket.Conn, sub *notifier.Subscriber, logger *slog.Logger) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Live status connection closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var frame notifier.Envelope
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(sub, "malformed frame")
			continue
		}

		var taskID string
		if err := json.Unmarshal(frame.Data, &taskID); err != nil || uuid.Validate(taskID) != nil {
			h.sendError(sub, "data must be a task id")
			continue
		}

		switch frame.Event {
		case notifier.EventSubscribe:
			h.hub.Subscribe(sub, taskID)
			logger.Info("Client subscribed to task", slog.String("task_id", taskID))
		case notifier.EventUnsubscribe:
			h.hub.Unsubscribe(sub, taskID)
			logger.Info("Client unsubscribed from task", slog.String("task_id", taskID))
		default:
			h.sendError(sub, "unknown event "+frame.Event)
		}
	}
}

// writePump is the only writer of conn
func (h *LiveStatusHandler) writePump(conn *websocket.Conn, sub *notifier.Subscriber, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-sub.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Warn("Failed to write live status frame", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *LiveStatusHandler) sendError(sub *notifier.Subscriber, message string) {
	frame, err := notifier.NewEnvelope(notifier.EventError, message)
	if err != nil {
		return
	}
	if !sub.Offer(frame) {
		h.logger.Warn("Dropping error frame for slow subscriber")
	}
}
