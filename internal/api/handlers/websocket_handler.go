package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/query"
	"github.com/docsynth/backend/pkg/logger"
)

type WebSocketHandler struct {
	queryEngine *query.Engine
	timeout     time.Duration
}

// NewWebSocketHandler streams query progress over a websocket. Each question is
// bounded by timeout; zero means no limit.
func NewWebSocketHandler(queryEngine *query.Engine, timeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine: queryEngine,
		timeout:     timeout,
	}
}

type wsRequest struct {
	Type     string `json:"type"`
	Question string `json:"question"`
}

type wsMessage struct {
	Type      string               `json:"type"`
	SessionID string               `json:"session_id,omitempty"`
	Stage     query.Stage          `json:"stage,omitempty"`
	Count     int                  `json:"count,omitempty"`
	Result    *query.QueryResponse `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	sessionID := uuid.NewString()
	log := logger.Log.With(zap.String("session_id", sessionID))
	log.Info("WebSocket connection established")

	defer func() {
		c.Close()
		log.Info("WebSocket connection closed")
	}()

	if err := c.WriteJSON(wsMessage{Type: "connected", SessionID: sessionID}); err != nil {
		return
	}

	for {
		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if req.Type != "query" {
			h.sendError(c, "unsupported message type "+req.Type)
			continue
		}

		if err := h.streamQuery(c, req.Question); err != nil {
			log.Warn("Failed to stream query", zap.Error(err))
			var msg string
			if StatusFor(err) == fiber.StatusInternalServerError {
				msg = "Failed to process query"
			} else {
				msg = err.Error()
			}
			h.sendError(c, msg)
		}
	}
}

func (h *WebSocketHandler) streamQuery(c *websocket.Conn, question string) error {
	ctx := context.Background()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var writeErr error
	progress := func(stage query.Stage, count int) {
		if writeErr != nil {
			return
		}
		writeErr = c.WriteJSON(wsMessage{Type: "status", Stage: stage, Count: count})
	}

	response, err := h.queryEngine.ProcessQueryWithProgress(ctx, question, progress)
	if err != nil {
		return err
	}
	if writeErr != nil {
		return errors.Join(errors.New("client went away"), writeErr)
	}

	return c.WriteJSON(wsMessage{Type: "complete", Result: response})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, msg string) {
	if err := c.WriteJSON(wsMessage{Type: "error", Error: msg}); err != nil {
		logger.Debug("Failed to send WebSocket error", zap.Error(err))
	}
}
