package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Janar2510/AgentFlow/internal/domain"
	"github.com/Janar2510/AgentFlow/internal/metrics"
	"github.com/Janar2510/AgentFlow/internal/platform/errors"
	"github.com/Janar2510/AgentFlow/internal/realtime"
)

// inboundMessage is the client-to-server message shape on the generic endpoint.
// The timestamp is an opaque client value (string, number, anything JSON) that
// is echoed back verbatim on pong.
type inboundMessage struct {
	Type      string   `json:"type"`
	Channels  []string `json:"channels"`
	Timestamp any      `json:"timestamp"`
}

// acquireSlot enforces the connection limits before an upgrade. Returns a
// release func when the slot was granted.
func (s *Server) acquireSlot(c echo.Context) (func(), error) {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection rejected", "ip", ip, "reason", reason)
		return nil, errors.TooManyRequestsError("connection limit reached")
	}
	return func() { s.limits.Release(ip) }, nil
}

// handleWebSocket serves the generic realtime endpoint. Clients subscribe to
// channels and exchange ping/pong over it.
func (s *Server) handleWebSocket(c echo.Context) error {
	release, err := s.acquireSlot(c)
	if err != nil {
		return err
	}
	defer release()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	id, err := s.manager.Accept(conn, c.RealIP(), "")
	if err != nil {
		_ = conn.Close()
		return nil
	}
	defer s.manager.Disconnect(conn)

	// Read pump, blocks until the connection closes
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatchClientMessage(id, data)
	}

	return nil
}

// handleWorkflowWebSocket serves workflow-scoped connections. The workflow
// must exist; the connection is auto-subscribed to its channel and inbound
// messages are re-broadcast to the other subscribers.
func (s *Server) handleWorkflowWebSocket(c echo.Context) error {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid workflow id")
	}

	ctx := c.Request().Context()
	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		if stderrors.Is(err, domain.ErrWorkflowNotFound) {
			return errors.NotFoundError("workflow not found")
		}
		return errors.InternalError("failed to load workflow", err)
	}

	release, err := s.acquireSlot(c)
	if err != nil {
		return err
	}
	defer release()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	channel := realtime.WorkflowChannel(workflowID)
	id, err := s.manager.Accept(conn, c.RealIP(), channel)
	if err != nil {
		_ = conn.Close()
		return nil
	}
	defer s.manager.Disconnect(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg realtime.Payload
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping malformed workflow message", "connection_id", id.String(), "error", err)
			continue
		}

		// Relay client messages to the other workflow subscribers
		if _, err := s.manager.Broadcast(channel, msg, id); err != nil {
			break
		}
	}

	return nil
}

// dispatchClientMessage routes one inbound frame on the generic endpoint.
// Malformed frames are logged and dropped.
func (s *Server) dispatchClientMessage(id uuid.UUID, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Dropping malformed client message", "connection_id", id.String(), "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		if len(msg.Channels) == 0 {
			slog.Warn("Subscribe without channels", "connection_id", id.String())
			return
		}
		for _, channel := range msg.Channels {
			s.manager.Subscribe(id, channel)
		}
		// Commands are processed in order, so the confirmation is only
		// delivered once every subscription is registered.
		s.manager.Send(id, realtime.Payload{
			"type":     "subscription_confirmed",
			"channels": msg.Channels,
		})
	case "unsubscribe":
		for _, channel := range msg.Channels {
			s.manager.Unsubscribe(id, channel)
		}
	case "ping":
		pong := realtime.Payload{"type": "pong"}
		if msg.Timestamp != nil {
			pong["timestamp"] = msg.Timestamp
		}
		s.manager.Send(id, pong)
	default:
		slog.Debug("Ignoring unknown message type", "connection_id", id.String(), "type", msg.Type)
	}
}
