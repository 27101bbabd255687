package broker

import (
	"errors"
	"strings"

	"github.com/streamgate/streamgate/internal/accounting"
	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/engine"
	"github.com/streamgate/streamgate/internal/policy"
	"github.com/streamgate/streamgate/internal/protocol"
	"github.com/streamgate/streamgate/internal/session"
)

// Route dispatches one inbound frame. It is fully synchronous; generation
// work is handed off to a relay task. Errors never propagate across the
// connection boundary: every failure becomes a system_notice on the same
// connection.
func (b *Broker) Route(c *conn.Connection, raw []byte) {
	// A malformed-but-alive client is still alive.
	c.Touch()

	if !c.TryAdmit(b.nowFunc()) {
		b.sendError(c, "", protocol.CodeRateLimit, "request rate limit exceeded", map[string]any{
			"limit":     c.Window().Limit,
			"window_ms": c.Window().WindowDuration.Milliseconds(),
		})
		return
	}

	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedKind) {
			b.sendError(c, env.SessionRef, protocol.CodeUnsupportedType, "unsupported envelope kind", nil)
		} else {
			b.sendError(c, "", protocol.CodeValidation, err.Error(), nil)
		}
		return
	}
	if b.metrics != nil {
		b.metrics.Envelopes.WithLabelValues("inbound", string(env.Kind)).Inc()
	}

	switch env.Kind {
	case protocol.KindContentRequest:
		b.handleContentRequest(c, env)
	case protocol.KindToolAck:
		b.handleToolAck(c, env)
	case protocol.KindLivenessPing:
		b.send(c, protocol.NewPong())
	case protocol.KindLivenessPong:
		// Activity was already touched; nothing else to do.
	default:
		// Server-to-client kinds arriving inbound are not routable.
		b.sendError(c, env.SessionRef, protocol.CodeUnsupportedType, "kind not accepted from clients", nil)
	}
}

func (b *Broker) handleContentRequest(c *conn.Connection, env protocol.Envelope) {
	req, err := protocol.DecodeContentRequest(env, b.maxContentLength)
	if err != nil {
		b.sendError(c, env.SessionRef, protocol.CodeChatValidation, err.Error(), nil)
		return
	}

	engineRef := b.defaultEngineRef
	var temperature float64
	enableTools := false
	if req.Metadata != nil {
		if strings.TrimSpace(req.Metadata.Model) != "" {
			engineRef = req.Metadata.Model
		}
		temperature = req.Metadata.Temperature
		enableTools = req.Metadata.EnableTools
	}

	sess, reclaimed := b.registry.GetOrCreate(c.ID, c.Principal.ID, req.ConversationRef, engineRef)
	if reclaimed {
		b.send(c, protocol.NewNotice(sess.ID, protocol.NoticeSessionReclaimed, "session ownership transferred"))
		b.log.Info("session reclaimed", "session_id", sess.ID, "connection_id", c.ID)
	}
	if sess.MessageCount == 0 && !reclaimed {
		if b.metrics != nil {
			b.metrics.ActiveSessions.Set(float64(b.registry.Count()))
		}
		b.record(accounting.UsageRecord{
			Event:        accounting.EventSessionCreated,
			PrincipalID:  c.Principal.ID,
			SessionID:    sess.ID,
			ConnectionID: c.ID,
		})
	}

	b.log.Debug("content request",
		"connection_id", c.ID,
		"session_id", sess.ID,
		"role", req.Role,
		"preview", policy.Preview(req.Content, 80),
	)

	if err := b.registry.StartGeneration(sess.ID); err != nil {
		msg := "session no longer available"
		if errors.Is(err, session.ErrGenerationInFlight) {
			msg = "a generation is already in flight for this session"
		}
		b.sendError(c, sess.ID, protocol.CodeStreamingError, msg, map[string]any{
			"session_id": sess.ID,
		})
		return
	}

	b.startRelay(c, sess, engine.Request{
		SessionID:   sess.ID,
		Role:        req.Role,
		Content:     req.Content,
		Model:       engineRef,
		Temperature: temperature,
		EnableTools: enableTools,
	})
}

func (b *Broker) handleToolAck(c *conn.Connection, env protocol.Envelope) {
	ack, err := protocol.DecodeToolAck(env)
	if err != nil {
		b.sendError(c, env.SessionRef, protocol.CodeValidation, err.Error(), nil)
		return
	}
	// Tool execution belongs to an external collaborator; the ack is
	// bookkeeping and liveness only.
	b.log.Debug("tool ack received",
		"connection_id", c.ID,
		"tool_call_id", ack.ToolCallID,
		"status", ack.Status,
		"session_ref", env.SessionRef,
	)
}
