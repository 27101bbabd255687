package broker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/accounting"
	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/engine"
	"github.com/streamgate/streamgate/internal/protocol"
	"github.com/streamgate/streamgate/internal/session"
)

// startRelay launches one tracked, cancellable relay task for an in-flight
// generation. Fire and forget from the router's perspective.
func (b *Broker) startRelay(c *conn.Connection, sess session.Session, req engine.Request) {
	relayID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	c.TrackRelay(relayID, cancel)

	b.relayWG.Add(1)
	go func() {
		defer b.relayWG.Done()
		defer c.UntrackRelay(relayID)
		defer cancel()
		b.runRelay(ctx, c, sess, req)
	}()
}

func (b *Broker) runRelay(ctx context.Context, c *conn.Connection, sess session.Session, req engine.Request) {
	started := time.Now()
	b.send(c, protocol.NewNotice(sess.ID, protocol.NoticeStreamingStarted, ""))

	stream, err := b.engine.Generate(ctx, req)
	if err != nil {
		b.log.Warn("engine start failed", "session_id", sess.ID, "error", err)
		b.registry.FinishGeneration(sess.ID, 0)
		b.sendError(c, sess.ID, protocol.CodeStreamingError, err.Error(), map[string]any{
			"session_id": sess.ID,
		})
		return
	}
	defer stream.Close()

	var (
		seq        int
		units      int
		reason     string
		firstDelta = true
	)

	for {
		// Observe connection liveness before each emission; a gone
		// connection aborts the engine call via the deferred Close.
		if ctx.Err() != nil || c.Closed() {
			b.registry.FinishGeneration(sess.ID, units)
			b.latency.ObserveIndicator("dropped_mid_stream")
			return
		}

		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			b.registry.FinishGeneration(sess.ID, units)
			if errors.Is(err, context.Canceled) || c.Closed() {
				b.latency.ObserveIndicator("dropped_mid_stream")
				return
			}
			b.log.Warn("engine stream failed", "session_id", sess.ID, "error", err)
			b.sendError(c, sess.ID, protocol.CodeStreamingError, err.Error(), map[string]any{
				"session_id": sess.ID,
			})
			return
		}

		switch ev.Kind {
		case engine.EventDelta:
			seq++
			if firstDelta {
				firstDelta = false
				if b.metrics != nil {
					b.metrics.ObserveFirstDeltaLatency(time.Since(started))
				}
				b.latency.Observe("request_to_first_delta", float64(time.Since(started).Milliseconds()))
			}
			b.send(c, protocol.NewDelta(sess.ID, seq, ev.Delta))
			if b.metrics != nil {
				b.metrics.RelayChunks.Inc()
			}
		case engine.EventToolCall:
			// Relay only; tool execution is owned elsewhere.
			b.send(c, protocol.NewToolCall(sess.ID, ev.ToolCallID, ev.ToolName, ev.ToolArgs))
		case engine.EventFinish:
			units = ev.Units
			reason = ev.FinishReason
		}
	}

	b.registry.FinishGeneration(sess.ID, units)
	b.latency.Observe("relay_total", float64(time.Since(started).Milliseconds()))
	if !c.Closed() {
		b.send(c, protocol.NewCompletedNotice(sess.ID, protocol.Usage{
			Units:        units,
			FinishReason: reason,
		}))
	}
	b.record(accounting.UsageRecord{
		Event:        accounting.EventGenerationCompleted,
		PrincipalID:  c.Principal.ID,
		SessionID:    sess.ID,
		ConnectionID: c.ID,
		Units:        units,
	})
}
