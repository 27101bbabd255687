// Package broker is the composition root of the streaming session broker. It
// admits connections, routes inbound envelopes, relays engine output, and
// evicts dead connections.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/streamgate/streamgate/internal/accounting"
	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/engine"
	"github.com/streamgate/streamgate/internal/observability"
	"github.com/streamgate/streamgate/internal/protocol"
	"github.com/streamgate/streamgate/internal/session"
)

// Options configures a Broker. Table, registry, gatekeeper and engine are
// injected so tests can run several brokers in one process.
type Options struct {
	Table      *conn.Table
	Registry   *session.Registry
	Gatekeeper *auth.Gatekeeper
	Engine     engine.Engine
	Metrics    *observability.Metrics
	Latency    *observability.LatencyWindow
	Sink       accounting.Sink
	Logger     *slog.Logger

	HeartbeatInterval time.Duration
	MaxContentLength  int
	DefaultEngineRef  string
}

type Broker struct {
	table      *conn.Table
	registry   *session.Registry
	gatekeeper *auth.Gatekeeper
	engine     engine.Engine
	metrics    *observability.Metrics
	latency    *observability.LatencyWindow
	sink       accounting.Sink
	log        *slog.Logger

	heartbeatInterval time.Duration
	maxContentLength  int
	defaultEngineRef  string

	mu       sync.Mutex
	stopped  bool
	stopHB   context.CancelFunc
	hbDone   chan struct{}
	relayWG  sync.WaitGroup
	nowFunc  func() time.Time
}

func New(opts Options) *Broker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = 10000
	}
	if opts.Latency == nil {
		opts.Latency = observability.NewLatencyWindow(256)
	}

	b := &Broker{
		table:             opts.Table,
		registry:          opts.Registry,
		gatekeeper:        opts.Gatekeeper,
		engine:            opts.Engine,
		metrics:           opts.Metrics,
		latency:           opts.Latency,
		sink:              opts.Sink,
		log:               opts.Logger.With("component", "broker"),
		heartbeatInterval: opts.HeartbeatInterval,
		maxContentLength:  opts.MaxContentLength,
		defaultEngineRef:  opts.DefaultEngineRef,
		nowFunc:           func() time.Time { return time.Now().UTC() },
	}

	// Connection removal starts the grace-period countdown for the sessions
	// that connection owned.
	b.table.OnRemove(func(c *conn.Connection) {
		b.registry.OrphanByConnection(c.ID)
		if b.metrics != nil {
			b.metrics.ActiveConnections.Set(float64(b.table.Len()))
			b.metrics.ActiveSessions.Set(float64(b.registry.Count()))
		}
	})

	b.registry.SetExpireHook(func(s session.Session) {
		b.log.Debug("session expired", "session_id", s.ID, "principal_id", s.PrincipalID)
		if b.metrics != nil {
			b.metrics.ActiveSessions.Set(float64(b.registry.Count()))
		}
		b.record(accounting.UsageRecord{
			Event:       accounting.EventSessionExpired,
			PrincipalID: s.PrincipalID,
			SessionID:   s.ID,
			Units:       s.UnitCount,
		})
	})

	return b
}

// Authenticate validates the presented credential. It creates no connection
// state, so a refusal can happen before the transport upgrade.
func (b *Broker) Authenticate(ctx context.Context, rawCredential string) (auth.Principal, error) {
	return b.gatekeeper.Admit(ctx, rawCredential)
}

// Attach registers a fresh connection for an already-authenticated principal,
// bound to the given transport channel.
func (b *Broker) Attach(principal auth.Principal, ch conn.Channel) *conn.Connection {
	c := b.table.Register(principal, ch)
	b.log.Info("connection admitted", "connection_id", c.ID, "principal_id", principal.ID, "role", principal.Role)
	if b.metrics != nil {
		b.metrics.ActiveConnections.Set(float64(b.table.Len()))
		b.metrics.ConnectionEvents.WithLabelValues("admitted").Inc()
	}
	return c
}

// Disconnect is the single teardown path shared by client-initiated close,
// transport failure, heartbeat eviction and server shutdown. It cancels every
// in-flight relay owned by the connection.
func (b *Broker) Disconnect(c *conn.Connection, code int, reason string) {
	if _, ok := b.table.Remove(c.ID); !ok {
		return
	}
	if err := c.Close(code, reason); err != nil {
		b.log.Warn("connection close failed", "connection_id", c.ID, "error", err)
	}
	b.log.Info("connection closed", "connection_id", c.ID, "reason", reason)
	if b.metrics != nil {
		b.metrics.ConnectionEvents.WithLabelValues("closed").Inc()
	}
}

// Start launches the heartbeat sweep.
func (b *Broker) Start(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.stopHB = cancel
	b.hbDone = make(chan struct{})
	b.mu.Unlock()
	go b.runHeartbeat(hbCtx)
}

// Shutdown notifies clients, closes every connection, and stops background
// work. Blocks until in-flight relays have observed cancellation.
func (b *Broker) Shutdown(ctx context.Context) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.stopHB
	done := b.hbDone
	b.mu.Unlock()

	notice := protocol.NewNotice("", protocol.NoticeServerShutdown, "server shutting down")
	b.table.ForEach(func(c *conn.Connection) {
		b.send(c, notice)
		b.Disconnect(c, 1001, "server shutdown")
	})

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	finished := make(chan struct{})
	go func() {
		b.relayWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}

	b.registry.Close()
}

// Stats returns rolling relay latency quantiles and operational counters.
func (b *Broker) Stats() observability.LatencySnapshot {
	return b.latency.Snapshot()
}

// RecentUsage returns the principal's most recent usage records, newest last.
// Without a configured sink there is no history to report.
func (b *Broker) RecentUsage(ctx context.Context, principalID string, limit int) ([]accounting.UsageRecord, error) {
	if b.sink == nil {
		return nil, nil
	}
	return b.sink.RecentUsage(ctx, principalID, limit)
}

// Broadcast delivers a notice to every connection subscribed to topic.
func (b *Broker) Broadcast(topic string, env protocol.Envelope) {
	b.table.ForEach(func(c *conn.Connection) {
		if c.SubscribedTo(topic) {
			b.send(c, env)
		}
	})
}

// send delivers one envelope, logging and dropping on a dead transport.
func (b *Broker) send(c *conn.Connection, env protocol.Envelope) {
	if err := c.Send(env); err != nil {
		if !errors.Is(err, conn.ErrChannelClosed) {
			b.log.Warn("outbound send failed", "connection_id", c.ID, "kind", string(env.Kind), "error", err)
		}
		return
	}
	if b.metrics != nil {
		b.metrics.Envelopes.WithLabelValues("outbound", string(env.Kind)).Inc()
	}
}

func (b *Broker) sendError(c *conn.Connection, sessionRef, code, message string, details map[string]any) {
	b.send(c, protocol.NewErrorNotice(sessionRef, code, message, details))
	if b.metrics != nil {
		b.metrics.ErrorNotices.WithLabelValues(code).Inc()
	}
}

func (b *Broker) record(rec accounting.UsageRecord) {
	if b.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.sink.Record(ctx, rec); err != nil {
		b.log.Warn("usage record failed", "event", rec.Event, "error", err)
	}
}
