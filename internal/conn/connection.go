// Package conn tracks live admitted connections: the connection table, the
// per-connection fixed-window rate limiter, and the outbound channel handle
// supplied by the transport layer.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/protocol"
)

// ErrChannelClosed reports a send on a connection whose underlying transport
// is gone. Callers log and drop; there is no retry.
var ErrChannelClosed = errors.New("connection channel closed")

// CloseCodeStale is the close code used by heartbeat eviction.
const CloseCodeStale = 4408

// Channel is the already-established, ordered, full-duplex handle the
// transport layer supplies for one client.
type Channel interface {
	// Send enqueues one outbound envelope. Envelopes sent through a single
	// channel preserve send order.
	Send(env protocol.Envelope) error
	// Close tears the transport down with a close code and reason.
	Close(code int, reason string) error
}

// Connection is one admitted full-duplex channel and its authenticated
// principal. Principal and ID are immutable for the connection's lifetime.
type Connection struct {
	ID          string
	Principal   auth.Principal
	ConnectedAt time.Time

	channel Channel
	window  RateWindow

	mu             sync.Mutex
	lastActivityAt time.Time
	subscriptions  map[string]struct{}
	relays         map[string]context.CancelFunc
	closed         bool
}

func newConnection(p auth.Principal, ch Channel, limit int, window time.Duration) *Connection {
	now := time.Now().UTC()
	return &Connection{
		ID:             uuid.NewString(),
		Principal:      p,
		ConnectedAt:    now,
		channel:        ch,
		window:         RateWindow{Limit: limit, WindowDuration: window},
		lastActivityAt: now,
		subscriptions:  make(map[string]struct{}),
		relays:         make(map[string]context.CancelFunc),
	}
}

// Touch records inbound activity. Called on every inbound frame, valid or not.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Connection) LastActivityAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivityAt
}

// TryAdmit runs the connection's fixed-window rate check. Only the
// connection's own processing task mutates the window.
func (c *Connection) TryAdmit(now time.Time) bool {
	return c.window.TryAdmit(now)
}

// Window exposes a copy of the current rate-window state.
func (c *Connection) Window() RateWindow {
	return c.window
}

// Send writes one envelope to the client, preserving per-connection order.
func (c *Connection) Send(env protocol.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return c.channel.Send(env)
}

// Close marks the connection dead and closes the transport. Idempotent.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.CancelRelays()
	return c.channel.Close(code, reason)
}

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe opts the connection into a broadcast topic.
func (c *Connection) Subscribe(topic string) {
	c.mu.Lock()
	c.subscriptions[topic] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()
}

func (c *Connection) SubscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// TrackRelay registers a cancellable in-flight generation relay owned by this
// connection so teardown can cancel it deterministically.
func (c *Connection) TrackRelay(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.relays[id] = cancel
	c.mu.Unlock()
}

func (c *Connection) UntrackRelay(id string) {
	c.mu.Lock()
	delete(c.relays, id)
	c.mu.Unlock()
}

// CancelRelays aborts every in-flight relay bound to this connection.
func (c *Connection) CancelRelays() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.relays))
	for id, cancel := range c.relays {
		cancels = append(cancels, cancel)
		delete(c.relays, id)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
