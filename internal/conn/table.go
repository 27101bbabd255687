package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/streamgate/streamgate/internal/auth"
)

var ErrNotFound = errors.New("connection not found")

// Table is the single source of truth for who is currently connected. All
// mutating operations are atomic with respect to concurrent registration and
// removal; no caller ever observes a half-registered connection.
type Table struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	onRemove    []func(*Connection)

	rateLimit  int
	rateWindow time.Duration
}

func NewTable(rateLimit int, rateWindow time.Duration) *Table {
	if rateLimit <= 0 {
		rateLimit = 60
	}
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	return &Table{
		connections: make(map[string]*Connection),
		rateLimit:   rateLimit,
		rateWindow:  rateWindow,
	}
}

// OnRemove registers a cleanup observer invoked after a connection leaves the
// table. The session registry uses this to start grace-period countdowns.
func (t *Table) OnRemove(fn func(*Connection)) {
	t.mu.Lock()
	t.onRemove = append(t.onRemove, fn)
	t.mu.Unlock()
}

// Register constructs a Connection for an admitted principal with a zeroed
// rate window and empty subscriptions, and inserts it.
func (t *Table) Register(p auth.Principal, ch Channel) *Connection {
	c := newConnection(p, ch, t.rateLimit, t.rateWindow)
	t.mu.Lock()
	t.connections[c.ID] = c
	t.mu.Unlock()
	return c
}

func (t *Table) Get(id string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.connections[id]
	return c, ok
}

// Remove deletes the connection and notifies removal observers. Returns the
// removed connection, or false when the id was already gone.
func (t *Table) Remove(id string) (*Connection, bool) {
	t.mu.Lock()
	c, ok := t.connections[id]
	if ok {
		delete(t.connections, id)
	}
	observers := t.onRemove
	t.mu.Unlock()

	if !ok {
		return nil, false
	}
	for _, fn := range observers {
		fn(c)
	}
	return c, true
}

// ForEach visits a snapshot of the current connections. The action runs
// outside the table lock so a slow visit cannot stall registration.
func (t *Table) ForEach(fn func(*Connection)) {
	t.mu.RLock()
	snapshot := make([]*Connection, 0, len(t.connections))
	for _, c := range t.connections {
		snapshot = append(snapshot, c)
	}
	t.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections)
}
