package broker

import (
	"context"
	"time"

	"github.com/streamgate/streamgate/internal/accounting"
	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/protocol"
)

// runHeartbeat sweeps the connection table on a fixed interval. This is the
// only mechanism that reclaims connections whose transport died without a
// close signal.
func (b *Broker) runHeartbeat(ctx context.Context) {
	defer close(b.hbDone)
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Sweep(b.nowFunc())
		}
	}
}

// Sweep evicts connections idle for more than twice the heartbeat interval
// and pings connections approaching that threshold. Each eviction runs in its
// own goroutine so one slow or blocked close cannot stall the rest of the
// sweep.
func (b *Broker) Sweep(now time.Time) {
	staleAfter := 2 * b.heartbeatInterval
	b.table.ForEach(func(c *conn.Connection) {
		idle := now.Sub(c.LastActivityAt())
		switch {
		case idle > staleAfter:
			go b.evict(c, idle)
		case idle > b.heartbeatInterval:
			b.send(c, protocol.NewPing())
		}
	})
}

func (b *Broker) evict(c *conn.Connection, idle time.Duration) {
	b.log.Info("evicting stale connection",
		"connection_id", c.ID,
		"principal_id", c.Principal.ID,
		"idle", idle,
	)
	if b.metrics != nil {
		b.metrics.Evictions.Inc()
	}
	b.latency.ObserveIndicator("stale_eviction")
	b.record(accounting.UsageRecord{
		Event:        accounting.EventConnectionEvicted,
		PrincipalID:  c.Principal.ID,
		ConnectionID: c.ID,
	})
	b.Disconnect(c, conn.CloseCodeStale, "stale connection")
}
