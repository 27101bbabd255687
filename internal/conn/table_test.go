package conn

import (
	"sync"
	"testing"
	"time"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/protocol"
)

type nopChannel struct {
	mu     sync.Mutex
	sent   []protocol.Envelope
	closed bool
}

func (ch *nopChannel) Send(env protocol.Envelope) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sent = append(ch.sent, env)
	return nil
}

func (ch *nopChannel) Close(code int, reason string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

func TestTableRegisterGetRemove(t *testing.T) {
	table := NewTable(60, time.Minute)
	c := table.Register(auth.Principal{ID: "u1", Role: "user"}, &nopChannel{})
	if c.ID == "" {
		t.Fatalf("connection ID should not be empty")
	}
	if c.Principal.ID != "u1" {
		t.Fatalf("Principal.ID = %q, want u1", c.Principal.ID)
	}

	got, ok := table.Get(c.ID)
	if !ok || got.ID != c.ID {
		t.Fatalf("Get() = %v, %v, want the registered connection", got, ok)
	}

	if _, ok := table.Remove(c.ID); !ok {
		t.Fatalf("Remove() should report the connection was present")
	}
	if _, ok := table.Get(c.ID); ok {
		t.Fatalf("Get() after Remove should miss")
	}
	if _, ok := table.Remove(c.ID); ok {
		t.Fatalf("second Remove() should report absent")
	}
}

func TestTableRemoveNotifiesObservers(t *testing.T) {
	table := NewTable(60, time.Minute)
	var observed []string
	table.OnRemove(func(c *Connection) {
		observed = append(observed, c.ID)
	})

	c := table.Register(auth.Principal{ID: "u1"}, &nopChannel{})
	table.Remove(c.ID)

	if len(observed) != 1 || observed[0] != c.ID {
		t.Fatalf("observers saw %v, want [%s]", observed, c.ID)
	}
}

func TestTableConcurrentRegistration(t *testing.T) {
	table := NewTable(60, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Register(auth.Principal{ID: "u"}, &nopChannel{})
		}()
	}
	wg.Wait()
	if table.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", table.Len())
	}
}

func TestConnectionTouchUpdatesActivity(t *testing.T) {
	table := NewTable(60, time.Minute)
	c := table.Register(auth.Principal{ID: "u1"}, &nopChannel{})

	before := c.LastActivityAt()
	time.Sleep(5 * time.Millisecond)
	c.Touch()
	if !c.LastActivityAt().After(before) {
		t.Fatalf("Touch() did not advance LastActivityAt")
	}
}

func TestConnectionCloseCancelsRelays(t *testing.T) {
	table := NewTable(60, time.Minute)
	ch := &nopChannel{}
	c := table.Register(auth.Principal{ID: "u1"}, ch)

	cancelled := false
	c.TrackRelay("r1", func() { cancelled = true })

	if err := c.Close(1000, "bye"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !cancelled {
		t.Fatalf("relay cancel should run on Close")
	}
	if !c.Closed() {
		t.Fatalf("Closed() = false after Close")
	}
	if err := c.Send(protocol.NewPing()); err == nil {
		t.Fatalf("Send() after Close should fail")
	}
}

func TestConnectionTrackRelayAfterCloseCancelsImmediately(t *testing.T) {
	table := NewTable(60, time.Minute)
	c := table.Register(auth.Principal{ID: "u1"}, &nopChannel{})
	_ = c.Close(1000, "bye")

	cancelled := false
	c.TrackRelay("r1", func() { cancelled = true })
	if !cancelled {
		t.Fatalf("tracking a relay on a closed connection should cancel it")
	}
}

func TestConnectionSubscriptions(t *testing.T) {
	table := NewTable(60, time.Minute)
	c := table.Register(auth.Principal{ID: "u1"}, &nopChannel{})

	if c.SubscribedTo("alerts") {
		t.Fatalf("fresh connection should have no subscriptions")
	}
	c.Subscribe("alerts")
	if !c.SubscribedTo("alerts") {
		t.Fatalf("Subscribe did not register the topic")
	}
	c.Unsubscribe("alerts")
	if c.SubscribedTo("alerts") {
		t.Fatalf("Unsubscribe did not clear the topic")
	}
}
