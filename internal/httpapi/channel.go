package httpapi

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamgate/streamgate/internal/conn"
	"github.com/streamgate/streamgate/internal/protocol"
)

const outboundQueueSize = 256

// wsChannel adapts a gorilla websocket connection to the broker's ordered
// channel contract. A single writer pump keeps websocket writes
// single-threaded and preserves send order.
type wsChannel struct {
	ws  *websocket.Conn
	log *slog.Logger

	outbound chan protocol.Envelope
	closing  chan struct{}
	once     sync.Once
	done     chan struct{}
}

func newWSChannel(ws *websocket.Conn, log *slog.Logger) *wsChannel {
	ch := &wsChannel{
		ws:       ws,
		log:      log,
		outbound: make(chan protocol.Envelope, outboundQueueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go ch.writePump()
	return ch
}

func (ch *wsChannel) writePump() {
	defer close(ch.done)
	for {
		select {
		case env := <-ch.outbound:
			if !ch.write(env) {
				return
			}
		case <-ch.closing:
			// Flush envelopes queued before the close signal, then stop. The
			// shutdown notice travels this path.
			for {
				select {
				case env := <-ch.outbound:
					if !ch.write(env) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (ch *wsChannel) write(env protocol.Envelope) bool {
	_ = ch.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := ch.ws.WriteJSON(env); err != nil {
		ch.log.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

func (ch *wsChannel) Send(env protocol.Envelope) error {
	select {
	case <-ch.closing:
		return conn.ErrChannelClosed
	case <-ch.done:
		return conn.ErrChannelClosed
	default:
	}

	select {
	case ch.outbound <- env:
		return nil
	default:
		// Keep websocket writes single-threaded; drop when the outbound
		// queue is saturated rather than blocking a relay.
		return fmt.Errorf("outbound queue saturated, dropping %s", env.Kind)
	}
}

func (ch *wsChannel) Close(code int, reason string) error {
	var err error
	ch.once.Do(func() {
		close(ch.closing)
		// Wait for the pump to drain queued envelopes before the close frame.
		select {
		case <-ch.done:
		case <-time.After(2 * time.Second):
		}
		deadline := time.Now().Add(2 * time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = ch.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		err = ch.ws.Close()
	})
	return err
}
