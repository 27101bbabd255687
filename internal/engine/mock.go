package engine

import (
	"context"
	"io"
	"strings"
	"sync"
)

// MockEngine provides deterministic local generations when no real backend is
// configured. Replies echo the request in a handful of deltas.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (e *MockEngine) Generate(ctx context.Context, req Request) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	text := strings.TrimSpace(req.Content)
	if text == "" {
		text = "I am listening."
	}
	reply := "You said: " + text

	events := make([]Event, 0, 4)
	for _, part := range splitMockReply(reply) {
		events = append(events, Event{Kind: EventDelta, Delta: part})
	}
	events = append(events, Event{
		Kind:         EventFinish,
		Units:        len(reply) / 4,
		FinishReason: "end_turn",
	})

	return NewScriptedStream(ctx, events, nil), nil
}

func splitMockReply(reply string) []string {
	words := strings.Fields(reply)
	if len(words) <= 3 {
		return []string{reply}
	}
	third := len(words) / 3
	return []string{
		strings.Join(words[:third], " ") + " ",
		strings.Join(words[third:2*third], " ") + " ",
		strings.Join(words[2*third:], " "),
	}
}

// ScriptedStream replays a fixed sequence of events, then failErr or io.EOF.
// Tests use it directly to script engine behavior.
type ScriptedStream struct {
	ctx     context.Context
	mu      sync.Mutex
	events  []Event
	pos     int
	failErr error
	closed  bool
}

func NewScriptedStream(ctx context.Context, events []Event, failErr error) *ScriptedStream {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ScriptedStream{ctx: ctx, events: events, failErr: failErr}
}

func (s *ScriptedStream) Recv() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		if s.failErr != nil {
			return Event{}, s.failErr
		}
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ClosedEarly reports whether Close was called before the script drained.
func (s *ScriptedStream) ClosedEarly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && s.pos < len(s.events)
}
