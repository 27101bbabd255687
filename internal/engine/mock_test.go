package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func drain(t *testing.T, s Stream) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		events = append(events, ev)
	}
}

func TestMockEngineEchoesInDeltasThenFinishes(t *testing.T) {
	e := NewMockEngine()
	stream, err := e.Generate(context.Background(), Request{Content: "tell me something interesting please"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	defer stream.Close()

	events := drain(t, stream)
	if len(events) < 2 {
		t.Fatalf("got %d events, want deltas plus finish", len(events))
	}

	last := events[len(events)-1]
	if last.Kind != EventFinish {
		t.Fatalf("last event kind = %q, want finish", last.Kind)
	}
	if last.FinishReason != "end_turn" {
		t.Fatalf("finish reason = %q, want end_turn", last.FinishReason)
	}
	if last.Units <= 0 {
		t.Fatalf("finish units = %d, want positive", last.Units)
	}

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		if ev.Kind != EventDelta {
			t.Fatalf("event kind = %q before finish, want delta", ev.Kind)
		}
		text.WriteString(ev.Delta)
	}
	if got := text.String(); got != "You said: tell me something interesting please" {
		t.Fatalf("assembled reply = %q", got)
	}
}

func TestMockEngineRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEngine().Generate(ctx, Request{Content: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
}

func TestScriptedStreamReplaysThenFails(t *testing.T) {
	failErr := errors.New("backend hiccup")
	s := NewScriptedStream(context.Background(), []Event{
		{Kind: EventDelta, Delta: "one"},
	}, failErr)

	ev, err := s.Recv()
	if err != nil || ev.Delta != "one" {
		t.Fatalf("Recv() = (%+v, %v)", ev, err)
	}
	if _, err := s.Recv(); !errors.Is(err, failErr) {
		t.Fatalf("Recv() error = %v, want scripted failure", err)
	}
}

func TestScriptedStreamCloseStopsReplay(t *testing.T) {
	s := NewScriptedStream(context.Background(), []Event{
		{Kind: EventDelta, Delta: "one"},
		{Kind: EventDelta, Delta: "two"},
	}, nil)

	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv() after Close error = %v, want io.EOF", err)
	}
	if !s.ClosedEarly() {
		t.Fatalf("ClosedEarly() = false, want true")
	}
}

func TestNewSelectsBackendByMode(t *testing.T) {
	if _, err := New(Config{Mode: "mock"}); err != nil {
		t.Fatalf("mock mode error = %v", err)
	}
	eng, err := New(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("auto mode without key error = %v", err)
	}
	if _, ok := eng.(*MockEngine); !ok {
		t.Fatalf("auto mode without key = %T, want *MockEngine", eng)
	}
	if _, err := New(Config{Mode: "anthropic"}); err == nil {
		t.Fatalf("anthropic mode without key should fail")
	}
	if _, err := New(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
