// Package engine abstracts the generative backend as a pull-based stream of
// chunk events. Closing a stream early cancels the underlying generation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventKind discriminates stream events.
type EventKind string

const (
	EventDelta    EventKind = "delta"
	EventToolCall EventKind = "tool_call"
	EventFinish   EventKind = "finish"
)

// Event is one element of a generation stream. Finish events carry usage;
// tool-call events carry the requested action. The broker relays tool calls,
// it never executes them.
type Event struct {
	Kind         EventKind
	Delta        string
	ToolCallID   string
	ToolName     string
	ToolArgs     json.RawMessage
	Units        int
	FinishReason string
}

// Stream produces a lazy, finite sequence of events. Recv returns io.EOF
// after the finish event; any other error is an engine-side failure.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request is the normalized generation request.
type Request struct {
	SessionID   string
	Role        string
	Content     string
	Model       string
	Temperature float64
	EnableTools bool
}

// Engine starts generations.
type Engine interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Config controls engine construction.
type Config struct {
	Mode            string
	AnthropicAPIKey string
	DefaultModel    string
}

// New builds an engine for the configured mode. "auto" prefers the Anthropic
// backend when a key is present and falls back to the mock.
func New(cfg Config) (Engine, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
			return NewAnthropicEngine(cfg.AnthropicAPIKey, cfg.DefaultModel)
		}
		return NewMockEngine(), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic engine requires an API key")
		}
		return NewAnthropicEngine(cfg.AnthropicAPIKey, cfg.DefaultModel)
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}
}
