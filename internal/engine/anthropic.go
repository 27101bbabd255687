package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicEngine streams generations from the Anthropic Messages API.
type AnthropicEngine struct {
	client       anthropic.Client
	defaultModel string
}

func NewAnthropicEngine(apiKey, defaultModel string) (*AnthropicEngine, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic engine requires an API key")
	}
	model := strings.TrimSpace(defaultModel)
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicEngine{
		client:       anthropic.NewClient(option.WithAPIKey(key)),
		defaultModel: model,
	}, nil
}

func (e *AnthropicEngine) Generate(ctx context.Context, req Request) (Stream, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = e.defaultModel
	}

	role := anthropic.MessageParamRoleUser
	if req.Role == "assistant" {
		role = anthropic.MessageParamRoleAssistant
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages: []anthropic.MessageParam{{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Content)},
		}},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	stream := e.client.Messages.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("anthropic stream failed: no stream returned")
	}
	return &anthropicStream{stream: stream}, nil
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	message anthropic.Message
	pending []Event
	done    bool
}

func (s *anthropicStream) Recv() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return Event{}, io.EOF
		}

		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return Event{}, fmt.Errorf("anthropic stream failed: %w", err)
			}
			// Stream ended without a message_stop; synthesize the finish.
			s.queueFinish()
			s.done = true
			continue
		}

		event := s.stream.Current()
		_ = s.message.Accumulate(event)

		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := e.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return Event{Kind: EventDelta, Delta: delta.Text}, nil
			}
		case anthropic.MessageStopEvent:
			s.queueFinish()
			s.done = true
		}
	}
}

// queueFinish emits accumulated tool-use blocks followed by the finish event.
func (s *anthropicStream) queueFinish() {
	for _, block := range s.message.Content {
		if block.Type != "tool_use" {
			continue
		}
		s.pending = append(s.pending, Event{
			Kind:       EventToolCall,
			ToolCallID: block.ID,
			ToolName:   block.Name,
			ToolArgs:   block.Input,
		})
	}
	reason := string(s.message.StopReason)
	if reason == "" {
		reason = "end_turn"
	}
	s.pending = append(s.pending, Event{
		Kind:         EventFinish,
		Units:        int(s.message.Usage.OutputTokens),
		FinishReason: reason,
	})
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
