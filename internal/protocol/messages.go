package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies envelope payload variants.
type Kind string

const (
	KindContentRequest Kind = "content_request"
	KindContentDelta   Kind = "content_delta"
	KindToolCall       Kind = "tool_call"
	KindToolAck        Kind = "tool_ack"
	KindSystemNotice   Kind = "system_notice"
	KindLivenessPing   Kind = "liveness_ping"
	KindLivenessPong   Kind = "liveness_pong"
)

// Stable error codes carried in system_notice envelopes so clients can branch
// programmatically.
const (
	CodeRateLimit       = "RATE_LIMIT"
	CodeValidation      = "VALIDATION_ERROR"
	CodeChatValidation  = "CHAT_VALIDATION_ERROR"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
	CodeStreamingError  = "STREAMING_ERROR"
)

// Non-error notice codes.
const (
	NoticeStreamingStarted   = "streaming_started"
	NoticeStreamingCompleted = "streaming_completed"
	NoticeSessionReclaimed   = "session_reclaimed"
	NoticeServerShutdown     = "server_shutdown"
)

var (
	ErrUnsupportedKind = errors.New("unsupported envelope kind")
	ErrEmptyContent    = errors.New("content must not be empty")
	ErrContentTooLong  = errors.New("content exceeds maximum length")
	ErrInvalidRole     = errors.New("role must be one of user, assistant, system")
)

// Envelope is the wire unit exchanged in both directions.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SessionRef string          `json:"session_ref,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// ContentRequest asks the broker to run a generation turn.
type ContentRequest struct {
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	ConversationRef string           `json:"conversation_ref,omitempty"`
	Metadata        *RequestMetadata `json:"metadata,omitempty"`
}

type RequestMetadata struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	EnableTools bool    `json:"enable_tools,omitempty"`
}

// ContentDelta carries one streamed text fragment of an in-flight generation.
type ContentDelta struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

// ToolCall relays an engine-requested external action to the client side.
type ToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolAck is the client's acknowledgement of a relayed tool call.
type ToolAck struct {
	ToolCallID string          `json:"tool_call_id"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Notice is the system_notice payload in both the ok and error shapes.
type Notice struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Detail string       `json:"detail,omitempty"`
	Error  *NoticeError `json:"error,omitempty"`
	Usage  *Usage       `json:"usage,omitempty"`
}

type NoticeError struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// Usage reports generation accounting on streaming_completed notices.
type Usage struct {
	Units        int    `json:"units"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Liveness is the ping/pong payload.
type Liveness struct {
	TSMs int64 `json:"ts_ms,omitempty"`
}

// ParseEnvelope decodes an inbound frame and checks the kind against the
// closed enumeration. Payload bodies are validated separately by the
// kind-specific decoders so callers can distinguish a malformed frame from a
// schema violation.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Kind {
	case KindContentRequest, KindContentDelta, KindToolCall, KindToolAck,
		KindSystemNotice, KindLivenessPing, KindLivenessPong:
		return env, nil
	default:
		return env, ErrUnsupportedKind
	}
}

// DecodeContentRequest validates a content_request payload. maxContentLen
// bounds the text field in runes; role must come from the closed role set.
func DecodeContentRequest(env Envelope, maxContentLen int) (ContentRequest, error) {
	var req ContentRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return ContentRequest{}, fmt.Errorf("invalid content_request payload: %w", err)
	}
	switch req.Role {
	case "user", "assistant", "system":
	default:
		return ContentRequest{}, ErrInvalidRole
	}
	if strings.TrimSpace(req.Content) == "" {
		return ContentRequest{}, ErrEmptyContent
	}
	if maxContentLen > 0 && len([]rune(req.Content)) > maxContentLen {
		return ContentRequest{}, ErrContentTooLong
	}
	if req.ConversationRef == "" {
		req.ConversationRef = env.SessionRef
	}
	return req, nil
}

func DecodeToolAck(env Envelope) (ToolAck, error) {
	var ack ToolAck
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		return ToolAck{}, fmt.Errorf("invalid tool_ack payload: %w", err)
	}
	if ack.ToolCallID == "" {
		return ToolAck{}, errors.New("tool_ack requires tool_call_id")
	}
	return ack, nil
}

// NewEnvelope stamps a fresh outbound envelope. Timestamps are server-assigned
// on every outbound envelope.
func NewEnvelope(kind Kind, sessionRef string, payload any) Envelope {
	body, _ := json.Marshal(payload)
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    body,
		SessionRef: sessionRef,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func NewNotice(sessionRef, code, detail string) Envelope {
	return NewEnvelope(KindSystemNotice, sessionRef, Notice{
		Status: "ok",
		Code:   code,
		Detail: detail,
	})
}

func NewCompletedNotice(sessionRef string, usage Usage) Envelope {
	return NewEnvelope(KindSystemNotice, sessionRef, Notice{
		Status: "ok",
		Code:   NoticeStreamingCompleted,
		Usage:  &usage,
	})
}

func NewErrorNotice(sessionRef, code, message string, details map[string]any) Envelope {
	return NewEnvelope(KindSystemNotice, sessionRef, Notice{
		Status: "error",
		Code:   code,
		Error:  &NoticeError{Message: message, Code: code, Details: details},
	})
}

func NewDelta(sessionRef string, seq int, text string) Envelope {
	return NewEnvelope(KindContentDelta, sessionRef, ContentDelta{Seq: seq, Text: text})
}

func NewToolCall(sessionRef, toolCallID, name string, args json.RawMessage) Envelope {
	return NewEnvelope(KindToolCall, sessionRef, ToolCall{
		ToolCallID: toolCallID,
		Name:       name,
		Arguments:  args,
	})
}

func NewPing() Envelope {
	return NewEnvelope(KindLivenessPing, "", Liveness{TSMs: time.Now().UnixMilli()})
}

func NewPong() Envelope {
	return NewEnvelope(KindLivenessPong, "", Liveness{TSMs: time.Now().UnixMilli()})
}
