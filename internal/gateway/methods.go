package gateway

import (
	"context"
	"encoding/json"

	"github.com/heathdorn/overseer/internal/fault"
)

// Gateway method names.
const (
	MethodChatSend     = "chat.send"
	MethodChatHistory  = "chat.history"
	MethodChatAbort    = "chat.abort"
	MethodSessionsList = "sessions.list"
	MethodStatus       = "status"
)

// ChatSendParams starts or continues an agent run on a session.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatSendResult identifies the run the gateway started.
type ChatSendResult struct {
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
}

// ChatSend dispatches a message to an agent session.
func (c *Client) ChatSend(ctx context.Context, p ChatSendParams) (*ChatSendResult, error) {
	if p.SessionKey == "" {
		return nil, fault.Validation("chat.send requires a session key")
	}
	if p.IdempotencyKey == "" {
		return nil, fault.Validation("chat.send requires an idempotency key")
	}
	raw, err := c.Call(ctx, MethodChatSend, p)
	if err != nil {
		return nil, err
	}
	var res ChatSendResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fault.Protocol("malformed chat.send result: %v", err)
	}
	return &res, nil
}

// ChatHistoryParams selects a session's message log.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// ChatMessage is one entry of a session history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	RunID   string `json:"runId,omitempty"`
}

// ChatHistory fetches a session's message log.
func (c *Client) ChatHistory(ctx context.Context, p ChatHistoryParams) ([]ChatMessage, error) {
	raw, err := c.Call(ctx, MethodChatHistory, p)
	if err != nil {
		return nil, err
	}
	var res struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fault.Protocol("malformed chat.history result: %v", err)
	}
	return res.Messages, nil
}

// ChatAbort cancels an in-flight run on a session.
func (c *Client) ChatAbort(ctx context.Context, sessionKey, runID string) error {
	p := struct {
		SessionKey string `json:"sessionKey"`
		RunID      string `json:"runId,omitempty"`
	}{sessionKey, runID}
	_, err := c.Call(ctx, MethodChatAbort, p)
	return err
}

// SessionInfo is one agent session as reported by the gateway.
type SessionInfo struct {
	Key        string `json:"key"`
	Label      string `json:"label,omitempty"`
	Active     bool   `json:"active"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
	InputToken int64  `json:"inputTokens,omitempty"`
}

// SessionsList returns the gateway's known agent sessions.
func (c *Client) SessionsList(ctx context.Context) ([]SessionInfo, error) {
	raw, err := c.Call(ctx, MethodSessionsList, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fault.Protocol("malformed sessions.list result: %v", err)
	}
	return res.Sessions, nil
}

// Status fetches the gateway's health document verbatim.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, MethodStatus, nil)
}

// ChatState classifies a chat event. Payloads whose state field names
// something this build does not know map to ChatUnrecognized instead of
// being dropped, so callers can log and continue.
type ChatState string

const (
	ChatDelta        ChatState = "delta"
	ChatFinal        ChatState = "final"
	ChatAborted      ChatState = "aborted"
	ChatError        ChatState = "error"
	ChatUnrecognized ChatState = "unrecognized"
)

// ChatEvent is a decoded "chat" gateway event.
type ChatEvent struct {
	State      ChatState
	RunID      string
	SessionKey string
	Text       string
	ErrMessage string

	// Attrs holds the raw fields of an unrecognized payload.
	Attrs map[string]any
}

// Terminal reports whether this event ends its run.
func (e *ChatEvent) Terminal() bool {
	switch e.State {
	case ChatFinal, ChatAborted, ChatError:
		return true
	}
	return false
}

// DecodeChatEvent parses a chat event payload. Only a missing or
// structurally invalid payload is an error; unknown states decode to
// ChatUnrecognized with the raw fields preserved in Attrs.
func DecodeChatEvent(payload json.RawMessage) (*ChatEvent, error) {
	var wire struct {
		State      string `json:"state"`
		RunID      string `json:"runId"`
		SessionKey string `json:"sessionKey"`
		Text       string `json:"text"`
		Message    string `json:"message"`
		Error      struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fault.Protocol("malformed chat event: %v", err)
	}
	if wire.State == "" {
		return nil, fault.Protocol("chat event has no state")
	}

	ev := &ChatEvent{
		RunID:      wire.RunID,
		SessionKey: wire.SessionKey,
		Text:       wire.Text,
	}
	switch ChatState(wire.State) {
	case ChatDelta:
		ev.State = ChatDelta
	case ChatFinal:
		ev.State = ChatFinal
	case ChatAborted:
		ev.State = ChatAborted
	case ChatError:
		ev.State = ChatError
		ev.ErrMessage = wire.Error.Message
		if ev.ErrMessage == "" {
			ev.ErrMessage = wire.Message
		}
		if ev.ErrMessage == "" {
			ev.ErrMessage = "agent run failed"
		}
	default:
		ev.State = ChatUnrecognized
		var attrs map[string]any
		if err := json.Unmarshal(payload, &attrs); err == nil {
			ev.Attrs = attrs
		}
	}
	return ev, nil
}
