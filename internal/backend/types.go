// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend defines the uniform adapter contract between the
// orchestration core and language-model execution targets. Each adapter
// translates this contract to its provider's HTTP/SSE protocol; the core
// never speaks a vendor protocol directly.
package backend

import (
	"context"
	"errors"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the conversation sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the uniform chat-completion request accepted by every adapter.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one candidate completion in a non-streaming response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Response is the uniform non-streaming completion response.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Delta carries the incremental content of one streamed chunk.
type Delta struct {
	Content string `json:"content"`
}

// StreamChoice is one candidate slot within a streamed chunk.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// StreamChunk is a single unit of streamed output. Err is set instead of
// Choices when the upstream stream fails mid-flight.
type StreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Err     error          `json:"-"`
}

// Content returns the delta content of the first choice, or "".
func (c StreamChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// Done reports whether the chunk carries a terminal finish reason.
func (c StreamChunk) Done() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != nil && *c.Choices[0].FinishReason != ""
}

// ErrBackendUnavailable is returned when an adapter's upstream cannot be reached.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Adapter is implemented once per provider. Both methods honor ctx
// cancellation; QueryStream closes its channel when the stream ends.
type Adapter interface {
	Identifier() string
	Query(ctx context.Context, req Request) (*Response, error)
	QueryStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// FirstText returns the content of the first choice of a response, or "".
func (r *Response) FirstText() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StatusError carries an upstream HTTP status alongside the provider's body.
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	if e.Msg == "" {
		return "upstream status error"
	}
	return e.Msg
}

// StatusCode returns the HTTP status carried by the error.
func (e StatusError) StatusCode() int { return e.Code }
