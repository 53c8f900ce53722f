// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// OllamaAdapter talks to a locally running Ollama instance over HTTP
// (default http://localhost:11434). It is the on-device execution target.
type OllamaAdapter struct {
	baseURL string
	client  *http.Client
}

// NewOllamaAdapter creates an adapter for the local Ollama server.
func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (a *OllamaAdapter) Identifier() string { return "ollama" }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (a *OllamaAdapter) buildPayload(req Request, stream bool) ([]byte, error) {
	body := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if req.Temperature > 0 {
		body.Options = map[string]any{"temperature": req.Temperature}
	}
	if req.MaxTokens > 0 {
		if body.Options == nil {
			body.Options = map[string]any{}
		}
		body.Options["num_predict"] = req.MaxTokens
	}
	return json.Marshal(body)
}

// Query performs a single non-streaming generation against Ollama.
func (a *OllamaAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	payload, err := a.buildPayload(req, false)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, StatusError{Code: resp.StatusCode, Msg: fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(body))}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse ollama response: %w", err)
	}

	log.Debugf("ollama response: model=%s, content_len=%d", out.Model, len(out.Message.Content))

	return &Response{
		ID:    "chatcmpl-ollama-" + uuid.New().String(),
		Model: out.Model,
		Choices: []Choice{{
			Message:      Message{Role: out.Message.Role, Content: out.Message.Content},
			FinishReason: "stop",
		}},
		Usage: &Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// QueryStream streams generation chunks from Ollama. The returned channel is
// closed when the upstream stream ends or ctx is cancelled.
func (a *OllamaAdapter) QueryStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	payload, err := a.buildPayload(req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, StatusError{Code: resp.StatusCode, Msg: fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(body))}
	}

	chunkID := "chatcmpl-ollama-" + uuid.New().String()
	ch := make(chan StreamChunk, 64)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var oc ollamaResponse
			if err := json.Unmarshal(line, &oc); err != nil {
				log.Warnf("failed to parse ollama stream chunk: %v", err)
				continue
			}

			chunk := StreamChunk{
				ID:    chunkID,
				Model: oc.Model,
				Choices: []StreamChoice{{
					Delta: Delta{Content: oc.Message.Content},
				}},
			}
			if oc.Done {
				reason := "stop"
				chunk.Choices[0].FinishReason = &reason
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}

			if oc.Done {
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil {
			select {
			case ch <- StreamChunk{Err: errScan}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
