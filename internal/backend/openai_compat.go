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
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAICompatAdapter executes against any OpenAI-compatible provider
// endpoint using per-backend credentials. One instance serves one provider.
type OpenAICompatAdapter struct {
	provider string
	baseURL  string
	apiKey   string
	client   *http.Client
}

// NewOpenAICompatAdapter creates an adapter bound to a provider key
// (e.g. "openrouter") with its base URL and API key.
func NewOpenAICompatAdapter(provider, baseURL, apiKey string) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{
		provider: provider,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (a *OpenAICompatAdapter) Identifier() string { return a.provider }

func (a *OpenAICompatAdapter) preparePayload(req Request, stream bool) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	// The stream flag on the wire must match the execution mode regardless of
	// what the caller set on the request struct.
	payload, err = sjson.SetBytes(payload, "stream", stream)
	if err != nil {
		return nil, fmt.Errorf("failed to set stream flag: %w", err)
	}
	return payload, nil
}

func (a *OpenAICompatAdapter) newHTTPRequest(ctx context.Context, payload []byte, stream bool) (*http.Request, error) {
	url := a.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "converse-orchestrator")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}
	return httpReq, nil
}

// Query performs a single non-streaming chat completion.
func (a *OpenAICompatAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	if a.baseURL == "" {
		return nil, StatusError{Code: http.StatusUnauthorized, Msg: "missing provider baseURL"}
	}
	payload, err := a.preparePayload(req, false)
	if err != nil {
		return nil, err
	}
	httpReq, err := a.newHTTPRequest(ctx, payload, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("openai compat adapter: close response body error: %v", errClose)
		}
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(httpResp.Body)
		log.Debugf("request error, status: %d, body: %s", httpResp.StatusCode, string(b))
		return nil, StatusError{Code: httpResp.StatusCode, Msg: string(b)}
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", a.provider, err)
	}
	return &out, nil
}

// QueryStream streams SSE chunks from the provider. The returned channel is
// closed when the stream ends or ctx is cancelled.
func (a *OpenAICompatAdapter) QueryStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if a.baseURL == "" {
		return nil, StatusError{Code: http.StatusUnauthorized, Msg: "missing provider baseURL"}
	}
	payload, err := a.preparePayload(req, true)
	if err != nil {
		return nil, err
	}
	httpReq, err := a.newHTTPRequest(ctx, payload, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		b, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		log.Debugf("request error, status: %d, body: %s", httpResp.StatusCode, string(b))
		return nil, StatusError{Code: httpResp.StatusCode, Msg: string(b)}
	}

	ch := make(chan StreamChunk, 64)

	go func() {
		defer close(ch)
		defer func() {
			if errClose := httpResp.Body.Close(); errClose != nil {
				log.Errorf("openai compat adapter: close response body error: %v", errClose)
			}
		}()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(nil, 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			data, ok := parseSSELine(line)
			if !ok {
				continue
			}
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			chunk, ok := decodeStreamChunk(data)
			if !ok {
				log.Warnf("failed to parse %s stream chunk", a.provider)
				continue
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
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

// parseSSELine strips the "data: " prefix from an SSE line. Comment and event
// lines are skipped.
func parseSSELine(line []byte) ([]byte, bool) {
	const prefix = "data:"
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(prefix):]), true
}

// decodeStreamChunk parses one OpenAI-format stream chunk into the uniform
// contract.
func decodeStreamChunk(data []byte) (StreamChunk, bool) {
	if !gjson.ValidBytes(data) {
		return StreamChunk{}, false
	}
	root := gjson.ParseBytes(data)
	chunk := StreamChunk{
		ID:    root.Get("id").String(),
		Model: root.Get("model").String(),
	}
	for _, c := range root.Get("choices").Array() {
		sc := StreamChoice{
			Index: int(c.Get("index").Int()),
			Delta: Delta{Content: c.Get("delta.content").String()},
		}
		if fr := c.Get("finish_reason"); fr.Exists() && fr.Type == gjson.String {
			reason := fr.String()
			sc.FinishReason = &reason
		}
		chunk.Choices = append(chunk.Choices, sc)
	}
	return chunk, true
}
