// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/complexity"
	"github.com/traylinx/converse/internal/decision"
	"github.com/traylinx/converse/internal/executor"
	"github.com/traylinx/converse/internal/orchestrator"
)

// ChatRequest is the /v1/chat request body.
type ChatRequest struct {
	Query         string            `json:"query" binding:"required"`
	Context       []complexity.Turn `json:"context,omitempty"`
	Priority      string            `json:"priority,omitempty"`
	PrivacyLevel  string            `json:"privacy_level,omitempty"`
	MaxCost       float64           `json:"max_cost,omitempty"`
	MaxLatency    int64             `json:"max_latency_ms,omitempty"`
	MinConfidence float64           `json:"min_confidence,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
}

// streamEvent is one SSE payload sent while streaming.
type streamEvent struct {
	RequestID string `json:"request_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	oreq := orchestrator.Request{
		Query:   req.Query,
		Context: req.Context,
		Preferences: decision.Preferences{
			Priority:        decision.Priority(req.Priority),
			PrivacyLevel:    decision.PrivacyLevel(req.PrivacyLevel),
			MaxCostPerQuery: req.MaxCost,
			MaxLatencyMs:    req.MaxLatency,
			MinConfidence:   req.MinConfidence,
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.Stream {
		s.streamChat(c, oreq)
		return
	}

	answer, err := s.service.Handle(c.Request.Context(), oreq, nil)
	if errors.Is(err, executor.ErrRequestAborted) {
		// The client went away; nothing useful to write.
		c.Status(http.StatusRequestTimeout)
		return
	}
	if err != nil {
		requestID, _ := c.Get("request_id")
		log.WithField("request_id", requestID).Errorf("chat request failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answer)
}

// streamChat forwards orchestrator chunks to the client as SSE events. The
// request context is the abort signal: a client disconnect cancels the
// backend stream at the next chunk boundary.
func (s *Server) streamChat(c *gin.Context, oreq orchestrator.Request) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	writeEvent := func(ev streamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = c.Writer.WriteString("data: ")
		_, _ = c.Writer.Write(data)
		_, _ = c.Writer.WriteString("\n\n")
		flusher.Flush()
	}

	answer, err := s.service.Handle(c.Request.Context(), oreq, func(chunk backend.StreamChunk) {
		if content := chunk.Content(); content != "" {
			writeEvent(streamEvent{Content: content})
		}
	})

	switch {
	case errors.Is(err, executor.ErrRequestAborted):
		writeEvent(streamEvent{Aborted: true, Done: true})
	case err != nil:
		writeEvent(streamEvent{Error: err.Error(), Done: true})
	default:
		writeEvent(streamEvent{RequestID: answer.RequestID, Done: true})
	}
	_, _ = c.Writer.WriteString("data: [DONE]\n\n")
	flusher.Flush()
}
