// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the orchestrator over HTTP: a chat endpoint with
// optional SSE streaming, and a metrics endpoint aggregating component
// counters.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/orchestrator"
)

// MetricsSource is any component exposing counters for /v1/metrics.
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

// Server is the HTTP front end.
type Server struct {
	service *orchestrator.Service
	metrics map[string]MetricsSource
	engine  *gin.Engine
}

// NewServer builds the HTTP server over the orchestrator. metrics maps a
// component name to its counter source.
func NewServer(service *orchestrator.Service, metrics map[string]MetricsSource, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		service: service,
		metrics: metrics,
		engine:  gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(requestIDMiddleware())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/v1/metrics", s.handleMetrics)
	s.engine.POST("/v1/chat", s.handleChat)

	return s
}

// requestIDMiddleware assigns each request a short ID used in logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// Handler returns the underlying http.Handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP server and blocks.
func (s *Server) Run(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Infof("API server listening on %s", addr)
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	out := make(map[string]interface{}, len(s.metrics))
	for name, src := range s.metrics {
		if src != nil {
			out[name] = src.GetMetrics()
		}
	}
	c.JSON(http.StatusOK, out)
}
