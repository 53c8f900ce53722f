// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package audit provides the append-only decision audit sink. Writes are
// best-effort and fire-and-forget: an audit failure must never fail or delay
// a user-facing result.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one audit entry: the query digest (never the raw query), the
// routing decision taken, and a summary of how execution went.
type Record struct {
	Timestamp   time.Time              `json:"timestamp"`
	RequestID   string                 `json:"request_id"`
	QueryDigest string                 `json:"query_digest"`
	Strategy    string                 `json:"strategy"`
	Backend     string                 `json:"backend"`
	Fallback    string                 `json:"fallback,omitempty"`
	Confidence  float64                `json:"confidence"`
	Forced      bool                   `json:"forced,omitempty"`
	Escalated   bool                   `json:"escalated,omitempty"`
	Outcome     string                 `json:"outcome,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Config holds audit sink settings.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	LogPath    string `yaml:"log-path" json:"log_path"`
	MaxSizeMB  int    `yaml:"max-size-mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max-backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max-age-days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Sink writes JSON lines to a rotating audit log. A disabled sink is a no-op.
type Sink struct {
	mu      sync.Mutex
	encoder *json.Encoder
	file    *lumberjack.Logger
	enabled bool
}

// NewSink creates an audit sink with the given configuration.
func NewSink(cfg Config) (*Sink, error) {
	if !cfg.Enabled {
		return &Sink{enabled: false}, nil
	}

	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 10
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 30
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join("logs", "decisions.log")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	return &Sink{
		encoder: json.NewEncoder(file),
		file:    file,
		enabled: true,
	}, nil
}

// Write appends one record. Thread-safe; failures are logged and swallowed.
func (s *Sink) Write(rec Record) {
	if s == nil || !s.enabled {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(rec); err != nil {
		log.WithFields(log.Fields{
			"request_id": rec.RequestID,
			"backend":    rec.Backend,
		}).Warnf("audit: failed to write record: %v", err)
	}
}

// Close flushes and closes the underlying log file.
func (s *Sink) Close() error {
	if s == nil || !s.enabled || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Digest returns the audit-safe SHA-256 digest of a query.
func Digest(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "sha256:" + hex.EncodeToString(sum[:])
}
