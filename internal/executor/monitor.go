// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"strings"

	"github.com/traylinx/converse/internal/cache"
	"github.com/traylinx/converse/internal/quality"
)

// MonitorConfig tunes the in-flight quality checks.
type MonitorConfig struct {
	// MinChunks is the chunk count before the first check runs.
	MinChunks int `yaml:"min_chunks" json:"min_chunks"`

	// CheckInterval is the chunk spacing between checks after the first.
	CheckInterval int `yaml:"check_interval" json:"check_interval"`

	// RepetitionWindow is how many recent chunks the repetition detector
	// scans.
	RepetitionWindow int `yaml:"repetition_window" json:"repetition_window"`

	// RepetitionLimit is the repeat count that trips the detector.
	RepetitionLimit int `yaml:"repetition_limit" json:"repetition_limit"`

	// MinCoherence is the coherence floor for accumulated text.
	MinCoherence float64 `yaml:"min_coherence" json:"min_coherence"`

	// MaxUncertaintyDensity is the tolerated ratio of uncertainty markers
	// to words.
	MaxUncertaintyDensity float64 `yaml:"max_uncertainty_density" json:"max_uncertainty_density"`
}

// DefaultMonitorConfig returns the default in-flight check tuning.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MinChunks:             5,
		CheckInterval:         3,
		RepetitionWindow:      10,
		RepetitionLimit:       3,
		MinCoherence:          0.4,
		MaxUncertaintyDensity: 0.08,
	}
}

var uncertaintyMarkers = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"it's unclear",
	"i cannot say",
	"maybe",
	"possibly",
	"perhaps",
	"it might be",
	"it could be",
}

// streamMonitor runs cheap checks over an in-flight stream. It keeps the
// accumulated text and a sliding window of normalized chunk values; all work
// happens on the chunk-emission path, so every check stays O(window).
type streamMonitor struct {
	cfg    MonitorConfig
	text   strings.Builder
	window []string
	chunks int
}

func newStreamMonitor(cfg MonitorConfig) *streamMonitor {
	if cfg.MinChunks <= 0 {
		cfg = DefaultMonitorConfig()
	}
	return &streamMonitor{cfg: cfg}
}

// observe records one delivered chunk.
func (m *streamMonitor) observe(content string) {
	m.chunks++
	m.text.WriteString(content)

	norm := cache.Normalize(content)
	if norm == "" {
		return
	}
	m.window = append(m.window, norm)
	if len(m.window) > m.cfg.RepetitionWindow {
		m.window = m.window[1:]
	}
}

// due reports whether a check should run at the current chunk count.
func (m *streamMonitor) due() bool {
	if m.chunks < m.cfg.MinChunks {
		return false
	}
	return (m.chunks-m.cfg.MinChunks)%m.cfg.CheckInterval == 0
}

// verdict is the outcome of one in-flight check.
type verdict struct {
	ok     bool
	reason string
	score  float64
}

// check runs the three in-flight signals over the accumulated output.
func (m *streamMonitor) check() verdict {
	if reps := m.maxRepeats(); reps >= m.cfg.RepetitionLimit {
		return verdict{reason: "repetition detected", score: 0.2}
	}

	coherence := quality.ScoreCoherence(m.text.String())
	if coherence < m.cfg.MinCoherence {
		return verdict{reason: "coherence below threshold", score: coherence}
	}

	if density := m.uncertaintyDensity(); density > m.cfg.MaxUncertaintyDensity {
		return verdict{reason: "excessive uncertainty markers", score: 1 - density}
	}

	return verdict{ok: true, score: coherence}
}

// maxRepeats returns the highest repeat count of any normalized chunk value
// within the window.
func (m *streamMonitor) maxRepeats() int {
	counts := make(map[string]int, len(m.window))
	max := 0
	for _, v := range m.window {
		counts[v]++
		if counts[v] > max {
			max = counts[v]
		}
	}
	return max
}

// uncertaintyDensity is the ratio of uncertainty-marker hits to total words.
func (m *streamMonitor) uncertaintyDensity() float64 {
	text := strings.ToLower(m.text.String())
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	hits := 0
	for _, marker := range uncertaintyMarkers {
		hits += strings.Count(text, marker)
	}
	return float64(hits) / float64(words)
}

// accumulated returns the full text delivered so far.
func (m *streamMonitor) accumulated() string {
	return m.text.String()
}
