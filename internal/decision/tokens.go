// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens counts tokens across the given texts with the cl100k BPE
// vocabulary, falling back to a words*4/3 heuristic when the tokenizer is
// unavailable. Used for cost and latency estimates, not billing.
func EstimateTokens(texts ...string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warnf("decision: tokenizer unavailable, using word-count estimate: %v", err)
			return
		}
		codec = c
	})

	total := 0
	for _, text := range texts {
		if codec != nil {
			if ids, _, err := codec.Encode(text); err == nil {
				total += len(ids)
				continue
			}
		}
		total += len(strings.Fields(text)) * 4 / 3
	}
	return total
}

// assumedCompletionTokens is the output-size assumption baked into cost
// estimates when the real completion length is unknowable up front.
const assumedCompletionTokens = 256

// EstimateCost computes the expected monetary cost of answering a query on a
// backend with the given per-1000-token rate.
func EstimateCost(costPer1K float64, promptTokens int) float64 {
	return costPer1K * float64(promptTokens+assumedCompletionTokens) / 1000.0
}
