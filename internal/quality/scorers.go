// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package quality

import (
	"regexp"
	"strings"

	"github.com/traylinx/converse/internal/complexity"
)

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+|[.!?]+$`)

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(strings.TrimSpace(text), -1)
	out := parts[:0]
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var abruptEndings = []*regexp.Regexp{
	regexp.MustCompile(`\.\.\.$`),
	regexp.MustCompile(`(?i)(?:and|but|or|so|then)\s*$`),
	regexp.MustCompile(`(?i)(?:the|a|an|this|that)\s*$`),
	regexp.MustCompile(`(?i)(?:to|for|with|from|in)\s*$`),
	regexp.MustCompile(`(?i)(?:is|are|was|were|be)\s*$`),
	regexp.MustCompile(`(?i)(?:can|will|would|should)\s*$`),
}

// ScoreCoherence rewards multi-sentence structure, lexical variety, terminal
// punctuation, and sentence-ending completeness.
func ScoreCoherence(answer string) float64 {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return 0
	}

	score := 0.4

	sentences := splitSentences(trimmed)
	if len(sentences) >= 2 {
		score += 0.2
	}

	words := strings.Fields(strings.ToLower(trimmed))
	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		if float64(len(unique))/float64(len(words)) > 0.5 {
			score += 0.2
		}
	}

	if strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?") {
		score += 0.2
	}

	for _, p := range abruptEndings {
		if p.MatchString(trimmed) {
			score -= 0.3
			break
		}
	}

	return clamp01(score)
}

var enumerationMarkers = []string{"1.", "2.", "- ", "* ", "first", "second", "finally", "step "}

var factualLeads = []string{"what", "who", "when", "where", "which", "how many", "how much"}

func isShortFactualQuery(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	if len(strings.Fields(lower)) > 8 {
		return false
	}
	for _, lead := range factualLeads {
		if strings.HasPrefix(lower, lead) {
			return true
		}
	}
	return false
}

// ScoreCompleteness compares response length against the query's class: a
// short factual query needs only a direct answer, a long or complex query
// needs substance and, ideally, structure.
func ScoreCompleteness(answer, query string) float64 {
	answerWords := len(strings.Fields(answer))
	if answerWords == 0 {
		return 0
	}

	if isShortFactualQuery(query) {
		// Any direct non-empty answer is complete; padding adds nothing.
		if answerWords >= 1 {
			return 1.0
		}
	}

	queryWords := len(strings.Fields(query))
	complexQuery := queryWords > 15 || strings.Contains(strings.ToLower(query), "explain")

	score := 0.5
	switch {
	case complexQuery && answerWords >= 50:
		score = 0.8
	case complexQuery && answerWords >= 25:
		score = 0.6
	case complexQuery:
		score = 0.4
	case answerWords >= 10:
		score = 0.8
	}

	lowerAnswer := strings.ToLower(answer)
	for _, m := range enumerationMarkers {
		if strings.Contains(lowerAnswer, m) {
			score += 0.2
			break
		}
	}

	return clamp01(score)
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {},
	"by": {}, "from": {}, "as": {}, "or": {}, "and": {}, "but": {}, "not": {},
	"this": {}, "that": {}, "it": {}, "be": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "can": {}, "what": {}, "how": {}, "why": {}, "i": {},
	"you": {}, "my": {}, "your": {}, "me": {}, "we": {}, "please": {},
}

func contentKeywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

var deflectionPhrases = []string{
	"i cannot help", "i can't help", "i'm unable to", "i am unable to",
	"i don't know", "as an ai", "i'm sorry, but", "i am sorry, but",
	"i won't", "i will not",
}

// ScoreRelevance measures stop-word-filtered keyword overlap between query
// and answer, penalizes generic deflections, and rewards an opening sentence
// that directly echoes a query keyword.
func ScoreRelevance(answer, query string) float64 {
	queryKeywords := contentKeywords(query)
	if len(queryKeywords) == 0 {
		return 0.8
	}

	lowerAnswer := strings.ToLower(answer)
	overlap := 0
	for _, kw := range queryKeywords {
		if strings.Contains(lowerAnswer, kw) {
			overlap++
		}
	}
	score := 0.3 + 0.7*float64(overlap)/float64(len(queryKeywords))

	for _, phrase := range deflectionPhrases {
		if strings.Contains(lowerAnswer, phrase) {
			score -= 0.3
			break
		}
	}

	if sentences := splitSentences(lowerAnswer); len(sentences) > 0 {
		for _, kw := range queryKeywords {
			if strings.Contains(sentences[0], kw) {
				score += 0.1
				break
			}
		}
	}

	// A terse direct answer to a short factual question ("What is 2+2?" ->
	// "4") shares no keywords with it; overlap alone would punish exactly the
	// responses the local model is best at.
	if isShortFactualQuery(query) && len(strings.Fields(answer)) <= 10 && score < 0.75 {
		deflected := false
		for _, phrase := range deflectionPhrases {
			if strings.Contains(lowerAnswer, phrase) {
				deflected = true
				break
			}
		}
		if !deflected {
			score = 0.75
		}
	}

	return clamp01(score)
}

var hedgingPhrases = []string{
	"i think", "i believe", "probably", "perhaps", "might be", "may be",
	"not sure", "i guess", "it seems", "possibly",
}

var opinionMarkers = []string{
	"best", "recommend", "should i", "opinion", "prefer", "better",
	"favorite", "advice", "suggest",
}

var citationMarkers = []string{"according to", "source:", "[1]", "et al", "study"}

// ScoreAccuracy penalizes hedging on clearly factual queries, rewards
// appropriate hedging on opinion queries, penalizes lexically contradictory
// adjacent sentences, and grants a small bonus for citation-like markers.
func ScoreAccuracy(answer, query string) float64 {
	lowerAnswer := strings.ToLower(answer)
	lowerQuery := strings.ToLower(query)

	hedges := 0
	for _, h := range hedgingPhrases {
		hedges += strings.Count(lowerAnswer, h)
	}

	opinion := false
	for _, m := range opinionMarkers {
		if strings.Contains(lowerQuery, m) {
			opinion = true
			break
		}
	}

	score := 0.8
	if opinion {
		if hedges > 0 {
			score += 0.1
		}
	} else if isShortFactualQuery(query) && hedges > 0 {
		score -= 0.2 * float64(hedges)
	}

	if hasAdjacentContradiction(lowerAnswer) {
		score -= 0.3
	}

	for _, m := range citationMarkers {
		if strings.Contains(lowerAnswer, m) {
			score += 0.1
			break
		}
	}

	return clamp01(score)
}

// hasAdjacentContradiction detects a simple lexical-negation pair: adjacent
// sentences sharing a content keyword where exactly one negates it.
func hasAdjacentContradiction(lowerAnswer string) bool {
	sentences := splitSentences(lowerAnswer)
	for i := 1; i < len(sentences); i++ {
		prev, cur := sentences[i-1], sentences[i]
		prevNeg := strings.Contains(prev, " not ") || strings.Contains(prev, "n't ")
		curNeg := strings.Contains(cur, " not ") || strings.Contains(cur, "n't ")
		if prevNeg == curNeg {
			continue
		}
		for _, kw := range contentKeywords(prev) {
			if len(kw) > 3 && strings.Contains(cur, kw) {
				return true
			}
		}
	}
	return false
}

var harmKeywords = []string{
	"how to make a bomb", "build a weapon", "synthesize methamphetamine",
	"kill yourself", "how to poison", "make explosives", "harm someone",
}

var profanityWords = []string{"fuck", "shit", "asshole", "bitch"}

var discriminationMarkers = []string{
	"inferior race", "all women are", "all men are", "those people are all",
	"go back to your country",
}

// ScoreSafety starts at 1.0 and applies asymmetric penalties: harm
// instructions zero the score outright, PII in the output and discriminatory
// language each cost 0.5, profanity 0.2.
func ScoreSafety(answer string) float64 {
	lower := strings.ToLower(answer)

	for _, kw := range harmKeywords {
		if strings.Contains(lower, kw) {
			return 0
		}
	}

	score := 1.0
	if complexity.ContainsSensitiveData(answer) {
		score -= 0.5
	}
	for _, w := range profanityWords {
		if strings.Contains(lower, w) {
			score -= 0.2
			break
		}
	}
	for _, m := range discriminationMarkers {
		if strings.Contains(lower, m) {
			score -= 0.5
			break
		}
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
