// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize canonicalizes a query for caching: lowercase, punctuation
// stripped, whitespace collapsed to single spaces. Idempotent: normalizing an
// already-normalized string is a no-op.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	lastSpace := true
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// HashKey returns the hex SHA-256 of a normalized query.
func HashKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Similarity scores two normalized queries in [0,1]. It takes the better of
// character edit-distance similarity and word-overlap similarity: pure edit
// distance over-penalizes filler prefixes ("please explain recursion" is a
// near-match for "explain recursion"), while word overlap catches them.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0.0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	char := 1.0 - float64(levenshtein(a, b))/float64(maxLen)
	if word := wordSimilarity(a, b); word > char {
		return word
	}
	return char
}

// wordSimilarity measures word overlap against the shorter query, charging a
// quarter edit for every word only the longer one has.
func wordSimilarity(a, b string) float64 {
	short, long := strings.Fields(a), strings.Fields(b)
	if len(long) < len(short) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0.0
	}

	counts := make(map[string]int, len(long))
	for _, w := range long {
		counts[w]++
	}
	shared := 0
	for _, w := range short {
		if counts[w] > 0 {
			counts[w]--
			shared++
		}
	}

	extra := len(long) - shared
	sim := (float64(shared) - 0.25*float64(extra)) / float64(len(short))
	if sim < 0 {
		return 0.0
	}
	return sim
}

// levenshtein computes edit distance with a two-row DP over bytes; normalized
// queries are ASCII-dominated so byte distance is adequate here.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost

			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			cur[j] = min
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
