// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "What Is GO?", "what is go"},
		{"strips punctuation", "hello, world!!!", "hello world"},
		{"collapses whitespace", "  a \t b \n c  ", "a b c"},
		{"keeps digits", "what is 2+2?", "what is 22"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestProperty_NormalizeIdempotent checks that normalizing twice equals
// normalizing once, for arbitrary input.
func TestProperty_NormalizeIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalize is idempotent", prop.ForAll(
		func(s string) bool {
			once := Normalize(s)
			return Normalize(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("normalized output is lowercase", prop.ForAll(
		func(s string) bool {
			n := Normalize(s)
			return n == strings.ToLower(n)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestProperty_SimilarityBounds checks similarity is symmetric, bounded, and
// maximal on identical inputs.
func TestProperty_SimilarityBounds(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("similarity is symmetric and in [0,1]", prop.ForAll(
		func(a, b string) bool {
			s1 := Similarity(a, b)
			s2 := Similarity(b, a)
			return s1 == s2 && s1 >= 0 && s1 <= 1
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("identical strings have similarity 1", prop.ForAll(
		func(a string) bool {
			return Similarity(a, a) == 1.0
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestSimilarity(t *testing.T) {
	if sim := Similarity("kitten", "sitting"); sim <= 0.5 || sim >= 0.6 {
		t.Errorf("Similarity(kitten, sitting) = %.3f, want ~0.571", sim)
	}
	if sim := Similarity("", ""); sim != 1.0 {
		t.Errorf("Similarity of two empty strings = %.3f, want 1", sim)
	}
	if sim := Similarity("abc", ""); sim != 0 {
		t.Errorf("Similarity(abc, \"\") = %.3f, want 0", sim)
	}
}

// TestSimilarityFillerPrefix checks that polite filler around an otherwise
// identical query still clears the default 0.85 threshold, and that a bare
// fragment of a longer query does not.
func TestSimilarityFillerPrefix(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		overSim float64
		hit     bool
	}{
		{"please prefix", "please explain recursion", "explain recursion", 0.85, true},
		{"trailing thanks", "explain recursion thanks", "explain recursion", 0.85, true},
		{"identical after normalize", "explain recursion", "explain recursion", 0.85, true},
		{"single-word fragment", "explain", "explain recursion", 0.85, false},
		{"different topic", "explain recursion", "reverse a linked list", 0.85, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := Similarity(Normalize(tt.a), Normalize(tt.b))
			if got := sim >= tt.overSim; got != tt.hit {
				t.Errorf("Similarity(%q, %q) = %.3f, want hit=%v at %.2f",
					tt.a, tt.b, sim, tt.hit, tt.overSim)
			}
		})
	}
}
