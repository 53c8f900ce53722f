// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import "strings"

var codingPatterns = []string{
	"function", "def ", "class ", "import ", "console.log", "print(",
	"```", "git ", "npm ", "pip ", "cargo ", "compile", "debug",
	"coding", "programming", "software", "algorithm", "data structure",
	"refactor", "stack trace", "segfault",
}

var creativePatterns = []string{
	"write a story", "write a poem", "poem", "short story", "creative",
	"brainstorm", "song lyrics", "fiction", "character", "plot",
	"slogan", "tagline",
}

var mathPatterns = []string{
	"calculate", "solve", "equation", "formula", "derivative", "integral",
	"matrix", "probability", "statistics", "algebra", "geometry",
	"calculus", "x =", "y =", "f(x)", "theorem", "proof",
}

// ClassifyCategory assigns a query to a task category for backend selection.
// Coding is checked first: code questions frequently mention math vocabulary
// but rarely the reverse.
func ClassifyCategory(query string) string {
	lower := strings.ToLower(query)

	for _, p := range codingPatterns {
		if strings.Contains(lower, p) {
			return CategoryCoding
		}
	}
	for _, p := range mathPatterns {
		if strings.Contains(lower, p) {
			return CategoryMath
		}
	}
	for _, p := range creativePatterns {
		if strings.Contains(lower, p) {
			return CategoryCreative
		}
	}
	return CategoryGeneral
}
