// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package complexity

import "regexp"

// Sensitive-data detectors run independently; a single match flags the query.
// These are deliberately broad: a false positive costs one local answer, a
// false negative leaks data off-device.
var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s\-.]?)?\(?\d{3}\)?[\s\-.]\d{3}[\s\-.]?\d{4}\b`)
)

// ContainsSensitiveData reports whether the text matches any PII pattern
// (government ID, payment card, email, phone). It is evaluated before any
// routing decision and cannot be bypassed by preferences or strategy.
func ContainsSensitiveData(text string) bool {
	return ssnPattern.MatchString(text) ||
		cardPattern.MatchString(text) ||
		emailPattern.MatchString(text) ||
		phonePattern.MatchString(text)
}
