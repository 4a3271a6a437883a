// Package evidence provides the lexical heuristics the detector uses to
// decide whether a clinical note documents something as done rather than
// merely planned.
//
// These are deliberately cheap positional checks over lower-cased text, not
// tokenized NLP. Their windowing and first-occurrence behavior are contract
// details the detector depends on, so they live here as standalone pure
// functions rather than inside the rule bodies.
package evidence

import "strings"

// PerformedHints are the lexical cues treated as evidence that a mentioned
// intervention was actually carried out.
var PerformedHints = []string{
	"performed", "done", "completed", "administered", "given", "provided",
	"carried out", "obtained", "obtained in clinic", "obtained today",
}

// HasAll reports whether every term occurs as a substring of text.
// Matching is case-insensitive.
func HasAll(text string, terms ...string) bool {
	low := strings.ToLower(text)
	for _, t := range terms {
		if !strings.Contains(low, strings.ToLower(t)) {
			return false
		}
	}
	return true
}

// Near reports whether term occurs within window bytes before the start
// or after the end of the first occurrence of anchor in text. Matching is
// case-insensitive and order-agnostic around the anchor; only the first
// anchor occurrence is considered. Returns false when the anchor is
// absent.
//
// The window is measured in bytes, not runes, so multi-byte characters
// between anchor and term narrow the effective window. The anchor and
// hint lexicons are ASCII, so this only matters for surrounding note
// text.
func Near(text, anchor, term string, window int) bool {
	low := strings.ToLower(text)
	anchor = strings.ToLower(anchor)

	idx := strings.Index(low, anchor)
	if idx == -1 {
		return false
	}

	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + len(anchor) + window
	if end > len(low) {
		end = len(low)
	}

	return strings.Contains(low[start:end], strings.ToLower(term))
}

// AnyHintNear reports whether any performed-hint occurs within window
// characters of any of the anchors.
func AnyHintNear(text string, anchors []string, window int) bool {
	for _, anchor := range anchors {
		for _, hint := range PerformedHints {
			if Near(text, anchor, hint, window) {
				return true
			}
		}
	}
	return false
}

// AnyHintPresent reports whether any performed-hint occurs anywhere in text.
func AnyHintPresent(text string) bool {
	for _, hint := range PerformedHints {
		if HasAll(text, hint) {
			return true
		}
	}
	return false
}

// AnyPresent reports whether any of the terms occurs anywhere in text.
func AnyPresent(text string, terms ...string) bool {
	for _, t := range terms {
		if HasAll(text, t) {
			return true
		}
	}
	return false
}
