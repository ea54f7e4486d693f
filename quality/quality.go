// Package quality scans extracted article text for signals that extraction
// failed to isolate article content: leftover navigation, embedded script
// fragments, truncated structure, paywall boilerplate. The scan is pure and
// deterministic — same text, same ordered issue list — and an empty result
// means no heuristic fired, not that the extraction is correct.
package quality

import (
	"fmt"
	"regexp"
	"strings"
)

// IssueType categorizes a detected extraction defect.
type IssueType string

const (
	TypeNavigation IssueType = "navigation"
	TypeJavascript IssueType = "javascript"
	TypeStructure  IssueType = "structure"
	TypeContent    IssueType = "content"
)

// Severity is fixed per category, not scaled by magnitude.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Issue is one detected defect. Ephemeral and derived — recomputed on
// demand, never persisted.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// MinArticleWords is the minimum viable article length. Documents shorter
// than this are flagged as a structure issue.
const MinArticleWords = 150

// linkClusterMin is how many consecutive link-only lines count as a
// residual navigation menu.
const linkClusterMin = 3

var navigationPhrases = []string{
	"skip to content",
	"skip to main content",
	"jump to navigation",
	"main menu",
	"primary menu",
	"toggle navigation",
	"open menu",
	"search this site",
	"back to top",
}

var scriptFingerprints = []string{
	"function(",
	"function (",
	"window.",
	"document.getelementbyid",
	"document.queryselector",
	"addeventlistener",
	"googletag",
	"gtag(",
	"datalayer",
	"use strict",
}

var contentPhrases = []string{
	"subscribe to continue",
	"subscribe now to read",
	"sign in to continue",
	"create a free account",
	"already a subscriber",
	"accept all cookies",
	"we use cookies",
	"cookie policy",
	"cookie settings",
	"advertisement",
}

// linkOnlyLine matches a line that is nothing but a markdown link, with an
// optional list bullet — the shape left behind by an unstripped nav menu.
var linkOnlyLine = regexp.MustCompile(`^\s*[-*]?\s*\[[^\]]+\]\([^)]*\)\s*$`)

// headingLine matches a markdown heading.
var headingLine = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)

// WordCount counts whitespace-separated tokens. No normalization beyond
// that — the comparison engine depends on this exact tokenization.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Detect scans a document and returns its issues in a fixed category order:
// structure, javascript, navigation, content. It performs no I/O and never
// panics; an empty document yields a single structure issue.
func Detect(text string) []Issue {
	if strings.TrimSpace(text) == "" {
		return []Issue{{
			Type:     TypeStructure,
			Severity: SeverityMedium,
			Message:  "document is empty",
		}}
	}

	var issues []Issue
	issues = append(issues, detectStructure(text)...)
	issues = append(issues, detectJavascript(text)...)
	issues = append(issues, detectNavigation(text)...)
	issues = append(issues, detectContent(text)...)
	return issues
}

func detectStructure(text string) []Issue {
	var issues []Issue
	if wc := WordCount(text); wc < MinArticleWords {
		issues = append(issues, Issue{
			Type:     TypeStructure,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("document has %d words, below the %d-word minimum for a viable article", wc, MinArticleWords),
		})
	}
	if !headingLine.MatchString(text) {
		issues = append(issues, Issue{
			Type:     TypeStructure,
			Severity: SeverityMedium,
			Message:  "document has no title or heading",
		})
	}
	return issues
}

func detectJavascript(text string) []Issue {
	lower := strings.ToLower(text)
	for _, fp := range scriptFingerprints {
		if strings.Contains(lower, fp) {
			return []Issue{{
				Type:     TypeJavascript,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("script fragment %q present in body text", fp),
			}}
		}
	}
	// Bracket-heavy lines are a code fingerprint even without a known token.
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < 12 {
			continue
		}
		symbols := strings.Count(trimmed, "{") + strings.Count(trimmed, "}") +
			strings.Count(trimmed, "(") + strings.Count(trimmed, ")") +
			strings.Count(trimmed, ";") + strings.Count(trimmed, "=")
		if float64(symbols)/float64(len(trimmed)) > 0.25 {
			return []Issue{{
				Type:     TypeJavascript,
				Severity: SeverityHigh,
				Message:  "bracket-heavy code-like line present in body text",
			}}
		}
	}
	return nil
}

func detectNavigation(text string) []Issue {
	lower := strings.ToLower(text)
	for _, phrase := range navigationPhrases {
		if strings.Contains(lower, phrase) {
			return []Issue{{
				Type:     TypeNavigation,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("navigation phrase %q survived into body text", phrase),
			}}
		}
	}
	run := 0
	for _, line := range strings.Split(text, "\n") {
		if linkOnlyLine.MatchString(line) {
			run++
			if run >= linkClusterMin {
				return []Issue{{
					Type:     TypeNavigation,
					Severity: SeverityMedium,
					Message:  fmt.Sprintf("cluster of %d+ consecutive link-only lines looks like a residual menu", linkClusterMin),
				}}
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			run = 0
		}
	}
	return nil
}

func detectContent(text string) []Issue {
	lower := strings.ToLower(text)
	for _, phrase := range contentPhrases {
		if strings.Contains(lower, phrase) {
			return []Issue{{
				Type:     TypeContent,
				Severity: SeverityLow,
				Message:  fmt.Sprintf("boilerplate phrase %q suggests a paywall or consent interstitial", phrase),
			}}
		}
	}
	return nil
}
