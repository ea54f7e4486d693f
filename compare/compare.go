// Package compare aligns two extraction outputs for the same article — a
// candidate (the Go worker) and a baseline (the legacy Python pipeline) —
// and computes differential word-count metrics plus the quality issues of
// each side. Counting is whitespace tokenization only; no semantic
// alignment is attempted beyond assuming both texts realize the same job.
package compare

import (
	"log/slog"
	"math"

	"github.com/Denter-/extraction-monitor/quality"
)

// DefaultDivergenceThreshold is the word-count delta magnitude, in percent,
// beyond which the candidate is classified as divergent. A delta of exactly
// the threshold is still within range.
const DefaultDivergenceThreshold = 20

// Result holds the differential metrics for one comparison.
type Result struct {
	CandidateWords int `json:"candidate_words"`
	BaselineWords  int `json:"baseline_words"`
	// DeltaPercent is the signed percentage delta of candidate vs. baseline
	// word count, rounded to the nearest integer. Defined as 0 when the
	// baseline count is 0.
	DeltaPercent int `json:"delta_percent"`
	// Divergent is true when |DeltaPercent| exceeds the engine threshold —
	// over- or under-extraction relative to the baseline.
	Divergent bool `json:"divergent"`
	// BaselineUnavailable marks a single-sided result: no baseline document
	// could be located, only candidate metrics are meaningful.
	BaselineUnavailable bool `json:"baseline_unavailable"`

	CandidateIssues []quality.Issue `json:"candidate_issues"`
	BaselineIssues  []quality.Issue `json:"baseline_issues"`
}

// Engine computes comparisons with a configurable divergence threshold.
type Engine struct {
	threshold int
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the divergence threshold (percent, magnitude).
func WithThreshold(pct int) Option {
	return func(e *Engine) {
		if pct > 0 {
			e.threshold = pct
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine with the default threshold.
func New(opts ...Option) *Engine {
	e := &Engine{
		threshold: DefaultDivergenceThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Compare computes dual-sided metrics for candidate vs. baseline.
func (e *Engine) Compare(candidate, baseline string) Result {
	cw := quality.WordCount(candidate)
	bw := quality.WordCount(baseline)

	delta := 0
	if bw > 0 {
		delta = int(math.Round(float64(cw-bw) / float64(bw) * 100))
	}

	return Result{
		CandidateWords:  cw,
		BaselineWords:   bw,
		DeltaPercent:    delta,
		Divergent:       abs(delta) > e.threshold,
		CandidateIssues: quality.Detect(candidate),
		BaselineIssues:  quality.Detect(baseline),
	}
}

// CompareSingle computes a single-sided result when no baseline document
// could be located. Never an error: the engine degrades instead of failing.
func (e *Engine) CompareSingle(candidate string) Result {
	return Result{
		CandidateWords:      quality.WordCount(candidate),
		BaselineUnavailable: true,
		CandidateIssues:     quality.Detect(candidate),
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
