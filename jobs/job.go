// Package jobs models extraction jobs and caches their backend-authoritative
// state. The Store is the single source of truth for consumers: snapshots
// arriving from the push channel, the pollers, or a bulk list fetch all pass
// through Store.Apply, which enforces last-write-wins ordering and the job
// lifecycle state machine.
package jobs

import (
	"strings"
	"time"
)

// Status is a job lifecycle state as reported by the backend.
type Status string

const (
	StatusQueued                 Status = "queued"
	StatusProcessing             Status = "processing"
	StatusLearning               Status = "learning"
	StatusExtracting             Status = "extracting"
	StatusGeneratingDescriptions Status = "generating_descriptions"
	StatusCompleted              Status = "completed"
	StatusFailed                 Status = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusLearning, StatusExtracting,
		StatusGeneratingDescriptions, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state. No transition leaves a
// terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders states along the pipeline. learning, extracting and
// generating_descriptions form one stage: the backend interleaves them, so
// moves between them are not backward.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusLearning, StatusExtracting, StatusGeneratingDescriptions:
		return 2
	case StatusCompleted:
		return 3
	}
	return -1
}

// CanTransition reports whether a job may move from one status to another.
// The pipeline only advances: backward moves and any move out of a terminal
// state are invalid. failed is reachable from every non-terminal state.
// Observing from == to is always fine — a snapshot refreshing progress or
// metadata is not a transition.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return to.rank() >= from.rank()
}

// Job is one extraction request and its lifecycle record, matching the
// backend's wire schema. Optional fields are pointers so absent and zero
// are distinguishable, like the backend's own model.
type Job struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	URL             string     `json:"url"`
	Domain          string     `json:"domain"`
	Status          Status     `json:"status"`
	WorkerType      *string    `json:"worker_type,omitempty"`
	ProgressPercent int        `json:"progress_percent"`
	ProgressMessage *string    `json:"progress_message,omitempty"`
	ResultPath      *string    `json:"result_path,omitempty"`
	MarkdownContent *string    `json:"markdown_content,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Author          *string    `json:"author,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	WordCount       *int       `json:"word_count,omitempty"`
	ImageCount      *int       `json:"image_count,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	RetryCount      int        `json:"retry_count"`
	QueuedAt        time.Time  `json:"queued_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreditsUsed     int        `json:"credits_used"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TitleOrDefault returns the job title, or "article" when the backend has
// not extracted one yet. Matches the download filename convention.
func (j *Job) TitleOrDefault() string {
	if j.Title != nil && strings.TrimSpace(*j.Title) != "" {
		return *j.Title
	}
	return "article"
}

// ProcessingTime returns the wall time between started_at and completed_at,
// or 0 when either is absent.
func (j *Job) ProcessingTime() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
